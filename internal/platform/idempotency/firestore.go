package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultTxAttempts   = 5
	defaultCleanupLimit = 100
)

type claimDoc struct {
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"response_status"`
	Header      map[string][]string `firestore:"response_headers"`
	Body        []byte              `firestore:"response_body"`
	ClaimedAt   time.Time           `firestore:"claimed_at"`
	SavedAt     time.Time           `firestore:"saved_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

// FirestoreStore implements Store on a Firestore collection. Claims run
// inside transactions so two concurrent requests with the same key never
// both proceed.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption adjusts FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts sets the transaction retry budget.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// NewFirestoreStore returns a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		attempts:   defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *FirestoreStore) doc(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.DocID())
}

func (s *FirestoreStore) txAttempts() int {
	if s.attempts <= 0 {
		return 1
	}
	return s.attempts
}

// Claim implements Store.
func (s *FirestoreStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.doc(key)

	var result Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		fresh := err != nil
		var doc claimDoc
		if !fresh {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != key.Fingerprint {
				return ErrKeyReused
			}
			// Expired records are reclaimed as if absent.
			fresh = expiredAt(doc.ExpiresAt, now)
		}

		if fresh {
			result = Claim{Outcome: OutcomeProceed}
			return tx.Set(ref, claimDoc{
				Fingerprint: key.Fingerprint,
				ClaimedAt:   now,
				ExpiresAt:   now.Add(ttl),
			})
		}

		if doc.Done {
			result = Claim{Outcome: OutcomeReplay, Stored: StoredResponse{
				Status:    doc.Status,
				Header:    doc.Header,
				Body:      doc.Body,
				SavedAt:   doc.SavedAt,
				ExpiresAt: doc.ExpiresAt,
			}}
			return nil
		}

		result = Claim{Outcome: OutcomeInFlight}
		return nil
	}, firestore.MaxAttempts(s.txAttempts()))

	return result, err
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key Key, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.doc(key)

	var bodyCopy []byte
	if len(resp.Body) > 0 {
		bodyCopy = append([]byte(nil), resp.Body...)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		var doc claimDoc
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != key.Fingerprint {
				return ErrKeyReused
			}
		case status.Code(err) == codes.NotFound:
			doc = claimDoc{Fingerprint: key.Fingerprint, ClaimedAt: now}
		default:
			return err
		}

		doc.Done = true
		doc.Status = resp.Status
		doc.Header = resp.Header
		doc.Body = bodyCopy
		doc.SavedAt = now
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	}, firestore.MaxAttempts(s.txAttempts()))
}

// Forget implements Store.
func (s *FirestoreStore) Forget(ctx context.Context, key Key) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired implements Store. The hourly sweep in cmd/api calls
// this since Firestore has no server-side TTL on this collection.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = defaultCleanupLimit
	}

	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}
