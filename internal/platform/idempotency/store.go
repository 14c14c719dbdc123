// Package idempotency replays stored responses for retried mutating
// requests that carry an Idempotency-Key header. The checkout open phase
// is the primary consumer: a client retry after a network failure must
// replay the original checkout session instead of minting a second
// gateway intent.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long completed records are retained before a key may
// be reused for a new request.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused indicates a key arrived with a different request
// fingerprint than the one it was first claimed under.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// Outcome classifies the result of claiming a key.
type Outcome int

const (
	// OutcomeProceed means the key is fresh and the handler should run.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a completed response is stored and must be replayed.
	OutcomeReplay
	// OutcomeInFlight means another request currently holds the key.
	OutcomeInFlight
)

// Key identifies one logical request: the client-supplied token scoped to
// the caller, plus a fingerprint of the request contents.
type Key struct {
	Token       string
	Fingerprint string
}

// DocID returns the storage identifier for the key. Only the token
// addresses the record; the fingerprint is compared against the stored
// value to catch key reuse across distinct requests.
func (k Key) DocID() string {
	return hashHex([]byte(strings.TrimSpace(k.Token)))
}

// StoredResponse is the response snapshot persisted for replay.
type StoredResponse struct {
	Status    int
	Header    map[string][]string
	Body      []byte
	SavedAt   time.Time
	ExpiresAt time.Time
}

// Claim is the result of attempting to take ownership of a key.
type Claim struct {
	Outcome Outcome
	Stored  StoredResponse
}

// Store persists idempotency claims and their completed responses.
type Store interface {
	// Claim takes ownership of the key or reports its current state.
	Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error)
	// Complete stores the response that later claims of the key replay.
	Complete(ctx context.Context, key Key, resp StoredResponse, now time.Time, ttl time.Duration) error
	// Forget releases the key so a later attempt can retry from scratch.
	Forget(ctx context.Context, key Key) error
	// CleanupExpired removes records past their expiry, up to limit.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hopHeaders are never persisted. They describe the original connection,
// not the response a replay should reproduce.
var hopHeaders = map[string]struct{}{
	"Content-Length":      {},
	"Date":                {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func storableHeader(h http.Header) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string][]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func expiredAt(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
