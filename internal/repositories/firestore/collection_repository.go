package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/threadcart/api/internal/domain"
	pfirestore "github.com/threadcart/api/internal/platform/firestore"
	"github.com/threadcart/api/internal/platform/textutil"
)

const collectionsCollection = "collections"

// CollectionRepository persists product collections.
type CollectionRepository struct {
	base *pfirestore.Collection[collectionDocument]
}

// NewCollectionRepository constructs a Firestore-backed collection repository.
func NewCollectionRepository(provider *pfirestore.Provider) (*CollectionRepository, error) {
	if provider == nil {
		return nil, errors.New("collection repository: firestore provider is required")
	}
	base := pfirestore.NewCollection[collectionDocument](provider, collectionsCollection)
	return &CollectionRepository{base: base}, nil
}

// Insert stores a new collection document. Name uniqueness is enforced here
// with a pre-read; the create still fails on an ID clash.
func (r *CollectionRepository) Insert(ctx context.Context, collection domain.Collection) error {
	if r == nil || r.base == nil {
		return errors.New("collection repository not initialised")
	}
	collectionID := strings.TrimSpace(collection.ID)
	if collectionID == "" {
		return errors.New("collection repository: collection id is required")
	}

	existing, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nameLower", "==", strings.ToLower(strings.TrimSpace(collection.Name))).Limit(1)
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return pfirestore.WrapError("collections.insert", status.Error(codes.AlreadyExists, "collection name already in use"))
	}

	docRef, err := r.base.DocumentRef(ctx, collectionID)
	if err != nil {
		return err
	}
	doc := encodeCollectionDocument(collection)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("collections.insert", err)
	}
	return nil
}

// Update replaces the persisted collection state.
func (r *CollectionRepository) Update(ctx context.Context, collection domain.Collection) error {
	if r == nil || r.base == nil {
		return errors.New("collection repository not initialised")
	}
	collectionID := strings.TrimSpace(collection.ID)
	if collectionID == "" {
		return errors.New("collection repository: collection id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, collectionID)
	if err != nil {
		return err
	}
	doc := encodeCollectionDocument(collection)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("collections.update", err)
	}
	return nil
}

// Delete removes the collection document. Products referencing it keep their
// dangling collectionId.
func (r *CollectionRepository) Delete(ctx context.Context, collectionID string) error {
	if r == nil || r.base == nil {
		return errors.New("collection repository not initialised")
	}
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return errors.New("collection repository: collection id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, collectionID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("collections.delete", err)
	}
	return nil
}

// FindByID fetches a single collection.
func (r *CollectionRepository) FindByID(ctx context.Context, collectionID string) (domain.Collection, error) {
	if r == nil || r.base == nil {
		return domain.Collection{}, errors.New("collection repository not initialised")
	}
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return domain.Collection{}, errors.New("collection repository: collection id is required")
	}
	doc, err := r.base.Get(ctx, collectionID)
	if err != nil {
		return domain.Collection{}, err
	}
	return decodeCollectionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindBySlug fetches a collection by its lowercase name slug.
func (r *CollectionRepository) FindBySlug(ctx context.Context, slug string) (domain.Collection, error) {
	if r == nil || r.base == nil {
		return domain.Collection{}, errors.New("collection repository not initialised")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Collection{}, errors.New("collection repository: slug is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Collection{}, err
	}
	if len(docs) == 0 {
		return domain.Collection{}, pfirestore.WrapError("collections.find_by_slug", status.Error(codes.NotFound, "collection not found"))
	}
	doc := docs[0]
	return decodeCollectionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns collections ordered by creation time descending.
func (r *CollectionRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Collection]{}, errors.New("collection repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Collection]{}, fmt.Errorf("collection repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Collection]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Collection, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeCollectionDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Collection]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type collectionDocument struct {
	Name        string    `firestore:"name"`
	NameLower   string    `firestore:"nameLower"`
	Slug        string    `firestore:"slug"`
	Description string    `firestore:"description,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func encodeCollectionDocument(collection domain.Collection) collectionDocument {
	name := strings.TrimSpace(collection.Name)
	return collectionDocument{
		Name:        name,
		NameLower:   strings.ToLower(name),
		Slug:        textutil.Slugify(name),
		Description: collection.Description,
		CreatedAt:   collection.CreatedAt.UTC(),
		UpdatedAt:   collection.UpdatedAt.UTC(),
	}
}

func decodeCollectionDocument(id string, doc collectionDocument, createTime, updateTime time.Time) domain.Collection {
	collection := domain.Collection{
		ID:          id,
		Name:        doc.Name,
		Description: doc.Description,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if collection.CreatedAt.IsZero() {
		collection.CreatedAt = createTime
	}
	if collection.UpdatedAt.IsZero() {
		collection.UpdatedAt = updateTime
	}
	return collection
}
