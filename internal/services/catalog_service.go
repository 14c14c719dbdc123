package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/storage"
	"github.com/threadcart/api/internal/platform/textutil"
	"github.com/threadcart/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates missing or malformed catalog fields.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("catalog: collection not found")
	// ErrCollectionNameTaken indicates another collection already uses the name.
	ErrCollectionNameTaken = errors.New("catalog: collection name already exists")
	// ErrPhotoNotFound indicates the photo key is not attached to the product.
	ErrPhotoNotFound = errors.New("catalog: photo not found")
)

// PhotoURLSigner issues signed URLs for direct-to-storage uploads.
type PhotoURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// ObjectRemover deletes stored objects when photos are detached.
type ObjectRemover interface {
	RemoveObject(ctx context.Context, bucket, object string) error
}

// CatalogServiceDeps bundles collaborators required to construct a catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Collections repositories.CollectionRepository
	Signer      PhotoURLSigner
	Remover     ObjectRemover
	Bucket      string
	// PublicBaseURL prefixes attached photo URLs; defaults to the public
	// storage host for the bucket.
	PublicBaseURL string
	UploadExpiry  time.Duration
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(context.Context, string, map[string]any)
}

type catalogService struct {
	products      repositories.ProductRepository
	collections   repositories.CollectionRepository
	signer        PhotoURLSigner
	remover       ObjectRemover
	bucket        string
	publicBaseURL string
	uploadExpiry  time.Duration
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

var photoContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// NewCatalogService constructs the catalog service. Signer and Remover may be
// nil when photo management is not configured; the photo operations then
// return an error.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Collections == nil {
		return nil, errors.New("catalog service: collection repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	expiry := deps.UploadExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	bucket := strings.TrimSpace(deps.Bucket)
	baseURL := strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/")
	if baseURL == "" && bucket != "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}

	return &catalogService{
		products:      deps.Products,
		collections:   deps.Collections,
		signer:        deps.Signer,
		remover:       deps.Remover,
		bucket:        bucket,
		publicBaseURL: baseURL,
		uploadExpiry:  expiry,
		clock:         func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
	}, nil
}

// Products -------------------------------------------------------------------

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if cmd.SellingPrice < 0 || cmd.BasePrice < 0 {
		return domain.Product{}, fmt.Errorf("%w: prices cannot be negative", ErrCatalogInvalidInput)
	}
	stock, err := normaliseStock(cmd.Stock)
	if err != nil {
		return domain.Product{}, err
	}
	if collectionID := strings.TrimSpace(cmd.CollectionID); collectionID != "" {
		if _, err := s.collections.FindByID(ctx, collectionID); err != nil {
			if isRepoNotFound(err) {
				return domain.Product{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
			}
			return domain.Product{}, err
		}
	}

	now := s.clock()
	product := domain.Product{
		ID:           s.newID(),
		Name:         name,
		Slug:         textutil.Slugify(name),
		Description:  textutil.SanitizeText(cmd.Description),
		BasePrice:    cmd.BasePrice,
		SellingPrice: cmd.SellingPrice,
		CollectionID: strings.TrimSpace(cmd.CollectionID),
		Stock:        stock,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return domain.Product{}, err
	}
	s.logger(ctx, "product_created", map[string]any{"productId": product.ID, "name": name})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error) {
	product, err := s.getProduct(ctx, cmd.ProductID)
	if err != nil {
		return domain.Product{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name cannot be empty", ErrCatalogInvalidInput)
		}
		product.Name = name
		product.Slug = textutil.Slugify(name)
	}
	if cmd.Description != nil {
		product.Description = textutil.SanitizeText(*cmd.Description)
	}
	if cmd.BasePrice != nil {
		if *cmd.BasePrice < 0 {
			return domain.Product{}, fmt.Errorf("%w: base price cannot be negative", ErrCatalogInvalidInput)
		}
		product.BasePrice = *cmd.BasePrice
	}
	if cmd.SellingPrice != nil {
		if *cmd.SellingPrice < 0 {
			return domain.Product{}, fmt.Errorf("%w: selling price cannot be negative", ErrCatalogInvalidInput)
		}
		product.SellingPrice = *cmd.SellingPrice
	}
	if cmd.CollectionID != nil {
		collectionID := strings.TrimSpace(*cmd.CollectionID)
		if collectionID != "" {
			if _, err := s.collections.FindByID(ctx, collectionID); err != nil {
				if isRepoNotFound(err) {
					return domain.Product{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
				}
				return domain.Product{}, err
			}
		}
		product.CollectionID = collectionID
	}
	if cmd.Stock != nil {
		stock, err := normaliseStock(cmd.Stock)
		if err != nil {
			return domain.Product{}, err
		}
		product.Stock = stock
	}

	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := s.products.Delete(ctx, product.ID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return err
	}
	// Stored photos are removed best-effort after the document delete.
	if s.remover != nil && s.bucket != "" {
		for _, photo := range product.Photos {
			if err := s.remover.RemoveObject(ctx, s.bucket, photo.Key); err != nil {
				s.logger(ctx, "product_photo_delete_failed", map[string]any{"productId": product.ID, "key": photo.Key, "error": err.Error()})
			}
		}
	}
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	return s.getProduct(ctx, productID)
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[domain.Product], error) {
	return s.products.List(ctx, repositories.ProductListFilter{
		CollectionID: strings.TrimSpace(query.CollectionID),
		Search:       strings.TrimSpace(query.Search),
		Sizes:        query.Sizes,
		MinPrice:     query.MinPrice,
		MaxPrice:     query.MaxPrice,
		InStockOnly:  query.InStockOnly,
		SortBy:       query.SortBy,
		SortOrder:    query.SortOrder,
		Pagination:   query.Pagination,
	})
}

// Photos ---------------------------------------------------------------------

func (s *catalogService) CreatePhotoUploadIntent(ctx context.Context, cmd PhotoUploadCommand) (domain.PhotoUploadIntent, error) {
	if s.signer == nil || s.bucket == "" {
		return domain.PhotoUploadIntent{}, errors.New("catalog service: photo storage not configured")
	}
	product, err := s.getProduct(ctx, cmd.ProductID)
	if err != nil {
		return domain.PhotoUploadIntent{}, err
	}

	key, err := storage.ProductPhotoKey(product.ID, len(product.Photos))
	if err != nil {
		return domain.PhotoUploadIntent{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	signed, err := s.signer.SignedURL(ctx, s.bucket, key, storage.SignedURLOptions{
		Upload: &storage.UploadOptions{
			Method:              "PUT",
			ContentType:         cmd.ContentType,
			AllowedContentTypes: photoContentTypes,
			ExpiresIn:           s.uploadExpiry,
		},
	})
	if err != nil {
		return domain.PhotoUploadIntent{}, err
	}

	return domain.PhotoUploadIntent{
		Key:         key,
		URL:         signed.URL,
		Method:      signed.Method,
		ContentType: strings.TrimSpace(cmd.ContentType),
		ExpiresAt:   signed.ExpiresAt,
		Headers:     signed.Headers,
	}, nil
}

func (s *catalogService) AttachPhoto(ctx context.Context, cmd AttachPhotoCommand) (domain.Product, error) {
	product, err := s.getProduct(ctx, cmd.ProductID)
	if err != nil {
		return domain.Product{}, err
	}
	key := strings.TrimSpace(cmd.Key)
	if key == "" {
		return domain.Product{}, fmt.Errorf("%w: photo key is required", ErrCatalogInvalidInput)
	}
	prefix := "products/" + product.ID + "/"
	if !strings.HasPrefix(key, prefix) {
		return domain.Product{}, fmt.Errorf("%w: photo key does not belong to product", ErrCatalogInvalidInput)
	}
	for _, photo := range product.Photos {
		if photo.Key == key {
			return product, nil
		}
	}

	product.Photos = append(product.Photos, domain.ProductPhoto{
		Key:         key,
		URL:         s.publicBaseURL + "/" + key,
		ContentType: strings.TrimSpace(cmd.ContentType),
	})
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *catalogService) DeletePhoto(ctx context.Context, cmd DeletePhotoCommand) (domain.Product, error) {
	product, err := s.getProduct(ctx, cmd.ProductID)
	if err != nil {
		return domain.Product{}, err
	}
	key := strings.TrimSpace(cmd.Key)
	idx := -1
	for i, photo := range product.Photos {
		if photo.Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrPhotoNotFound, key)
	}

	product.Photos = append(product.Photos[:idx], product.Photos[idx+1:]...)
	product.UpdatedAt = s.clock()
	if err := s.products.Update(ctx, product); err != nil {
		return domain.Product{}, err
	}

	if s.remover != nil && s.bucket != "" {
		if err := s.remover.RemoveObject(ctx, s.bucket, key); err != nil {
			s.logger(ctx, "product_photo_delete_failed", map[string]any{"productId": product.ID, "key": key, "error": err.Error()})
		}
	}
	return product, nil
}

// Collections ----------------------------------------------------------------

func (s *catalogService) CreateCollection(ctx context.Context, cmd UpsertCollectionCommand) (domain.Collection, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Collection{}, fmt.Errorf("%w: collection name is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	collection := domain.Collection{
		ID:          s.newID(),
		Name:        name,
		Description: textutil.SanitizeText(cmd.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.collections.Insert(ctx, collection); err != nil {
		if isRepoConflict(err) {
			return domain.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNameTaken, name)
		}
		return domain.Collection{}, err
	}
	s.logger(ctx, "collection_created", map[string]any{"collectionId": collection.ID, "name": name})
	return collection, nil
}

func (s *catalogService) UpdateCollection(ctx context.Context, cmd UpsertCollectionCommand) (domain.Collection, error) {
	collectionID := strings.TrimSpace(cmd.CollectionID)
	if collectionID == "" {
		return domain.Collection{}, fmt.Errorf("%w: collection id is required", ErrCatalogInvalidInput)
	}
	collection, err := s.collections.FindByID(ctx, collectionID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return domain.Collection{}, err
	}

	if name := strings.TrimSpace(cmd.Name); name != "" {
		collection.Name = name
	}
	if cmd.Description != "" {
		collection.Description = textutil.SanitizeText(cmd.Description)
	}
	collection.UpdatedAt = s.clock()

	if err := s.collections.Update(ctx, collection); err != nil {
		if isRepoConflict(err) {
			return domain.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNameTaken, collection.Name)
		}
		return domain.Collection{}, err
	}
	return collection, nil
}

func (s *catalogService) DeleteCollection(ctx context.Context, collectionID string) error {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return fmt.Errorf("%w: collection id is required", ErrCatalogInvalidInput)
	}
	// Products keep a weak reference; deletion does not cascade.
	if err := s.collections.Delete(ctx, collectionID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return err
	}
	return nil
}

func (s *catalogService) GetCollection(ctx context.Context, collectionID string) (domain.Collection, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return domain.Collection{}, fmt.Errorf("%w: collection id is required", ErrCatalogInvalidInput)
	}
	collection, err := s.collections.FindByID(ctx, collectionID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return domain.Collection{}, err
	}
	return collection, nil
}

func (s *catalogService) ListCollections(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error) {
	return s.collections.List(ctx, pager)
}

func (s *catalogService) ListCollectionProducts(ctx context.Context, collectionID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return domain.CursorPage[domain.Product]{}, fmt.Errorf("%w: collection id is required", ErrCatalogInvalidInput)
	}
	if _, err := s.collections.FindByID(ctx, collectionID); err != nil {
		if isRepoNotFound(err) {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
		}
		return domain.CursorPage[domain.Product]{}, err
	}
	return s.products.List(ctx, repositories.ProductListFilter{
		CollectionID: collectionID,
		Pagination:   pager,
	})
}

func (s *catalogService) getProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return domain.Product{}, err
	}
	return product, nil
}

func normaliseStock(stock []domain.SizeStock) ([]domain.SizeStock, error) {
	out := make([]domain.SizeStock, 0, len(stock))
	seen := make(map[string]struct{}, len(stock))
	for _, entry := range stock {
		size := strings.TrimSpace(entry.Size)
		if size == "" {
			return nil, fmt.Errorf("%w: stock size is required", ErrCatalogInvalidInput)
		}
		if entry.Quantity < 0 {
			return nil, fmt.Errorf("%w: stock quantity for size %s cannot be negative", ErrCatalogInvalidInput, size)
		}
		if _, dup := seen[size]; dup {
			return nil, fmt.Errorf("%w: duplicate stock size %s", ErrCatalogInvalidInput, size)
		}
		seen[size] = struct{}{}
		out = append(out, domain.SizeStock{Size: size, Quantity: entry.Quantity})
	}
	return out, nil
}
