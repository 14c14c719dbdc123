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
	"github.com/threadcart/api/internal/platform/pagination"
	"github.com/threadcart/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists catalog products with per-size stock levels.
type ProductRepository struct {
	base     *pfirestore.Collection[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewCollection[productDocument](provider, productsCollection)
	return &ProductRepository{base: base, provider: provider}, nil
}

// Insert stores a new product document. The ID must be unique.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	doc := encodeProductDocument(product)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the persisted product state with the provided snapshot.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	doc := encodeProductDocument(product)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindBySlug fetches a single product by its unique slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return domain.Product{}, errors.New("product repository: slug is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.find_by_slug", status.Error(codes.NotFound, "product not found"))
	}
	doc := docs[0]
	return decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns products matching the filter ordered by most recent creation.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	collectionID := strings.TrimSpace(filter.CollectionID)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if collectionID != "" {
			q = q.Where("collectionId", "==", collectionID)
		}
		if filter.MinPrice != nil {
			q = q.Where("sellingPrice", ">=", *filter.MinPrice)
		}
		if filter.MaxPrice != nil {
			q = q.Where("sellingPrice", "<=", *filter.MaxPrice)
		}

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
		return domain.CursorPage[domain.Product]{}, err
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

	items := make([]domain.Product, 0, len(valueDocs))
	for _, doc := range valueDocs {
		product := decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
		if !productMatchesPostFilter(product, filter) {
			continue
		}
		items = append(items, product)
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// Size, availability, and name-prefix filtering happens in memory; Firestore
// cannot index into the per-size stock array alongside the price range
// clauses, and a slug range clause would conflict with the price inequality.
func productMatchesPostFilter(product domain.Product, filter repositories.ProductListFilter) bool {
	if term := strings.ToLower(strings.TrimSpace(filter.Search)); term != "" {
		if !strings.HasPrefix(strings.ToLower(product.Name), term) && !strings.HasPrefix(product.Slug, term) {
			return false
		}
	}
	if len(filter.Sizes) > 0 {
		matched := false
		for _, size := range filter.Sizes {
			if qty, ok := product.StockFor(strings.TrimSpace(size)); ok && (!filter.InStockOnly || qty > 0) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	} else if filter.InStockOnly {
		available := false
		for _, s := range product.Stock {
			if s.Quantity > 0 {
				available = true
				break
			}
		}
		if !available {
			return false
		}
	}
	return true
}

// RestoreStock adds quantities back to per-size stock counts and decrements
// sold totals, all in one transaction. Used when cancelling paid orders with
// restocking enabled.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []domain.StockLine) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return nil
	}

	now := time.Now().UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		writes := make([]pendingWrite, 0, len(lines))
		byProduct := groupStockLines(lines)

		for productID, productLines := range byProduct {
			ref, err := r.base.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore products decode %s: %w", productID, err)
			}

			for _, line := range productLines {
				idx := stockIndex(doc.Stock, line.Size)
				if idx < 0 {
					return repositories.NewStockError(repositories.StockErrorSizeNotFound, fmt.Sprintf("product %s has no size %s", productID, line.Size), nil)
				}
				doc.Stock[idx].Quantity += line.Count
				doc.Sold -= int64(line.Count)
				if doc.Sold < 0 {
					doc.Sold = 0
				}
			}
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: ref, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return stockErr
		}
		return pfirestore.WrapError("products.restore_stock", err)
	}
	return nil
}

func groupStockLines(lines []domain.StockLine) map[string][]domain.StockLine {
	grouped := make(map[string][]domain.StockLine, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Count <= 0 {
			continue
		}
		grouped[productID] = append(grouped[productID], line)
	}
	return grouped
}

func stockIndex(stock []sizeStockDocument, size string) int {
	for i, s := range stock {
		if s.Size == size {
			return i
		}
	}
	return -1
}

type productDocument struct {
	Name         string                 `firestore:"name"`
	Slug         string                 `firestore:"slug"`
	Description  string                 `firestore:"description"`
	BasePrice    int64                  `firestore:"basePrice"`
	SellingPrice int64                  `firestore:"sellingPrice"`
	CollectionID string                 `firestore:"collectionId,omitempty"`
	Stock        []sizeStockDocument    `firestore:"stock"`
	Sold         int64                  `firestore:"sold"`
	Photos       []productPhotoDocument `firestore:"photos,omitempty"`
	CreatedAt    time.Time              `firestore:"createdAt"`
	UpdatedAt    time.Time              `firestore:"updatedAt"`
}

type sizeStockDocument struct {
	Size     string `firestore:"size"`
	Quantity int    `firestore:"quantity"`
}

type productPhotoDocument struct {
	Key         string `firestore:"key"`
	URL         string `firestore:"url"`
	ContentType string `firestore:"contentType,omitempty"`
}

func encodeProductDocument(product domain.Product) productDocument {
	doc := productDocument{
		Name:         strings.TrimSpace(product.Name),
		Slug:         strings.ToLower(strings.TrimSpace(product.Slug)),
		Description:  product.Description,
		BasePrice:    product.BasePrice,
		SellingPrice: product.SellingPrice,
		CollectionID: strings.TrimSpace(product.CollectionID),
		Sold:         product.Sold,
		CreatedAt:    product.CreatedAt.UTC(),
		UpdatedAt:    product.UpdatedAt.UTC(),
	}
	doc.Stock = make([]sizeStockDocument, 0, len(product.Stock))
	for _, s := range product.Stock {
		size := strings.TrimSpace(s.Size)
		if size == "" {
			continue
		}
		doc.Stock = append(doc.Stock, sizeStockDocument{Size: size, Quantity: s.Quantity})
	}
	for _, p := range product.Photos {
		doc.Photos = append(doc.Photos, productPhotoDocument{
			Key:         strings.TrimSpace(p.Key),
			URL:         strings.TrimSpace(p.URL),
			ContentType: strings.TrimSpace(p.ContentType),
		})
	}
	return doc
}

func decodeProductDocument(id string, doc productDocument, createTime, updateTime time.Time) domain.Product {
	product := domain.Product{
		ID:           id,
		Name:         doc.Name,
		Slug:         doc.Slug,
		Description:  doc.Description,
		BasePrice:    doc.BasePrice,
		SellingPrice: doc.SellingPrice,
		CollectionID: doc.CollectionID,
		Sold:         doc.Sold,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
	for _, s := range doc.Stock {
		product.Stock = append(product.Stock, domain.SizeStock{Size: s.Size, Quantity: s.Quantity})
	}
	for _, p := range doc.Photos {
		product.Photos = append(product.Photos, domain.ProductPhoto{Key: p.Key, URL: p.URL, ContentType: p.ContentType})
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = createTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = updateTime
	}
	return product
}

func encodeListToken(ts time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{ts.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	rawTime, timeOK := cursor.StartAfter[0].(string)
	docID, idOK := cursor.StartAfter[1].(string)
	if !timeOK || !idOK {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	return ts, docID, nil
}
