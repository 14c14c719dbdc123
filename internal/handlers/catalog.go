package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

const (
	defaultCatalogPageSize = 20
	maxCatalogPageSize     = 100
)

// CatalogHandlers exposes the product and collection endpoints: public reads
// plus the admin CRUD and photo management surface.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCatalogHandlers wires the catalog service into the HTTP surface.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{authn: authn, catalog: catalog}
}

// ProductRoutes registers /products endpoints on the provided router.
func (h *CatalogHandlers) ProductRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleModerator))
		}
		admin.Post("/", h.createProduct)
		admin.Put("/{productID}", h.updateProduct)
		admin.Delete("/{productID}", h.deleteProduct)
		admin.Post("/{productID}/photos/upload-intent", h.createPhotoUploadIntent)
		admin.Post("/{productID}/photos", h.attachPhoto)
		admin.Delete("/{productID}/photos", h.deletePhoto)
	})
}

// CollectionRoutes registers /collections endpoints on the provided router.
func (h *CatalogHandlers) CollectionRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCollections)
	r.Get("/{collectionID}", h.getCollection)
	r.Get("/{collectionID}/products", h.listCollectionProducts)

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleModerator))
		}
		admin.Post("/", h.createCollection)
		admin.Put("/{collectionID}", h.updateCollection)
		admin.Delete("/{collectionID}", h.deleteCollection)
	})
}

type sizeStockPayload struct {
	Size     string `json:"size"`
	Quantity int    `json:"quantity"`
}

type productPhotoPayload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

type productPayload struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Slug         string                `json:"slug"`
	Description  string                `json:"description,omitempty"`
	BasePrice    int64                 `json:"base_price"`
	SellingPrice int64                 `json:"selling_price"`
	CollectionID string                `json:"collection_id,omitempty"`
	Stock        []sizeStockPayload    `json:"stock"`
	Sold         int64                 `json:"sold"`
	Photos       []productPhotoPayload `json:"photos"`
	CreatedAt    string                `json:"created_at,omitempty"`
	UpdatedAt    string                `json:"updated_at,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	payload := productPayload{
		ID:           product.ID,
		Name:         product.Name,
		Slug:         product.Slug,
		Description:  product.Description,
		BasePrice:    product.BasePrice,
		SellingPrice: product.SellingPrice,
		CollectionID: product.CollectionID,
		Stock:        make([]sizeStockPayload, 0, len(product.Stock)),
		Sold:         product.Sold,
		Photos:       make([]productPhotoPayload, 0, len(product.Photos)),
		CreatedAt:    formatTime(product.CreatedAt),
		UpdatedAt:    formatTime(product.UpdatedAt),
	}
	for _, s := range product.Stock {
		payload.Stock = append(payload.Stock, sizeStockPayload{Size: s.Size, Quantity: s.Quantity})
	}
	for _, p := range product.Photos {
		payload.Photos = append(payload.Photos, productPhotoPayload{Key: p.Key, URL: p.URL, ContentType: p.ContentType})
	}
	return payload
}

type collectionPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func buildCollectionPayload(collection domain.Collection) collectionPayload {
	return collectionPayload{
		ID:          collection.ID,
		Name:        collection.Name,
		Description: collection.Description,
		CreatedAt:   formatTime(collection.CreatedAt),
		UpdatedAt:   formatTime(collection.UpdatedAt),
	}
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type collectionListResponse struct {
	Items         []collectionPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

func buildProductListResponse(page domain.CursorPage[domain.Product]) productListResponse {
	resp := productListResponse{
		Items:         make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(product))
	}
	return resp
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.ProductListQuery{
		CollectionID: strings.TrimSpace(r.URL.Query().Get("collection_id")),
		Search:       strings.TrimSpace(r.URL.Query().Get("search")),
		Sizes:        parseFilterValues(r.URL.Query()["size"]),
		InStockOnly:  r.URL.Query().Get("in_stock") == "true",
		SortBy:       strings.TrimSpace(r.URL.Query().Get("sort_by")),
		Pagination:   pager,
	}
	if query.MinPrice, err = parseInt64Param(r.URL.Query().Get("min_price")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "min_price must be an integer", http.StatusBadRequest))
		return
	}
	if query.MaxPrice, err = parseInt64Param(r.URL.Query().Get("max_price")); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "max_price must be an integer", http.StatusBadRequest))
		return
	}
	if order := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sort_order"))); order == string(domain.SortDesc) {
		query.SortOrder = domain.SortDesc
	} else {
		query.SortOrder = domain.SortAsc
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductListResponse(page))
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

type productRequest struct {
	Name         *string            `json:"name"`
	Description  *string            `json:"description"`
	BasePrice    *int64             `json:"base_price"`
	SellingPrice *int64             `json:"selling_price"`
	CollectionID *string            `json:"collection_id"`
	Stock        []sizeStockPayload `json:"stock"`
}

func (req productRequest) stock() []domain.SizeStock {
	if req.Stock == nil {
		return nil
	}
	stock := make([]domain.SizeStock, 0, len(req.Stock))
	for _, s := range req.Stock {
		stock = append(stock, domain.SizeStock{Size: s.Size, Quantity: s.Quantity})
	}
	return stock
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func int64Value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req productRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		Name:         stringValue(req.Name),
		Description:  stringValue(req.Description),
		BasePrice:    int64Value(req.BasePrice),
		SellingPrice: int64Value(req.SellingPrice),
		CollectionID: stringValue(req.CollectionID),
		Stock:        req.stock(),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *CatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req productRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:    chi.URLParam(r, "productID"),
		Name:         req.Name,
		Description:  req.Description,
		BasePrice:    req.BasePrice,
		SellingPrice: req.SellingPrice,
		CollectionID: req.CollectionID,
		Stock:        req.stock(),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, chi.URLParam(r, "productID")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

type photoUploadIntentRequest struct {
	ContentType string `json:"content_type"`
}

type photoUploadIntentPayload struct {
	Key         string            `json:"key"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	ContentType string            `json:"content_type,omitempty"`
	ExpiresAt   string            `json:"expires_at,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func (h *CatalogHandlers) createPhotoUploadIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req photoUploadIntentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	intent, err := h.catalog.CreatePhotoUploadIntent(ctx, services.PhotoUploadCommand{
		ProductID:   chi.URLParam(r, "productID"),
		ContentType: req.ContentType,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, photoUploadIntentPayload{
		Key:         intent.Key,
		URL:         intent.URL,
		Method:      intent.Method,
		ContentType: intent.ContentType,
		ExpiresAt:   formatTime(intent.ExpiresAt),
		Headers:     intent.Headers,
	})
}

type attachPhotoRequest struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

func (h *CatalogHandlers) attachPhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req attachPhotoRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.AttachPhoto(ctx, services.AttachPhotoCommand{
		ProductID:   chi.URLParam(r, "productID"),
		Key:         req.Key,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) deletePhoto(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", "key query parameter is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.DeletePhoto(ctx, services.DeletePhotoCommand{
		ProductID: chi.URLParam(r, "productID"),
		Key:       key,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *CatalogHandlers) listCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListCollections(ctx, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	resp := collectionListResponse{
		Items:         make([]collectionPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, collection := range page.Items {
		resp.Items = append(resp.Items, buildCollectionPayload(collection))
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) getCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	collection, err := h.catalog.GetCollection(ctx, chi.URLParam(r, "collectionID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCollectionPayload(collection))
}

func (h *CatalogHandlers) listCollectionProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListCollectionProducts(ctx, chi.URLParam(r, "collectionID"), pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductListResponse(page))
}

type collectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *CatalogHandlers) createCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req collectionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	collection, err := h.catalog.CreateCollection(ctx, services.UpsertCollectionCommand{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCollectionPayload(collection))
}

func (h *CatalogHandlers) updateCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req collectionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	collection, err := h.catalog.UpdateCollection(ctx, services.UpsertCollectionCommand{
		CollectionID: chi.URLParam(r, "collectionID"),
		Name:         req.Name,
		Description:  req.Description,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCollectionPayload(collection))
}

func (h *CatalogHandlers) deleteCollection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service not configured", http.StatusServiceUnavailable))
		return
	}

	if err := h.catalog.DeleteCollection(ctx, chi.URLParam(r, "collectionID")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCollectionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_found", "collection not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPhotoNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("photo_not_found", "photo not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCollectionNameTaken):
		httpx.WriteError(ctx, w, httpx.NewError("collection_name_taken", "collection name already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}
