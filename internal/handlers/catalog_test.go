package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/services"
)

type stubCatalogService struct {
	createProductFn          func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error)
	updateProductFn          func(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error)
	deleteProductFn          func(ctx context.Context, productID string) error
	getProductFn             func(ctx context.Context, productID string) (domain.Product, error)
	listProductsFn           func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[domain.Product], error)
	createUploadIntentFn     func(ctx context.Context, cmd services.PhotoUploadCommand) (domain.PhotoUploadIntent, error)
	attachPhotoFn            func(ctx context.Context, cmd services.AttachPhotoCommand) (domain.Product, error)
	deletePhotoFn            func(ctx context.Context, cmd services.DeletePhotoCommand) (domain.Product, error)
	createCollectionFn       func(ctx context.Context, cmd services.UpsertCollectionCommand) (domain.Collection, error)
	updateCollectionFn       func(ctx context.Context, cmd services.UpsertCollectionCommand) (domain.Collection, error)
	deleteCollectionFn       func(ctx context.Context, collectionID string) error
	getCollectionFn          func(ctx context.Context, collectionID string) (domain.Collection, error)
	listCollectionsFn        func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error)
	listCollectionProductsFn func(ctx context.Context, collectionID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
	if s.createProductFn != nil {
		return s.createProductFn(ctx, cmd)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error) {
	if s.updateProductFn != nil {
		return s.updateProductFn(ctx, cmd)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, productID string) error {
	if s.deleteProductFn != nil {
		return s.deleteProductFn(ctx, productID)
	}
	return nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if s.getProductFn != nil {
		return s.getProductFn(ctx, productID)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogService) ListProducts(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[domain.Product], error) {
	if s.listProductsFn != nil {
		return s.listProductsFn(ctx, query)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubCatalogService) CreatePhotoUploadIntent(ctx context.Context, cmd services.PhotoUploadCommand) (domain.PhotoUploadIntent, error) {
	if s.createUploadIntentFn != nil {
		return s.createUploadIntentFn(ctx, cmd)
	}
	return domain.PhotoUploadIntent{}, nil
}

func (s *stubCatalogService) AttachPhoto(ctx context.Context, cmd services.AttachPhotoCommand) (domain.Product, error) {
	if s.attachPhotoFn != nil {
		return s.attachPhotoFn(ctx, cmd)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogService) DeletePhoto(ctx context.Context, cmd services.DeletePhotoCommand) (domain.Product, error) {
	if s.deletePhotoFn != nil {
		return s.deletePhotoFn(ctx, cmd)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogService) CreateCollection(ctx context.Context, cmd services.UpsertCollectionCommand) (domain.Collection, error) {
	if s.createCollectionFn != nil {
		return s.createCollectionFn(ctx, cmd)
	}
	return domain.Collection{}, nil
}

func (s *stubCatalogService) UpdateCollection(ctx context.Context, cmd services.UpsertCollectionCommand) (domain.Collection, error) {
	if s.updateCollectionFn != nil {
		return s.updateCollectionFn(ctx, cmd)
	}
	return domain.Collection{}, nil
}

func (s *stubCatalogService) DeleteCollection(ctx context.Context, collectionID string) error {
	if s.deleteCollectionFn != nil {
		return s.deleteCollectionFn(ctx, collectionID)
	}
	return nil
}

func (s *stubCatalogService) GetCollection(ctx context.Context, collectionID string) (domain.Collection, error) {
	if s.getCollectionFn != nil {
		return s.getCollectionFn(ctx, collectionID)
	}
	return domain.Collection{}, nil
}

func (s *stubCatalogService) ListCollections(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error) {
	if s.listCollectionsFn != nil {
		return s.listCollectionsFn(ctx, pager)
	}
	return domain.CursorPage[domain.Collection]{}, nil
}

func (s *stubCatalogService) ListCollectionProducts(ctx context.Context, collectionID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if s.listCollectionProductsFn != nil {
		return s.listCollectionProductsFn(ctx, collectionID, pager)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func TestCatalogHandlersListProductsParsesFilters(t *testing.T) {
	var captured services.ProductListQuery
	catalog := &stubCatalogService{
		listProductsFn: func(ctx context.Context, query services.ProductListQuery) (domain.CursorPage[domain.Product], error) {
			captured = query
			return domain.CursorPage[domain.Product]{
				Items:         []domain.Product{{ID: "prod-1", Name: "Classic Tee", SellingPrice: 25000}},
				NextPageToken: "cursor-2",
			}, nil
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	target := "/api/products?collection_id=col-1&search=classic&size=M&size=L&min_price=1000&max_price=60000&in_stock=true&sort_by=selling_price&sort_order=desc&page_size=10&page_token=cursor-1"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.CollectionID != "col-1" {
		t.Fatalf("expected collection filter, got %s", captured.CollectionID)
	}
	if captured.Search != "classic" {
		t.Fatalf("expected search term, got %q", captured.Search)
	}
	if len(captured.Sizes) != 2 || captured.Sizes[0] != "m" || captured.Sizes[1] != "l" {
		t.Fatalf("unexpected size filter: %v", captured.Sizes)
	}
	if captured.MinPrice == nil || *captured.MinPrice != 1000 {
		t.Fatalf("expected min price 1000, got %v", captured.MinPrice)
	}
	if captured.MaxPrice == nil || *captured.MaxPrice != 60000 {
		t.Fatalf("expected max price 60000, got %v", captured.MaxPrice)
	}
	if !captured.InStockOnly {
		t.Fatalf("expected in-stock filter set")
	}
	if captured.SortBy != "selling_price" || captured.SortOrder != domain.SortDesc {
		t.Fatalf("unexpected sort: %s %s", captured.SortBy, captured.SortOrder)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "cursor-1" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var payload productListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "prod-1" {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
	if payload.NextPageToken != "cursor-2" {
		t.Fatalf("expected next page token, got %s", payload.NextPageToken)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		getProductFn: func(ctx context.Context, productID string) (domain.Product, error) {
			return domain.Product{}, services.ErrProductNotFound
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	req := httptest.NewRequest(http.MethodGet, "/api/products/prod-missing", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "product_not_found" {
		t.Fatalf("expected product_not_found, got %s", envelope.Error)
	}
}

func TestCatalogHandlersCreateProduct(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var captured services.CreateProductCommand
	catalog := &stubCatalogService{
		createProductFn: func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
			captured = cmd
			return domain.Product{
				ID:           "prod-1",
				Name:         cmd.Name,
				Slug:         "classic-tee",
				SellingPrice: cmd.SellingPrice,
				Stock:        cmd.Stock,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	body := bytes.NewBufferString(`{"name":"Classic Tee","description":"Soft cotton","base_price":30000,"selling_price":25000,"collection_id":"col-1","stock":[{"size":"M","quantity":5}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/products", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Name != "Classic Tee" || captured.SellingPrice != 25000 || captured.CollectionID != "col-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if len(captured.Stock) != 1 || captured.Stock[0].Size != "M" || captured.Stock[0].Quantity != 5 {
		t.Fatalf("unexpected stock: %+v", captured.Stock)
	}
}

func TestCatalogHandlersUpdateProductPatchSemantics(t *testing.T) {
	var captured services.UpdateProductCommand
	catalog := &stubCatalogService{
		updateProductFn: func(ctx context.Context, cmd services.UpdateProductCommand) (domain.Product, error) {
			captured = cmd
			return domain.Product{ID: cmd.ProductID}, nil
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	body := bytes.NewBufferString(`{"selling_price":22000}`)
	req := httptest.NewRequest(http.MethodPut, "/api/products/prod-1", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if captured.ProductID != "prod-1" {
		t.Fatalf("expected product id prod-1, got %s", captured.ProductID)
	}
	if captured.SellingPrice == nil || *captured.SellingPrice != 22000 {
		t.Fatalf("expected selling price patch, got %v", captured.SellingPrice)
	}
	if captured.Name != nil || captured.Description != nil || captured.CollectionID != nil || captured.Stock != nil {
		t.Fatalf("expected untouched fields to stay nil: %+v", captured)
	}
}

func TestCatalogHandlersPhotoLifecycle(t *testing.T) {
	expires := time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)
	catalog := &stubCatalogService{
		createUploadIntentFn: func(ctx context.Context, cmd services.PhotoUploadCommand) (domain.PhotoUploadIntent, error) {
			if cmd.ProductID != "prod-1" || cmd.ContentType != "image/jpeg" {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return domain.PhotoUploadIntent{
				Key:         "products/prod-1/img_0",
				URL:         "https://signed.example.com/upload",
				Method:      http.MethodPut,
				ContentType: "image/jpeg",
				ExpiresAt:   expires,
			}, nil
		},
		deletePhotoFn: func(ctx context.Context, cmd services.DeletePhotoCommand) (domain.Product, error) {
			if cmd.Key != "products/prod-1/img_0" {
				t.Fatalf("unexpected delete key: %s", cmd.Key)
			}
			return domain.Product{ID: "prod-1"}, nil
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	body := bytes.NewBufferString(`{"content_type":"image/jpeg"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/products/prod-1/photos/upload-intent", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var payload photoUploadIntentPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Method != http.MethodPut || payload.Key != "products/prod-1/img_0" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/products/prod-1/photos?key=products%2Fprod-1%2Fimg_0", nil)
	resp = httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestCatalogHandlersDeletePhotoRequiresKey(t *testing.T) {
	handler := NewCatalogHandlers(nil, &stubCatalogService{})
	router := NewRouter(WithProductRoutes(handler.ProductRoutes))

	req := httptest.NewRequest(http.MethodDelete, "/api/products/prod-1/photos", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCatalogHandlersCollectionConflict(t *testing.T) {
	catalog := &stubCatalogService{
		createCollectionFn: func(ctx context.Context, cmd services.UpsertCollectionCommand) (domain.Collection, error) {
			return domain.Collection{}, services.ErrCollectionNameTaken
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithCollectionRoutes(handler.CollectionRoutes))

	body := bytes.NewBufferString(`{"name":"Summer","description":"Warm weather picks"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/collections", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "collection_name_taken" {
		t.Fatalf("expected collection_name_taken, got %s", envelope.Error)
	}
}

func TestCatalogHandlersListCollectionProducts(t *testing.T) {
	catalog := &stubCatalogService{
		listCollectionProductsFn: func(ctx context.Context, collectionID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
			if collectionID != "col-1" {
				t.Fatalf("expected col-1, got %s", collectionID)
			}
			return domain.CursorPage[domain.Product]{Items: []domain.Product{{ID: "prod-1"}}}, nil
		},
	}

	handler := NewCatalogHandlers(nil, catalog)
	router := NewRouter(WithCollectionRoutes(handler.CollectionRoutes))

	req := httptest.NewRequest(http.MethodGet, "/api/collections/col-1/products", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}
