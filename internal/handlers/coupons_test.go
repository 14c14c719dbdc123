package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/services"
)

type stubCouponHandlerService struct {
	createFn     func(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error)
	updateFn     func(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error)
	deleteFn     func(ctx context.Context, couponID string) error
	getFn        func(ctx context.Context, couponID string) (domain.Coupon, error)
	listFn       func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
	listActiveFn func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
}

func (s *stubCouponHandlerService) Create(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Coupon{}, nil
}

func (s *stubCouponHandlerService) Update(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.Coupon{}, nil
}

func (s *stubCouponHandlerService) Delete(ctx context.Context, couponID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, couponID)
	}
	return nil
}

func (s *stubCouponHandlerService) Get(ctx context.Context, couponID string) (domain.Coupon, error) {
	if s.getFn != nil {
		return s.getFn(ctx, couponID)
	}
	return domain.Coupon{}, nil
}

func (s *stubCouponHandlerService) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func (s *stubCouponHandlerService) ListActive(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if s.listActiveFn != nil {
		return s.listActiveFn(ctx, pager)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func TestCouponHandlersListActive(t *testing.T) {
	coupons := &stubCouponHandlerService{
		listActiveFn: func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
			return domain.CursorPage[domain.Coupon]{
				Items: []domain.Coupon{{ID: "coup-1", Code: "SAVE10", DiscountPercent: 10, Active: true}},
			}, nil
		},
	}

	handler := NewCouponHandlers(nil, coupons)
	router := NewRouter(WithCouponRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/active", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload couponListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Code != "SAVE10" || !payload.Items[0].Active {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
}

func TestCouponHandlersCreate(t *testing.T) {
	var captured services.UpsertCouponCommand
	coupons := &stubCouponHandlerService{
		createFn: func(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
			captured = cmd
			return domain.Coupon{ID: "coup-1", Code: "SAVE10", DiscountPercent: 10, Active: true}, nil
		},
	}

	handler := NewCouponHandlers(nil, coupons)
	router := NewRouter(WithCouponRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"code":"save10","discount_percent":10,"active":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Code != "save10" || captured.DiscountPercent != 10 || !captured.Active {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestCouponHandlersCreateConflict(t *testing.T) {
	coupons := &stubCouponHandlerService{
		createFn: func(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
			return domain.Coupon{}, services.ErrCouponCodeTaken
		},
	}

	handler := NewCouponHandlers(nil, coupons)
	router := NewRouter(WithCouponRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"code":"SAVE10","discount_percent":10,"active":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "coupon_code_taken" {
		t.Fatalf("expected coupon_code_taken, got %s", envelope.Error)
	}
}

func TestCouponHandlersUpdateValidation(t *testing.T) {
	coupons := &stubCouponHandlerService{
		updateFn: func(ctx context.Context, cmd services.UpsertCouponCommand) (domain.Coupon, error) {
			return domain.Coupon{}, services.ErrCouponInvalidInput
		},
	}

	handler := NewCouponHandlers(nil, coupons)
	router := NewRouter(WithCouponRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"code":"SAVE10","discount_percent":150,"active":true}`)
	req := httptest.NewRequest(http.MethodPut, "/api/coupons/coup-1", body)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCouponHandlersGetNotFound(t *testing.T) {
	coupons := &stubCouponHandlerService{
		getFn: func(ctx context.Context, couponID string) (domain.Coupon, error) {
			return domain.Coupon{}, services.ErrCouponNotFound
		},
	}

	handler := NewCouponHandlers(nil, coupons)
	router := NewRouter(WithCouponRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/coup-missing", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}
