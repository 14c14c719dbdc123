package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

// CouponHandlers exposes discount code endpoints: a public active listing and
// the admin CRUD surface.
type CouponHandlers struct {
	authn   *auth.Authenticator
	coupons services.CouponService
}

// NewCouponHandlers wires the coupon service into the HTTP surface.
func NewCouponHandlers(authn *auth.Authenticator, coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{authn: authn, coupons: coupons}
}

// Routes registers /coupons endpoints on the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/active", h.listActive)

	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleModerator))
		}
		admin.Get("/", h.list)
		admin.Post("/", h.create)
		admin.Get("/{couponID}", h.get)
		admin.Put("/{couponID}", h.update)
		admin.Delete("/{couponID}", h.delete)
	})
}

type couponPayload struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:              coupon.ID,
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent,
		Active:          coupon.Active,
		CreatedAt:       formatTime(coupon.CreatedAt),
		UpdatedAt:       formatTime(coupon.UpdatedAt),
	}
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

func buildCouponListResponse(page domain.CursorPage[domain.Coupon]) couponListResponse {
	resp := couponListResponse{
		Items:         make([]couponPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, coupon := range page.Items {
		resp.Items = append(resp.Items, buildCouponPayload(coupon))
	}
	return resp
}

func (h *CouponHandlers) listActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.ListActive(ctx, pager)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponListResponse(page))
}

func (h *CouponHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultCatalogPageSize, maxCatalogPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.coupons.List(ctx, pager)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponListResponse(page))
}

func (h *CouponHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	coupon, err := h.coupons.Get(ctx, chi.URLParam(r, "couponID"))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

type couponRequest struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	Active          bool   `json:"active"`
}

func (h *CouponHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req couponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.Create(ctx, services.UpsertCouponCommand{
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		Active:          req.Active,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCouponPayload(coupon))
}

func (h *CouponHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req couponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.Update(ctx, services.UpsertCouponCommand{
		CouponID:        chi.URLParam(r, "couponID"),
		Code:            req.Code,
		DiscountPercent: req.DiscountPercent,
		Active:          req.Active,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCouponPayload(coupon))
}

func (h *CouponHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service not configured", http.StatusServiceUnavailable))
		return
	}

	if err := h.coupons.Delete(ctx, chi.URLParam(r, "couponID")); err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponCodeTaken):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_code_taken", "coupon code already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}
