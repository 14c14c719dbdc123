package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

// AdminOrderHandlers exposes the back-office order surface: filtered
// listings, fulfillment updates, deletion, aggregates, and the manual
// reconciliation trigger.
type AdminOrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
}

// NewAdminOrderHandlers wires the order and checkout services into the admin
// endpoints.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders, checkout: checkout}
}

// Routes registers /admin/orders endpoints on the provided router. All
// routes require the admin or moderator role.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin, auth.RoleModerator))
	}

	r.Get("/orders", h.list)
	r.Get("/orders/status-counts", h.statusCounts)
	r.Get("/orders/sales", h.sales)
	r.Post("/orders/reconcile", h.reconcile)
	r.Get("/orders/{orderID}", h.get)
	r.Put("/orders/{orderID}", h.update)
	r.Delete("/orders/{orderID}", h.delete)
}

func (h *AdminOrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	query := services.OrderListQuery{
		UserID:            strings.TrimSpace(r.URL.Query().Get("user_id")),
		PaymentStatus:     parseFilterValues(r.URL.Query()["payment_status"]),
		FulfillmentStatus: parseFilterValues(r.URL.Query()["fulfillment_status"]),
		Pagination:        pager,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "created_after must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		query.CreatedAfter = &ts
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_filter", "created_before must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		query.CreatedBefore = &ts
	}

	page, err := h.orders.AdminList(ctx, query)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminOrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	order, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"), requesterFromIdentity(identity))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type adminUpdateOrderRequest struct {
	Phone             *string         `json:"phone"`
	ShippingAddress   *addressPayload `json:"shipping_address"`
	FulfillmentStatus *string         `json:"fulfillment_status"`
}

func (h *AdminOrderHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adminUpdateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.AdminUpdateOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Phone:   req.Phone,
	}
	if req.ShippingAddress != nil {
		addr := req.ShippingAddress.toDomain()
		cmd.Address = &addr
	}
	if req.FulfillmentStatus != nil {
		status := domain.FulfillmentStatus(strings.ToLower(strings.TrimSpace(*req.FulfillmentStatus)))
		cmd.Fulfillment = &status
	}

	order, err := h.orders.AdminUpdate(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminOrderHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	if err := h.orders.AdminDelete(ctx, chi.URLParam(r, "orderID")); err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

type statusCountsPayload struct {
	Payment     map[string]int64 `json:"payment"`
	Fulfillment map[string]int64 `json:"fulfillment"`
}

func (h *AdminOrderHandlers) statusCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	counts, err := h.orders.StatusCounts(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := statusCountsPayload{
		Payment:     make(map[string]int64, len(counts.Payment)),
		Fulfillment: make(map[string]int64, len(counts.Fulfillment)),
	}
	for status, count := range counts.Payment {
		payload.Payment[string(status)] = count
	}
	for status, count := range counts.Fulfillment {
		payload.Fulfillment[string(status)] = count
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

type salesSummaryPayload struct {
	OrderCount int64  `json:"order_count"`
	TotalMinor int64  `json:"total_minor"`
	Currency   string `json:"currency"`
}

func (h *AdminOrderHandlers) sales(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service not configured", http.StatusServiceUnavailable))
		return
	}

	summary, err := h.orders.TotalSales(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, salesSummaryPayload{
		OrderCount: summary.OrderCount,
		TotalMinor: summary.TotalMinor,
		Currency:   summary.Currency,
	})
}

type reconcileRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
	Limit            int `json:"limit"`
}

type reconcileReportPayload struct {
	Scanned int `json:"scanned"`
	Paid    int `json:"paid"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

func (h *AdminOrderHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service not configured", http.StatusServiceUnavailable))
		return
	}

	var req reconcileRequest
	if body, err := readLimitedBody(r, defaultBodyLimit); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	opts := services.ReconcileOptions{Limit: req.Limit}
	if req.OlderThanMinutes > 0 {
		opts.OlderThan = time.Duration(req.OlderThanMinutes) * time.Minute
	}

	report, err := h.checkout.ReconcilePending(ctx, opts)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, reconcileReportPayload{
		Scanned: report.Scanned,
		Paid:    report.Paid,
		Failed:  report.Failed,
		Skipped: report.Skipped,
	})
}
