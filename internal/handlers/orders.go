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

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderHandlers exposes the authenticated order surface: quote preview,
// checkout open and verify, plus the caller's order history.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout services.CheckoutService
	pricer   services.Pricer
}

// NewOrderHandlers wires the order, checkout, and pricing services into the
// HTTP surface.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, checkout services.CheckoutService, pricer services.Pricer) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders, checkout: checkout, pricer: pricer}
}

// Routes registers /orders endpoints on the provided router. All routes
// require an authenticated caller.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}

	r.Post("/quote", h.quote)
	r.Post("/checkout", h.openCheckout)
	r.Post("/checkout/verify", h.verifyPayment)
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)
	r.Post("/{orderID}/cancel", h.cancel)
}

type orderLineItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Count     int    `json:"count"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type couponSnapshotPayload struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
}

type orderPayload struct {
	ID                string                 `json:"id"`
	OrderNumber       string                 `json:"order_number"`
	UserID            string                 `json:"user_id"`
	PaymentStatus     string                 `json:"payment_status"`
	FulfillmentStatus string                 `json:"fulfillment_status"`
	Currency          string                 `json:"currency"`
	Subtotal          int64                  `json:"subtotal"`
	Discount          int64                  `json:"discount"`
	Total             int64                  `json:"total"`
	Coupon            *couponSnapshotPayload `json:"coupon,omitempty"`
	Items             []orderLineItemPayload `json:"items"`
	Phone             string                 `json:"phone,omitempty"`
	ShippingAddress   addressPayload         `json:"shipping_address"`
	CreatedAt         string                 `json:"created_at,omitempty"`
	UpdatedAt         string                 `json:"updated_at,omitempty"`
	PaidAt            string                 `json:"paid_at,omitempty"`
	CancelledAt       string                 `json:"cancelled_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		PaymentStatus:     string(order.PaymentStatus),
		FulfillmentStatus: string(order.Fulfillment),
		Currency:          order.Currency,
		Subtotal:          order.Totals.Subtotal,
		Discount:          order.Totals.Discount,
		Total:             order.Totals.Total,
		Items:             make([]orderLineItemPayload, 0, len(order.Items)),
		Phone:             order.Phone,
		ShippingAddress:   buildAddressPayload(order.ShippingAddress),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		PaidAt:            formatTimePointer(order.PaidAt),
		CancelledAt:       formatTimePointer(order.CancelledAt),
	}
	if order.Coupon.Applied() {
		payload.Coupon = &couponSnapshotPayload{
			Code:            order.Coupon.Code,
			DiscountPercent: order.Coupon.DiscountPercent,
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderLineItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Size,
			Count:     item.Count,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return payload
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

func buildOrderListResponse(page domain.CursorPage[domain.Order]) orderListResponse {
	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	return resp
}

type quoteLinePayload struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Count     int    `json:"count"`
}

func toQuoteLines(lines []quoteLinePayload) []services.QuoteLine {
	out := make([]services.QuoteLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.QuoteLine{
			ProductID: line.ProductID,
			Size:      line.Size,
			Count:     line.Count,
		})
	}
	return out
}

type quoteRequest struct {
	Lines      []quoteLinePayload `json:"lines"`
	CouponCode string             `json:"coupon_code"`
}

type quotedLinePayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Count     int    `json:"count"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type quoteResponse struct {
	Currency string                 `json:"currency"`
	Subtotal int64                  `json:"subtotal"`
	Discount int64                  `json:"discount"`
	Total    int64                  `json:"total"`
	Coupon   *couponSnapshotPayload `json:"coupon,omitempty"`
	Lines    []quotedLinePayload    `json:"lines"`
}

func (h *OrderHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.pricer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service not configured", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req quoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	quote, err := h.pricer.Quote(ctx, services.QuoteCommand{
		Lines:      toQuoteLines(req.Lines),
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}

	resp := quoteResponse{
		Currency: quote.Currency,
		Subtotal: quote.Subtotal,
		Discount: quote.Discount,
		Total:    quote.Total,
		Lines:    make([]quotedLinePayload, 0, len(quote.Lines)),
	}
	if quote.Coupon.Applied() {
		resp.Coupon = &couponSnapshotPayload{
			Code:            quote.Coupon.Code,
			DiscountPercent: quote.Coupon.DiscountPercent,
		}
	}
	for _, line := range quote.Lines {
		resp.Lines = append(resp.Lines, quotedLinePayload{
			ProductID: line.ProductID,
			Name:      line.Name,
			Size:      line.Size,
			Count:     line.Count,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
		})
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

type openCheckoutRequest struct {
	Lines           []quoteLinePayload `json:"lines"`
	CouponCode      string             `json:"coupon_code"`
	Phone           string             `json:"phone"`
	ShippingAddress addressPayload     `json:"shipping_address"`
}

type checkoutSessionPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	IntentID    string `json:"intent_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

func (h *OrderHandlers) openCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req openCheckoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	session, err := h.checkout.Open(ctx, services.OpenCheckoutCommand{
		UserID:          identity.UID,
		Lines:           toQuoteLines(req.Lines),
		CouponCode:      req.CouponCode,
		Phone:           req.Phone,
		ShippingAddress: req.ShippingAddress.toDomain(),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionPayload{
		OrderID:     session.OrderID,
		OrderNumber: session.OrderNumber,
		IntentID:    session.IntentID,
		Amount:      session.Amount,
		Currency:    session.Currency,
		KeyID:       session.KeyID,
	})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service not configured", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req verifyPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.checkout.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:   req.OrderID,
		IntentID:  req.IntentID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
		Requester: requesterFromIdentity(identity),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
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

	pager, err := parsePagination(r, defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_pagination", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListForUser(ctx, identity.UID, pager)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
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

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
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

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   chi.URLParam(r, "orderID"),
		Requester: requesterFromIdentity(identity),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func requesterFromIdentity(identity *auth.Identity) services.Requester {
	if identity == nil {
		return services.Requester{}
	}
	return services.Requester{
		UserID: identity.UID,
		Role:   domain.Role(identity.Role),
	}
}

func writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPricingSizeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("size_not_found", "requested size not offered", http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingCouponRejected):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", "coupon is not applicable", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pricing_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrPaymentVerificationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPricingProductNotFound),
		errors.Is(err, services.ErrPricingSizeNotFound),
		errors.Is(err, services.ErrPricingCouponRejected):
		writePricingError(ctx, w, err)
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrOrderOutOfStock),
		errors.Is(err, services.ErrOrderInvalidTransition),
		errors.Is(err, services.ErrOrderInvalidInput):
		writeOrderError(ctx, w, err)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "order status transition not allowed", http.StatusConflict))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "insufficient stock for one or more items", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_operation_failed", "unable to complete the request", http.StatusInternalServerError))
	}
}
