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
	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/services"
)

type stubOrderService struct {
	createFn        func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFn           func(ctx context.Context, orderID string, requester services.Requester) (domain.Order, error)
	listForUserFn   func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	adminListFn     func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error)
	markPaidFn      func(ctx context.Context, orderID, paymentID string) (domain.Order, error)
	markFailedFn    func(ctx context.Context, orderID, paymentID string) (domain.Order, error)
	cancelFn        func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error)
	adminUpdateFn   func(ctx context.Context, cmd services.AdminUpdateOrderCommand) (domain.Order, error)
	adminDeleteFn   func(ctx context.Context, orderID string) error
	statusCountsFn  func(ctx context.Context) (domain.OrderStatusCounts, error)
	totalSalesFn    func(ctx context.Context) (domain.SalesSummary, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string, requester services.Requester) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID, requester)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) ListForUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	if s.listForUserFn != nil {
		return s.listForUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) AdminList(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	if s.adminListFn != nil {
		return s.adminListFn(ctx, query)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) MarkPaid(ctx context.Context, orderID, paymentID string) (domain.Order, error) {
	if s.markPaidFn != nil {
		return s.markPaidFn(ctx, orderID, paymentID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) MarkPaymentFailed(ctx context.Context, orderID, paymentID string) (domain.Order, error) {
	if s.markFailedFn != nil {
		return s.markFailedFn(ctx, orderID, paymentID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) AdminUpdate(ctx context.Context, cmd services.AdminUpdateOrderCommand) (domain.Order, error) {
	if s.adminUpdateFn != nil {
		return s.adminUpdateFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) AdminDelete(ctx context.Context, orderID string) error {
	if s.adminDeleteFn != nil {
		return s.adminDeleteFn(ctx, orderID)
	}
	return nil
}

func (s *stubOrderService) StatusCounts(ctx context.Context) (domain.OrderStatusCounts, error) {
	if s.statusCountsFn != nil {
		return s.statusCountsFn(ctx)
	}
	return domain.OrderStatusCounts{}, nil
}

func (s *stubOrderService) TotalSales(ctx context.Context) (domain.SalesSummary, error) {
	if s.totalSalesFn != nil {
		return s.totalSalesFn(ctx)
	}
	return domain.SalesSummary{}, nil
}

type stubCheckoutService struct {
	openFn      func(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutSession, error)
	verifyFn    func(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error)
	eventFn     func(ctx context.Context, evt services.GatewayEvent) error
	reconcileFn func(ctx context.Context, opts services.ReconcileOptions) (services.ReconcileReport, error)
}

func (s *stubCheckoutService) HandleGatewayEvent(ctx context.Context, evt services.GatewayEvent) error {
	if s.eventFn != nil {
		return s.eventFn(ctx, evt)
	}
	return nil
}

func (s *stubCheckoutService) Open(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutSession, error) {
	if s.openFn != nil {
		return s.openFn(ctx, cmd)
	}
	return services.CheckoutSession{}, nil
}

func (s *stubCheckoutService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubCheckoutService) ReconcilePending(ctx context.Context, opts services.ReconcileOptions) (services.ReconcileReport, error) {
	if s.reconcileFn != nil {
		return s.reconcileFn(ctx, opts)
	}
	return services.ReconcileReport{}, nil
}

type stubQuoteService struct {
	quoteFn func(ctx context.Context, cmd services.QuoteCommand) (services.PricingQuote, error)
}

func (s *stubQuoteService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.PricingQuote, error) {
	if s.quoteFn != nil {
		return s.quoteFn(ctx, cmd)
	}
	return services.PricingQuote{Currency: "INR"}, nil
}

func withUserIdentity(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Role: auth.RoleUser}))
}

func TestOrderHandlersQuote(t *testing.T) {
	var captured services.QuoteCommand
	pricer := &stubQuoteService{
		quoteFn: func(ctx context.Context, cmd services.QuoteCommand) (services.PricingQuote, error) {
			captured = cmd
			return services.PricingQuote{
				Currency: "INR",
				Subtotal: 100000,
				Discount: 10000,
				Total:    90000,
				Coupon:   domain.CouponSnapshot{Code: "SAVE10", DiscountPercent: 10},
				Lines: []services.QuotedLine{
					{ProductID: "prod-tee", Name: "Classic Tee", Size: "M", Count: 2, UnitPrice: 25000, Total: 50000},
				},
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, &stubCheckoutService{}, pricer)
	router := NewRouter(WithOrderRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"lines":[{"product_id":"prod-tee","size":"M","count":2}],"coupon_code":"save10"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/quote", body)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.CouponCode != "save10" || len(captured.Lines) != 1 || captured.Lines[0].Count != 2 {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var payload quoteResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Total != 90000 || payload.Discount != 10000 {
		t.Fatalf("unexpected totals: %+v", payload)
	}
	if payload.Coupon == nil || payload.Coupon.Code != "SAVE10" {
		t.Fatalf("expected coupon snapshot, got %+v", payload.Coupon)
	}
}

func TestOrderHandlersOpenCheckout(t *testing.T) {
	var captured services.OpenCheckoutCommand
	checkout := &stubCheckoutService{
		openFn: func(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutSession, error) {
			captured = cmd
			return services.CheckoutSession{
				OrderID:     "order-1",
				OrderNumber: "TC-2025-000001",
				IntentID:    "intent-1",
				Amount:      90000,
				Currency:    "INR",
				KeyID:       "rzp_test_key",
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, checkout, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	body := bytes.NewBufferString(`{
		"lines":[{"product_id":"prod-tee","size":"M","count":2}],
		"coupon_code":"SAVE10",
		"phone":"+919900112233",
		"shipping_address":{"recipient":"Asha Rao","line1":"14 MG Road","city":"Bengaluru","state":"KA","postal_code":"560001","country":"IN"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout", body)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected identity propagated, got %s", captured.UserID)
	}
	if captured.ShippingAddress.City != "Bengaluru" || captured.ShippingAddress.PostalCode != "560001" {
		t.Fatalf("unexpected address: %+v", captured.ShippingAddress)
	}

	var payload checkoutSessionPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.OrderID != "order-1" || payload.IntentID != "intent-1" || payload.KeyID != "rzp_test_key" {
		t.Fatalf("unexpected session: %+v", payload)
	}
	if payload.Amount != 90000 || payload.Currency != "INR" {
		t.Fatalf("unexpected amount: %+v", payload)
	}
}

func TestOrderHandlersOpenCheckoutGatewayDown(t *testing.T) {
	checkout := &stubCheckoutService{
		openFn: func(ctx context.Context, cmd services.OpenCheckoutCommand) (services.CheckoutSession, error) {
			return services.CheckoutSession{}, services.ErrCheckoutGateway
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, checkout, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"lines":[{"product_id":"prod-tee","size":"M","count":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout", body)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "gateway_unavailable" {
		t.Fatalf("expected gateway_unavailable, got %s", envelope.Error)
	}
}

func TestOrderHandlersVerifyPaymentFailure(t *testing.T) {
	checkout := &stubCheckoutService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrPaymentVerificationFailed
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, checkout, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"order_id":"order-1","intent_id":"intent-1","payment_id":"pay-1","signature":"bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout/verify", body)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "payment_verification_failed" {
		t.Fatalf("expected payment_verification_failed, got %s", envelope.Error)
	}
}

func TestOrderHandlersVerifyPaymentSuccess(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)
	var captured services.VerifyPaymentCommand
	checkout := &stubCheckoutService{
		verifyFn: func(ctx context.Context, cmd services.VerifyPaymentCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{
				ID:            "order-1",
				OrderNumber:   "TC-2025-000001",
				UserID:        "user-1",
				PaymentStatus: domain.PaymentStatusSuccess,
				Fulfillment:   domain.FulfillmentStatusOrdered,
				Currency:      "INR",
				Totals:        domain.OrderTotals{Subtotal: 100000, Discount: 10000, Total: 90000},
				PaidAt:        &paidAt,
			}, nil
		},
	}

	handler := NewOrderHandlers(nil, &stubOrderService{}, checkout, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	body := bytes.NewBufferString(`{"order_id":"order-1","intent_id":"intent-1","payment_id":"pay-1","signature":"sig"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/checkout/verify", body)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Requester.UserID != "user-1" {
		t.Fatalf("expected requester propagated, got %+v", captured.Requester)
	}

	var payload orderPayload
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.PaymentStatus != "success" || payload.FulfillmentStatus != "ordered" {
		t.Fatalf("unexpected statuses: %+v", payload)
	}
	if payload.PaidAt != formatTime(paidAt) {
		t.Fatalf("expected paid_at %s, got %s", formatTime(paidAt), payload.PaidAt)
	}
}

func TestOrderHandlersListScopedToCaller(t *testing.T) {
	orders := &stubOrderService{
		listForUserFn: func(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
			if userID != "user-1" {
				t.Fatalf("expected user-1, got %s", userID)
			}
			return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "order-1", UserID: userID}}}, nil
		},
	}

	handler := NewOrderHandlers(nil, orders, &stubCheckoutService{}, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}

	var payload orderListResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "order-1" {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
}

func TestOrderHandlersGetNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(ctx context.Context, orderID string, requester services.Requester) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}

	handler := NewOrderHandlers(nil, orders, &stubCheckoutService{}, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/orders/order-other", nil)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestOrderHandlersCancelConflict(t *testing.T) {
	orders := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			if cmd.OrderID != "order-1" || cmd.Requester.UserID != "user-1" {
				t.Fatalf("unexpected command: %+v", cmd)
			}
			return domain.Order{}, services.ErrOrderInvalidTransition
		},
	}

	handler := NewOrderHandlers(nil, orders, &stubCheckoutService{}, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/orders/order-1/cancel", nil)
	req = withUserIdentity(req, "user-1")
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if envelope := decodeErrorEnvelope(t, resp); envelope.Error != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %s", envelope.Error)
	}
}

func TestOrderHandlersRequireAuthentication(t *testing.T) {
	verifier := &stubTokenVerifier{}
	handler := NewOrderHandlers(auth.NewAuthenticator(verifier), &stubOrderService{}, &stubCheckoutService{}, &stubQuoteService{})
	router := NewRouter(WithOrderRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}
