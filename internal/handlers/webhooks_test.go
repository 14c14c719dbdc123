package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/services"
)

func signWebhookBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookHandlersRazorpayCaptured(t *testing.T) {
	var captured services.GatewayEvent
	checkout := &stubCheckoutService{
		eventFn: func(ctx context.Context, evt services.GatewayEvent) error {
			captured = evt
			return nil
		},
	}

	handler := NewWebhookHandlers(nil, checkout)
	router := NewRouter(WithWebhookRoutes(handler.Routes))

	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_abc"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(body))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Kind != services.GatewayEventPaymentCaptured {
		t.Fatalf("unexpected event kind %q", captured.Kind)
	}
	if captured.IntentID != "order_abc" || captured.PaymentID != "pay_123" {
		t.Fatalf("unexpected event: %+v", captured)
	}
}

func TestWebhookHandlersFallsBackToOrderEntity(t *testing.T) {
	var captured services.GatewayEvent
	checkout := &stubCheckoutService{
		eventFn: func(ctx context.Context, evt services.GatewayEvent) error {
			captured = evt
			return nil
		},
	}

	handler := NewWebhookHandlers(nil, checkout)
	router := NewRouter(WithWebhookRoutes(handler.Routes))

	body := `{"event":"order.paid","payload":{"order":{"entity":{"id":"order_xyz"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(body))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if captured.IntentID != "order_xyz" || captured.PaymentID != "" {
		t.Fatalf("unexpected event: %+v", captured)
	}
}

func TestWebhookHandlersInvalidJSON(t *testing.T) {
	handler := NewWebhookHandlers(nil, &stubCheckoutService{})
	router := NewRouter(WithWebhookRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString("{nope"))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	envelope := decodeErrorEnvelope(t, resp)
	if envelope.Error != "invalid_body" {
		t.Fatalf("unexpected error code %q", envelope.Error)
	}
}

func TestWebhookHandlersNoCheckoutService(t *testing.T) {
	handler := NewWebhookHandlers(nil, nil)
	router := NewRouter(WithWebhookRoutes(handler.Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(`{"event":"payment.captured"}`))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", resp.Code)
	}
}

func TestWebhookHandlersSignatureEnforced(t *testing.T) {
	validator := auth.NewWebhookValidator(
		auth.SecretProviderFunc(func(context.Context, string) (string, error) {
			return "whsec_test", nil
		}),
		auth.NewInMemoryNonceStore(),
	)

	checkoutCalls := 0
	checkout := &stubCheckoutService{
		eventFn: func(ctx context.Context, evt services.GatewayEvent) error {
			checkoutCalls++
			return nil
		},
	}

	handler := NewWebhookHandlers(validator, checkout)
	router := NewRouter(WithWebhookRoutes(handler.Routes))

	body := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","order_id":"order_9"}}}}`

	unsigned := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, unsigned)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without signature, got %d", resp.Code)
	}
	if checkoutCalls != 0 {
		t.Fatal("checkout should not run for unsigned delivery")
	}

	signed := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(body))
	signed.Header.Set("X-Razorpay-Signature", signWebhookBody("whsec_test", body))
	signed.Header.Set("X-Razorpay-Event-Id", "evt_42")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, signed)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 for signed delivery, got %d: %s", resp.Code, resp.Body.String())
	}
	if checkoutCalls != 1 {
		t.Fatalf("expected 1 checkout call, got %d", checkoutCalls)
	}

	replay := httptest.NewRequest(http.MethodPost, "/api/webhooks/razorpay", bytes.NewBufferString(body))
	replay.Header.Set("X-Razorpay-Signature", signWebhookBody("whsec_test", body))
	replay.Header.Set("X-Razorpay-Event-Id", "evt_42")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, replay)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for replayed delivery, got %d", resp.Code)
	}
	if checkoutCalls != 1 {
		t.Fatalf("replay must not reach checkout, got %d calls", checkoutCalls)
	}
}
