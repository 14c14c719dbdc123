package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func signBody(secret string, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func staticSecret(secret string) SecretProvider {
	return SecretProviderFunc(func(context.Context, string) (string, error) {
		return secret, nil
	})
}

func TestRequireSignatureAcceptsValidBody(t *testing.T) {
	validator := NewWebhookValidator(staticSecret("whsec"), NewInMemoryNonceStore())

	var sawMeta *WebhookMetadata
	handler := validator.RequireSignature("payments/webhook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawMeta, _ = WebhookMetadataFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"event":"payment.captured","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", signBody("whsec", body))
	req.Header.Set("X-Razorpay-Event-Id", "evt_001")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sawMeta == nil {
		t.Fatal("expected webhook metadata in context")
	}
	if sawMeta.EventID != "evt_001" {
		t.Fatalf("unexpected event id %q", sawMeta.EventID)
	}
}

func TestRequireSignatureRejectsTamperedBody(t *testing.T) {
	validator := NewWebhookValidator(staticSecret("whsec"), NewInMemoryNonceStore())

	handler := validator.RequireSignature("payments/webhook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	body := `{"event":"payment.captured"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(`{"event":"payment.failed"}`))
	req.Header.Set("X-Razorpay-Signature", signBody("whsec", body))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireSignatureRejectsFlippedSignatureBit(t *testing.T) {
	validator := NewWebhookValidator(staticSecret("whsec"), NewInMemoryNonceStore())

	handler := validator.RequireSignature("payments/webhook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	body := `{"event":"payment.captured"}`
	sig := []byte(signBody("whsec", body))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", string(sig))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireSignatureMissingHeader(t *testing.T) {
	validator := NewWebhookValidator(staticSecret("whsec"), NewInMemoryNonceStore())

	handler := validator.RequireSignature("payments/webhook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireSignatureRejectsReplayedEvent(t *testing.T) {
	validator := NewWebhookValidator(staticSecret("whsec"), NewInMemoryNonceStore())

	calls := 0
	handler := validator.RequireSignature("payments/webhook")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"event":"payment.captured"}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
		req.Header.Set("X-Razorpay-Signature", signBody("whsec", body))
		req.Header.Set("X-Razorpay-Event-Id", "evt_replay")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", rec.Code)
	}
	if rec := send(); rec.Code != http.StatusConflict {
		t.Fatalf("replay: expected 409, got %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestInMemoryNonceStoreExpiry(t *testing.T) {
	store := NewInMemoryNonceStore()

	fresh, err := store.UseNonce(context.Background(), "scope", "n1", time.Now().Add(10*time.Millisecond))
	if err != nil || !fresh {
		t.Fatalf("first use: fresh=%v err=%v", fresh, err)
	}

	fresh, err = store.UseNonce(context.Background(), "scope", "n1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second use: %v", err)
	}
	if fresh {
		t.Fatal("expected replay to be rejected")
	}

	time.Sleep(20 * time.Millisecond)

	fresh, err = store.UseNonce(context.Background(), "scope", "n1", time.Now().Add(time.Hour))
	if err != nil || !fresh {
		t.Fatalf("after expiry: fresh=%v err=%v", fresh, err)
	}
}

func TestDecodeSignatureFormats(t *testing.T) {
	raw := []byte{0xde, 0xad, 0xbe, 0xef}

	decoded, err := decodeSignature(hex.EncodeToString(raw))
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatal("hex decode mismatch")
	}

	if _, err := decodeSignature("!!not-a-signature!!"); err == nil {
		t.Fatal("expected error for malformed signature")
	}
}
