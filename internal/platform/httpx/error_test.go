package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("cart_not_found", "cart does not exist", http.StatusNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var payload struct {
		Success   bool   `json:"success"`
		Error     string `json:"error"`
		Message   string `json:"message"`
		Status    int    `json:"status"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Success {
		t.Fatal("success should be false")
	}
	if payload.Error != "cart_not_found" || payload.Status != 404 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.RequestID != "req-123" {
		t.Fatalf("request id = %q", payload.RequestID)
	}
}

func TestNewErrorScrubsInput(t *testing.T) {
	err := NewError("bad\ncode", "multi\r\nline message", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", err.Status)
	}
	if err.Code != "bad code" {
		t.Fatalf("code = %q", err.Code)
	}
	if err.Message != "multi  line message" {
		t.Fatalf("message = %q", err.Message)
	}
}
