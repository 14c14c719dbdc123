// Package httpx carries the JSON error envelope shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadcart/api/internal/platform/requestctx"
)

// Error is the canonical error payload returned by the API.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error, defaulting a zero status to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    scrub(code, 80),
		Message: scrub(message, 512),
		Status:  status,
	}
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteError renders err as the JSON envelope, pulling request and trace
// identifiers from the context so client reports can be correlated with logs.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	envelope := errorEnvelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: scrub(middleware.GetReqID(ctx), 80),
		TraceID:   scrub(requestctx.TraceID(ctx), 64),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}

// scrub flattens line breaks and caps length so header or user supplied
// values cannot inflate or mangle the payload.
func scrub(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r':
			return ' '
		default:
			return r
		}
	}, value)
	value = strings.TrimSpace(value)
	if limit > 0 && len(value) > limit {
		value = value[:limit]
	}
	return value
}
