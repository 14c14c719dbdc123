package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/threadcart/api/internal/platform/auth"
)

const (
	defaultHeader = "Idempotency-Key"
	replayHeader  = "X-Idempotent-Replay"
)

// Logger receives persistence failures that the middleware swallows
// instead of failing the client request.
type Logger interface {
	Printf(format string, args ...any)
}

type options struct {
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	now     func() time.Time
	logger  Logger
}

// MiddlewareOption adjusts middleware behaviour.
type MiddlewareOption func(*options)

// WithHeader overrides the request header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(o *options) {
		if name = strings.TrimSpace(name); name != "" {
			o.header = name
		}
	}
}

// WithTTL sets how long completed records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods the middleware guards.
func WithMethods(methods ...string) MiddlewareOption {
	return func(o *options) {
		if len(methods) == 0 {
			return
		}
		o.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				o.methods[m] = struct{}{}
			}
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(o *options) { o.logger = logger }
}

// WithClock overrides the time source in tests.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func mutatingMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// Middleware enforces exactly-once semantics for mutating requests that
// carry an idempotency key. The first request with a given key runs the
// handler and stores its response; retries replay the stored response,
// and concurrent duplicates get a 409.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	o := options{
		header:  defaultHeader,
		ttl:     DefaultTTL,
		methods: mutatingMethods(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	if len(o.methods) == 0 {
		o.methods = mutatingMethods()
	}
	if o.now == nil {
		o.now = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := o.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.Header.Get(o.header))
			if token == "" {
				writeEnvelope(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			caller := callerID(r)
			key := Key{
				Token:       token + "|" + caller,
				Fingerprint: fingerprint(r, body, caller),
			}
			now := o.now().UTC()

			claim, err := store.Claim(r.Context(), key, now, o.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReused) {
					writeEnvelope(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
					return
				}
				if o.logger != nil {
					o.logger.Printf("idempotency: claim failed for key %s: %v", token, err)
				}
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch claim.Outcome {
			case OutcomeReplay:
				replayStored(w, claim.Stored)
				return
			case OutcomeInFlight:
				writeEnvelope(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			buf := &bufferedWriter{dst: w, header: make(http.Header)}
			next.ServeHTTP(buf, r)

			snapshot := StoredResponse{
				Status: buf.statusCode(),
				Header: storableHeader(buf.header),
				Body:   buf.bodyBytes(),
			}
			if err := store.Complete(r.Context(), key, snapshot, o.now().UTC(), o.ttl); err != nil {
				if o.logger != nil {
					o.logger.Printf("idempotency: persist failed for key %s (caller %s): %v", token, caller, err)
				}
				if ferr := store.Forget(r.Context(), key); ferr != nil && o.logger != nil {
					o.logger.Printf("idempotency: release failed for key %s: %v", token, ferr)
				}
				writeEnvelope(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}

			if err := buf.flush(); err != nil && o.logger != nil {
				o.logger.Printf("idempotency: flush failed for key %s: %v", token, err)
			}
		})
	}
}

// bufferBody drains and restores the request body so both the
// fingerprint and the downstream handler can read it.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprint binds the key to the request it was first used for. A key
// replayed against a different method, path, body, or caller is a bug on
// the client side and gets rejected rather than replayed.
func fingerprint(r *http.Request, body []byte, caller string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		caller,
	}
	if len(body) > 0 {
		parts = append(parts, hashHex(body))
	} else {
		parts = append(parts, "")
	}
	return hashHex([]byte(strings.Join(parts, "|")))
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func replayStored(w http.ResponseWriter, stored StoredResponse) {
	h := w.Header()
	for name := range h {
		h.Del(name)
	}
	for name, values := range stored.Header {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	h.Set(replayHeader, "true")

	status := stored.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(stored.Body) > 0 {
		_, _ = w.Write(stored.Body)
	}
}

func writeEnvelope(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedWriter holds the handler's response until the store accepts it.
// Nothing reaches the wire if persistence fails, so a client retry after
// a 500 still runs the handler fresh.
type bufferedWriter struct {
	dst    http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if status > 0 && b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedWriter) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) bodyBytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedWriter) flush() error {
	dst := b.dst.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range b.header {
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	b.dst.WriteHeader(b.statusCode())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := b.dst.Write(b.body.Bytes())
	return err
}
