package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultWebhookSignatureHeader = "X-Razorpay-Signature"
	defaultWebhookEventIDHeader   = "X-Razorpay-Event-Id"
	defaultNonceTTL               = 24 * time.Hour
)

// Logger matches the subset of *log.Logger used by the validator.
type Logger interface {
	Printf(format string, args ...any)
}

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore tracks delivered event identifiers for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope.
	// The boolean indicates whether the nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore offers an in-memory nonce registry suitable for tests and local development.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time)}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	now := time.Now()
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(now)
	if existing, ok := s.seen[key]; ok && existing.After(now) {
		return false, nil
	}
	s.seen[key] = expiry
	return true, nil
}

// sweep drops expired nonces. Caller holds the lock.
func (s *InMemoryNonceStore) sweep(now time.Time) {
	for key, expiry := range s.seen {
		if expiry.Before(now) {
			delete(s.seen, key)
		}
	}
}

// WebhookValidator verifies gateway webhook deliveries signed with HMAC-SHA256
// over the raw request body.
type WebhookValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger Logger
	now    func() time.Time

	signatureHeader string
	eventIDHeader   string
	nonceTTL        time.Duration

	secretCache sync.Map
}

// WebhookOption customises the validator.
type WebhookOption func(*WebhookValidator)

// NewWebhookValidator builds a validator using the given secret provider and nonce store.
func NewWebhookValidator(provider SecretProvider, nonces NonceStore, opts ...WebhookOption) *WebhookValidator {
	v := &WebhookValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultWebhookSignatureHeader,
		eventIDHeader:   defaultWebhookEventIDHeader,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithWebhookLogger overrides the validator logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(v *WebhookValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithWebhookHeaders customises the header names used by the middleware.
func WithWebhookHeaders(signature, eventID string) WebhookOption {
	return func(v *WebhookValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if eventID != "" {
			v.eventIDHeader = eventID
		}
	}
}

// WithWebhookNonceTTL customises the replay-guard retention duration.
func WithWebhookNonceTTL(d time.Duration) WebhookOption {
	return func(v *WebhookValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// WebhookMetadata describes the verification context for downstream handlers.
type WebhookMetadata struct {
	SecretName   string
	EventID      string
	Signature    []byte
	RawSignature string
}

type webhookContextKey struct{}

// WithWebhookMetadata stores the metadata on the context.
func WithWebhookMetadata(ctx context.Context, meta *WebhookMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, webhookContextKey{}, meta)
}

// WebhookMetadataFromContext retrieves metadata from the context.
func WebhookMetadataFromContext(ctx context.Context) (*WebhookMetadata, bool) {
	meta, ok := ctx.Value(webhookContextKey{}).(*WebhookMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// RequireSignature enforces a valid body signature on the request. When the
// delivery carries an event id it is recorded for replay rejection.
func (v *WebhookValidator) RequireSignature(secretName string) func(http.Handler) http.Handler {
	scopedSecret := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil || v.provider == nil {
				respondWebhookError(w, http.StatusInternalServerError, "webhook_unavailable", "signature validation unavailable")
				return
			}

			rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			if rawSignature == "" {
				respondWebhookError(w, http.StatusUnauthorized, "missing_signature", "signature header missing")
				return
			}

			signature, err := decodeSignature(rawSignature)
			if err != nil {
				respondWebhookError(w, http.StatusUnauthorized, "invalid_signature", "signature encoding invalid")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				respondWebhookError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
				return
			}

			secret, err := v.loadSecret(r.Context(), scopedSecret)
			if err != nil {
				v.logger.Printf("webhook secret %s unavailable: %v", scopedSecret, err)
				respondWebhookError(w, http.StatusInternalServerError, "webhook_unavailable", "signature validation unavailable")
				return
			}

			expected := computeHMAC(secret, body)
			if !hmac.Equal(expected, signature) {
				respondWebhookError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			eventID := strings.TrimSpace(r.Header.Get(v.eventIDHeader))
			if eventID != "" && v.nonces != nil {
				fresh, err := v.nonces.UseNonce(r.Context(), scopedSecret, eventID, v.now().Add(v.nonceTTL))
				if err != nil {
					v.logger.Printf("webhook nonce check failed: %v", err)
					respondWebhookError(w, http.StatusInternalServerError, "webhook_unavailable", "replay check unavailable")
					return
				}
				if !fresh {
					respondWebhookError(w, http.StatusConflict, "duplicate_delivery", "event already processed")
					return
				}
			}

			meta := &WebhookMetadata{
				SecretName:   scopedSecret,
				EventID:      eventID,
				Signature:    signature,
				RawSignature: rawSignature,
			}
			next.ServeHTTP(w, r.WithContext(WithWebhookMetadata(r.Context(), meta)))
		})
	}
}

func (v *WebhookValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("auth: secret name is required")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		if secret, _ := cached.([]byte); len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	secret := []byte(strings.TrimSpace(raw))
	if len(secret) == 0 {
		return nil, errors.New("auth: secret is empty")
	}
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeSignature accepts the hex encoding Razorpay sends, plus base64 for
// manually replayed deliveries.
func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func respondWebhookError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": message,
		"status":  status,
	})
}
