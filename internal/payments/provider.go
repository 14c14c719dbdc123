package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the intent is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrProviderUnavailable is returned when the gateway cannot be reached or rejects the call.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrSignatureMismatch is returned when a callback signature fails verification.
	ErrSignatureMismatch = errors.New("payments: signature mismatch")
	// ErrIntentNotFound is returned when the gateway does not know the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
)

// IntentRequest captures the payload required to create a payment intent
// with the gateway. Amount is in minor currency units.
type IntentRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// PaymentIntent represents the gateway order handed back to the client for
// collection.
type PaymentIntent struct {
	Provider  string
	IntentID  string
	Amount    int64
	Currency  string
	Status    Status
	KeyID     string
	CreatedAt time.Time
	Raw       map[string]any
}

// VerifyRequest carries the callback material signed by the gateway.
type VerifyRequest struct {
	IntentID  string
	PaymentID string
	Signature string
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error)
	VerifySignature(req VerifyRequest) error
	FetchIntent(ctx context.Context, intentID string) (PaymentIntent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = providerKey(provider)
		}
	}
}

// providerKey normalises provider names used as registry keys.
func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NewManager constructs a Manager over the supplied providers. Razorpay is
// the default when registered, matching the production gateway.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		registry[key] = p
	}
	m := &Manager{providers: registry}
	if _, ok := registry[ProviderRazorpay]; ok {
		m.defaultProvider = ProviderRazorpay
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// resolveProvider picks a gateway in priority order: the caller's explicit
// preference, the currency route, the default, then the sole registration.
func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}

	candidates := []string{providerKey(ctx.PreferredProvider)}
	if currency := strings.ToUpper(strings.TrimSpace(ctx.Currency)); currency != "" {
		candidates = append(candidates, providerKey(m.currencyRoutes[currency]))
	}
	candidates = append(candidates, providerKey(m.defaultProvider))

	for _, key := range candidates {
		if key == "" {
			continue
		}
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req IntentRequest) (PaymentIntent, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// VerifySignature delegates to the resolved provider.
func (m *Manager) VerifySignature(paymentCtx PaymentContext, req VerifyRequest) error {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return err
	}
	return provider.VerifySignature(req)
}

// FetchIntent delegates to the resolved provider.
func (m *Manager) FetchIntent(ctx context.Context, paymentCtx PaymentContext, intentID string) (PaymentIntent, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentIntent{}, err
	}
	return provider.FetchIntent(ctx, intentID)
}
