package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// ProviderRazorpay is the registration key for the Razorpay adapter.
const ProviderRazorpay = "razorpay"

// orderClient is the subset of the Razorpay orders API the adapter uses.
// *resources.Order from the SDK satisfies it.
type orderClient interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayProvider adapts the Razorpay orders API to the Provider contract.
type RazorpayProvider struct {
	orders    orderClient
	keyID     string
	keySecret []byte
	now       func() time.Time
}

// RazorpayOption customises the adapter.
type RazorpayOption func(*RazorpayProvider)

// WithRazorpayOrderClient swaps the orders API client, primarily for tests.
func WithRazorpayOrderClient(client orderClient) RazorpayOption {
	return func(p *RazorpayProvider) {
		if client != nil {
			p.orders = client
		}
	}
}

// WithRazorpayClock injects a custom clock.
func WithRazorpayClock(now func() time.Time) RazorpayOption {
	return func(p *RazorpayProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewRazorpayProvider constructs the adapter with API credentials.
func NewRazorpayProvider(keyID, keySecret string, opts ...RazorpayOption) (*RazorpayProvider, error) {
	keyID = strings.TrimSpace(keyID)
	keySecret = strings.TrimSpace(keySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("payments: razorpay credentials are required")
	}

	provider := &RazorpayProvider{
		keyID:     keyID,
		keySecret: []byte(keySecret),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	if provider.orders == nil {
		client := razorpay.NewClient(keyID, keySecret)
		provider.orders = client.Order
	}
	return provider, nil
}

// CreateIntent creates a gateway order for the given amount.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req IntentRequest) (PaymentIntent, error) {
	if p == nil || p.orders == nil {
		return PaymentIntent{}, errors.New("payments: razorpay provider not initialised")
	}
	if req.Amount <= 0 {
		return PaymentIntent{}, errors.New("payments: amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return PaymentIntent{}, errors.New("payments: currency is required")
	}
	if err := ctx.Err(); err != nil {
		return PaymentIntent{}, err
	}

	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	order, err := p.orders.Create(data, nil)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("%w: create order: %v", ErrProviderUnavailable, err)
	}

	intent := p.intentFromOrder(order)
	if intent.IntentID == "" {
		return PaymentIntent{}, fmt.Errorf("%w: order response missing id", ErrProviderUnavailable)
	}
	return intent, nil
}

// VerifySignature checks the callback signature against the shared key secret.
// The gateway signs "{intentID}|{paymentID}" with HMAC-SHA256, hex encoded.
func (p *RazorpayProvider) VerifySignature(req VerifyRequest) error {
	if p == nil {
		return ErrSignatureMismatch
	}
	intentID := strings.TrimSpace(req.IntentID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if intentID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, p.keySecret)
	mac.Write([]byte(intentID + "|" + paymentID))
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrSignatureMismatch
	}
	return nil
}

// FetchIntent retrieves the current gateway state of an order.
func (p *RazorpayProvider) FetchIntent(ctx context.Context, intentID string) (PaymentIntent, error) {
	if p == nil || p.orders == nil {
		return PaymentIntent{}, errors.New("payments: razorpay provider not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return PaymentIntent{}, ErrIntentNotFound
	}
	if err := ctx.Err(); err != nil {
		return PaymentIntent{}, err
	}

	order, err := p.orders.Fetch(intentID, nil, nil)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not exist") {
			return PaymentIntent{}, ErrIntentNotFound
		}
		return PaymentIntent{}, fmt.Errorf("%w: fetch order: %v", ErrProviderUnavailable, err)
	}
	return p.intentFromOrder(order), nil
}

func (p *RazorpayProvider) intentFromOrder(order map[string]interface{}) PaymentIntent {
	intent := PaymentIntent{
		Provider: ProviderRazorpay,
		IntentID: stringField(order, "id"),
		Amount:   int64Field(order, "amount"),
		Currency: stringField(order, "currency"),
		Status:   normaliseOrderStatus(stringField(order, "status")),
		KeyID:    p.keyID,
		Raw:      order,
	}
	if created := int64Field(order, "created_at"); created > 0 {
		intent.CreatedAt = time.Unix(created, 0).UTC()
	} else {
		intent.CreatedAt = p.now().UTC()
	}
	return intent
}

func normaliseOrderStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid":
		return StatusSucceeded
	case "created", "attempted":
		return StatusPending
	default:
		// Orders have no terminal failure state of their own, so a status
		// this code does not recognise stays pending and reconciliation
		// keeps polling the intent.
		return StatusPending
	}
}

func stringField(values map[string]interface{}, key string) string {
	if values == nil {
		return ""
	}
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(values map[string]interface{}, key string) int64 {
	if values == nil {
		return 0
	}
	switch v := values[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	}
	return 0
}
