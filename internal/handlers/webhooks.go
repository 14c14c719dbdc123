package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/threadcart/api/internal/platform/auth"
	"github.com/threadcart/api/internal/platform/httpx"
	"github.com/threadcart/api/internal/services"
)

// RazorpayWebhookSecretName scopes the shared secret the validator resolves
// for Razorpay deliveries.
const RazorpayWebhookSecretName = "razorpay_webhook"

// WebhookHandlers receives signed server-to-server callbacks from the
// payment gateway.
type WebhookHandlers struct {
	validator *auth.WebhookValidator
	checkout  services.CheckoutService
}

// NewWebhookHandlers wires the checkout workflow into the webhook surface.
func NewWebhookHandlers(validator *auth.WebhookValidator, checkout services.CheckoutService) *WebhookHandlers {
	return &WebhookHandlers{validator: validator, checkout: checkout}
}

// Routes registers /webhooks endpoints on the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(signed chi.Router) {
		if h.validator != nil {
			signed.Use(h.validator.RequireSignature(RazorpayWebhookSecretName))
		}
		signed.Post("/razorpay", h.handleRazorpay)
	})
}

// razorpayDelivery mirrors the subset of the Razorpay webhook envelope the
// checkout workflow consumes.
type razorpayDelivery struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

func (h *WebhookHandlers) handleRazorpay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var delivery razorpayDelivery
	if err := json.Unmarshal(body, &delivery); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	intentID := strings.TrimSpace(delivery.Payload.Payment.Entity.OrderID)
	if intentID == "" {
		intentID = strings.TrimSpace(delivery.Payload.Order.Entity.ID)
	}

	evt := services.GatewayEvent{
		Kind:      strings.TrimSpace(delivery.Event),
		IntentID:  intentID,
		PaymentID: strings.TrimSpace(delivery.Payload.Payment.Entity.ID),
	}
	if err := h.checkout.HandleGatewayEvent(ctx, evt); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}
