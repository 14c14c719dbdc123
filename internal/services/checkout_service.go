package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/payments"
)

var (
	// ErrCheckoutInvalidInput indicates the open-phase request was malformed.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutGateway indicates the payment gateway rejected or failed the intent creation.
	ErrCheckoutGateway = errors.New("checkout: payment gateway unavailable")
	// ErrPaymentVerificationFailed covers every verify-phase failure mode:
	// unknown order, intent mismatch, and bad signature all read identically
	// so the response leaks nothing about which check failed.
	ErrPaymentVerificationFailed = errors.New("checkout: payment verification failed")
)

// PaymentGateway is the slice of the payments manager checkout needs.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.PaymentIntent, error)
	VerifySignature(paymentCtx payments.PaymentContext, req payments.VerifyRequest) error
	FetchIntent(ctx context.Context, paymentCtx payments.PaymentContext, intentID string) (payments.PaymentIntent, error)
}

// IntentOrderFinder resolves the order attached to a gateway intent,
// used by webhook deliveries and the reconciliation sweep.
type IntentOrderFinder interface {
	FindByIntentID(ctx context.Context, intentID string) (domain.Order, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// CheckoutServiceDeps bundles collaborators required to construct a checkout service.
type CheckoutServiceDeps struct {
	Pricer      Pricer
	Orders      OrderService
	Gateway     PaymentGateway
	Pending     IntentOrderFinder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type checkoutService struct {
	pricer  Pricer
	orders  OrderService
	gateway PaymentGateway
	pending IntentOrderFinder
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs the checkout workflow service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Pricer == nil {
		return nil, errors.New("checkout service: pricer is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutService{
		pricer:  deps.Pricer,
		orders:  deps.Orders,
		gateway: deps.Gateway,
		pending: deps.Pending,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
	}, nil
}

// Open prices the cart, opens a gateway intent for the total, and persists
// the pending order carrying the frozen quote.
func (s *checkoutService) Open(ctx context.Context, cmd OpenCheckoutCommand) (CheckoutSession, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return CheckoutSession{}, fmt.Errorf("%w: at least one line is required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(cmd.Phone) == "" {
		return CheckoutSession{}, fmt.Errorf("%w: phone is required", ErrCheckoutInvalidInput)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return CheckoutSession{}, err
	}

	quote, err := s.pricer.Quote(ctx, QuoteCommand{Lines: cmd.Lines, CouponCode: cmd.CouponCode})
	if err != nil {
		return CheckoutSession{}, err
	}

	// The order ID is minted first so the gateway receipt can reference it;
	// the order itself is only persisted once the intent exists.
	orderID := s.newID()
	intent, err := s.gateway.CreateIntent(ctx, payments.PaymentContext{Currency: quote.Currency}, payments.IntentRequest{
		Amount:   quote.Total,
		Currency: quote.Currency,
		Receipt:  "rcpt_" + orderID,
		Notes: map[string]string{
			"orderId": orderID,
			"userId":  strings.TrimSpace(cmd.UserID),
		},
	})
	if err != nil {
		s.logger(ctx, "checkout_intent_failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutGateway, err)
	}

	order, err := s.orders.Create(ctx, CreateOrderCommand{
		OrderID:         orderID,
		UserID:          cmd.UserID,
		Quote:           quote,
		Phone:           cmd.Phone,
		ShippingAddress: cmd.ShippingAddress,
		IntentID:        intent.IntentID,
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	return CheckoutSession{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		IntentID:    intent.IntentID,
		Amount:      quote.Total,
		Currency:    quote.Currency,
		KeyID:       intent.KeyID,
	}, nil
}

// VerifyPayment checks the client-returned receipt and commits the paid
// transition. All failure modes surface as ErrPaymentVerificationFailed.
func (s *checkoutService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	intentID := strings.TrimSpace(cmd.IntentID)
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if orderID == "" || intentID == "" || paymentID == "" || strings.TrimSpace(cmd.Signature) == "" {
		return domain.Order{}, ErrPaymentVerificationFailed
	}

	order, err := s.orders.Get(ctx, orderID, cmd.Requester)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return domain.Order{}, ErrPaymentVerificationFailed
		}
		return domain.Order{}, err
	}
	if order.IntentID == "" || order.IntentID != intentID {
		return domain.Order{}, ErrPaymentVerificationFailed
	}

	verifyErr := s.gateway.VerifySignature(payments.PaymentContext{Currency: order.Currency}, payments.VerifyRequest{
		IntentID:  intentID,
		PaymentID: paymentID,
		Signature: cmd.Signature,
	})
	if verifyErr != nil {
		if _, failErr := s.orders.MarkPaymentFailed(ctx, order.ID, paymentID); failErr != nil {
			s.logger(ctx, "verify_mark_failed", map[string]any{"orderId": order.ID, "error": failErr.Error()})
		}
		return domain.Order{}, ErrPaymentVerificationFailed
	}

	return s.orders.MarkPaid(ctx, order.ID, paymentID)
}

// HandleGatewayEvent applies a signed webhook delivery to the order it
// references. Unknown event kinds and intents with no matching order are
// dropped without error so the gateway does not retry them forever.
func (s *checkoutService) HandleGatewayEvent(ctx context.Context, evt GatewayEvent) error {
	if s.pending == nil {
		return errors.New("checkout service: pending order source not configured")
	}
	intentID := strings.TrimSpace(evt.IntentID)
	if intentID == "" {
		return fmt.Errorf("%w: intent id is required", ErrCheckoutInvalidInput)
	}

	switch evt.Kind {
	case GatewayEventPaymentCaptured, GatewayEventOrderPaid, GatewayEventPaymentFailed:
	default:
		s.logger(ctx, "webhook_event_ignored", map[string]any{"kind": evt.Kind, "intentId": intentID})
		return nil
	}

	order, err := s.pending.FindByIntentID(ctx, intentID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "webhook_intent_unknown", map[string]any{"kind": evt.Kind, "intentId": intentID})
			return nil
		}
		return err
	}

	switch evt.Kind {
	case GatewayEventPaymentCaptured, GatewayEventOrderPaid:
		// MarkPaid is a no-op on already-paid orders, so a webhook racing
		// the client verify callback settles cleanly.
		_, err = s.orders.MarkPaid(ctx, order.ID, strings.TrimSpace(evt.PaymentID))
	case GatewayEventPaymentFailed:
		if order.PaymentStatus == domain.PaymentStatusSuccess {
			s.logger(ctx, "webhook_failed_after_paid", map[string]any{"orderId": order.ID, "intentId": intentID})
			return nil
		}
		_, err = s.orders.MarkPaymentFailed(ctx, order.ID, strings.TrimSpace(evt.PaymentID))
	}
	return err
}

// ReconcilePending sweeps orders stuck in payment pending, asks the gateway
// for the intent state, and settles them.
func (s *checkoutService) ReconcilePending(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	if s.pending == nil {
		return ReconcileReport{}, errors.New("checkout service: pending order source not configured")
	}
	olderThan := opts.OlderThan
	if olderThan <= 0 {
		olderThan = 30 * time.Minute
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	cutoff := s.clock().Add(-olderThan)
	orders, err := s.pending.ListPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Scanned: len(orders)}
	for _, order := range orders {
		if order.IntentID == "" {
			report.Skipped++
			continue
		}
		intent, err := s.gateway.FetchIntent(ctx, payments.PaymentContext{Currency: order.Currency}, order.IntentID)
		if err != nil {
			if errors.Is(err, payments.ErrIntentNotFound) {
				if _, failErr := s.orders.MarkPaymentFailed(ctx, order.ID, ""); failErr != nil {
					s.logger(ctx, "reconcile_mark_failed", map[string]any{"orderId": order.ID, "error": failErr.Error()})
				} else {
					report.Failed++
				}
				continue
			}
			s.logger(ctx, "reconcile_fetch_failed", map[string]any{"orderId": order.ID, "intentId": order.IntentID, "error": err.Error()})
			report.Skipped++
			continue
		}

		switch intent.Status {
		case payments.StatusSucceeded:
			if _, err := s.orders.MarkPaid(ctx, order.ID, ""); err != nil {
				s.logger(ctx, "reconcile_mark_paid_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
				report.Skipped++
			} else {
				report.Paid++
			}
		case payments.StatusFailed:
			if _, err := s.orders.MarkPaymentFailed(ctx, order.ID, ""); err != nil {
				s.logger(ctx, "reconcile_mark_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
				report.Skipped++
			} else {
				report.Failed++
			}
		default:
			report.Skipped++
		}
	}
	return report, nil
}
