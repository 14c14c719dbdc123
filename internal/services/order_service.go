package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/jobs"
	"github.com/threadcart/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates missing or malformed order fields.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or is not visible to the requester.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the requested status change is not allowed from the current state.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderOutOfStock indicates fulfillment failed because a line exceeds available stock.
	ErrOrderOutOfStock = errors.New("order: insufficient stock")
)

// OrderServiceDeps bundles collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Counters CounterService
	Events   OrderEventPublisher
	// RestockOnCancel returns cancelled paid orders' quantities to stock.
	RestockOnCancel bool
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(context.Context, string, map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	counters        CounterService
	events          OrderEventPublisher
	restockOnCancel bool
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order service. Events may be nil; event
// publishing is then skipped.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
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
	return &orderService{
		orders:          deps.Orders,
		counters:        deps.Counters,
		events:          deps.Events,
		restockOnCancel: deps.RestockOnCancel,
		clock:           func() time.Time { return clock().UTC() },
		newID:           idGen,
		logger:          logger,
	}, nil
}

// Create persists a new pending order from a priced quote. Totals and line
// items are frozen here and never change afterwards.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Quote.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: quote has no lines", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Phone) == "" {
		return domain.Order{}, fmt.Errorf("%w: phone is required", ErrOrderInvalidInput)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("allocate order number: %w", err)
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = s.newID()
	}

	now := s.clock()
	order := domain.Order{
		ID:            orderID,
		OrderNumber:   orderNumber,
		UserID:        userID,
		PaymentStatus: domain.PaymentStatusPending,
		Fulfillment:   domain.FulfillmentStatusPending,
		Currency:      cmd.Quote.Currency,
		Totals: domain.OrderTotals{
			Subtotal: cmd.Quote.Subtotal,
			Discount: cmd.Quote.Discount,
			Total:    cmd.Quote.Total,
		},
		Coupon:          cmd.Quote.Coupon,
		Phone:           strings.TrimSpace(cmd.Phone),
		ShippingAddress: cmd.ShippingAddress,
		IntentID:        strings.TrimSpace(cmd.IntentID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.Items = make([]domain.OrderLineItem, 0, len(cmd.Quote.Lines))
	for _, line := range cmd.Quote.Lines {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Size:      line.Size,
			Count:     line.Count,
			UnitPrice: line.UnitPrice,
			Total:     line.Total,
		})
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, jobs.OrderEvent{
		Type:        jobs.EventOrderPlaced,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  now,
	})
	return order, nil
}

// Get returns the order when the requester owns it or holds an admin role.
// Ownership mismatches read as not found.
func (s *orderService) Get(ctx context.Context, orderID string, requester Requester) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}
	if !requester.Admin() && order.UserID != requester.UserID {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     userID,
		Pagination: pager,
	})
}

func (s *orderService) AdminList(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	return s.orders.List(ctx, repositories.OrderListFilter{
		UserID:            strings.TrimSpace(query.UserID),
		PaymentStatus:     query.PaymentStatus,
		FulfillmentStatus: query.FulfillmentStatus,
		CreatedAfter:      query.CreatedAfter,
		CreatedBefore:     query.CreatedBefore,
		Pagination:        query.Pagination,
	})
}

// MarkPaid commits the paid transition together with the stock decrement.
// A second call for an already-paid order returns the stored order without
// touching stock again.
func (s *orderService) MarkPaid(ctx context.Context, orderID string, paymentID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	result, err := s.orders.MarkPaid(ctx, repositories.OrderPaidRequest{
		OrderID:   orderID,
		PaymentID: strings.TrimSpace(paymentID),
		Now:       now,
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderOutOfStock, stockErr.Message)
		}
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if isRepoConflict(err) {
			return domain.Order{}, fmt.Errorf("%w: order is cancelled", ErrOrderInvalidTransition)
		}
		return domain.Order{}, err
	}

	order := result.Order
	// A replayed verification settled nothing, so there is no transition
	// to announce.
	if result.Replayed {
		return order, nil
	}

	s.publish(ctx, jobs.OrderEvent{
		Type:        jobs.EventOrderPaid,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  now,
	})
	return order, nil
}

// MarkPaymentFailed records a failed verification. Paid orders are left
// untouched.
func (s *orderService) MarkPaymentFailed(ctx context.Context, orderID string, paymentID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.MarkPaymentFailed(ctx, orderID, strings.TrimSpace(paymentID), now)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}

	if order.PaymentStatus == domain.PaymentStatusFailed {
		s.publish(ctx, jobs.OrderEvent{
			Type:        jobs.EventOrderPaymentFailed,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Amount:      order.Totals.Total,
			Currency:    order.Currency,
			OccurredAt:  now,
		})
	}
	return order, nil
}

// Cancel moves fulfillment to cancelled. Users may only cancel their own
// orders; payment status is never changed by cancellation.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	existing, err := s.Get(ctx, orderID, cmd.Requester)
	if err != nil {
		return domain.Order{}, err
	}
	if existing.Fulfillment == domain.FulfillmentStatusCancelled {
		return existing, nil
	}

	now := s.clock()
	order, err := s.orders.Cancel(ctx, repositories.OrderCancelRequest{
		OrderID: orderID,
		Restock: s.restockOnCancel,
		Now:     now,
	})
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}

	s.publish(ctx, jobs.OrderEvent{
		Type:        jobs.EventOrderCancelled,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		OccurredAt:  now,
	})
	return order, nil
}

// AdminUpdate mutates the mutable order surface: contact phone, shipping
// address, fulfillment status. Amounts and line items stay frozen.
func (s *orderService) AdminUpdate(ctx context.Context, cmd AdminUpdateOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return domain.Order{}, err
	}

	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if phone == "" {
			return domain.Order{}, fmt.Errorf("%w: phone cannot be empty", ErrOrderInvalidInput)
		}
		order.Phone = phone
	}
	if cmd.Address != nil {
		if err := validateAddress(*cmd.Address); err != nil {
			return domain.Order{}, err
		}
		order.ShippingAddress = *cmd.Address
	}
	if cmd.Fulfillment != nil {
		next := *cmd.Fulfillment
		if !fulfillmentTransitionAllowed(order.Fulfillment, next) {
			return domain.Order{}, fmt.Errorf("%w: fulfillment %s -> %s", ErrOrderInvalidTransition, order.Fulfillment, next)
		}
		order.Fulfillment = next
		if next == domain.FulfillmentStatusCancelled && order.CancelledAt == nil {
			now := s.clock()
			order.CancelledAt = &now
		}
	}

	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) AdminDelete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return err
	}
	return nil
}

func (s *orderService) StatusCounts(ctx context.Context) (domain.OrderStatusCounts, error) {
	return s.orders.StatusCounts(ctx)
}

func (s *orderService) TotalSales(ctx context.Context) (domain.SalesSummary, error) {
	return s.orders.SalesSummary(ctx)
}

// publish sends an order event; failures are logged and never surface.
func (s *orderService) publish(ctx context.Context, event jobs.OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"type":    string(event.Type),
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func fulfillmentTransitionAllowed(from, to domain.FulfillmentStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case domain.FulfillmentStatusPending:
		return to == domain.FulfillmentStatusOrdered || to == domain.FulfillmentStatusCancelled
	case domain.FulfillmentStatusOrdered:
		return to == domain.FulfillmentStatusCancelled
	default:
		return false
	}
}

func validateAddress(addr domain.Address) error {
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: address line1 is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: address city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: address postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: address country is required", ErrOrderInvalidInput)
	}
	return nil
}
