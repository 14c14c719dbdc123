package repositories

import (
	"context"
	"time"

	domain "github.com/threadcart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Collections() CollectionRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists products including per-size stock levels.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// RestoreStock adds the given quantities back to per-size stock counts
	// and decrements sold totals, in a single transaction.
	RestoreStock(ctx context.Context, lines []domain.StockLine) error
}

// CollectionRepository persists product collections.
type CollectionRepository interface {
	Insert(ctx context.Context, collection domain.Collection) error
	Update(ctx context.Context, collection domain.Collection) error
	Delete(ctx context.Context, collectionID string) error
	FindByID(ctx context.Context, collectionID string) (domain.Collection, error)
	FindBySlug(ctx context.Context, slug string) (domain.Collection, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error)
}

// CouponRepository maintains coupon definitions.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, couponID string) error
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
}

// OrderRepository persists order headers and provides query helpers for users and admins.
// Payment transitions run inside Firestore transactions so stock movements and
// status writes land atomically.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByIntentID(ctx context.Context, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListPendingBefore returns orders still awaiting payment whose creation
	// time is older than the cutoff, for reconciliation sweeps.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	// MarkPaid transitions the order to paid, decrementing product stock and
	// incrementing sold counts for every line item in the same transaction.
	// Calling it on an already-paid order is a no-op: the stored order comes
	// back with Replayed set and no state changes.
	MarkPaid(ctx context.Context, req OrderPaidRequest) (OrderPaidResult, error)
	MarkPaymentFailed(ctx context.Context, orderID string, paymentID string, now time.Time) (domain.Order, error)
	Cancel(ctx context.Context, req OrderCancelRequest) (domain.Order, error)
	StatusCounts(ctx context.Context) (domain.OrderStatusCounts, error)
	SalesSummary(ctx context.Context) (domain.SalesSummary, error)
}

// OrderPaidRequest carries the verified gateway references for a paid transition.
type OrderPaidRequest struct {
	OrderID   string
	PaymentID string
	Now       time.Time
}

// OrderPaidResult reports the outcome of a paid transition. Replayed means
// the order was already settled before the call and nothing was written.
type OrderPaidResult struct {
	Order    domain.Order
	Replayed bool
}

// OrderCancelRequest controls a cancellation, optionally restoring stock.
type OrderCancelRequest struct {
	OrderID string
	Restock bool
	Now     time.Time
}

// UserRepository stores user accounts with email uniqueness.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	Delete(ctx context.Context, userID string) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByResetTokenHash(ctx context.Context, tokenHash string) (domain.User, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	CollectionID string
	Search       string
	Sizes        []string
	MinPrice     *int64
	MaxPrice     *int64
	InStockOnly  bool
	SortBy       string
	SortOrder    domain.SortOrder
	Pagination   domain.Pagination
}

type OrderListFilter struct {
	UserID            string
	PaymentStatus     []string
	FulfillmentStatus []string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
	Pagination        domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
