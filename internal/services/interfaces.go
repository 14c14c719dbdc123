package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/platform/jobs"
	"github.com/threadcart/api/internal/repositories"
)

// Requester identifies the authenticated caller of a service operation.
// Services use it for ownership checks; handlers populate it from the
// request identity.
type Requester struct {
	UserID string
	Role   domain.Role
}

// Admin reports whether the requester may act on resources they do not own.
func (r Requester) Admin() bool {
	return r.Role == domain.RoleAdmin || r.Role == domain.RoleModerator
}

// CatalogService manages products, collections, and product photos.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, query ProductListQuery) (domain.CursorPage[domain.Product], error)

	CreatePhotoUploadIntent(ctx context.Context, cmd PhotoUploadCommand) (domain.PhotoUploadIntent, error)
	AttachPhoto(ctx context.Context, cmd AttachPhotoCommand) (domain.Product, error)
	DeletePhoto(ctx context.Context, cmd DeletePhotoCommand) (domain.Product, error)

	CreateCollection(ctx context.Context, cmd UpsertCollectionCommand) (domain.Collection, error)
	UpdateCollection(ctx context.Context, cmd UpsertCollectionCommand) (domain.Collection, error)
	DeleteCollection(ctx context.Context, collectionID string) error
	GetCollection(ctx context.Context, collectionID string) (domain.Collection, error)
	ListCollections(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Collection], error)
	ListCollectionProducts(ctx context.Context, collectionID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
}

// CouponService manages percentage discount codes.
type CouponService interface {
	Create(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error)
	Update(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error)
	Delete(ctx context.Context, couponID string) error
	Get(ctx context.Context, couponID string) (domain.Coupon, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
	ListActive(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)
}

// Pricer computes the authoritative totals for a set of cart lines.
// Quotes are priced exclusively from stored selling prices.
type Pricer interface {
	Quote(ctx context.Context, cmd QuoteCommand) (PricingQuote, error)
}

// OrderService owns the order ledger and its two status dimensions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Get(ctx context.Context, orderID string, requester Requester) (domain.Order, error)
	ListForUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	AdminList(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	MarkPaid(ctx context.Context, orderID string, paymentID string) (domain.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID string, paymentID string) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	AdminUpdate(ctx context.Context, cmd AdminUpdateOrderCommand) (domain.Order, error)
	AdminDelete(ctx context.Context, orderID string) error
	StatusCounts(ctx context.Context) (domain.OrderStatusCounts, error)
	TotalSales(ctx context.Context) (domain.SalesSummary, error)
}

// CheckoutService drives the two-phase payment workflow plus the
// reconciliation sweep for abandoned intents.
type CheckoutService interface {
	Open(ctx context.Context, cmd OpenCheckoutCommand) (CheckoutSession, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (domain.Order, error)
	HandleGatewayEvent(ctx context.Context, evt GatewayEvent) error
	ReconcilePending(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error)
}

// UserService covers account lifecycle and credential management.
type UserService interface {
	SignUp(ctx context.Context, cmd SignUpCommand) (AuthSession, error)
	SignIn(ctx context.Context, cmd SignInCommand) (AuthSession, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (domain.User, error)
	ListUsers(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error)
	AdminUpdateUser(ctx context.Context, cmd AdminUpdateUserCommand) (domain.User, error)
	DeleteUser(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (domain.User, error)
	ChangePassword(ctx context.Context, cmd ChangePasswordCommand) error
	ForgotPassword(ctx context.Context, cmd ForgotPasswordCommand) error
	ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error
}

// CounterService provides transaction-safe sequences and formatted
// order numbers.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes operational health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemReport, error)
}

// BackgroundJobDispatcher runs fire-and-forget work off the request path,
// such as password-reset mail delivery.
type BackgroundJobDispatcher interface {
	Enqueue(ctx context.Context, task BackgroundTask) (string, error)
	Close(ctx context.Context) error
}

// OrderEventPublisher emits order lifecycle events to the message bus.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event jobs.OrderEvent) (string, error)
}

// Catalog commands ----------------------------------------------------------

type CreateProductCommand struct {
	Name         string
	Description  string
	BasePrice    int64
	SellingPrice int64
	CollectionID string
	Stock        []domain.SizeStock
}

type UpdateProductCommand struct {
	ProductID    string
	Name         *string
	Description  *string
	BasePrice    *int64
	SellingPrice *int64
	CollectionID *string
	Stock        []domain.SizeStock
}

type ProductListQuery struct {
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

type PhotoUploadCommand struct {
	ProductID   string
	ContentType string
}

type AttachPhotoCommand struct {
	ProductID   string
	Key         string
	ContentType string
}

type DeletePhotoCommand struct {
	ProductID string
	Key       string
}

type UpsertCollectionCommand struct {
	CollectionID string
	Name         string
	Description  string
}

// Coupon commands -----------------------------------------------------------

type UpsertCouponCommand struct {
	CouponID        string
	Code            string
	DiscountPercent int
	Active          bool
}

// Pricing -------------------------------------------------------------------

type QuoteCommand struct {
	Lines      []QuoteLine
	CouponCode string
}

type QuoteLine struct {
	ProductID string
	Size      string
	Count     int
}

type QuotedLine struct {
	ProductID string
	Name      string
	Size      string
	Count     int
	UnitPrice int64
	Total     int64
}

type PricingQuote struct {
	Currency string
	Subtotal int64
	Discount int64
	Total    int64
	Coupon   domain.CouponSnapshot
	Lines    []QuotedLine
}

// Order commands ------------------------------------------------------------

type CreateOrderCommand struct {
	// OrderID may be pre-allocated by the caller (checkout mints it before
	// opening the gateway intent); empty means the service generates one.
	OrderID         string
	UserID          string
	Quote           PricingQuote
	Phone           string
	ShippingAddress domain.Address
	IntentID        string
}

type OrderListQuery struct {
	UserID            string
	PaymentStatus     []string
	FulfillmentStatus []string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
	Pagination        domain.Pagination
}

type CancelOrderCommand struct {
	OrderID   string
	Requester Requester
}

type AdminUpdateOrderCommand struct {
	OrderID     string
	Phone       *string
	Address     *domain.Address
	Fulfillment *domain.FulfillmentStatus
}

// Checkout commands ---------------------------------------------------------

type OpenCheckoutCommand struct {
	UserID          string
	Lines           []QuoteLine
	CouponCode      string
	Phone           string
	ShippingAddress domain.Address
}

// CheckoutSession is the open-phase response handed to the payment widget.
type CheckoutSession struct {
	OrderID     string
	OrderNumber string
	IntentID    string
	Amount      int64
	Currency    string
	KeyID       string
}

type VerifyPaymentCommand struct {
	OrderID   string
	IntentID  string
	PaymentID string
	Signature string
	Requester Requester
}

type ReconcileOptions struct {
	OlderThan time.Duration
	Limit     int
}

// Gateway webhook event kinds the checkout workflow reacts to. Anything
// else delivered to the webhook is acknowledged and dropped.
const (
	GatewayEventPaymentCaptured = "payment.captured"
	GatewayEventPaymentFailed   = "payment.failed"
	GatewayEventOrderPaid       = "order.paid"
)

// GatewayEvent is a server-to-server webhook delivery from the payment gateway.
type GatewayEvent struct {
	Kind      string
	IntentID  string
	PaymentID string
}

// ReconcileReport summarises one reconciliation sweep.
type ReconcileReport struct {
	Scanned int
	Paid    int
	Failed  int
	Skipped int
}

// User commands -------------------------------------------------------------

type SignUpCommand struct {
	Name     string
	Email    string
	Password string
}

type SignInCommand struct {
	Email    string
	Password string
}

// UpdateProfileCommand mutates the caller's own name and email. Blank
// fields keep their stored value.
type UpdateProfileCommand struct {
	UserID string
	Name   string
	Email  string
}

// AdminUpdateUserCommand additionally lets back-office staff change the
// account role.
type AdminUpdateUserCommand struct {
	UserID string
	Name   string
	Email  string
	Role   string
}

// AuthSession is the result of a successful signup or signin.
type AuthSession struct {
	Token     string
	ExpiresAt time.Time
	User      domain.User
}

type ChangePasswordCommand struct {
	UserID      string
	OldPassword string
	NewPassword string
}

type ForgotPasswordCommand struct {
	Email string
	// ResetBaseURL is the frontend URL the token is appended to.
	ResetBaseURL string
}

type ResetPasswordCommand struct {
	Token       string
	NewPassword string
}

// Counters ------------------------------------------------------------------

type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

type CounterValue struct {
	Value     int64
	Formatted string
}

// System --------------------------------------------------------------------

// SystemReport augments the dependency health report with build metadata.
type SystemReport struct {
	Status      domain.HealthStatus
	Checks      map[string]domain.SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Background jobs -----------------------------------------------------------

// BackgroundTask names a unit of asynchronous work.
type BackgroundTask struct {
	Name string
	Run  func(ctx context.Context) error
}

// shared helpers ------------------------------------------------------------

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
