package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// Role enumerates the authorization roles recognised by the API.
type Role string

const (
	// RoleUser is the default role assigned at signup.
	RoleUser Role = "user"
	// RoleModerator grants catalog and coupon management access.
	RoleModerator Role = "moderator"
	// RoleAdmin grants full administrative access.
	RoleAdmin Role = "admin"
)

// User is the account record. PasswordHash and the reset-token fields are
// write-only and never serialised in API payloads.
type User struct {
	ID                string
	Name              string
	Email             string
	PasswordHash      string
	Role              Role
	ResetTokenHash    string
	ResetTokenExpires *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Collection groups products under a unique name. Products hold a weak
// reference by id; deleting a collection does not cascade.
type Collection struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SizeStock tracks available quantity for one size of a product.
type SizeStock struct {
	Size     string
	Quantity int
}

// ProductPhoto references an object-store image attached to a product.
type ProductPhoto struct {
	Key         string
	URL         string
	ContentType string
}

// Product is the catalog record. SellingPrice is the authoritative per-unit
// price for order totals, stored in the currency's minor unit.
type Product struct {
	ID           string
	Name         string
	Slug         string
	Description  string
	BasePrice    int64
	SellingPrice int64
	CollectionID string
	Stock        []SizeStock
	Sold         int64
	Photos       []ProductPhoto
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StockFor returns the quantity available for the given size and whether the
// size exists on the product at all.
func (p Product) StockFor(size string) (int, bool) {
	for _, s := range p.Stock {
		if s.Size == size {
			return s.Quantity, true
		}
	}
	return 0, false
}

// Coupon is a percentage discount code. Codes are stored upper case and are
// unique; DiscountPercent is validated into [0,100] at write time.
type Coupon struct {
	ID              string
	Code            string
	DiscountPercent int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CouponSnapshot is the frozen copy of a coupon recorded on an order at
// creation time, immune to later coupon edits. A zero snapshot means no
// coupon was applied.
type CouponSnapshot struct {
	Code            string
	DiscountPercent int
}

// Applied reports whether a coupon was applied.
func (c CouponSnapshot) Applied() bool { return c.Code != "" }

// PaymentStatus tracks the payment half of the order lifecycle.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the gateway intent is open and unsettled.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess indicates the signed receipt verified and stock was committed.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed indicates verification failed or the intent expired.
	PaymentStatusFailed PaymentStatus = "failed"
)

// FulfillmentStatus tracks the logistics half of the order lifecycle,
// independent of payment.
type FulfillmentStatus string

const (
	// FulfillmentStatusPending indicates the order has not been confirmed for fulfillment.
	FulfillmentStatusPending FulfillmentStatus = "pending"
	// FulfillmentStatusOrdered indicates payment succeeded and the order is queued for shipping.
	FulfillmentStatusOrdered FulfillmentStatus = "ordered"
	// FulfillmentStatusCancelled indicates the order was cancelled by the user or an admin.
	FulfillmentStatusCancelled FulfillmentStatus = "cancelled"
)

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Total    int64
}

// OrderLineItem snapshots one priced cart line at checkout time. The order
// exclusively owns these snapshots so later catalog edits never change
// historical orders.
type OrderLineItem struct {
	ProductID string
	Name      string
	Size      string
	Count     int
	UnitPrice int64
	Total     int64
}

// Address is the shipping destination captured at checkout.
type Address struct {
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order is the central aggregate: an immutable priced snapshot plus two
// independent status dimensions. Totals and Items never change after
// creation.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	PaymentStatus   PaymentStatus
	Fulfillment     FulfillmentStatus
	Currency        string
	Totals          OrderTotals
	Coupon          CouponSnapshot
	Items           []OrderLineItem
	Phone           string
	ShippingAddress Address
	IntentID        string
	PaymentID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PaidAt          *time.Time
	CancelledAt     *time.Time
}

// OrderStatusCounts aggregates order counts per status dimension.
type OrderStatusCounts struct {
	Payment     map[PaymentStatus]int64
	Fulfillment map[FulfillmentStatus]int64
}

// SalesSummary aggregates revenue over payment-success orders.
type SalesSummary struct {
	OrderCount int64
	TotalMinor int64
	Currency   string
}

// StockLine names one per-size decrement applied during fulfillment.
type StockLine struct {
	ProductID string
	Size      string
	Count     int
}

// PhotoUploadIntent carries a signed PUT URL for a pending product photo.
type PhotoUploadIntent struct {
	Key         string
	URL         string
	Method      string
	ContentType string
	ExpiresAt   time.Time
	Headers     map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
