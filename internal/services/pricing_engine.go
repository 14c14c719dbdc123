package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/repositories"
)

var (
	// ErrPricingInvalidInput signals bad request data such as missing lines or a non-positive count.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingProductNotFound is returned when a line references a product that does not exist.
	ErrPricingProductNotFound = errors.New("pricing: product not found")
	// ErrPricingSizeNotFound is returned when a line names a size the product does not carry.
	ErrPricingSizeNotFound = errors.New("pricing: size not found")
	// ErrPricingCouponRejected is returned when coupon policy requires an active coupon and the code is unknown or inactive.
	ErrPricingCouponRejected = errors.New("pricing: coupon rejected")
)

// PricingEngine computes order totals from stored selling prices. Client
// supplied prices never enter the calculation.
type PricingEngine struct {
	products repositories.ProductRepository
	coupons  repositories.CouponRepository
	currency string
	// requireActiveCoupon makes an unknown or inactive coupon fail the
	// quote instead of pricing with zero discount.
	requireActiveCoupon bool
	logger              func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles collaborators required to construct a pricing engine.
type PricingEngineDeps struct {
	Products            repositories.ProductRepository
	Coupons             repositories.CouponRepository
	Currency            string
	RequireActiveCoupon bool
	Logger              func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs the engine. Coupons may be nil, in which case
// every coupon code prices with zero discount (or fails under the
// require-active policy).
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Products == nil {
		return nil, errors.New("pricing engine: product repository is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		products:            deps.Products,
		coupons:             deps.Coupons,
		currency:            currency,
		requireActiveCoupon: deps.RequireActiveCoupon,
		logger:              logger,
	}, nil
}

var _ Pricer = (*PricingEngine)(nil)

// Quote prices the lines against the stored catalog and applies at most one
// coupon. Total never goes below zero.
func (e *PricingEngine) Quote(ctx context.Context, cmd QuoteCommand) (PricingQuote, error) {
	if len(cmd.Lines) == 0 {
		return PricingQuote{}, fmt.Errorf("%w: at least one line is required", ErrPricingInvalidInput)
	}

	quoted := make([]QuotedLine, 0, len(cmd.Lines))
	var subtotal int64
	for _, line := range cmd.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return PricingQuote{}, fmt.Errorf("%w: line product id is required", ErrPricingInvalidInput)
		}
		if line.Count < 1 {
			return PricingQuote{}, fmt.Errorf("%w: product %s count must be at least 1", ErrPricingInvalidInput, productID)
		}

		product, err := e.products.FindByID(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return PricingQuote{}, fmt.Errorf("%w: %s", ErrPricingProductNotFound, productID)
			}
			return PricingQuote{}, err
		}

		size := strings.TrimSpace(line.Size)
		if _, ok := product.StockFor(size); !ok {
			return PricingQuote{}, fmt.Errorf("%w: product %s size %s", ErrPricingSizeNotFound, productID, size)
		}

		count := int64(line.Count)
		if product.SellingPrice > 0 && count > 0 && product.SellingPrice > math.MaxInt64/count {
			return PricingQuote{}, fmt.Errorf("%w: product %s line total overflow", ErrPricingInvalidInput, productID)
		}
		lineTotal := product.SellingPrice * count
		if subtotal > math.MaxInt64-lineTotal {
			return PricingQuote{}, fmt.Errorf("%w: subtotal overflow", ErrPricingInvalidInput)
		}
		subtotal += lineTotal

		quoted = append(quoted, QuotedLine{
			ProductID: product.ID,
			Name:      product.Name,
			Size:      size,
			Count:     line.Count,
			UnitPrice: product.SellingPrice,
			Total:     lineTotal,
		})
	}

	snapshot, discount, err := e.applyCoupon(ctx, cmd.CouponCode, subtotal)
	if err != nil {
		return PricingQuote{}, err
	}

	total := subtotal - discount
	if total < 0 {
		total = 0
	}

	return PricingQuote{
		Currency: e.currency,
		Subtotal: subtotal,
		Discount: discount,
		Total:    total,
		Coupon:   snapshot,
		Lines:    quoted,
	}, nil
}

func (e *PricingEngine) applyCoupon(ctx context.Context, code string, subtotal int64) (domain.CouponSnapshot, int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.CouponSnapshot{}, 0, nil
	}

	var coupon domain.Coupon
	if e.coupons != nil {
		found, err := e.coupons.FindByCode(ctx, code)
		if err != nil && !isRepoNotFound(err) {
			return domain.CouponSnapshot{}, 0, err
		}
		coupon = found
	}

	if coupon.ID == "" || !coupon.Active {
		if e.requireActiveCoupon {
			return domain.CouponSnapshot{}, 0, fmt.Errorf("%w: %s", ErrPricingCouponRejected, code)
		}
		e.logger(ctx, "pricing_coupon_ignored", map[string]any{"code": code})
		return domain.CouponSnapshot{}, 0, nil
	}

	// The stored percent was range-checked at write time.
	discount := roundHalfUp(subtotal, int64(coupon.DiscountPercent))
	if discount > subtotal {
		discount = subtotal
	}
	return domain.CouponSnapshot{Code: coupon.Code, DiscountPercent: coupon.DiscountPercent}, discount, nil
}

// roundHalfUp computes round(amount * percent / 100) in integer arithmetic.
// Splitting the amount at the hundreds keeps the product within int64 for
// any percent up to 100, however large the amount.
func roundHalfUp(amount, percent int64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	whole, rem := amount/100, amount%100
	return whole*percent + (rem*percent+50)/100
}
