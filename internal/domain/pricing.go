package domain

// QuoteLine is one untrusted requested line: the caller names a product,
// size, and count, never a price.
type QuoteLine struct {
	ProductID string
	Size      string
	Count     int
}

// QuotedLine is the trusted, priced counterpart produced by the engine.
type QuotedLine struct {
	ProductID string
	Name      string
	Size      string
	Count     int
	UnitPrice int64
	Total     int64
}

// PricingQuote is the engine output persisted on the order and handed to the
// payment gateway. All amounts are in the currency's minor unit.
type PricingQuote struct {
	Currency string
	Subtotal int64
	Discount int64
	Total    int64
	Coupon   CouponSnapshot
	Lines    []QuotedLine
}
