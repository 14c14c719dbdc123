package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/threadcart/api/internal/domain"
	pfirestore "github.com/threadcart/api/internal/platform/firestore"
	"github.com/threadcart/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates. Payment transitions run inside
// Firestore transactions so stock movements and status writes land atomically.
type OrderRepository struct {
	base     *pfirestore.Collection[orderDocument]
	products *pfirestore.Collection[productDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		provider: provider,
	}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state with the provided snapshot.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// Delete removes the order document permanently.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByIntentID fetches the order attached to a gateway payment intent.
func (r *OrderRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Order{}, errors.New("order repository: intent id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("intentId", "==", intentID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.find_by_intent", status.Error(codes.NotFound, "order not found"))
	}
	doc := docs[0]
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	userID := strings.TrimSpace(filter.UserID)
	paymentStatuses := normaliseStatusFilter(filter.PaymentStatus)
	fulfillmentStatuses := normaliseStatusFilter(filter.FulfillmentStatus)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if len(paymentStatuses) == 1 {
			q = q.Where("paymentStatus", "==", paymentStatuses[0])
		} else if len(paymentStatuses) > 1 {
			q = q.Where("paymentStatus", "in", paymentStatuses)
		}
		if len(fulfillmentStatuses) == 1 {
			q = q.Where("fulfillmentStatus", "==", fulfillmentStatuses[0])
		} else if len(fulfillmentStatuses) > 1 {
			q = q.Where("fulfillmentStatus", "in", fulfillmentStatuses)
		}
		if filter.CreatedAfter != nil {
			q = q.Where("createdAt", ">", filter.CreatedAfter.UTC())
		}
		if filter.CreatedBefore != nil {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}

		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Order, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ListPendingBefore returns payment-pending orders created before the cutoff,
// oldest first, for the reconciliation sweep.
func (r *OrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("paymentStatus", "==", string(domain.PaymentStatusPending)).
			Where("createdAt", "<", cutoff.UTC()).
			OrderBy("createdAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return orders, nil
}

// MarkPaid transitions the order to paid. Stock decrements, sold increments
// and the status write all happen in one Firestore transaction; any shortage
// aborts the whole transition. Calling it on an already-paid order returns
// the stored order unchanged with Replayed set.
func (r *OrderRepository) MarkPaid(ctx context.Context, req repositories.OrderPaidRequest) (repositories.OrderPaidResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderPaidResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderPaidResult{}, errors.New("order repository: order id is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result repositories.OrderPaidResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}

		// The pre-transition status decides whether this call settles the
		// order or merely replays an earlier settlement.
		if orderDoc.PaymentStatus == string(domain.PaymentStatusSuccess) {
			result = repositories.OrderPaidResult{
				Order:    decodeOrderDocument(orderID, orderDoc, orderSnap.CreateTime, orderSnap.UpdateTime),
				Replayed: true,
			}
			return nil
		}
		if orderDoc.FulfillmentStatus == string(domain.FulfillmentStatusCancelled) {
			return status.Error(codes.FailedPrecondition, "order is cancelled")
		}

		// All reads precede writes inside a Firestore transaction.
		type productWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		lines := make([]domain.StockLine, 0, len(orderDoc.Items))
		for _, item := range orderDoc.Items {
			lines = append(lines, domain.StockLine{ProductID: item.ProductID, Size: item.Size, Count: item.Count})
		}
		writes := make([]productWrite, 0, len(lines))
		for productID, productLines := range groupStockLines(lines) {
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			var productDoc productDocument
			if err := snap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("firestore products decode %s: %w", productID, err)
			}

			for _, line := range productLines {
				idx := stockIndex(productDoc.Stock, line.Size)
				if idx < 0 {
					return repositories.NewStockError(repositories.StockErrorSizeNotFound, fmt.Sprintf("product %s has no size %s", productID, line.Size), nil)
				}
				if productDoc.Stock[idx].Quantity < line.Count {
					return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("product %s size %s has %d left, need %d", productID, line.Size, productDoc.Stock[idx].Quantity, line.Count), nil)
				}
				productDoc.Stock[idx].Quantity -= line.Count
				productDoc.Sold += int64(line.Count)
			}
			productDoc.UpdatedAt = now
			writes = append(writes, productWrite{ref: ref, doc: productDoc})
		}

		orderDoc.PaymentStatus = string(domain.PaymentStatusSuccess)
		orderDoc.FulfillmentStatus = string(domain.FulfillmentStatusOrdered)
		orderDoc.PaymentID = strings.TrimSpace(req.PaymentID)
		orderDoc.PaidAt = &now
		orderDoc.UpdatedAt = now

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		result = repositories.OrderPaidResult{
			Order: decodeOrderDocument(orderID, orderDoc, orderSnap.CreateTime, now),
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) {
			return repositories.OrderPaidResult{}, stockErr
		}
		return repositories.OrderPaidResult{}, pfirestore.WrapError("orders.mark_paid", err)
	}
	return result, nil
}

// MarkPaymentFailed records a failed verification or expired intent. Paid
// orders are never downgraded.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, orderID string, paymentID string, now time.Time) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	now = now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}

		if doc.PaymentStatus == string(domain.PaymentStatusSuccess) {
			result = decodeOrderDocument(orderID, doc, snap.CreateTime, snap.UpdateTime)
			return nil
		}

		doc.PaymentStatus = string(domain.PaymentStatusFailed)
		if paymentID = strings.TrimSpace(paymentID); paymentID != "" {
			doc.PaymentID = paymentID
		}
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		result = decodeOrderDocument(orderID, doc, snap.CreateTime, now)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mark_payment_failed", err)
	}
	return result, nil
}

// Cancel transitions the fulfillment status to cancelled. When Restock is set
// and the order was paid, the line quantities return to stock inside the same
// transaction.
func (r *OrderRepository) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}

		if doc.FulfillmentStatus == string(domain.FulfillmentStatusCancelled) {
			result = decodeOrderDocument(orderID, doc, snap.CreateTime, snap.UpdateTime)
			return nil
		}

		type productWrite struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		var writes []productWrite
		if req.Restock && doc.PaymentStatus == string(domain.PaymentStatusSuccess) {
			lines := make([]domain.StockLine, 0, len(doc.Items))
			for _, item := range doc.Items {
				lines = append(lines, domain.StockLine{ProductID: item.ProductID, Size: item.Size, Count: item.Count})
			}
			for productID, productLines := range groupStockLines(lines) {
				ref, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				productSnap, err := tx.Get(ref)
				if err != nil {
					// Product may have been deleted since purchase; skip restock for it.
					continue
				}
				var productDoc productDocument
				if err := productSnap.DataTo(&productDoc); err != nil {
					return fmt.Errorf("firestore products decode %s: %w", productID, err)
				}
				for _, line := range productLines {
					idx := stockIndex(productDoc.Stock, line.Size)
					if idx < 0 {
						continue
					}
					productDoc.Stock[idx].Quantity += line.Count
					productDoc.Sold -= int64(line.Count)
					if productDoc.Sold < 0 {
						productDoc.Sold = 0
					}
				}
				productDoc.UpdatedAt = now
				writes = append(writes, productWrite{ref: ref, doc: productDoc})
			}
		}

		doc.FulfillmentStatus = string(domain.FulfillmentStatusCancelled)
		doc.CancelledAt = &now
		doc.UpdatedAt = now

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		result = decodeOrderDocument(orderID, doc, snap.CreateTime, now)
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.cancel", err)
	}
	return result, nil
}

// StatusCounts aggregates order counts per payment and fulfillment status.
func (r *OrderRepository) StatusCounts(ctx context.Context) (domain.OrderStatusCounts, error) {
	if r == nil || r.base == nil {
		return domain.OrderStatusCounts{}, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q
	})
	if err != nil {
		return domain.OrderStatusCounts{}, err
	}

	counts := domain.OrderStatusCounts{
		Payment:     make(map[domain.PaymentStatus]int64),
		Fulfillment: make(map[domain.FulfillmentStatus]int64),
	}
	for _, doc := range docs {
		counts.Payment[domain.PaymentStatus(doc.Data.PaymentStatus)]++
		counts.Fulfillment[domain.FulfillmentStatus(doc.Data.FulfillmentStatus)]++
	}
	return counts, nil
}

// SalesSummary totals revenue over payment-success orders.
func (r *OrderRepository) SalesSummary(ctx context.Context) (domain.SalesSummary, error) {
	if r == nil || r.base == nil {
		return domain.SalesSummary{}, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentStatus", "==", string(domain.PaymentStatusSuccess))
	})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{}
	for _, doc := range docs {
		summary.OrderCount++
		summary.TotalMinor += doc.Data.Total
		if summary.Currency == "" {
			summary.Currency = doc.Data.Currency
		}
	}
	return summary, nil
}

func normaliseStatusFilter(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	UserID            string              `firestore:"userId"`
	PaymentStatus     string              `firestore:"paymentStatus"`
	FulfillmentStatus string              `firestore:"fulfillmentStatus"`
	Currency          string              `firestore:"currency"`
	Subtotal          int64               `firestore:"subtotal"`
	Discount          int64               `firestore:"discount"`
	Total             int64               `firestore:"total"`
	CouponCode        string              `firestore:"couponCode,omitempty"`
	CouponPercent     int                 `firestore:"couponPercent,omitempty"`
	Items             []orderItemDocument `firestore:"items"`
	Phone             string              `firestore:"phone,omitempty"`
	Shipping          addressDocument     `firestore:"shipping"`
	IntentID          string              `firestore:"intentId,omitempty"`
	PaymentID         string              `firestore:"paymentId,omitempty"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	PaidAt            *time.Time          `firestore:"paidAt,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Size      string `firestore:"size"`
	Count     int    `firestore:"count"`
	UnitPrice int64  `firestore:"unitPrice"`
	Total     int64  `firestore:"total"`
}

type addressDocument struct {
	Recipient  string `firestore:"recipient,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		UserID:            strings.TrimSpace(order.UserID),
		PaymentStatus:     string(order.PaymentStatus),
		FulfillmentStatus: string(order.Fulfillment),
		Currency:          strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:          order.Totals.Subtotal,
		Discount:          order.Totals.Discount,
		Total:             order.Totals.Total,
		CouponCode:        order.Coupon.Code,
		CouponPercent:     order.Coupon.DiscountPercent,
		Phone:             strings.TrimSpace(order.Phone),
		IntentID:          strings.TrimSpace(order.IntentID),
		PaymentID:         strings.TrimSpace(order.PaymentID),
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		PaidAt:            order.PaidAt,
		CancelledAt:       order.CancelledAt,
	}
	doc.Shipping = addressDocument{
		Recipient:  order.ShippingAddress.Recipient,
		Line1:      order.ShippingAddress.Line1,
		Line2:      order.ShippingAddress.Line2,
		City:       order.ShippingAddress.City,
		State:      order.ShippingAddress.State,
		PostalCode: order.ShippingAddress.PostalCode,
		Country:    order.ShippingAddress.Country,
	}
	doc.Items = make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Size,
			Count:     item.Count,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createTime, updateTime time.Time) domain.Order {
	order := domain.Order{
		ID:            id,
		OrderNumber:   doc.OrderNumber,
		UserID:        doc.UserID,
		PaymentStatus: domain.PaymentStatus(doc.PaymentStatus),
		Fulfillment:   domain.FulfillmentStatus(doc.FulfillmentStatus),
		Currency:      doc.Currency,
		Totals: domain.OrderTotals{
			Subtotal: doc.Subtotal,
			Discount: doc.Discount,
			Total:    doc.Total,
		},
		Coupon: domain.CouponSnapshot{
			Code:            doc.CouponCode,
			DiscountPercent: doc.CouponPercent,
		},
		Phone: doc.Phone,
		ShippingAddress: domain.Address{
			Recipient:  doc.Shipping.Recipient,
			Line1:      doc.Shipping.Line1,
			Line2:      doc.Shipping.Line2,
			City:       doc.Shipping.City,
			State:      doc.Shipping.State,
			PostalCode: doc.Shipping.PostalCode,
			Country:    doc.Shipping.Country,
		},
		IntentID:    doc.IntentID,
		PaymentID:   doc.PaymentID,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		PaidAt:      doc.PaidAt,
		CancelledAt: doc.CancelledAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderLineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Size,
			Count:     item.Count,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = createTime
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = updateTime
	}
	return order
}
