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
)

const couponsCollection = "coupons"

// CouponRepository maintains percentage discount codes.
type CouponRepository struct {
	base *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	base := pfirestore.NewCollection[couponDocument](provider, couponsCollection)
	return &CouponRepository{base: base}, nil
}

// Insert stores a new coupon. Codes must be unique; the pre-read rejects
// duplicates before the create.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	code := normaliseCouponCode(coupon.Code)
	if code == "" {
		return errors.New("coupon repository: coupon code is required")
	}

	existing, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return pfirestore.WrapError("coupons.insert", status.Error(codes.AlreadyExists, "coupon code already in use"))
	}

	docRef, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return err
	}
	doc := encodeCouponDocument(coupon)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update replaces the persisted coupon state.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return err
	}
	doc := encodeCouponDocument(coupon)
	if _, err := docRef.Set(ctx, doc); err != nil {
		return pfirestore.WrapError("coupons.update", err)
	}
	return nil
}

// Delete removes the coupon. Orders keep their frozen coupon snapshots.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.base == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return errors.New("coupon repository: coupon id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

// FindByID fetches a single coupon.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon id is required")
	}
	doc, err := r.base.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCouponDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// FindByCode fetches a coupon by its normalised code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.base == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = normaliseCouponCode(code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: coupon code is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(docs) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.find_by_code", status.Error(codes.NotFound, "coupon not found"))
	}
	doc := docs[0]
	return decodeCouponDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns coupons ordered by creation time descending.
func (r *CouponRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
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
		return domain.CursorPage[domain.Coupon]{}, err
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

	items := make([]domain.Coupon, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeCouponDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}
	return domain.CursorPage[domain.Coupon]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type couponDocument struct {
	Code            string    `firestore:"code"`
	DiscountPercent int       `firestore:"discountPercent"`
	Active          bool      `firestore:"active"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	return couponDocument{
		Code:            normaliseCouponCode(coupon.Code),
		DiscountPercent: coupon.DiscountPercent,
		Active:          coupon.Active,
		CreatedAt:       coupon.CreatedAt.UTC(),
		UpdatedAt:       coupon.UpdatedAt.UTC(),
	}
}

func decodeCouponDocument(id string, doc couponDocument, createTime, updateTime time.Time) domain.Coupon {
	coupon := domain.Coupon{
		ID:              id,
		Code:            doc.Code,
		DiscountPercent: doc.DiscountPercent,
		Active:          doc.Active,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = createTime
	}
	if coupon.UpdatedAt.IsZero() {
		coupon.UpdatedAt = updateTime
	}
	return coupon
}

func normaliseCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
