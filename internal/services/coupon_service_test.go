package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/threadcart/api/internal/domain"
)

type stubCouponRepository struct {
	insertFn     func(ctx context.Context, coupon domain.Coupon) error
	updateFn     func(ctx context.Context, coupon domain.Coupon) error
	deleteFn     func(ctx context.Context, couponID string) error
	findByIDFn   func(ctx context.Context, couponID string) (domain.Coupon, error)
	findByCodeFn func(ctx context.Context, code string) (domain.Coupon, error)
	listFn       func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error)

	inserted []domain.Coupon
	updated  []domain.Coupon
}

func (s *stubCouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	s.inserted = append(s.inserted, coupon)
	if s.insertFn != nil {
		return s.insertFn(ctx, coupon)
	}
	return nil
}

func (s *stubCouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	s.updated = append(s.updated, coupon)
	if s.updateFn != nil {
		return s.updateFn(ctx, coupon)
	}
	return nil
}

func (s *stubCouponRepository) Delete(ctx context.Context, couponID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, couponID)
	}
	return nil
}

func (s *stubCouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, couponID)
	}
	return domain.Coupon{}, stubRepositoryError{notFound: true}
}

func (s *stubCouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findByCodeFn != nil {
		return s.findByCodeFn(ctx, code)
	}
	return domain.Coupon{}, stubRepositoryError{notFound: true}
}

func (s *stubCouponRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	if s.listFn != nil {
		return s.listFn(ctx, pager)
	}
	return domain.CursorPage[domain.Coupon]{}, nil
}

func newTestCouponService(t *testing.T, repo *stubCouponRepository) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons:     repo,
		Clock:       func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "coup-generated" },
	})
	if err != nil {
		t.Fatalf("new coupon service: %v", err)
	}
	return svc
}

func TestCouponServiceCreateNormalisesCode(t *testing.T) {
	repo := &stubCouponRepository{}
	svc := newTestCouponService(t, repo)

	coupon, err := svc.Create(context.Background(), UpsertCouponCommand{
		Code:            "  save10 ",
		DiscountPercent: 10,
		Active:          true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if coupon.Code != "SAVE10" {
		t.Fatalf("expected code SAVE10, got %s", coupon.Code)
	}
	if coupon.ID != "coup-generated" {
		t.Fatalf("expected generated id, got %s", coupon.ID)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
}

func TestCouponServiceRejectsOutOfRangePercent(t *testing.T) {
	svc := newTestCouponService(t, &stubCouponRepository{})

	ctx := context.Background()
	_, err := svc.Create(ctx, UpsertCouponCommand{Code: "BIG", DiscountPercent: 150, Active: true})
	if !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected invalid input for percent 150, got %v", err)
	}
	_, err = svc.Create(ctx, UpsertCouponCommand{Code: "NEG", DiscountPercent: -5, Active: true})
	if !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected invalid input for negative percent, got %v", err)
	}
}

func TestCouponServiceCreateDuplicateCode(t *testing.T) {
	repo := &stubCouponRepository{
		insertFn: func(context.Context, domain.Coupon) error {
			return stubRepositoryError{conflict: true}
		},
	}
	svc := newTestCouponService(t, repo)

	_, err := svc.Create(context.Background(), UpsertCouponCommand{Code: "SAVE10", DiscountPercent: 10})
	if !errors.Is(err, ErrCouponCodeTaken) {
		t.Fatalf("expected code taken error, got %v", err)
	}
}

func TestCouponServiceUpdateChecksCodeUniqueness(t *testing.T) {
	repo := &stubCouponRepository{
		findByIDFn: func(_ context.Context, couponID string) (domain.Coupon, error) {
			return domain.Coupon{ID: couponID, Code: "OLD", DiscountPercent: 5, Active: true}, nil
		},
		findByCodeFn: func(_ context.Context, code string) (domain.Coupon, error) {
			if code == "TAKEN" {
				return domain.Coupon{ID: "coup-other", Code: "TAKEN"}, nil
			}
			return domain.Coupon{}, stubRepositoryError{notFound: true}
		},
	}
	svc := newTestCouponService(t, repo)

	ctx := context.Background()
	_, err := svc.Update(ctx, UpsertCouponCommand{CouponID: "coup-1", Code: "TAKEN", DiscountPercent: 5})
	if !errors.Is(err, ErrCouponCodeTaken) {
		t.Fatalf("expected code taken error, got %v", err)
	}

	updated, err := svc.Update(ctx, UpsertCouponCommand{CouponID: "coup-1", Code: "FRESH", DiscountPercent: 25, Active: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Code != "FRESH" || updated.DiscountPercent != 25 {
		t.Fatalf("unexpected updated coupon: %+v", updated)
	}
}

func TestCouponServiceUpdateNotFound(t *testing.T) {
	svc := newTestCouponService(t, &stubCouponRepository{})

	_, err := svc.Update(context.Background(), UpsertCouponCommand{CouponID: "coup-missing", Code: "X1", DiscountPercent: 1})
	if !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCouponServiceListActiveFilters(t *testing.T) {
	repo := &stubCouponRepository{
		listFn: func(context.Context, domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
			return domain.CursorPage[domain.Coupon]{
				Items: []domain.Coupon{
					{ID: "coup-1", Code: "LIVE", Active: true},
					{ID: "coup-2", Code: "DEAD", Active: false},
					{ID: "coup-3", Code: "ALSO", Active: true},
				},
			}, nil
		},
	}
	svc := newTestCouponService(t, repo)

	page, err := svc.ListActive(context.Background(), domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 active coupons, got %d", len(page.Items))
	}
	for _, coupon := range page.Items {
		if !coupon.Active {
			t.Fatalf("inactive coupon leaked: %+v", coupon)
		}
	}
}
