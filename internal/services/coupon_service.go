package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/repositories"
)

var (
	// ErrCouponInvalidInput indicates missing or out-of-range coupon fields.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon does not exist.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponCodeTaken indicates another coupon already uses the code.
	ErrCouponCodeTaken = errors.New("coupon: code already exists")
)

// CouponServiceDeps bundles collaborators required to construct a coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ CouponService = (*couponService)(nil)

// NewCouponService constructs the coupon service.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: repository is required")
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
	return &couponService{
		coupons: deps.Coupons,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
	}, nil
}

func (s *couponService) Create(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error) {
	code, err := validateCouponCommand(cmd)
	if err != nil {
		return domain.Coupon{}, err
	}

	now := s.clock()
	coupon := domain.Coupon{
		ID:              s.newID(),
		Code:            code,
		DiscountPercent: cmd.DiscountPercent,
		Active:          cmd.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		if isRepoConflict(err) {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponCodeTaken, code)
		}
		return domain.Coupon{}, err
	}
	s.logger(ctx, "coupon_created", map[string]any{"couponId": coupon.ID, "code": code})
	return coupon, nil
}

func (s *couponService) Update(ctx context.Context, cmd UpsertCouponCommand) (domain.Coupon, error) {
	couponID := strings.TrimSpace(cmd.CouponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	code, err := validateCouponCommand(cmd)
	if err != nil {
		return domain.Coupon{}, err
	}

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
		return domain.Coupon{}, err
	}

	if code != coupon.Code {
		if existing, err := s.coupons.FindByCode(ctx, code); err == nil && existing.ID != coupon.ID {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponCodeTaken, code)
		} else if err != nil && !isRepoNotFound(err) {
			return domain.Coupon{}, err
		}
	}

	coupon.Code = code
	coupon.DiscountPercent = cmd.DiscountPercent
	coupon.Active = cmd.Active
	coupon.UpdatedAt = s.clock()

	if err := s.coupons.Update(ctx, coupon); err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) Delete(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, couponID); err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
		return err
	}
	return nil
}

func (s *couponService) Get(ctx context.Context, couponID string) (domain.Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Coupon{}, fmt.Errorf("%w: %s", ErrCouponNotFound, couponID)
		}
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (s *couponService) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	return s.coupons.List(ctx, pager)
}

func (s *couponService) ListActive(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Coupon], error) {
	page, err := s.coupons.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	active := make([]domain.Coupon, 0, len(page.Items))
	for _, coupon := range page.Items {
		if coupon.Active {
			active = append(active, coupon)
		}
	}
	page.Items = active
	return page, nil
}

func validateCouponCommand(cmd UpsertCouponCommand) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return "", fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if cmd.DiscountPercent < 0 || cmd.DiscountPercent > 100 {
		return "", fmt.Errorf("%w: discount percent must be between 0 and 100", ErrCouponInvalidInput)
	}
	return code, nil
}
