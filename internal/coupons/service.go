package coupons

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Service evaluates and redeems coupons. It is always used inside the
// caller's transaction through WithTx.
type Service interface {
	WithTx(tx *gorm.DB) Service
	FindByCode(ctx context.Context, shopID uuid.UUID, code string) (*Definition, error)
	Load(ctx context.Context, couponID uuid.UUID) (*Definition, error)
	Evaluate(ctx context.Context, def Definition, snap Snapshot, now time.Time) (decimal.Decimal, error)
	Redeem(ctx context.Context, def Definition, orderID uuid.UUID, customerID *uuid.UUID, now time.Time) (*models.CouponRedemption, error)
	Unredeem(ctx context.Context, orderID uuid.UUID, couponID *uuid.UUID) error

	Attach(ctx context.Context, orderID uuid.UUID, def Definition, amount decimal.Decimal) error
	Applied(ctx context.Context, orderID uuid.UUID) ([]models.OrderCoupon, error)
	UpdateAmount(ctx context.Context, orderID, couponID uuid.UUID, amount decimal.Decimal) error
	Detach(ctx context.Context, orderID, couponID uuid.UUID) error
}

type service struct {
	repo Repository
}

// NewService wires the coupon engine with its repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) FindByCode(ctx context.Context, shopID uuid.UUID, code string) (*Definition, error) {
	if shopID == uuid.Nil || strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id and coupon code are required")
	}
	coupon, err := s.repo.FindByCode(ctx, shopID, code)
	if err != nil {
		return nil, notFoundOr(err, "load coupon")
	}
	return s.withScope(ctx, coupon)
}

func (s *service) Load(ctx context.Context, couponID uuid.UUID) (*Definition, error) {
	coupon, err := s.repo.FindByID(ctx, couponID)
	if err != nil {
		return nil, notFoundOr(err, "load coupon")
	}
	return s.withScope(ctx, coupon)
}

func (s *service) withScope(ctx context.Context, coupon *models.Coupon) (*Definition, error) {
	def := &Definition{Coupon: *coupon, Scope: map[uuid.UUID]struct{}{}}
	if !coupon.Type.IsScoped() {
		return def, nil
	}
	ids, err := s.repo.ScopeVariantIDs(ctx, coupon.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon scope")
	}
	for _, id := range ids {
		def.Scope[id] = struct{}{}
	}
	return def, nil
}

// Evaluate runs the pure eligibility checks plus the per-customer usage
// lookup, which needs the database.
func (s *service) Evaluate(ctx context.Context, def Definition, snap Snapshot, now time.Time) (decimal.Decimal, error) {
	amount, err := Evaluate(def, snap, now)
	if err != nil {
		return decimal.Zero, err
	}
	if def.PerCustomerLimit != nil && snap.CustomerID != nil {
		used, err := s.repo.CustomerUsage(ctx, def.ID, *snap.CustomerID)
		if err != nil {
			return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer coupon usage")
		}
		if used >= *def.PerCustomerLimit {
			return decimal.Zero, pkgerrors.CouponIneligible(ReasonCustomerCapExceeded, "customer has used this coupon the maximum number of times")
		}
	}
	return amount, nil
}

// Redeem increments the global and per-customer counters with conditional
// updates and appends the redemption record. A failed guard aborts the
// caller's transaction with CouponIneligible.
func (s *service) Redeem(ctx context.Context, def Definition, orderID uuid.UUID, customerID *uuid.UUID, now time.Time) (*models.CouponRedemption, error) {
	ok, err := s.repo.IncrementRedeemed(ctx, def.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment coupon redemptions")
	}
	if !ok {
		return nil, pkgerrors.CouponIneligible(ReasonCapExceeded, "coupon redemption limit reached")
	}

	if def.PerCustomerLimit != nil {
		if customerID == nil {
			return nil, pkgerrors.CouponIneligible(ReasonCustomerRequired, "coupon requires a customer on the order")
		}
		ok, err := s.repo.IncrementCustomerUsage(ctx, def.ID, *customerID, *def.PerCustomerLimit)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment customer coupon usage")
		}
		if !ok {
			return nil, pkgerrors.CouponIneligible(ReasonCustomerCapExceeded, "customer has used this coupon the maximum number of times")
		}
	}

	redemption := &models.CouponRedemption{
		CouponID:   def.ID,
		OrderID:    orderID,
		CustomerID: customerID,
		RedeemedAt: now.UTC(),
	}
	if err := s.repo.InsertRedemption(ctx, redemption); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record coupon redemption")
	}
	return redemption, nil
}

// Unredeem gives back the caps consumed by orderID. A nil couponID
// releases every coupon of the order.
func (s *service) Unredeem(ctx context.Context, orderID uuid.UUID, couponID *uuid.UUID) error {
	redemptions, err := s.repo.ListRedemptions(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list coupon redemptions")
	}
	for _, redemption := range redemptions {
		if couponID != nil && redemption.CouponID != *couponID {
			continue
		}
		if err := s.repo.DecrementRedeemed(ctx, redemption.CouponID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement coupon redemptions")
		}
		if redemption.CustomerID != nil {
			if err := s.repo.DecrementCustomerUsage(ctx, redemption.CouponID, *redemption.CustomerID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement customer coupon usage")
			}
		}
		if err := s.repo.DeleteRedemption(ctx, redemption.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete coupon redemption")
		}
	}
	return nil
}

func (s *service) Attach(ctx context.Context, orderID uuid.UUID, def Definition, amount decimal.Decimal) error {
	link := &models.OrderCoupon{
		OrderID:        orderID,
		CouponID:       def.ID,
		Code:           def.Code,
		DiscountAmount: amount,
	}
	if err := s.repo.AttachToOrder(ctx, link); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach coupon to order")
	}
	return nil
}

func (s *service) Applied(ctx context.Context, orderID uuid.UUID) ([]models.OrderCoupon, error) {
	rows, err := s.repo.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order coupons")
	}
	return rows, nil
}

func (s *service) UpdateAmount(ctx context.Context, orderID, couponID uuid.UUID, amount decimal.Decimal) error {
	if err := s.repo.UpdateOrderAmount(ctx, orderID, couponID, amount); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order coupon amount")
	}
	return nil
}

func (s *service) Detach(ctx context.Context, orderID, couponID uuid.UUID) error {
	if err := s.repo.DetachFromOrder(ctx, orderID, couponID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "detach coupon from order")
	}
	return nil
}

func notFoundOr(err error, msg string) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
