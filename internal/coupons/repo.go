package coupons

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
)

// Repository persists coupons, their counters and order attachments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, shopID uuid.UUID, code string) (*models.Coupon, error)
	FindByID(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error)
	ScopeVariantIDs(ctx context.Context, couponID uuid.UUID) ([]uuid.UUID, error)
	CustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) (int, error)

	IncrementRedeemed(ctx context.Context, couponID uuid.UUID) (bool, error)
	DecrementRedeemed(ctx context.Context, couponID uuid.UUID) error
	IncrementCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID, limit int) (bool, error)
	DecrementCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) error
	InsertRedemption(ctx context.Context, redemption *models.CouponRedemption) error
	ListRedemptions(ctx context.Context, orderID uuid.UUID) ([]models.CouponRedemption, error)
	DeleteRedemption(ctx context.Context, redemptionID uuid.UUID) error

	AttachToOrder(ctx context.Context, link *models.OrderCoupon) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderCoupon, error)
	UpdateOrderAmount(ctx context.Context, orderID, couponID uuid.UUID, amount decimal.Decimal) error
	DetachFromOrder(ctx context.Context, orderID, couponID uuid.UUID) error
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns a coupon repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) FindByCode(ctx context.Context, shopID uuid.UUID, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND code = ?", shopID, strings.ToUpper(strings.TrimSpace(code))).
		Take(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) FindByID(ctx context.Context, couponID uuid.UUID) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.WithContext(ctx).Where("id = ?", couponID).Take(&coupon).Error; err != nil {
		return nil, err
	}
	return &coupon, nil
}

func (r *repository) ScopeVariantIDs(ctx context.Context, couponID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.CouponProduct{}).
		Where("coupon_id = ?", couponID).
		Pluck("variant_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) CustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) (int, error) {
	var usage models.CouponCustomerUsage
	res := r.db.WithContext(ctx).
		Where("coupon_id = ? AND customer_id = ?", couponID, customerID).
		Limit(1).
		Find(&usage)
	if res.Error != nil {
		return 0, res.Error
	}
	return usage.RedeemedCount, nil
}

// IncrementRedeemed is the global cap check-and-increment.
func (r *repository) IncrementRedeemed(ctx context.Context, couponID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND is_active = ?", couponID, true).
		Where("max_redemptions IS NULL OR redeemed_count < max_redemptions").
		Updates(map[string]any{
			"redeemed_count": gorm.Expr("redeemed_count + 1"),
			"updated_at":     r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DecrementRedeemed(ctx context.Context, couponID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND redeemed_count > 0", couponID).
		Updates(map[string]any{
			"redeemed_count": gorm.Expr("redeemed_count - 1"),
			"updated_at":     r.now().UTC(),
		}).Error
}

// IncrementCustomerUsage is the per-customer cap check-and-increment. The
// usage row is created on first use.
func (r *repository) IncrementCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID, limit int) (bool, error) {
	seed := models.CouponCustomerUsage{CouponID: couponID, CustomerID: customerID}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.CouponCustomerUsage{}).
		Where("coupon_id = ? AND customer_id = ? AND redeemed_count < ?", couponID, customerID, limit).
		Update("redeemed_count", gorm.Expr("redeemed_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DecrementCustomerUsage(ctx context.Context, couponID, customerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CouponCustomerUsage{}).
		Where("coupon_id = ? AND customer_id = ? AND redeemed_count > 0", couponID, customerID).
		Update("redeemed_count", gorm.Expr("redeemed_count - 1")).Error
}

func (r *repository) InsertRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	if redemption.ID == uuid.Nil {
		redemption.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(redemption).Error
}

func (r *repository) ListRedemptions(ctx context.Context, orderID uuid.UUID) ([]models.CouponRedemption, error) {
	var rows []models.CouponRedemption
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("redeemed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) DeleteRedemption(ctx context.Context, redemptionID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", redemptionID).Delete(&models.CouponRedemption{}).Error
}

func (r *repository) AttachToOrder(ctx context.Context, link *models.OrderCoupon) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderCoupon, error) {
	var rows []models.OrderCoupon
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateOrderAmount(ctx context.Context, orderID, couponID uuid.UUID, amount decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderCoupon{}).
		Where("order_id = ? AND coupon_id = ?", orderID, couponID).
		Update("discount_amount", amount).Error
}

func (r *repository) DetachFromOrder(ctx context.Context, orderID, couponID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("order_id = ? AND coupon_id = ?", orderID, couponID).
		Delete(&models.OrderCoupon{}).Error
}
