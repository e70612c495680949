package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// Coupon is a shop-scoped discount definition. RedeemedCount is the global
// redemption counter guarded against MaxRedemptions.
type Coupon struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShopID           uuid.UUID        `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:ux_coupons_shop_code" json:"shop_id"`
	Code             string           `gorm:"column:code;size:40;not null;uniqueIndex:ux_coupons_shop_code" json:"code"`
	Name             string           `gorm:"column:name;not null" json:"name"`
	Type             enums.CouponType `gorm:"column:type;size:20;not null" json:"type"`
	Value            decimal.Decimal  `gorm:"column:value;type:numeric(18,4);not null;default:0" json:"value"`
	MinOrderAmount   *decimal.Decimal `gorm:"column:min_order_amount;type:numeric(18,4)" json:"min_order_amount,omitempty"`
	StartAt          time.Time        `gorm:"column:start_at;not null" json:"start_at"`
	EndAt            time.Time        `gorm:"column:end_at;not null" json:"end_at"`
	MaxRedemptions   *int             `gorm:"column:max_redemptions" json:"max_redemptions,omitempty"`
	PerCustomerLimit *int             `gorm:"column:per_customer_limit" json:"per_customer_limit,omitempty"`
	BuyQty           *int             `gorm:"column:buy_qty" json:"buy_qty,omitempty"`
	GetQty           *int             `gorm:"column:get_qty" json:"get_qty,omitempty"`
	RedeemedCount    int              `gorm:"column:redeemed_count;not null;default:0" json:"redeemed_count"`
	IsActive         bool             `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// CouponProduct scopes ITEM_PERCENT and BUY_X_GET_Y coupons to variants.
type CouponProduct struct {
	CouponID  uuid.UUID `gorm:"column:coupon_id;type:uuid;primaryKey" json:"coupon_id"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey" json:"variant_id"`
}

// CouponCustomerUsage counts redemptions per customer for PerCustomerLimit.
type CouponCustomerUsage struct {
	CouponID      uuid.UUID `gorm:"column:coupon_id;type:uuid;primaryKey" json:"coupon_id"`
	CustomerID    uuid.UUID `gorm:"column:customer_id;type:uuid;primaryKey" json:"customer_id"`
	RedeemedCount int       `gorm:"column:redeemed_count;not null;default:0" json:"redeemed_count"`
}

// CouponRedemption is the append-only redemption record.
type CouponRedemption struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	CouponID   uuid.UUID  `gorm:"column:coupon_id;type:uuid;not null;index" json:"coupon_id"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	CustomerID *uuid.UUID `gorm:"column:customer_id;type:uuid" json:"customer_id,omitempty"`
	RedeemedAt time.Time  `gorm:"column:redeemed_at;not null" json:"redeemed_at"`
}

// OrderCoupon records a coupon applied to an order and its contribution.
type OrderCoupon struct {
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;primaryKey" json:"order_id"`
	CouponID       uuid.UUID       `gorm:"column:coupon_id;type:uuid;primaryKey" json:"coupon_id"`
	Code           string          `gorm:"column:code;size:40;not null" json:"code"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(18,4);not null" json:"discount_amount"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
