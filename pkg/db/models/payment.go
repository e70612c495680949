package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod is the payment_methods reference table.
type PaymentMethod struct {
	MethodCode string `gorm:"column:method_code;size:20;primaryKey" json:"method_code"`
	Name       string `gorm:"column:name;not null" json:"name"`
	IsActive   bool   `gorm:"column:is_active;not null" json:"is_active"`
}

// Payment records money received against an order.
type Payment struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index" json:"order_id"`
	ShopID     uuid.UUID       `gorm:"column:shop_id;type:uuid;not null;index:ix_payments_shop_paid_at" json:"shop_id"`
	BranchID   uuid.UUID       `gorm:"column:branch_id;type:uuid;not null" json:"branch_id"`
	MethodCode string          `gorm:"column:method_code;size:20;not null" json:"method_code"`
	PaidAmount decimal.Decimal `gorm:"column:paid_amount;type:numeric(18,4);not null;check:chk_payments_amount,paid_amount > 0" json:"paid_amount"`
	PaidAt     time.Time       `gorm:"column:paid_at;not null;index:ix_payments_shop_paid_at" json:"paid_at"`
	RefNo      *string         `gorm:"column:ref_no;size:100" json:"ref_no,omitempty"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
