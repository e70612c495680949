package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// OrderStatusRef is the order_statuses reference table.
type OrderStatusRef struct {
	StatusCode enums.OrderStatus `gorm:"column:status_code;size:30;primaryKey" json:"status_code"`
	Rank       int               `gorm:"column:rank;not null" json:"rank"`
}

func (OrderStatusRef) TableName() string { return "order_statuses" }

// OrderSequence backs order number allocation per shop and calendar day.
type OrderSequence struct {
	ShopID    uuid.UUID `gorm:"column:shop_id;type:uuid;primaryKey" json:"shop_id"`
	SeqDate   string    `gorm:"column:seq_date;size:8;primaryKey" json:"seq_date"`
	LastValue int64     `gorm:"column:last_value;not null;default:0" json:"last_value"`
}

// Order is the order header. Version is the optimistic concurrency token.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShopID      uuid.UUID         `gorm:"column:shop_id;type:uuid;not null;index:ix_orders_shop_status" json:"shop_id"`
	BranchID    uuid.UUID         `gorm:"column:branch_id;type:uuid;not null" json:"branch_id"`
	OrderNo     string            `gorm:"column:order_no;size:40;not null;uniqueIndex:ux_orders_order_no" json:"order_no"`
	CustomerID  *uuid.UUID        `gorm:"column:customer_id;type:uuid" json:"customer_id,omitempty"`
	SalesUserID *uuid.UUID        `gorm:"column:sales_user_id;type:uuid" json:"sales_user_id,omitempty"`
	OrderDate   time.Time         `gorm:"column:order_date;not null" json:"order_date"`
	Status      enums.OrderStatus `gorm:"column:status;size:30;not null;index:ix_orders_shop_status" json:"status"`
	SubTotal    decimal.Decimal   `gorm:"column:sub_total;type:numeric(18,4);not null;default:0" json:"sub_total"`
	Discount    decimal.Decimal   `gorm:"column:discount;type:numeric(18,4);not null;default:0" json:"discount"`
	ShippingFee decimal.Decimal   `gorm:"column:shipping_fee;type:numeric(18,4);not null;default:0" json:"shipping_fee"`
	Tax         decimal.Decimal   `gorm:"column:tax;type:numeric(18,4);not null;default:0" json:"tax"`
	TotalAmount decimal.Decimal   `gorm:"column:total_amount;type:numeric(18,4);not null;default:0" json:"total_amount"`
	Note        *string           `gorm:"column:note" json:"note,omitempty"`
	Version     int64             `gorm:"column:version;not null;default:1" json:"version"`
	ConfirmedAt *time.Time        `gorm:"column:confirmed_at" json:"confirmed_at,omitempty"`
	PaidAt      *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	FulfilledAt *time.Time        `gorm:"column:fulfilled_at" json:"fulfilled_at,omitempty"`
	CompletedAt *time.Time        `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CancelledAt *time.Time        `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// OrderLine is one variant on an order. (order_id, variant_id) is unique.
type OrderLine struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID      uuid.UUID        `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_lines_variant" json:"order_id"`
	VariantID    uuid.UUID        `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_order_lines_variant" json:"variant_id"`
	Qty          int              `gorm:"column:qty;not null;check:chk_order_lines_qty,qty > 0" json:"qty"`
	UnitPrice    decimal.Decimal  `gorm:"column:unit_price;type:numeric(18,4);not null" json:"unit_price"`
	LineDiscount decimal.Decimal  `gorm:"column:line_discount;type:numeric(18,4);not null;default:0" json:"line_discount"`
	TaxRate      *decimal.Decimal `gorm:"column:tax_rate;type:numeric(9,4)" json:"tax_rate,omitempty"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:numeric(18,4);not null" json:"amount"`
	Version      int64            `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// OrderLineSerial links an allocated serial unit to a line.
type OrderLineSerial struct {
	OrderLineID uuid.UUID `gorm:"column:order_line_id;type:uuid;primaryKey" json:"order_line_id"`
	SerialID    uuid.UUID `gorm:"column:serial_id;type:uuid;primaryKey" json:"serial_id"`
	SerialNo    string    `gorm:"column:serial_no;size:100;not null" json:"serial_no"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
