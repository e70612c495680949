package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// OrderCreatedEvent signals a new DRAFT order.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID  `json:"order_id"`
	ShopID     uuid.UUID  `json:"shop_id"`
	BranchID   uuid.UUID  `json:"branch_id"`
	OrderNo    string     `json:"order_no"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
}

// OrderLineEvent is emitted when a line is added, merged or removed.
type OrderLineEvent struct {
	OrderID   uuid.UUID       `json:"order_id"`
	LineID    uuid.UUID       `json:"line_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total_amount"`
	Version   int64           `json:"version"`
}

// OrderChargesSetEvent carries the new shipping fee and tax of an order.
type OrderChargesSetEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total_amount"`
	Version     int64           `json:"version"`
}

// CouponAppliedEvent is emitted after a coupon was redeemed on an order.
type CouponAppliedEvent struct {
	OrderID        uuid.UUID       `json:"order_id"`
	CouponID       uuid.UUID       `json:"coupon_id"`
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CustomerID     *uuid.UUID      `json:"customer_id,omitempty"`
}

// OrderStatusEvent describes a lifecycle transition of an order.
type OrderStatusEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	ShopID     uuid.UUID         `json:"shop_id"`
	BranchID   uuid.UUID         `json:"branch_id"`
	OrderNo    string            `json:"order_no"`
	From       enums.OrderStatus `json:"from"`
	Status     enums.OrderStatus `json:"status"`
	Total      decimal.Decimal   `json:"total_amount"`
	OccurredAt time.Time         `json:"occurred_at"`
	Reason     string            `json:"reason,omitempty"`
}

// PaymentRecordedEvent is emitted for every accepted payment.
type PaymentRecordedEvent struct {
	PaymentID  uuid.UUID       `json:"payment_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	MethodCode string          `json:"method_code"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidTotal  decimal.Decimal `json:"paid_total"`
	PaidAt     time.Time       `json:"paid_at"`
}

// SaleLine is one line of a paid order as seen by analytics.
type SaleLine struct {
	LineID    uuid.UUID       `json:"line_id"`
	VariantID uuid.UUID       `json:"variant_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

// OrderPaidEvent carries the sale snapshot once an order is fully paid.
type OrderPaidEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	ShopID      uuid.UUID       `json:"shop_id"`
	BranchID    uuid.UUID       `json:"branch_id"`
	OrderNo     string          `json:"order_no"`
	CustomerID  *uuid.UUID      `json:"customer_id,omitempty"`
	SalesUserID *uuid.UUID      `json:"sales_user_id,omitempty"`
	OrderDate   time.Time       `json:"order_date"`
	SubTotal    decimal.Decimal `json:"sub_total"`
	Discount    decimal.Decimal `json:"discount"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	Tax         decimal.Decimal `json:"tax"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	PaidAt      time.Time       `json:"paid_at"`
	Lines       []SaleLine      `json:"lines"`
}

// InventoryChangedEvent is emitted for receipts and manual adjustments.
type InventoryChangedEvent struct {
	ShopID    uuid.UUID `json:"shop_id"`
	BranchID  uuid.UUID `json:"branch_id"`
	VariantID uuid.UUID `json:"variant_id"`
	Delta     int       `json:"delta"`
	OnHand    int       `json:"on_hand"`
	Allocated int       `json:"allocated"`
	Note      string    `json:"note,omitempty"`
}
