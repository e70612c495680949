package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Scope is the tenant an operation runs for. Every read and write is
// filtered by ShopID; BranchID selects the stock location.
type Scope struct {
	ShopID   uuid.UUID
	BranchID uuid.UUID
}

func (s Scope) validate() error {
	if s.ShopID == uuid.Nil || s.BranchID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "shop id and branch id are required")
	}
	return nil
}

// CreateDraftInput opens a new order.
type CreateDraftInput struct {
	CustomerID  *uuid.UUID
	SalesUserID *uuid.UUID
	Note        *string
	ShippingFee *decimal.Decimal
	Tax         *decimal.Decimal
}

// AddLineInput adds a variant to a DRAFT order, merging into an existing
// line for the same variant.
type AddLineInput struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	VariantID       uuid.UUID
	Qty             int
	LineDiscount    *decimal.Decimal
	TaxRate         *decimal.Decimal
	SerialNos       []string
}

type RemoveLineInput struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	LineID          uuid.UUID
}

type SetChargesInput struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	ShippingFee     decimal.Decimal
	Tax             decimal.Decimal
}

type ApplyCouponInput struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	Code            string
}

// VersionedInput is the input of the pure state transitions.
type VersionedInput struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	Reason          string
}

// Line is an order line with its allocated serial numbers.
type Line struct {
	models.OrderLine
	SerialNos []string `json:"serial_nos,omitempty"`
}

// Snapshot is the read model returned by every operation.
type Snapshot struct {
	Order      models.Order         `json:"order"`
	Lines      []Line               `json:"lines"`
	Coupons    []models.OrderCoupon `json:"coupons"`
	PaidAmount decimal.Decimal      `json:"paid_amount"`
	BalanceDue decimal.Decimal      `json:"balance_due"`
}

// ListFilters narrows List.
type ListFilters struct {
	Status      *enums.OrderStatus
	BranchID    *uuid.UUID
	CustomerID  *uuid.UUID
	SalesUserID *uuid.UUID
	DateFrom    *time.Time
	DateTo      *time.Time
}

// Summary is one row of the order list.
type Summary struct {
	ID          uuid.UUID         `json:"id"`
	OrderNo     string            `json:"order_no"`
	BranchID    uuid.UUID         `json:"branch_id"`
	CustomerID  *uuid.UUID        `json:"customer_id,omitempty"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	TotalItems  int               `json:"total_items"`
	Version     int64             `json:"version"`
	OrderDate   time.Time         `json:"order_date"`
	CreatedAt   time.Time         `json:"created_at"`
}

// List wraps a page of orders plus the next page cursor.
type List struct {
	Orders     []Summary `json:"orders"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
