package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

// Repository runs the reporting aggregates directly against the order tables.
type Repository interface {
	RevenueDaily(ctx context.Context, filter Filter) ([]revenueRow, error)
	PersonalSales(ctx context.Context, filter Filter) ([]personalRow, error)
	PaymentHistory(ctx context.Context, filter Filter, params pagination.Params) ([]paymentRow, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a reports repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Sales count once the money is in; cancelled orders never reach PAID.
var settledStatuses = []enums.OrderStatus{
	enums.OrderStatusPaid,
	enums.OrderStatusFulfilled,
	enums.OrderStatusCompleted,
}

type revenueRow struct {
	BranchID   uuid.UUID
	SaleDate   string
	OrderCount int64
	GrossSales decimal.Decimal
	NetSales   decimal.Decimal
}

type personalRow struct {
	SalesUserID uuid.UUID
	SaleDate    string
	OrderCount  int64
	NetSales    decimal.Decimal
}

type paymentRow struct {
	PaymentID  uuid.UUID
	OrderID    uuid.UUID
	OrderNo    string
	MethodCode string
	PaidAmount decimal.Decimal
	PaidAt     time.Time
	BranchID   uuid.UUID
	CustomerID *uuid.UUID
	CreatedAt  time.Time
}

func (r *repository) settled(ctx context.Context, filter Filter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Table("orders").
		Where("orders.shop_id = ?", filter.ShopID).
		Where("orders.status IN ?", settledStatuses).
		Where("orders.paid_at >= ? AND orders.paid_at < ?", filter.From, filter.To)
	if filter.BranchID != nil {
		query = query.Where("orders.branch_id = ?", *filter.BranchID)
	}
	return query
}

func (r *repository) RevenueDaily(ctx context.Context, filter Filter) ([]revenueRow, error) {
	var rows []revenueRow
	err := r.settled(ctx, filter).
		Select(`orders.branch_id AS branch_id,
			DATE(orders.paid_at) AS sale_date,
			COUNT(*) AS order_count,
			COALESCE(SUM(orders.sub_total), 0) AS gross_sales,
			COALESCE(SUM(orders.total_amount), 0) AS net_sales`).
		Group("orders.branch_id, DATE(orders.paid_at)").
		Order("sale_date ASC").
		Order("orders.branch_id ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) PersonalSales(ctx context.Context, filter Filter) ([]personalRow, error) {
	query := r.settled(ctx, filter).Where("orders.sales_user_id IS NOT NULL")
	if filter.SalesUserID != nil {
		query = query.Where("orders.sales_user_id = ?", *filter.SalesUserID)
	}
	var rows []personalRow
	err := query.
		Select(`orders.sales_user_id AS sales_user_id,
			DATE(orders.paid_at) AS sale_date,
			COUNT(*) AS order_count,
			COALESCE(SUM(orders.total_amount), 0) AS net_sales`).
		Group("orders.sales_user_id, DATE(orders.paid_at)").
		Order("sale_date ASC").
		Order("orders.sales_user_id ASC").
		Scan(&rows).Error
	return rows, err
}

// PaymentHistory pages payments newest first. The returned cursor is set
// when another page exists.
func (r *repository) PaymentHistory(ctx context.Context, filter Filter, params pagination.Params) ([]paymentRow, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Table("payments").
		Select(`payments.id AS payment_id, payments.order_id, orders.order_no,
			payments.method_code, payments.paid_amount, payments.paid_at,
			payments.branch_id, orders.customer_id, payments.created_at`).
		Joins("JOIN orders ON orders.id = payments.order_id").
		Where("payments.shop_id = ?", filter.ShopID).
		Where("payments.paid_at >= ? AND payments.paid_at < ?", filter.From, filter.To)
	if filter.BranchID != nil {
		query = query.Where("payments.branch_id = ?", *filter.BranchID)
	}
	if filter.MethodCode != "" {
		query = query.Where("payments.method_code = ?", filter.MethodCode)
	}
	if cursor != nil {
		clause, args := cursor.After("payments.paid_at", "payments.id")
		query = query.Where(clause, args...)
	}

	var rows []paymentRow
	if err := query.
		Order("payments.paid_at DESC").
		Order("payments.id DESC").
		Limit(limit + 1).
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(row paymentRow) pagination.Cursor {
		return pagination.Cursor{At: row.PaidAt, ID: row.PaymentID}
	})
	return rows, next, nil
}
