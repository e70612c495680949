package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

// Repository defines persistence operations for order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ShopCode(ctx context.Context, shopID uuid.UUID) (string, error)
	BranchBelongsToShop(ctx context.Context, shopID, branchID uuid.UUID) (bool, error)
	NextSequence(ctx context.Context, shopID uuid.UUID, seqDate string) (int64, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, shopID, orderID uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, shopID, orderID uuid.UUID) (*models.Order, error)
	UpdateOrderVersioned(ctx context.Context, shopID, orderID uuid.UUID, version int64, updates map[string]any) (bool, error)
	ListOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters ListFilters) (*List, error)
	FindStaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)

	ListLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error)
	FindLine(ctx context.Context, orderID, lineID uuid.UUID) (*models.OrderLine, error)
	FindLineByVariant(ctx context.Context, orderID, variantID uuid.UUID) (*models.OrderLine, error)
	CreateLine(ctx context.Context, line *models.OrderLine) error
	UpdateLine(ctx context.Context, line *models.OrderLine) (bool, error)
	DeleteLine(ctx context.Context, orderID, lineID uuid.UUID) error

	PaidAmount(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ShopCode(ctx context.Context, shopID uuid.UUID) (string, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).
		Select("id", "code").
		Where("id = ? AND is_active = ?", shopID, true).
		Take(&shop).Error; err != nil {
		return "", err
	}
	return shop.Code, nil
}

func (r *repository) BranchBelongsToShop(ctx context.Context, shopID, branchID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Branch{}).
		Where("id = ? AND shop_id = ?", branchID, shopID).
		Count(&count).Error
	return count > 0, err
}

// NextSequence bumps the per-shop, per-day counter and returns the new
// value. The upsert makes the first order of the day race-free.
func (r *repository) NextSequence(ctx context.Context, shopID uuid.UUID, seqDate string) (int64, error) {
	var value int64
	err := r.db.WithContext(ctx).Raw(`
		INSERT INTO order_sequences (shop_id, seq_date, last_value)
		VALUES (?, ?, 1)
		ON CONFLICT (shop_id, seq_date)
		DO UPDATE SET last_value = order_sequences.last_value + 1
		RETURNING last_value`, shopID, seqDate).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("order sequence for %s not returned", seqDate)
	}
	return value, nil
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, shopID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Where("id = ? AND shop_id = ?", orderID, shopID).
		Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderForUpdate(ctx context.Context, shopID, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND shop_id = ?", orderID, shopID).
		Take(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderVersioned is the compare-and-swap header write. It reports
// false when the stored version no longer matches.
func (r *repository) UpdateOrderVersioned(ctx context.Context, shopID, orderID uuid.UUID, version int64, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND shop_id = ? AND version = ?", orderID, shopID, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type summaryRow struct {
	ID          uuid.UUID         `gorm:"column:id"`
	OrderNo     string            `gorm:"column:order_no"`
	BranchID    uuid.UUID         `gorm:"column:branch_id"`
	CustomerID  *uuid.UUID        `gorm:"column:customer_id"`
	Status      enums.OrderStatus `gorm:"column:status"`
	TotalAmount decimal.Decimal   `gorm:"column:total_amount"`
	TotalItems  int               `gorm:"column:total_items"`
	Version     int64             `gorm:"column:version"`
	OrderDate   time.Time         `gorm:"column:order_date"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
}

func (r *repository) ListOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters ListFilters) (*List, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).
		Table("orders").
		Select(`orders.id, orders.order_no, orders.branch_id, orders.customer_id, orders.status,
			orders.total_amount, orders.version, orders.order_date, orders.created_at,
			(SELECT COALESCE(SUM(l.qty), 0) FROM order_lines l WHERE l.order_id = orders.id) AS total_items`).
		Where("orders.shop_id = ?", shopID)

	if filters.Status != nil {
		query = query.Where("orders.status = ?", *filters.Status)
	}
	if filters.BranchID != nil {
		query = query.Where("orders.branch_id = ?", *filters.BranchID)
	}
	if filters.CustomerID != nil {
		query = query.Where("orders.customer_id = ?", *filters.CustomerID)
	}
	if filters.SalesUserID != nil {
		query = query.Where("orders.sales_user_id = ?", *filters.SalesUserID)
	}
	if filters.DateFrom != nil {
		query = query.Where("orders.order_date >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("orders.order_date < ?", *filters.DateTo)
	}
	if cursor != nil {
		clause, args := cursor.After("orders.created_at", "orders.id")
		query = query.Where(clause, args...)
	}

	var rows []summaryRow
	if err := query.
		Order("orders.created_at DESC").
		Order("orders.id DESC").
		Limit(limit + 1).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	rows, next := pagination.Trim(rows, limit, func(row summaryRow) pagination.Cursor {
		return pagination.Cursor{At: row.CreatedAt, ID: row.ID}
	})
	result := &List{Orders: make([]Summary, 0, len(rows))}
	if next != nil {
		result.NextCursor = next.Encode()
	}
	for _, row := range rows {
		result.Orders = append(result.Orders, Summary(row))
	}
	return result, nil
}

func (r *repository) FindStaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OrderStatusDraft, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListLines(ctx context.Context, orderID uuid.UUID) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&lines).Error
	return lines, err
}

func (r *repository) FindLine(ctx context.Context, orderID, lineID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	if err := r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", lineID, orderID).
		Take(&line).Error; err != nil {
		return nil, err
	}
	return &line, nil
}

// FindLineByVariant returns nil without error when the variant is not on
// the order yet.
func (r *repository) FindLineByVariant(ctx context.Context, orderID, variantID uuid.UUID) (*models.OrderLine, error) {
	var lines []models.OrderLine
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND variant_id = ?", orderID, variantID).
		Limit(1).
		Find(&lines).Error; err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return &lines[0], nil
}

func (r *repository) CreateLine(ctx context.Context, line *models.OrderLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(line).Error
}

// UpdateLine writes qty, prices and amount guarded by the line version.
func (r *repository) UpdateLine(ctx context.Context, line *models.OrderLine) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ? AND order_id = ? AND version = ?", line.ID, line.OrderID, line.Version).
		Updates(map[string]any{
			"qty":           line.Qty,
			"unit_price":    line.UnitPrice,
			"line_discount": line.LineDiscount,
			"tax_rate":      line.TaxRate,
			"amount":        line.Amount,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		line.Version++
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeleteLine(ctx context.Context, orderID, lineID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", lineID, orderID).
		Delete(&models.OrderLine{}).Error
}

func (r *repository) PaidAmount(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	var paid decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("SUM(paid_amount)").
		Where("order_id = ?", orderID).
		Scan(&paid).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !paid.Valid {
		return decimal.Zero, nil
	}
	return paid.Decimal, nil
}
