package ledger

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// Repository holds the raw inventory statements. Every counter change is a
// single conditional UPDATE so concurrent callers cannot oversell.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, key Key) (*models.Inventory, error)
	FindForUpdate(ctx context.Context, key Key) (*models.Inventory, error)
	IncrementAllocated(ctx context.Context, key Key, qty int) (bool, error)
	DecrementAllocated(ctx context.Context, key Key, qty int) error
	ConsumeAllocated(ctx context.Context, key Key, qty int) (bool, error)
	AddOnHand(ctx context.Context, key Key, qty int) error
	AdjustOnHand(ctx context.Context, key Key, delta int) (bool, error)
	AppendMovement(ctx context.Context, movement *models.InventoryMovement) error
	ListMovements(ctx context.Context, key Key, limit int) ([]models.InventoryMovement, error)

	InsertSerials(ctx context.Context, serials []models.InventorySerial) error
	FindSerial(ctx context.Context, key Key, serialNo string) (*models.InventorySerial, error)
	MarkSerialAllocated(ctx context.Context, key Key, serialNo string, lineID uuid.UUID) (bool, error)
	InsertLineSerial(ctx context.Context, link *models.OrderLineSerial) error
	ListLineSerials(ctx context.Context, lineID uuid.UUID) ([]models.OrderLineSerial, error)
	ReleaseLineSerials(ctx context.Context, lineID uuid.UUID) (int64, error)
	SellLineSerials(ctx context.Context, lineID uuid.UUID) (int64, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns an inventory repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) keyed(ctx context.Context, key Key) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Inventory{}).
		Where("shop_id = ? AND branch_id = ? AND variant_id = ?", key.ShopID, key.BranchID, key.VariantID)
}

func (r *repository) Find(ctx context.Context, key Key) (*models.Inventory, error) {
	var inv models.Inventory
	if err := r.keyed(ctx, key).Take(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) FindForUpdate(ctx context.Context, key Key) (*models.Inventory, error) {
	var inv models.Inventory
	if err := r.keyed(ctx, key).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Take(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) IncrementAllocated(ctx context.Context, key Key, qty int) (bool, error) {
	res := r.keyed(ctx, key).
		Where("on_hand - allocated >= ?", qty).
		Updates(map[string]any{
			"allocated":  gorm.Expr("allocated + ?", qty),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DecrementAllocated(ctx context.Context, key Key, qty int) error {
	return r.keyed(ctx, key).
		Updates(map[string]any{
			"allocated":  gorm.Expr("CASE WHEN allocated > ? THEN allocated - ? ELSE 0 END", qty, qty),
			"updated_at": r.now().UTC(),
		}).Error
}

func (r *repository) ConsumeAllocated(ctx context.Context, key Key, qty int) (bool, error) {
	res := r.keyed(ctx, key).
		Where("allocated >= ? AND on_hand >= ?", qty, qty).
		Updates(map[string]any{
			"on_hand":    gorm.Expr("on_hand - ?", qty),
			"allocated":  gorm.Expr("allocated - ?", qty),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AddOnHand(ctx context.Context, key Key, qty int) error {
	row := models.Inventory{
		ShopID:    key.ShopID,
		BranchID:  key.BranchID,
		VariantID: key.VariantID,
		OnHand:    qty,
		UpdatedAt: r.now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "shop_id"}, {Name: "branch_id"}, {Name: "variant_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"on_hand":    gorm.Expr("inventories.on_hand + ?", qty),
				"updated_at": row.UpdatedAt,
			}),
		}).
		Create(&row).Error
}

func (r *repository) AdjustOnHand(ctx context.Context, key Key, delta int) (bool, error) {
	res := r.keyed(ctx, key).
		Where("on_hand + ? >= allocated", delta).
		Updates(map[string]any{
			"on_hand":    gorm.Expr("on_hand + ?", delta),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendMovement(ctx context.Context, movement *models.InventoryMovement) error {
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = r.now().UTC()
	}
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, key Key, limit int) ([]models.InventoryMovement, error) {
	var rows []models.InventoryMovement
	q := r.db.WithContext(ctx).
		Where("shop_id = ? AND branch_id = ? AND variant_id = ?", key.ShopID, key.BranchID, key.VariantID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) InsertSerials(ctx context.Context, serials []models.InventorySerial) error {
	if len(serials) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&serials).Error
}

func (r *repository) serialScope(ctx context.Context, key Key) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.InventorySerial{}).
		Where("shop_id = ? AND branch_id = ? AND variant_id = ?", key.ShopID, key.BranchID, key.VariantID)
}

func (r *repository) FindSerial(ctx context.Context, key Key, serialNo string) (*models.InventorySerial, error) {
	var serial models.InventorySerial
	err := r.serialScope(ctx, key).Where("serial_no = ?", serialNo).Take(&serial).Error
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &serial, nil
}

func (r *repository) MarkSerialAllocated(ctx context.Context, key Key, serialNo string, lineID uuid.UUID) (bool, error) {
	res := r.serialScope(ctx, key).
		Where("serial_no = ? AND status = ?", serialNo, enums.SerialStatusOnHand).
		Updates(map[string]any{
			"status":        enums.SerialStatusAllocated,
			"order_line_id": lineID,
			"updated_at":    r.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertLineSerial(ctx context.Context, link *models.OrderLineSerial) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) ListLineSerials(ctx context.Context, lineID uuid.UUID) ([]models.OrderLineSerial, error) {
	var links []models.OrderLineSerial
	if err := r.db.WithContext(ctx).
		Where("order_line_id = ?", lineID).
		Order("serial_no ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (r *repository) ReleaseLineSerials(ctx context.Context, lineID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventorySerial{}).
		Where("order_line_id = ? AND status = ?", lineID, enums.SerialStatusAllocated).
		Updates(map[string]any{
			"status":        enums.SerialStatusOnHand,
			"order_line_id": nil,
			"updated_at":    r.now().UTC(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if err := r.db.WithContext(ctx).
		Where("order_line_id = ?", lineID).
		Delete(&models.OrderLineSerial{}).Error; err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

func (r *repository) SellLineSerials(ctx context.Context, lineID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventorySerial{}).
		Where("order_line_id = ? AND status = ?", lineID, enums.SerialStatusAllocated).
		Updates(map[string]any{
			"status":     enums.SerialStatusSold,
			"updated_at": r.now().UTC(),
		})
	return res.RowsAffected, res.Error
}
