package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

const defaultFetchLimit = 50

var errTxRequired = errors.New("transaction required")

// Repository reads and writes outbox_events. Methods ending in Tx run on
// the caller's transaction; the rest use the repository's own handle.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return tx.Create(&event).Error
}

// pending selects unpublished rows oldest first; id breaks created_at ties
// so per-aggregate order is stable.
func pending(q *gorm.DB, limit int) *gorm.DB {
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	return q.Where("published_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
}

// Pending lists unpublished rows without locking them.
func (r *Repository) Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := pending(r.db.WithContext(ctx), limit).Find(&rows).Error
	return rows, err
}

// FetchUnpublishedForPublish locks up to limit pending rows below the
// attempt ceiling. Concurrent publishers skip rows already locked.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	var rows []models.OutboxEvent
	err := pending(tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}), limit).
		Where("attempt_count < ?", maxAttempts).
		Find(&rows).Error
	return rows, err
}

// ForAggregate returns every event of one aggregate in emission order.
func (r *Repository) ForAggregate(ctx context.Context, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return updateRow(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return updateRow(tx, id, map[string]any{
		"last_error":    err.Error(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx pins attempt_count at terminalAttempts so the row is never
// fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return updateRow(tx, id, map[string]any{
		"last_error":    err.Error(),
		"attempt_count": terminalAttempts,
	})
}

func updateRow(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

// DeletePublishedBefore removes published rows older than cutoff and
// returns how many were deleted.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
