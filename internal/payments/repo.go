package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
)

// Repository persists payments and reads the payment method catalogue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindMethod(ctx context.Context, code string) (*models.PaymentMethod, error)
	ListMethods(ctx context.Context, activeOnly bool) ([]models.PaymentMethod, error)
	Create(ctx context.Context, payment *models.Payment) error
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a payments repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindMethod(ctx context.Context, code string) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).Where("method_code = ?", code).Take(&method).Error; err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListMethods(ctx context.Context, activeOnly bool) ([]models.PaymentMethod, error) {
	query := r.db.WithContext(ctx).Order("method_code ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var methods []models.PaymentMethod
	if err := query.Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("paid_at ASC").
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
