package catalog

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Variant is the sellable view of a product variant.
type Variant struct {
	VariantID   uuid.UUID       `json:"variant_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	SKU         string          `json:"sku"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	TrackSerial bool            `json:"track_serial"`
	IsSellable  bool            `json:"is_sellable"`
}

// Resolver returns the authoritative price and stock-tracking flags of a
// variant. It always reads the latest committed row.
type Resolver interface {
	WithTx(tx *gorm.DB) Resolver
	Resolve(ctx context.Context, shopID, variantID uuid.UUID) (*Variant, error)
	ResolveMany(ctx context.Context, shopID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]Variant, error)
}

type resolver struct {
	db *gorm.DB
}

// NewResolver binds a resolver to db.
func NewResolver(db *gorm.DB) Resolver {
	return &resolver{db: db}
}

func (r *resolver) WithTx(tx *gorm.DB) Resolver {
	if tx == nil {
		return r
	}
	return &resolver{db: tx}
}

type variantRow struct {
	VariantID   uuid.UUID       `gorm:"column:variant_id"`
	ProductID   uuid.UUID       `gorm:"column:product_id"`
	SKU         string          `gorm:"column:sku"`
	Price       decimal.Decimal `gorm:"column:price"`
	CostPrice   decimal.Decimal `gorm:"column:cost_price"`
	TrackSerial bool            `gorm:"column:track_serial"`
}

// sellableScope restricts to live variants of live, sellable products owned
// by the shop. Anything else resolves as not found.
func (r *resolver) sellableScope(ctx context.Context, shopID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("product_variants AS v").
		Select("v.id AS variant_id, v.product_id, v.sku, v.price, v.cost_price, v.track_serial").
		Joins("JOIN products AS p ON p.id = v.product_id").
		Where("p.shop_id = ?", shopID).
		Where("v.is_deleted = ? AND p.is_deleted = ? AND p.can_sell = ?", false, false, true)
}

func (r *resolver) Resolve(ctx context.Context, shopID, variantID uuid.UUID) (*Variant, error) {
	if shopID == uuid.Nil || variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id and variant id are required")
	}

	var row variantRow
	err := r.sellableScope(ctx, shopID).Where("v.id = ?", variantID).Take(&row).Error
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
				WithDetails(map[string]any{"variant_id": variantID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve variant")
	}

	v := row.toVariant()
	return &v, nil
}

func (r *resolver) ResolveMany(ctx context.Context, shopID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]Variant, error) {
	out := make(map[uuid.UUID]Variant, len(variantIDs))
	if len(variantIDs) == 0 {
		return out, nil
	}

	var rows []variantRow
	if err := r.sellableScope(ctx, shopID).Where("v.id IN ?", variantIDs).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("resolve %d variants", len(variantIDs)))
	}
	for _, row := range rows {
		out[row.VariantID] = row.toVariant()
	}
	return out, nil
}

func (row variantRow) toVariant() Variant {
	return Variant{
		VariantID:   row.VariantID,
		ProductID:   row.ProductID,
		SKU:         row.SKU,
		UnitPrice:   row.Price,
		CostPrice:   row.CostPrice,
		TrackSerial: row.TrackSerial,
		IsSellable:  true,
	}
}
