package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product groups sellable variants.
type Product struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShopID    uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index" json:"shop_id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	CanSell   bool      `gorm:"column:can_sell;not null" json:"can_sell"`
	IsDeleted bool      `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// ProductVariant is the sellable unit referenced by order lines.
type ProductVariant struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID     uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_variants_product_sku" json:"product_id"`
	SKU           string          `gorm:"column:sku;size:64;not null;uniqueIndex:ux_variants_product_sku" json:"sku"`
	Barcode       *string         `gorm:"column:barcode;size:64;uniqueIndex:ux_variants_barcode" json:"barcode,omitempty"`
	OptionSummary *string         `gorm:"column:option_summary" json:"option_summary,omitempty"`
	Price         decimal.Decimal `gorm:"column:price;type:numeric(18,4);not null" json:"price"`
	CostPrice     decimal.Decimal `gorm:"column:cost_price;type:numeric(18,4);not null;default:0" json:"cost_price"`
	TrackSerial   bool            `gorm:"column:track_serial;not null;default:false" json:"track_serial"`
	IsDeleted     bool            `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
