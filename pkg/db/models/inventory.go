package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// Inventory holds the stock counters of one variant at one branch.
// allocated never exceeds on_hand; the check constraints back that up.
type Inventory struct {
	ShopID    uuid.UUID `gorm:"column:shop_id;type:uuid;primaryKey" json:"shop_id"`
	BranchID  uuid.UUID `gorm:"column:branch_id;type:uuid;primaryKey" json:"branch_id"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey" json:"variant_id"`
	OnHand    int       `gorm:"column:on_hand;not null;default:0;check:chk_inventories_on_hand,on_hand >= 0" json:"on_hand"`
	Allocated int       `gorm:"column:allocated;not null;default:0;check:chk_inventories_allocated,allocated >= 0 AND allocated <= on_hand" json:"allocated"`
	InTransit int       `gorm:"column:in_transit;not null;default:0;check:chk_inventories_in_transit,in_transit >= 0" json:"in_transit"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// Available is the quantity that can still be reserved.
func (i Inventory) Available() int {
	return i.OnHand - i.Allocated
}

// InventorySerial is one serial-tracked unit.
type InventorySerial struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShopID      uuid.UUID          `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:ux_inventory_serials_unit" json:"shop_id"`
	BranchID    uuid.UUID          `gorm:"column:branch_id;type:uuid;not null;uniqueIndex:ux_inventory_serials_unit" json:"branch_id"`
	VariantID   uuid.UUID          `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_inventory_serials_unit" json:"variant_id"`
	SerialNo    string             `gorm:"column:serial_no;size:100;not null;uniqueIndex:ux_inventory_serials_unit" json:"serial_no"`
	Status      enums.SerialStatus `gorm:"column:status;size:20;not null" json:"status"`
	OrderLineID *uuid.UUID         `gorm:"column:order_line_id;type:uuid;index" json:"order_line_id,omitempty"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// InventoryMovement is an append-only journal row for every counter change.
type InventoryMovement struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShopID      uuid.UUID          `gorm:"column:shop_id;type:uuid;not null;index:ix_inventory_movements_key" json:"shop_id"`
	BranchID    uuid.UUID          `gorm:"column:branch_id;type:uuid;not null;index:ix_inventory_movements_key" json:"branch_id"`
	VariantID   uuid.UUID          `gorm:"column:variant_id;type:uuid;not null;index:ix_inventory_movements_key" json:"variant_id"`
	Type        enums.MovementType `gorm:"column:type;size:20;not null" json:"type"`
	Qty         int                `gorm:"column:qty;not null" json:"qty"`
	OrderID     *uuid.UUID         `gorm:"column:order_id;type:uuid;index" json:"order_id,omitempty"`
	OrderLineID *uuid.UUID         `gorm:"column:order_line_id;type:uuid" json:"order_line_id,omitempty"`
	Note        *string            `gorm:"column:note" json:"note,omitempty"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
