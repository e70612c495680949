package models

// All lists every persisted model, in dependency order. Used for AutoMigrate
// in tests and sqlite development runs.
func All() []any {
	return []any{
		&Shop{},
		&Branch{},
		&Product{},
		&ProductVariant{},
		&Inventory{},
		&InventorySerial{},
		&InventoryMovement{},
		&OrderStatusRef{},
		&OrderSequence{},
		&Order{},
		&OrderLine{},
		&OrderLineSerial{},
		&Coupon{},
		&CouponProduct{},
		&CouponCustomerUsage{},
		&CouponRedemption{},
		&OrderCoupon{},
		&PaymentMethod{},
		&Payment{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
