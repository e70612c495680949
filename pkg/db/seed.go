package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// SeedReference inserts the order status and payment method reference rows
// the SQL migrations ship with. Existing rows are left untouched.
func SeedReference(conn *gorm.DB) error {
	statuses := make([]models.OrderStatusRef, 0, len(enums.OrderStatusRanks()))
	for _, status := range enums.OrderStatusRanks() {
		statuses = append(statuses, models.OrderStatusRef{StatusCode: status, Rank: status.Rank()})
	}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&statuses).Error; err != nil {
		return err
	}
	methods := []models.PaymentMethod{
		{MethodCode: "CASH", Name: "Cash", IsActive: true},
		{MethodCode: "CARD", Name: "Card", IsActive: true},
		{MethodCode: "TRANSFER", Name: "Bank transfer", IsActive: true},
		{MethodCode: "EWALLET", Name: "E-wallet", IsActive: true},
	}
	return conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&methods).Error
}
