// Package dbtest opens isolated sqlite databases with the full schema for
// package tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
)

// Open returns a fresh in-memory database named after the test. The pool is
// capped at one connection so concurrent goroutines serialise on sqlite's
// single writer the same way row locks serialise them on Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := db.SeedReference(conn); err != nil {
		t.Fatalf("seed reference data: %v", err)
	}
	return conn
}

// Fixture is a shop with one branch, ready for catalog rows.
type Fixture struct {
	DB       *gorm.DB
	Shop     models.Shop
	Branch   models.Branch
	Products []models.Product
}

// NewFixture creates a shop and branch in conn.
func NewFixture(t testing.TB, conn *gorm.DB, shopCode string) *Fixture {
	t.Helper()
	shop := models.Shop{ID: uuid.New(), Code: shopCode, Name: shopCode + " shop", IsActive: true}
	if err := conn.Create(&shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	branch := models.Branch{ID: uuid.New(), ShopID: shop.ID, Name: "main", IsActive: true}
	if err := conn.Create(&branch).Error; err != nil {
		t.Fatalf("create branch: %v", err)
	}
	return &Fixture{DB: conn, Shop: shop, Branch: branch}
}

// VariantSpec describes a variant to seed through AddVariant.
type VariantSpec struct {
	SKU         string
	Price       string
	CostPrice   string
	TrackSerial bool
	OnHand      int
	Serials     []string
	NotSellable bool
}

// AddVariant creates a product with one variant and its stock at the
// fixture branch.
func (f *Fixture) AddVariant(t testing.TB, vs VariantSpec) models.ProductVariant {
	t.Helper()
	product := models.Product{ID: uuid.New(), ShopID: f.Shop.ID, Name: "product " + vs.SKU, CanSell: !vs.NotSellable}
	if err := f.DB.Create(&product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	f.Products = append(f.Products, product)

	cost := vs.CostPrice
	if cost == "" {
		cost = "0"
	}
	variant := models.ProductVariant{
		ID:          uuid.New(),
		ProductID:   product.ID,
		SKU:         vs.SKU,
		Price:       mustDecimal(t, vs.Price),
		CostPrice:   mustDecimal(t, cost),
		TrackSerial: vs.TrackSerial,
	}
	if err := f.DB.Create(&variant).Error; err != nil {
		t.Fatalf("create variant: %v", err)
	}

	onHand := vs.OnHand
	if vs.TrackSerial && len(vs.Serials) > 0 {
		onHand = len(vs.Serials)
	}
	inv := models.Inventory{ShopID: f.Shop.ID, BranchID: f.Branch.ID, VariantID: variant.ID, OnHand: onHand}
	if err := f.DB.Create(&inv).Error; err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	for _, serialNo := range vs.Serials {
		serial := models.InventorySerial{
			ID:        uuid.New(),
			ShopID:    f.Shop.ID,
			BranchID:  f.Branch.ID,
			VariantID: variant.ID,
			SerialNo:  serialNo,
			Status:    enums.SerialStatusOnHand,
		}
		if err := f.DB.Create(&serial).Error; err != nil {
			t.Fatalf("create serial: %v", err)
		}
	}
	return variant
}

// Inventory reads the counters of variant at the fixture branch.
func (f *Fixture) Inventory(t testing.TB, variantID uuid.UUID) models.Inventory {
	t.Helper()
	var inv models.Inventory
	err := f.DB.Where("shop_id = ? AND branch_id = ? AND variant_id = ?", f.Shop.ID, f.Branch.ID, variantID).
		Take(&inv).Error
	if err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return inv
}

func mustDecimal(t testing.TB, raw string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("decimal %q: %v", raw, err)
	}
	return d
}
