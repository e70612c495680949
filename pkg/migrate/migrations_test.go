package migrate_test

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/retail-backoffice/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Migrations()))
}

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestInventoryMigrationGuardsCounters(t *testing.T) {
	content := readMigration(t, "create_inventory")
	for _, sub := range []string{
		"PRIMARY KEY (shop_id, branch_id, variant_id)",
		"CHECK (on_hand >= 0)",
		"CHECK (allocated >= 0 AND allocated <= on_hand)",
		"ux_inventory_serials_unit",
		"DROP TABLE IF EXISTS inventories",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestOrdersMigrationSeedsStatusesAndVersion(t *testing.T) {
	content := readMigration(t, "create_orders")
	for _, status := range []string{"'DRAFT', 0", "'CONFIRMED', 1", "'PAID', 2", "'FULFILLED', 3", "'COMPLETED', 4", "'CANCELLED', 99"} {
		assert.Contains(t, content, status)
	}
	for _, sub := range []string{
		"version bigint NOT NULL DEFAULT 1",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_order_no",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_order_lines_variant ON order_lines (order_id, variant_id)",
		"CHECK (qty > 0)",
		"PRIMARY KEY (shop_id, seq_date)",
	} {
		assert.Contains(t, content, sub)
	}
}

func TestCouponAndPaymentMigrationsCarryCaps(t *testing.T) {
	coupons := readMigration(t, "create_coupons")
	assert.Contains(t, coupons, "redeemed_count <= max_redemptions")
	assert.Contains(t, coupons, "ux_coupons_shop_code ON coupons (shop_id, code)")

	payments := readMigration(t, "create_payments")
	assert.Contains(t, payments, "CHECK (paid_amount > 0)")
	for _, method := range []string{"'CASH'", "'CARD'", "'TRANSFER'", "'EWALLET'"} {
		assert.Contains(t, payments, method)
	}
}

func TestCreateSQLMigrationWritesGooseTemplate(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 4, 13, 2, 1, 0, time.UTC)
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!", now)
	require.NoError(t, err)
	assert.Equal(t, "20260504130201_add_order_notes.sql", filepath.Base(path))
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.CreateSQLMigration(dir, "add order notes", now)
	assert.Error(t, err, "same version and slug must not overwrite")

	_, err = migrate.CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}

func TestValidateRejectsBadMigrations(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"2026_orders.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"bad timestamp": {
			"20261399000000_orders.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"down before up": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, migrate.Validate(fsys))
		})
	}
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20260105090300")
	require.NoError(t, err)
	assert.Equal(t, int64(20260105090300), v)

	for _, raw := range []string{"", "2026", "2026010509030x", "20261305090300"} {
		_, err := migrate.ParseVersion(raw)
		assert.Error(t, err, raw)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "add_order_notes", migrate.Slug("  Add  Order--Notes! "))
	assert.Empty(t, migrate.Slug("!!!"))
}
