package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/retail-backoffice/pkg/db/dbtest"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

func TestResolveReturnsPriceAndFlags(t *testing.T) {
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "ACME")
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "TSHIRT-M", Price: "100.00", CostPrice: "60", TrackSerial: true, Serials: []string{"S1"}})

	got, err := NewResolver(conn).Resolve(context.Background(), fx.Shop.ID, variant.ID)
	require.NoError(t, err)
	require.True(t, got.UnitPrice.Equal(decimal.RequireFromString("100")))
	require.True(t, got.CostPrice.Equal(decimal.RequireFromString("60")))
	require.True(t, got.TrackSerial)
	require.True(t, got.IsSellable)
	require.Equal(t, "TSHIRT-M", got.SKU)
}

func TestResolveNotFoundCases(t *testing.T) {
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "ACME")
	other := dbtest.NewFixture(t, conn, "OTHER")

	deleted := fx.AddVariant(t, dbtest.VariantSpec{SKU: "DEL", Price: "5"})
	require.NoError(t, conn.Model(&models.ProductVariant{}).Where("id = ?", deleted.ID).Update("is_deleted", true).Error)

	unsellable := fx.AddVariant(t, dbtest.VariantSpec{SKU: "NOSALE", Price: "5", NotSellable: true})
	foreign := other.AddVariant(t, dbtest.VariantSpec{SKU: "FOREIGN", Price: "5"})

	resolver := NewResolver(conn)
	for name, id := range map[string]uuid.UUID{
		"deleted":    deleted.ID,
		"unsellable": unsellable.ID,
		"other shop": foreign.ID,
		"unknown":    uuid.New(),
	} {
		_, err := resolver.Resolve(context.Background(), fx.Shop.ID, id)
		require.Truef(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "%s: expected not found, got %v", name, err)
	}
}

func TestResolveSeesLatestPrice(t *testing.T) {
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "ACME")
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "MUG", Price: "10"})
	resolver := NewResolver(conn)

	first, err := resolver.Resolve(context.Background(), fx.Shop.ID, variant.ID)
	require.NoError(t, err)
	require.True(t, first.UnitPrice.Equal(decimal.NewFromInt(10)))

	require.NoError(t, conn.Model(&models.ProductVariant{}).Where("id = ?", variant.ID).Update("price", decimal.NewFromInt(12)).Error)

	second, err := resolver.Resolve(context.Background(), fx.Shop.ID, variant.ID)
	require.NoError(t, err)
	require.True(t, second.UnitPrice.Equal(decimal.NewFromInt(12)))
}

func TestResolveManySkipsUnsellable(t *testing.T) {
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "ACME")
	a := fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "1"})
	b := fx.AddVariant(t, dbtest.VariantSpec{SKU: "B", Price: "2", NotSellable: true})

	got, err := NewResolver(conn).ResolveMany(context.Background(), fx.Shop.ID, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, got, a.ID)
}

func TestResolveValidatesIDs(t *testing.T) {
	_, err := NewResolver(nil).Resolve(context.Background(), uuid.Nil, uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
