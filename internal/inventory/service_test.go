package inventory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/catalog"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/internal/orders"
	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/db/dbtest"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

func newTestService(t *testing.T) (Service, *gorm.DB, *dbtest.Fixture) {
	t.Helper()
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "INV")
	client := db.NewFromGorm(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Ledger:   ledgerSvc,
		Catalog:  catalog.NewResolver(conn),
		Branches: orders.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		TxRunner: client,
	})
	require.NoError(t, err)
	return svc, conn, fx
}

func inventoryEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) []payloads.InventoryChangedEvent {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", eventType).Order("created_at ASC").Find(&rows).Error)
	out := make([]payloads.InventoryChangedEvent, 0, len(rows))
	for _, row := range rows {
		var envelope struct {
			Data payloads.InventoryChangedEvent `json:"data"`
		}
		require.NoError(t, json.Unmarshal(row.Payload, &envelope))
		out = append(out, envelope.Data)
	}
	return out
}

func TestReceiveAddsStockAndEmitsEvent(t *testing.T) {
	svc, conn, fx := newTestService(t)
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "RCV-1", Price: "5", OnHand: 2})
	scope := Scope{ShopID: fx.Shop.ID, BranchID: fx.Branch.ID}

	record, err := svc.Receive(context.Background(), scope, ReceiveInput{VariantID: variant.ID, Qty: 8, Note: "PO-17"})
	require.NoError(t, err)
	assert.Equal(t, 10, record.Inventory.OnHand)
	assert.Equal(t, 10, record.Available)

	events := inventoryEvents(t, conn, enums.EventInventoryReceived)
	require.Len(t, events, 1)
	assert.Equal(t, 8, events[0].Delta)
	assert.Equal(t, 10, events[0].OnHand)
	assert.Equal(t, "PO-17", events[0].Note)

	got, err := svc.Get(context.Background(), scope, variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Inventory.OnHand)
	assert.NotEmpty(t, got.Movements)
}

func TestReceiveSerialTrackedVariantNeedsSerials(t *testing.T) {
	svc, conn, fx := newTestService(t)
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "SER-1", Price: "300", TrackSerial: true})
	scope := Scope{ShopID: fx.Shop.ID, BranchID: fx.Branch.ID}

	_, err := svc.Receive(context.Background(), scope, ReceiveInput{VariantID: variant.ID, Qty: 2, SerialNos: []string{"A-1"}})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	assert.Empty(t, inventoryEvents(t, conn, enums.EventInventoryReceived))

	record, err := svc.Receive(context.Background(), scope, ReceiveInput{VariantID: variant.ID, Qty: 2, SerialNos: []string{"A-1", "A-2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, record.Inventory.OnHand)
}

func TestAdjustCannotDropBelowAllocated(t *testing.T) {
	svc, conn, fx := newTestService(t)
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "ADJ-1", Price: "5", OnHand: 5})
	scope := Scope{ShopID: fx.Shop.ID, BranchID: fx.Branch.ID}
	require.NoError(t, conn.Model(&models.Inventory{}).
		Where("variant_id = ?", variant.ID).
		Update("allocated", 3).Error)

	_, err := svc.Adjust(context.Background(), scope, AdjustInput{VariantID: variant.ID, Delta: -3, Note: "damaged"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	record, err := svc.Adjust(context.Background(), scope, AdjustInput{VariantID: variant.ID, Delta: -2, Note: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, 3, record.Inventory.OnHand)
	assert.Equal(t, 0, record.Available)

	events := inventoryEvents(t, conn, enums.EventInventoryAdjusted)
	require.Len(t, events, 1)
	assert.Equal(t, -2, events[0].Delta)
}

func TestForeignBranchIsNotFound(t *testing.T) {
	svc, conn, fx := newTestService(t)
	other := dbtest.NewFixture(t, conn, "ELSE")
	variant := fx.AddVariant(t, dbtest.VariantSpec{SKU: "X-1", Price: "1", OnHand: 1})

	_, err := svc.Get(context.Background(), Scope{ShopID: fx.Shop.ID, BranchID: other.Branch.ID}, variant.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	_, err = svc.Receive(context.Background(), Scope{ShopID: fx.Shop.ID, BranchID: fx.Branch.ID}, ReceiveInput{VariantID: uuid.New(), Qty: 1})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
