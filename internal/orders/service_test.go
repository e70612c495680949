package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/catalog"
	"github.com/angelmondragon/retail-backoffice/internal/coupons"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/pkg/db"
	"github.com/angelmondragon/retail-backoffice/pkg/db/dbtest"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

var fixedNow = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

type harness struct {
	svc   Service
	conn  *gorm.DB
	fx    *dbtest.Fixture
	scope Scope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	fx := dbtest.NewFixture(t, conn, "ACME")
	client := db.NewFromGorm(conn)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), client)
	require.NoError(t, err)
	couponSvc, err := coupons.NewService(coupons.NewRepository(conn))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Catalog:  catalog.NewResolver(conn),
		Ledger:   ledgerSvc,
		Coupons:  couponSvc,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		TxRunner: client,
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return &harness{
		svc:   svc,
		conn:  conn,
		fx:    fx,
		scope: Scope{ShopID: fx.Shop.ID, BranchID: fx.Branch.ID},
	}
}

func (h *harness) draft(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := h.svc.CreateDraft(context.Background(), h.scope, CreateDraftInput{})
	require.NoError(t, err)
	return snap
}

func (h *harness) addLine(t *testing.T, snap *Snapshot, variantID uuid.UUID, qty int) *Snapshot {
	t.Helper()
	next, err := h.svc.AddLine(context.Background(), h.scope, AddLineInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		VariantID:       variantID,
		Qty:             qty,
	})
	require.NoError(t, err)
	return next
}

func (h *harness) coupon(t *testing.T, mutate func(*models.Coupon)) models.Coupon {
	t.Helper()
	coupon := models.Coupon{
		ID:       uuid.New(),
		ShopID:   h.fx.Shop.ID,
		Code:     "SAVE10",
		Name:     "ten percent",
		Type:     enums.CouponTypeOrderPercent,
		Value:    decimal.NewFromInt(10),
		StartAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		IsActive: true,
	}
	if mutate != nil {
		mutate(&coupon)
	}
	require.NoError(t, h.conn.Create(&coupon).Error)
	return coupon
}

func (h *harness) events(t *testing.T, orderID uuid.UUID, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", orderID, eventType).
		Count(&count).Error)
	return count
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func requireTotalIdentity(t *testing.T, order models.Order) {
	t.Helper()
	expected := order.SubTotal.Sub(order.Discount).Add(order.ShippingFee).Add(order.Tax)
	require.True(t, expected.Equal(order.TotalAmount), "total %s != %s", order.TotalAmount, expected)
}

func TestCreateDraftAllocatesDailyOrderNumbers(t *testing.T) {
	h := newHarness(t)

	first := h.draft(t)
	second := h.draft(t)

	assert.Equal(t, "ACME-20260115-00001", first.Order.OrderNo)
	assert.Equal(t, "ACME-20260115-00002", second.Order.OrderNo)
	assert.Equal(t, enums.OrderStatusDraft, first.Order.Status)
	assert.Equal(t, int64(1), first.Order.Version)
	requireDecimal(t, "0", first.Order.TotalAmount)
	assert.Empty(t, first.Lines)
	assert.Equal(t, int64(1), h.events(t, first.Order.ID, enums.EventOrderCreated))
}

func TestCreateDraftRejectsForeignBranch(t *testing.T) {
	h := newHarness(t)
	other := dbtest.NewFixture(t, h.conn, "OTHR")

	_, err := h.svc.CreateDraft(context.Background(), Scope{ShopID: h.fx.Shop.ID, BranchID: other.Branch.ID}, CreateDraftInput{})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestOrderTotalScenario(t *testing.T) {
	h := newHarness(t)
	a := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "100", OnHand: 10})
	b := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "B", Price: "50", OnHand: 10})
	h.coupon(t, nil)
	ctx := context.Background()

	snap := h.draft(t)
	snap = h.addLine(t, snap, a.ID, 1)
	requireTotalIdentity(t, snap.Order)
	snap = h.addLine(t, snap, b.ID, 1)
	requireTotalIdentity(t, snap.Order)

	snap, err := h.svc.SetCharges(ctx, h.scope, SetChargesInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		ShippingFee:     decimal.NewFromInt(10),
		Tax:             decimal.Zero,
	})
	require.NoError(t, err)
	requireTotalIdentity(t, snap.Order)

	snap, err = h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		Code:            "save10",
	})
	require.NoError(t, err)

	requireDecimal(t, "150", snap.Order.SubTotal)
	requireDecimal(t, "15", snap.Order.Discount)
	requireDecimal(t, "10", snap.Order.ShippingFee)
	requireDecimal(t, "145", snap.Order.TotalAmount)
	requireTotalIdentity(t, snap.Order)
	assert.Equal(t, int64(5), snap.Order.Version)
	require.Len(t, snap.Coupons, 1)
	requireDecimal(t, "15", snap.Coupons[0].DiscountAmount)
	requireDecimal(t, "145", snap.BalanceDue)

	assert.Equal(t, 1, h.fx.Inventory(t, a.ID).Allocated)
	assert.Equal(t, 1, h.fx.Inventory(t, b.ID).Allocated)

	again, err := h.svc.Get(ctx, h.scope, snap.Order.ID)
	require.NoError(t, err)
	requireDecimal(t, "145", again.Order.TotalAmount)
	assert.Equal(t, snap.Order.Version, again.Order.Version)
}

func TestRecomputationIsIdempotent(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "19.99", OnHand: 10})
	h.coupon(t, func(c *models.Coupon) { c.Value = decimal.RequireFromString("12.5") })
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 3)
	snap, err := h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.NoError(t, err)

	charges := SetChargesInput{
		OrderID:     snap.Order.ID,
		ShippingFee: decimal.RequireFromString("4.50"),
		Tax:         decimal.RequireFromString("1.25"),
	}
	charges.ExpectedVersion = snap.Order.Version
	first, err := h.svc.SetCharges(ctx, h.scope, charges)
	require.NoError(t, err)
	charges.ExpectedVersion = first.Order.Version
	second, err := h.svc.SetCharges(ctx, h.scope, charges)
	require.NoError(t, err)

	// 59.97 - 7.49625 + 4.50 + 1.25 = 58.22375 -> 58.22
	requireDecimal(t, "59.97", second.Order.SubTotal)
	requireDecimal(t, "7.5", second.Order.Discount)
	requireDecimal(t, "58.22", second.Order.TotalAmount)
	assert.True(t, first.Order.TotalAmount.Equal(second.Order.TotalAmount))
	assert.True(t, first.Order.Discount.Equal(second.Order.Discount))
	assert.Equal(t, first.Order.Version+1, second.Order.Version)
}

func TestAddLineRejectsNonPositiveQty(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	snap := h.draft(t)

	for _, qty := range []int{0, -1} {
		_, err := h.svc.AddLine(context.Background(), h.scope, AddLineInput{
			OrderID:         snap.Order.ID,
			ExpectedVersion: snap.Order.Version,
			VariantID:       v.ID,
			Qty:             qty,
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "qty %d", qty)
	}

	after, err := h.svc.Get(context.Background(), h.scope, snap.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), after.Order.Version)
	assert.Equal(t, 0, h.fx.Inventory(t, v.ID).Allocated)
}

func TestAddLineMergesSameVariant(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "12.50", OnHand: 10})

	snap := h.addLine(t, h.draft(t), v.ID, 2)
	snap = h.addLine(t, snap, v.ID, 3)

	require.Len(t, snap.Lines, 1)
	line := snap.Lines[0]
	assert.Equal(t, 5, line.Qty)
	assert.Equal(t, int64(2), line.Version)
	requireDecimal(t, "62.5", line.Amount)
	requireDecimal(t, "62.5", snap.Order.TotalAmount)
	assert.Equal(t, 5, h.fx.Inventory(t, v.ID).Allocated)
}

func TestAddLineInsufficientStockRollsBack(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 5})

	snap := h.addLine(t, h.draft(t), v.ID, 3)

	_, err := h.svc.AddLine(context.Background(), h.scope, AddLineInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		VariantID:       v.ID,
		Qty:             3,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, details["available"])
	assert.Equal(t, 1, details["shortfall"])

	after, err := h.svc.Get(context.Background(), h.scope, snap.Order.ID)
	require.NoError(t, err)
	require.Len(t, after.Lines, 1)
	assert.Equal(t, 3, after.Lines[0].Qty)
	assert.Equal(t, snap.Order.Version, after.Order.Version)

	inv := h.fx.Inventory(t, v.ID)
	assert.Equal(t, 3, inv.Allocated)
	assert.LessOrEqual(t, inv.Allocated, inv.OnHand)
}

func TestStaleVersionIsRejected(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	snap := h.draft(t)
	h.addLine(t, snap, v.ID, 1)

	_, err := h.svc.AddLine(context.Background(), h.scope, AddLineInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		VariantID:       v.ID,
		Qty:             1,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict))
	assert.Equal(t, 1, h.fx.Inventory(t, v.ID).Allocated)
}

func TestConcurrentAddLineWithSameVersion(t *testing.T) {
	h := newHarness(t)
	a := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	b := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "B", Price: "20", OnHand: 10})
	snap := h.draft(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, variantID := range []uuid.UUID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, variantID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = h.svc.AddLine(context.Background(), h.scope, AddLineInput{
				OrderID:         snap.Order.ID,
				ExpectedVersion: snap.Order.Version,
				VariantID:       variantID,
				Qty:             2,
			})
		}(i, variantID)
	}
	wg.Wait()

	conflicts, successes := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	after, err := h.svc.Get(context.Background(), h.scope, snap.Order.ID)
	require.NoError(t, err)
	require.Len(t, after.Lines, 1)
	assert.Equal(t, int64(2), after.Order.Version)
	assert.Equal(t, 2, h.fx.Inventory(t, a.ID).Allocated+h.fx.Inventory(t, b.ID).Allocated)
}

func TestConfirmWithoutLinesIsInvalidTransition(t *testing.T) {
	h := newHarness(t)
	snap := h.draft(t)

	_, err := h.svc.Confirm(context.Background(), h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: 1})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))
}

func TestCancelRestoresAllocated(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "40", OnHand: 10})
	coupon := h.coupon(t, func(c *models.Coupon) {
		limit := 5
		c.MaxRedemptions = &limit
	})
	ctx := context.Background()

	before := h.fx.Inventory(t, v.ID).Allocated
	snap := h.addLine(t, h.draft(t), v.ID, 3)
	snap, err := h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.NoError(t, err)
	snap, err = h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, snap.Order.Status)
	require.NotNil(t, snap.Order.ConfirmedAt)
	assert.Equal(t, 3, h.fx.Inventory(t, v.ID).Allocated)

	snap, err = h.svc.Cancel(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Reason: "customer left"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, snap.Order.Status)
	assert.NotNil(t, snap.Order.CancelledAt)
	assert.Equal(t, before, h.fx.Inventory(t, v.ID).Allocated)

	var stored models.Coupon
	require.NoError(t, h.conn.Where("id = ?", coupon.ID).Take(&stored).Error)
	assert.Equal(t, 0, stored.RedeemedCount)
	assert.Equal(t, int64(1), h.events(t, snap.Order.ID, enums.EventOrderCancelled))

	_, err = h.svc.Cancel(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))
}

func TestRemoveLineDropsCouponBelowMinimum(t *testing.T) {
	h := newHarness(t)
	a := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "100", OnHand: 10})
	b := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "B", Price: "50", OnHand: 10})
	coupon := h.coupon(t, func(c *models.Coupon) {
		minimum := decimal.NewFromInt(120)
		c.MinOrderAmount = &minimum
	})
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), a.ID, 1)
	snap = h.addLine(t, snap, b.ID, 1)
	snap, err := h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.NoError(t, err)
	requireDecimal(t, "135", snap.Order.TotalAmount)

	var lineB uuid.UUID
	for _, line := range snap.Lines {
		if line.VariantID == b.ID {
			lineB = line.ID
		}
	}
	snap, err = h.svc.RemoveLine(ctx, h.scope, RemoveLineInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, LineID: lineB})
	require.NoError(t, err)

	assert.Empty(t, snap.Coupons)
	requireDecimal(t, "0", snap.Order.Discount)
	requireDecimal(t, "100", snap.Order.TotalAmount)
	assert.Equal(t, 0, h.fx.Inventory(t, b.ID).Allocated)

	var stored models.Coupon
	require.NoError(t, h.conn.Where("id = ?", coupon.ID).Take(&stored).Error)
	assert.Equal(t, 0, stored.RedeemedCount)
}

func TestApplyCouponTwiceIsIneligible(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "100", OnHand: 10})
	h.coupon(t, nil)
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 1)
	snap, err := h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.NoError(t, err)

	_, err = h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeCouponIneligible))
	assert.Equal(t, coupons.ReasonAlreadyApplied, pkgerrors.Reason(err))
}

func TestApplyCouponRejectedOncePaymentRecorded(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "100", OnHand: 10})
	coupon := h.coupon(t, func(c *models.Coupon) {
		c.Code = "TENOFF"
		c.Type = enums.CouponTypeOrderAmount
		c.Value = decimal.NewFromInt(10)
	})
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 1)
	snap, err := h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)
	require.NoError(t, h.conn.Create(&models.Payment{
		ID:         uuid.New(),
		OrderID:    snap.Order.ID,
		ShopID:     h.fx.Shop.ID,
		BranchID:   h.fx.Branch.ID,
		MethodCode: "CASH",
		PaidAmount: decimal.NewFromInt(95),
		PaidAt:     fixedNow,
	}).Error)

	_, err = h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "TENOFF"})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))

	after, err := h.svc.Get(ctx, h.scope, snap.Order.ID)
	require.NoError(t, err)
	requireDecimal(t, "100", after.Order.TotalAmount)
	assert.Empty(t, after.Coupons)

	var stored models.Coupon
	require.NoError(t, h.conn.Where("id = ?", coupon.ID).Take(&stored).Error)
	assert.Equal(t, 0, stored.RedeemedCount)
}

func TestApplyCouponOnUnpaidConfirmedOrder(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "100", OnHand: 10})
	h.coupon(t, nil)
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 1)
	snap, err := h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)

	snap, err = h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "SAVE10"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, snap.Order.Status)
	requireDecimal(t, "90", snap.Order.TotalAmount)
}

func TestConfirmSettlesZeroTotalOrder(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "40", OnHand: 10})
	h.coupon(t, func(c *models.Coupon) {
		c.Code = "FREE"
		c.Type = enums.CouponTypeOrderAmount
		c.Value = decimal.NewFromInt(40)
	})
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 1)
	snap, err := h.svc.ApplyCoupon(ctx, h.scope, ApplyCouponInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, Code: "FREE"})
	require.NoError(t, err)
	requireDecimal(t, "0", snap.Order.TotalAmount)

	snap, err = h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, snap.Order.Status)
	assert.NotNil(t, snap.Order.ConfirmedAt)
	assert.NotNil(t, snap.Order.PaidAt)
	assert.Equal(t, 1, h.fx.Inventory(t, v.ID).Allocated)
	assert.Equal(t, int64(1), h.events(t, snap.Order.ID, enums.EventOrderConfirmed))
	assert.Equal(t, int64(1), h.events(t, snap.Order.ID, enums.EventOrderPaid))
	requireTotalIdentity(t, snap.Order)
}

func TestSerialTrackedLineLifecycle(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "PHONE", Price: "500", TrackSerial: true, Serials: []string{"SN-1", "SN-2"}})
	ctx := context.Background()

	unserialised := h.addLine(t, h.draft(t), v.ID, 1)
	_, err := h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: unserialised.Order.ID, ExpectedVersion: unserialised.Order.Version})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	snap := h.draft(t)
	snap, err = h.svc.AddLine(ctx, h.scope, AddLineInput{
		OrderID:         snap.Order.ID,
		ExpectedVersion: snap.Order.Version,
		VariantID:       v.ID,
		Qty:             1,
		SerialNos:       []string{"SN-2"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"SN-2"}, snap.Lines[0].SerialNos)

	snap, err = h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)

	require.NoError(t, h.conn.Model(&models.Order{}).
		Where("id = ?", snap.Order.ID).
		Updates(map[string]any{"status": enums.OrderStatusPaid, "version": snap.Order.Version + 1}).Error)

	snap, err = h.svc.Fulfill(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version + 1})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusFulfilled, snap.Order.Status)

	inv := h.fx.Inventory(t, v.ID)
	assert.Equal(t, 1, inv.OnHand)
	assert.Equal(t, 1, inv.Allocated)

	var serial models.InventorySerial
	require.NoError(t, h.conn.Where("serial_no = ?", "SN-2").Take(&serial).Error)
	assert.Equal(t, enums.SerialStatusSold, serial.Status)

	snap, err = h.svc.Complete(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, snap.Order.Status)
	assert.NotNil(t, snap.Order.CompletedAt)
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	ctx := context.Background()

	snap := h.addLine(t, h.draft(t), v.ID, 1)
	_, err := h.svc.Complete(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))

	snap, err = h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	require.NoError(t, err)

	_, err = h.svc.Fulfill(ctx, h.scope, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))

	_, err = h.svc.AddLine(ctx, h.scope, AddLineInput{OrderID: snap.Order.ID, ExpectedVersion: snap.Order.Version, VariantID: v.ID, Qty: 1})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidStateTransition))
}

func TestScopeIsolation(t *testing.T) {
	h := newHarness(t)
	snap := h.draft(t)
	other := dbtest.NewFixture(t, h.conn, "OTHR")

	_, err := h.svc.Get(context.Background(), Scope{ShopID: other.Shop.ID, BranchID: other.Branch.ID}, snap.Order.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	branch := models.Branch{ID: uuid.New(), ShopID: h.fx.Shop.ID, Name: "second", IsActive: true}
	require.NoError(t, h.conn.Create(&branch).Error)
	_, err = h.svc.Confirm(context.Background(), Scope{ShopID: h.fx.Shop.ID, BranchID: branch.ID}, VersionedInput{OrderID: snap.Order.ID, ExpectedVersion: 1})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestExpireCancelsStaleDraft(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	ctx := context.Background()

	stale := h.addLine(t, h.draft(t), v.ID, 4)
	fresh := h.draft(t)
	require.NoError(t, h.conn.Model(&models.Order{}).
		Where("id = ?", stale.Order.ID).
		UpdateColumn("updated_at", fixedNow.Add(-48*time.Hour)).Error)

	drafts, err := h.svc.StaleDrafts(ctx, fixedNow.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, stale.Order.ID, drafts[0].ID)
	assert.NotEqual(t, fresh.Order.ID, drafts[0].ID)

	require.NoError(t, h.svc.Expire(ctx, drafts[0]))

	after, err := h.svc.Get(ctx, h.scope, stale.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, after.Order.Status)
	assert.Equal(t, 0, h.fx.Inventory(t, v.ID).Allocated)
	assert.Equal(t, int64(1), h.events(t, stale.Order.ID, enums.EventOrderExpired))

	err = h.svc.Expire(ctx, drafts[0])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict))
}

func TestListPaginatesAndFilters(t *testing.T) {
	h := newHarness(t)
	v := h.fx.AddVariant(t, dbtest.VariantSpec{SKU: "A", Price: "10", OnHand: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.draft(t)
	}
	withLine := h.addLine(t, h.draft(t), v.ID, 2)
	_, err := h.svc.Confirm(ctx, h.scope, VersionedInput{OrderID: withLine.Order.ID, ExpectedVersion: withLine.Order.Version})
	require.NoError(t, err)

	page, err := h.svc.List(ctx, h.scope, pagination.Params{Limit: 3}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 3)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.svc.List(ctx, h.scope, pagination.Params{Limit: 3, Cursor: page.NextCursor}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)

	confirmed := enums.OrderStatusConfirmed
	filtered, err := h.svc.List(ctx, h.scope, pagination.Params{}, ListFilters{Status: &confirmed})
	require.NoError(t, err)
	require.Len(t, filtered.Orders, 1)
	assert.Equal(t, withLine.Order.ID, filtered.Orders[0].ID)
	assert.Equal(t, 2, filtered.Orders[0].TotalItems)

	_, err = h.svc.List(ctx, h.scope, pagination.Params{Cursor: "not-a-cursor"}, ListFilters{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}
