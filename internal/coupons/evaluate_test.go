package coupons

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

var (
	windowStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	midWindow   = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
)

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func intPtr(v int) *int { return &v }

func newDef(kind enums.CouponType, value string, scope ...uuid.UUID) Definition {
	def := Definition{
		Coupon: models.Coupon{
			ID:       uuid.New(),
			Code:     "SAVE",
			Type:     kind,
			Value:    dec(value),
			StartAt:  windowStart,
			EndAt:    windowEnd,
			IsActive: true,
		},
		Scope: map[uuid.UUID]struct{}{},
	}
	for _, id := range scope {
		def.Scope[id] = struct{}{}
	}
	return def
}

func line(variantID uuid.UUID, qty int, price string) pricing.Line {
	return pricing.Line{VariantID: variantID, Qty: qty, UnitPrice: dec(price)}
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	require.Truef(t, pkgerrors.Is(err, pkgerrors.CodeCouponIneligible), "expected coupon ineligible, got %v", err)
	require.Equal(t, reason, pkgerrors.Reason(err))
}

func TestEvaluateOrderPercent(t *testing.T) {
	snap := Snapshot{Lines: []pricing.Line{line(uuid.New(), 1, "100"), line(uuid.New(), 1, "50")}}
	got, err := Evaluate(newDef(enums.CouponTypeOrderPercent, "10"), snap, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("15")), "got %s", got)
}

func TestEvaluateOrderAmountCapsAtSubTotal(t *testing.T) {
	snap := Snapshot{Lines: []pricing.Line{line(uuid.New(), 2, "10")}}

	got, err := Evaluate(newDef(enums.CouponTypeOrderAmount, "5"), snap, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("5")))

	got, err = Evaluate(newDef(enums.CouponTypeOrderAmount, "50"), snap, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("20")))
}

func TestEvaluateItemPercentOnlyScopedLines(t *testing.T) {
	shirt, mug := uuid.New(), uuid.New()
	snap := Snapshot{Lines: []pricing.Line{line(shirt, 2, "40"), line(mug, 1, "12")}}

	got, err := Evaluate(newDef(enums.CouponTypeItemPercent, "25", shirt), snap, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("20")), "got %s", got)

	_, err = Evaluate(newDef(enums.CouponTypeItemPercent, "25", uuid.New()), snap, midWindow)
	requireReason(t, err, ReasonScopeMismatch)
}

func TestEvaluateBuyXGetY(t *testing.T) {
	a, b, c, other := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	def := newDef(enums.CouponTypeBuyXGetY, "0", a, b, c)
	def.BuyQty = intPtr(2)
	def.GetQty = intPtr(1)

	// units by price: 30 30 20 | 20 10 10, the cheapest of each group is free
	snap := Snapshot{Lines: []pricing.Line{
		line(a, 2, "30"),
		line(b, 2, "20"),
		line(c, 2, "10"),
		line(other, 5, "99"),
	}}

	got, err := Evaluate(def, snap, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("30")), "got %s", got)
}

func TestEvaluateBuyXGetYIncompleteGroup(t *testing.T) {
	a := uuid.New()
	def := newDef(enums.CouponTypeBuyXGetY, "0", a)
	def.BuyQty = intPtr(3)
	def.GetQty = intPtr(1)

	_, err := Evaluate(def, Snapshot{Lines: []pricing.Line{line(a, 3, "5")}}, midWindow)
	requireReason(t, err, ReasonScopeMismatch)

	got, err := Evaluate(def, Snapshot{Lines: []pricing.Line{line(a, 5, "5")}}, midWindow)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("5")))
}

func TestEvaluateBuyXGetYRequiresQuantities(t *testing.T) {
	a := uuid.New()
	def := newDef(enums.CouponTypeBuyXGetY, "0", a)
	_, err := Evaluate(def, Snapshot{Lines: []pricing.Line{line(a, 4, "5")}}, midWindow)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestEvaluateWindowIsHalfOpen(t *testing.T) {
	def := newDef(enums.CouponTypeOrderPercent, "10")
	snap := Snapshot{Lines: []pricing.Line{line(uuid.New(), 1, "10")}}

	_, err := Evaluate(def, snap, windowStart)
	require.NoError(t, err)

	_, err = Evaluate(def, snap, windowStart.Add(-time.Second))
	requireReason(t, err, ReasonNotStarted)

	_, err = Evaluate(def, snap, windowEnd)
	requireReason(t, err, ReasonExpired)
}

func TestEvaluateBelowMinimum(t *testing.T) {
	def := newDef(enums.CouponTypeOrderPercent, "10")
	minimum := dec("100")
	def.MinOrderAmount = &minimum

	_, err := Evaluate(def, Snapshot{Lines: []pricing.Line{line(uuid.New(), 1, "99.99")}}, midWindow)
	requireReason(t, err, ReasonBelowMinimum)

	_, err = Evaluate(def, Snapshot{Lines: []pricing.Line{line(uuid.New(), 1, "100")}}, midWindow)
	require.NoError(t, err)
}

func TestEvaluateCapsAndCustomer(t *testing.T) {
	snap := Snapshot{Lines: []pricing.Line{line(uuid.New(), 1, "10")}}

	capped := newDef(enums.CouponTypeOrderPercent, "10")
	capped.MaxRedemptions = intPtr(2)
	capped.RedeemedCount = 2
	_, err := Evaluate(capped, snap, midWindow)
	requireReason(t, err, ReasonCapExceeded)

	perCustomer := newDef(enums.CouponTypeOrderPercent, "10")
	perCustomer.PerCustomerLimit = intPtr(1)
	_, err = Evaluate(perCustomer, snap, midWindow)
	requireReason(t, err, ReasonCustomerRequired)

	inactive := newDef(enums.CouponTypeOrderPercent, "10")
	inactive.IsActive = false
	_, err = Evaluate(inactive, snap, midWindow)
	requireReason(t, err, ReasonInactive)
}

func TestAmountIgnoresWindowAndCaps(t *testing.T) {
	def := newDef(enums.CouponTypeOrderPercent, "10")
	def.MaxRedemptions = intPtr(1)
	def.RedeemedCount = 1
	snap := Snapshot{Lines: []pricing.Line{line(uuid.New(), 2, "50")}}

	_, err := Evaluate(def, snap, windowEnd)
	requireReason(t, err, ReasonExpired)

	got, err := Amount(def, snap)
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("10")))

	min := dec("500")
	def.MinOrderAmount = &min
	_, err = Amount(def, snap)
	requireReason(t, err, ReasonBelowMinimum)
}
