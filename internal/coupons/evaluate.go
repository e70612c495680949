package coupons

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// Reason codes carried by CouponIneligible errors.
const (
	ReasonInactive            = "inactive"
	ReasonNotStarted          = "not-started"
	ReasonExpired             = "expired"
	ReasonBelowMinimum        = "below-minimum"
	ReasonScopeMismatch       = "scope-mismatch"
	ReasonCapExceeded         = "cap-exceeded"
	ReasonCustomerCapExceeded = "customer-cap-exceeded"
	ReasonCustomerRequired    = "customer-required"
	ReasonAlreadyApplied      = "already-applied"
)

// Definition is a coupon with its variant scope loaded.
type Definition struct {
	models.Coupon
	Scope map[uuid.UUID]struct{}
}

// InScope reports whether variantID qualifies for a scoped coupon.
func (d Definition) InScope(variantID uuid.UUID) bool {
	_, ok := d.Scope[variantID]
	return ok
}

// Snapshot is the order state a coupon is evaluated against.
type Snapshot struct {
	OrderID    uuid.UUID
	CustomerID *uuid.UUID
	Lines      []pricing.Line
}

// SubTotal is the unrounded sum of the snapshot's line amounts.
func (s Snapshot) SubTotal() decimal.Decimal {
	return pricing.SubTotal(s.Lines)
}

// Evaluate checks eligibility of def against snap at now and returns the
// discount contribution, unrounded. Cap counters are checked against the
// loaded values only; Redeem re-checks them atomically.
func Evaluate(def Definition, snap Snapshot, now time.Time) (decimal.Decimal, error) {
	if !def.IsActive {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonInactive, "coupon is not active")
	}
	if now.Before(def.StartAt) {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonNotStarted, "coupon is not yet valid")
	}
	if !now.Before(def.EndAt) {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonExpired, "coupon has expired")
	}
	if def.MaxRedemptions != nil && def.RedeemedCount >= *def.MaxRedemptions {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonCapExceeded, "coupon redemption limit reached")
	}
	if def.PerCustomerLimit != nil && snap.CustomerID == nil {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonCustomerRequired, "coupon requires a customer on the order")
	}
	return Amount(def, snap)
}

// Amount re-checks only the order-dependent rules (minimum and scope) and
// computes the contribution. Coupons already redeemed on an order are
// re-priced with it when lines change.
func Amount(def Definition, snap Snapshot) (decimal.Decimal, error) {
	subTotal := snap.SubTotal()
	if def.MinOrderAmount != nil && subTotal.LessThan(*def.MinOrderAmount) {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonBelowMinimum, "order is below the coupon minimum").
			WithDetails(map[string]any{
				"reason":           ReasonBelowMinimum,
				"min_order_amount": def.MinOrderAmount.String(),
				"sub_total":        pricing.Round(subTotal).String(),
			})
	}

	switch def.Type {
	case enums.CouponTypeOrderPercent:
		return pricing.Percent(subTotal, def.Value), nil
	case enums.CouponTypeOrderAmount:
		return decimal.Min(def.Value, subTotal), nil
	case enums.CouponTypeItemPercent:
		qualifying, err := scopedLines(def, snap)
		if err != nil {
			return decimal.Zero, err
		}
		return pricing.Percent(pricing.SubTotal(qualifying), def.Value), nil
	case enums.CouponTypeBuyXGetY:
		qualifying, err := scopedLines(def, snap)
		if err != nil {
			return decimal.Zero, err
		}
		return buyXGetY(def, qualifying)
	default:
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "unsupported coupon type").
			WithDetails(map[string]any{"type": string(def.Type)})
	}
}

func scopedLines(def Definition, snap Snapshot) ([]pricing.Line, error) {
	var out []pricing.Line
	for _, line := range snap.Lines {
		if def.InScope(line.VariantID) {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, pkgerrors.CouponIneligible(ReasonScopeMismatch, "no order line qualifies for this coupon")
	}
	return out, nil
}

// buyXGetY expands qualifying lines into units, most expensive first, and
// makes the Y cheapest units of every complete X+Y group free.
func buyXGetY(def Definition, lines []pricing.Line) (decimal.Decimal, error) {
	if def.BuyQty == nil || def.GetQty == nil || *def.BuyQty <= 0 || *def.GetQty <= 0 {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "buy x get y coupon needs positive buy and get quantities")
	}
	buy, get := *def.BuyQty, *def.GetQty

	var units []decimal.Decimal
	for _, line := range lines {
		unit := pricing.LineAmount(line.UnitPrice, line.Qty, line.LineDiscount).Div(decimal.NewFromInt(int64(line.Qty)))
		for i := 0; i < line.Qty; i++ {
			units = append(units, unit)
		}
	}
	if len(units) < buy+get {
		return decimal.Zero, pkgerrors.CouponIneligible(ReasonScopeMismatch, "not enough qualifying units").
			WithDetails(map[string]any{
				"reason":   ReasonScopeMismatch,
				"required": buy + get,
				"units":    len(units),
			})
	}

	sort.SliceStable(units, func(i, j int) bool { return units[i].GreaterThan(units[j]) })

	group := buy + get
	discount := decimal.Zero
	for start := 0; start+group <= len(units); start += group {
		for _, free := range units[start+buy : start+group] {
			discount = discount.Add(free)
		}
	}
	return discount, nil
}
