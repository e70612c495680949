package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/internal/coupons"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
)

// repriceAndWrite recomputes the totals from the persisted lines, applied
// coupons and charges, then writes them with the version bump. Stored
// totals are never trusted as input.
func (s *service) repriceAndWrite(ctx context.Context, b bound, order *models.Order, expected int64, extra map[string]any) (*models.Order, error) {
	totals, err := s.reprice(ctx, b, order)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"sub_total":    totals.SubTotal,
		"discount":     totals.Discount,
		"shipping_fee": totals.ShippingFee,
		"tax":          totals.Tax,
		"total_amount": totals.Total,
	}
	for k, v := range extra {
		updates[k] = v
	}
	return s.writeHeader(ctx, b, order, expected, updates)
}

// reprice re-evaluates every applied coupon against the current lines.
// Coupons whose minimum or scope no longer hold are detached and their
// caps given back.
func (s *service) reprice(ctx context.Context, b bound, order *models.Order) (pricing.Totals, error) {
	lines, err := b.repo.ListLines(ctx, order.ID)
	if err != nil {
		return pricing.Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
	}
	snap := couponSnapshot(order, lines)

	links, err := b.coupons.Applied(ctx, order.ID)
	if err != nil {
		return pricing.Totals{}, err
	}
	contributions := make([]decimal.Decimal, 0, len(links))
	for _, link := range links {
		def, err := b.coupons.Load(ctx, link.CouponID)
		if err != nil {
			return pricing.Totals{}, err
		}
		amount, err := coupons.Amount(*def, snap)
		if err != nil {
			if !pkgerrors.Is(err, pkgerrors.CodeCouponIneligible) {
				return pricing.Totals{}, err
			}
			if err := b.coupons.Detach(ctx, order.ID, link.CouponID); err != nil {
				return pricing.Totals{}, err
			}
			couponID := link.CouponID
			if err := b.coupons.Unredeem(ctx, order.ID, &couponID); err != nil {
				return pricing.Totals{}, err
			}
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":  order.ID.String(),
				"coupon_id": link.CouponID.String(),
				"reason":    pkgerrors.Reason(err),
			})
			s.logg.Info(logCtx, "coupon no longer applies; removed from order")
			continue
		}
		if rounded := pricing.Round(amount); !rounded.Equal(link.DiscountAmount) {
			if err := b.coupons.UpdateAmount(ctx, order.ID, link.CouponID, rounded); err != nil {
				return pricing.Totals{}, err
			}
		}
		contributions = append(contributions, amount)
	}

	return pricing.Compute(pricing.Input{
		Lines:           snap.Lines,
		CouponDiscounts: contributions,
		ShippingFee:     order.ShippingFee,
		Tax:             order.Tax,
	})
}

func couponSnapshot(order *models.Order, lines []models.OrderLine) coupons.Snapshot {
	priced := make([]pricing.Line, 0, len(lines))
	for _, line := range lines {
		priced = append(priced, pricing.Line{
			LineID:       line.ID,
			VariantID:    line.VariantID,
			Qty:          line.Qty,
			UnitPrice:    line.UnitPrice,
			LineDiscount: line.LineDiscount,
		})
	}
	return coupons.Snapshot{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Lines:      priced,
	}
}

// releaseLine gives back the stock and serial units held by line.
func (s *service) releaseLine(ctx context.Context, b bound, order *models.Order, line models.OrderLine) error {
	if err := b.ledger.ReleaseSerials(ctx, line.ID); err != nil {
		return err
	}
	key := ledger.Key{ShopID: order.ShopID, BranchID: order.BranchID, VariantID: line.VariantID}
	return b.ledger.Release(ctx, key, line.Qty, lineRef(order, line.ID))
}
