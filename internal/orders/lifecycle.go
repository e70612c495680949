package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

const expiredReason = "draft expired"

func (s *service) Confirm(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error) {
	return s.transitionOp(ctx, scope, input, enums.OrderStatusConfirmed, "confirm", func(b bound, order *models.Order) error {
		lines, err := b.repo.ListLines(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "an order needs at least one line to be confirmed").
				WithDetails(map[string]any{"from": string(order.Status), "to": string(enums.OrderStatusConfirmed)})
		}

		variantIDs := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			variantIDs = append(variantIDs, line.VariantID)
		}
		variants, err := b.catalog.ResolveMany(ctx, order.ShopID, variantIDs)
		if err != nil {
			return err
		}
		for _, line := range lines {
			variant, ok := variants[line.VariantID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "variant is no longer sellable").
					WithDetails(map[string]any{"variant_id": line.VariantID.String()})
			}
			if !variant.TrackSerial {
				continue
			}
			serials, err := b.ledger.LineSerials(ctx, line.ID)
			if err != nil {
				return err
			}
			if len(serials) != line.Qty {
				return pkgerrors.New(pkgerrors.CodeValidation, "serial-tracked line needs one serial number per unit").
					WithDetails(map[string]any{
						"order_line_id": line.ID.String(),
						"qty":           line.Qty,
						"serials":       len(serials),
					})
			}
		}
		return nil
	})
}

func (s *service) Cancel(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error) {
	return s.transitionOp(ctx, scope, input, enums.OrderStatusCancelled, "cancel", func(b bound, order *models.Order) error {
		return s.releaseOrder(ctx, b, order)
	})
}

// Fulfill commits the sale once the external fulfillment event arrives:
// reserved stock leaves on_hand and serial units become SOLD.
func (s *service) Fulfill(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error) {
	return s.transitionOp(ctx, scope, input, enums.OrderStatusFulfilled, "fulfill", func(b bound, order *models.Order) error {
		lines, err := b.repo.ListLines(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
		}
		for _, line := range lines {
			key := ledger.Key{ShopID: order.ShopID, BranchID: order.BranchID, VariantID: line.VariantID}
			if err := b.ledger.CommitSale(ctx, key, line.Qty, lineRef(order, line.ID)); err != nil {
				return err
			}
			serials, err := b.ledger.LineSerials(ctx, line.ID)
			if err != nil {
				return err
			}
			if len(serials) == 0 {
				continue
			}
			if err := b.ledger.SellSerials(ctx, line.ID, line.Qty); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) Complete(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error) {
	return s.transitionOp(ctx, scope, input, enums.OrderStatusCompleted, "complete", nil)
}

func (s *service) StaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	rows, err := s.repo.FindStaleDrafts(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale drafts")
	}
	return rows, nil
}

// Expire cancels an abandoned DRAFT with the version it was read at, so a
// draft touched since the sweep started is left alone.
func (s *service) Expire(ctx context.Context, order models.Order) error {
	scope := Scope{ShopID: order.ShopID, BranchID: order.BranchID}
	input := VersionedInput{OrderID: order.ID, ExpectedVersion: order.Version, Reason: expiredReason}
	_, err := s.transition(ctx, scope, input, enums.OrderStatusCancelled, "expire", enums.EventOrderExpired, func(b bound, order *models.Order) error {
		if order.Status != enums.OrderStatusDraft {
			return invalidState(order.Status, "expire")
		}
		return s.releaseOrder(ctx, b, order)
	})
	return err
}

// releaseOrder returns all stock, serials and coupon caps held by order.
// Applied coupons stay attached as a record of the priced order.
func (s *service) releaseOrder(ctx context.Context, b bound, order *models.Order) error {
	lines, err := b.repo.ListLines(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
	}
	for _, line := range lines {
		if err := s.releaseLine(ctx, b, order, line); err != nil {
			return err
		}
	}
	return b.coupons.Unredeem(ctx, order.ID, nil)
}

var transitionEvents = map[enums.OrderStatus]enums.OutboxEventType{
	enums.OrderStatusConfirmed: enums.EventOrderConfirmed,
	enums.OrderStatusCancelled: enums.EventOrderCancelled,
	enums.OrderStatusFulfilled: enums.EventOrderFulfilled,
	enums.OrderStatusCompleted: enums.EventOrderCompleted,
}

func (s *service) transitionOp(ctx context.Context, scope Scope, input VersionedInput, to enums.OrderStatus, operation string, guard func(b bound, order *models.Order) error) (*Snapshot, error) {
	return s.transition(ctx, scope, input, to, operation, transitionEvents[to], guard)
}

// transition moves the order to the next status. guard runs after the
// edge is validated and before the header write; its side effects share
// the transaction.
func (s *service) transition(ctx context.Context, scope Scope, input VersionedInput, to enums.OrderStatus, operation string, eventType enums.OutboxEventType, guard func(b bound, order *models.Order) error) (*Snapshot, error) {
	if err := validateVersioned(scope, input.OrderID, input.ExpectedVersion); err != nil {
		return nil, err
	}

	var (
		snap *Snapshot
		from enums.OrderStatus
	)
	err := s.inTx(ctx, operation, func(b bound) error {
		order, err := s.loadForMutation(ctx, b, scope, input.OrderID, input.ExpectedVersion)
		if err != nil {
			return err
		}
		from = order.Status
		if !order.Status.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "order status transition not allowed").
				WithDetails(map[string]any{"from": string(order.Status), "to": string(to), "operation": operation})
		}
		if guard != nil {
			if err := guard(b, order); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		updates := map[string]any{"status": to}
		if column := timestampColumn(to); column != "" {
			updates[column] = now
		}
		order, err = s.writeHeader(ctx, b, order, input.ExpectedVersion, updates)
		if err != nil {
			return err
		}

		if err := s.emit(ctx, b, order, eventType, payloads.OrderStatusEvent{
			OrderID:    order.ID,
			ShopID:     order.ShopID,
			BranchID:   order.BranchID,
			OrderNo:    order.OrderNo,
			From:       from,
			Status:     order.Status,
			Total:      order.TotalAmount,
			OccurredAt: now,
			Reason:     input.Reason,
		}); err != nil {
			return err
		}

		// nothing to collect: a zero total is settled by the confirmation itself
		if to == enums.OrderStatusConfirmed && order.TotalAmount.IsZero() {
			if order, err = s.settleZeroTotal(ctx, b, order, now); err != nil {
				return err
			}
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	if to != snap.Order.Status {
		s.metrics.ObserveTransition(string(to), string(snap.Order.Status))
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": input.OrderID.String(),
		"shop_id":  scope.ShopID.String(),
		"from":     string(from),
		"to":       string(snap.Order.Status),
		"version":  snap.Order.Version,
	})
	s.logg.Info(logCtx, "order "+operation)
	return snap, nil
}

func (s *service) settleZeroTotal(ctx context.Context, b bound, order *models.Order, at time.Time) (*models.Order, error) {
	paid, err := s.writeHeader(ctx, b, order, order.Version, map[string]any{
		"status":  enums.OrderStatusPaid,
		"paid_at": at,
	})
	if err != nil {
		return nil, err
	}
	lines, err := b.repo.ListLines(ctx, paid.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
	}
	saleLines := make([]payloads.SaleLine, 0, len(lines))
	for _, line := range lines {
		saleLines = append(saleLines, payloads.SaleLine{
			LineID:    line.ID,
			VariantID: line.VariantID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice,
			Amount:    line.Amount,
		})
	}
	err = s.emit(ctx, b, paid, enums.EventOrderPaid, payloads.OrderPaidEvent{
		OrderID:     paid.ID,
		ShopID:      paid.ShopID,
		BranchID:    paid.BranchID,
		OrderNo:     paid.OrderNo,
		CustomerID:  paid.CustomerID,
		SalesUserID: paid.SalesUserID,
		OrderDate:   paid.OrderDate,
		SubTotal:    paid.SubTotal,
		Discount:    paid.Discount,
		ShippingFee: paid.ShippingFee,
		Tax:         paid.Tax,
		TotalAmount: paid.TotalAmount,
		PaidAmount:  decimal.Zero,
		PaidAt:      at,
		Lines:       saleLines,
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

func timestampColumn(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusConfirmed:
		return "confirmed_at"
	case enums.OrderStatusPaid:
		return "paid_at"
	case enums.OrderStatusFulfilled:
		return "fulfilled_at"
	case enums.OrderStatusCompleted:
		return "completed_at"
	case enums.OrderStatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}
