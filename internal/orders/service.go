package orders

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/catalog"
	"github.com/angelmondragon/retail-backoffice/internal/coupons"
	"github.com/angelmondragon/retail-backoffice/internal/ledger"
	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the order orchestrator. Every operation runs in one
// transaction and every mutation is guarded by the order version.
type Service interface {
	CreateDraft(ctx context.Context, scope Scope, input CreateDraftInput) (*Snapshot, error)
	AddLine(ctx context.Context, scope Scope, input AddLineInput) (*Snapshot, error)
	RemoveLine(ctx context.Context, scope Scope, input RemoveLineInput) (*Snapshot, error)
	SetCharges(ctx context.Context, scope Scope, input SetChargesInput) (*Snapshot, error)
	ApplyCoupon(ctx context.Context, scope Scope, input ApplyCouponInput) (*Snapshot, error)
	Confirm(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error)
	Cancel(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error)
	Fulfill(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error)
	Complete(ctx context.Context, scope Scope, input VersionedInput) (*Snapshot, error)
	Get(ctx context.Context, scope Scope, orderID uuid.UUID) (*Snapshot, error)
	List(ctx context.Context, scope Scope, params pagination.Params, filters ListFilters) (*List, error)

	StaleDrafts(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	Expire(ctx context.Context, order models.Order) error
}

// ServiceParams carries the collaborators of the orchestrator. Locker,
// Logger, Metrics, Location and Now are optional.
type ServiceParams struct {
	Repo     Repository
	Catalog  catalog.Resolver
	Ledger   ledger.Service
	Coupons  coupons.Service
	Locker   coupons.Locker
	Outbox   outboxPublisher
	TxRunner txRunner
	Logger   *logger.Logger
	Metrics  *metrics.OrderMetrics
	Location *time.Location
	Now      func() time.Time
}

type service struct {
	repo    Repository
	catalog catalog.Resolver
	ledger  ledger.Service
	coupons coupons.Service
	locker  coupons.Locker
	outbox  outboxPublisher
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
	loc     *time.Location
	now     func() time.Time
}

// NewService builds the order orchestrator with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}

	svc := &service{
		repo:    params.Repo,
		catalog: params.Catalog,
		ledger:  params.Ledger,
		coupons: params.Coupons,
		locker:  params.Locker,
		outbox:  params.Outbox,
		tx:      params.TxRunner,
		logg:    params.Logger,
		metrics: params.Metrics,
		loc:     params.Location,
		now:     params.Now,
	}
	if svc.locker == nil {
		svc.locker = coupons.NoopLocker()
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// bound is the set of collaborators joined to one transaction.
type bound struct {
	tx      *gorm.DB
	repo    Repository
	catalog catalog.Resolver
	ledger  ledger.Service
	coupons coupons.Service
}

func (s *service) bind(tx *gorm.DB) bound {
	return bound{
		tx:      tx,
		repo:    s.repo.WithTx(tx),
		catalog: s.catalog.WithTx(tx),
		ledger:  s.ledger.WithTx(tx),
		coupons: s.coupons.WithTx(tx),
	}
}

// inTx runs fn in a transaction and counts the rejections worth alerting on.
func (s *service) inTx(ctx context.Context, operation string, fn func(b bound) error) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.bind(tx))
	})
	switch {
	case err == nil:
	case pkgerrors.Is(err, pkgerrors.CodeConcurrencyConflict):
		s.metrics.IncConflict(operation)
	case pkgerrors.Is(err, pkgerrors.CodeInsufficientStock):
		s.metrics.IncInsufficientStock(operation)
	}
	return err
}

func (s *service) CreateDraft(ctx context.Context, scope Scope, input CreateDraftInput) (*Snapshot, error) {
	if err := scope.validate(); err != nil {
		return nil, err
	}
	shipping := decimalOrZero(input.ShippingFee)
	tax := decimalOrZero(input.Tax)

	var snap *Snapshot
	err := s.inTx(ctx, "create_draft", func(b bound) error {
		belongs, err := b.repo.BranchBelongsToShop(ctx, scope.ShopID, scope.BranchID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load branch")
		}
		if !belongs {
			return pkgerrors.New(pkgerrors.CodeNotFound, "branch not found").
				WithDetails(map[string]any{"branch_id": scope.BranchID.String()})
		}
		shopCode, err := b.repo.ShopCode(ctx, scope.ShopID)
		if err != nil {
			return notFoundOr(err, "shop not found", "load shop")
		}

		now := s.now()
		seqDate := now.In(s.loc).Format("20060102")
		seq, err := b.repo.NextSequence(ctx, scope.ShopID, seqDate)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "allocate order number")
		}

		totals, err := pricing.Compute(pricing.Input{ShippingFee: shipping, Tax: tax})
		if err != nil {
			return err
		}
		order := &models.Order{
			ID:          uuid.New(),
			ShopID:      scope.ShopID,
			BranchID:    scope.BranchID,
			OrderNo:     fmt.Sprintf("%s-%s-%05d", strings.ToUpper(shopCode), seqDate, seq),
			CustomerID:  input.CustomerID,
			SalesUserID: input.SalesUserID,
			OrderDate:   now.UTC(),
			Status:      enums.OrderStatusDraft,
			SubTotal:    totals.SubTotal,
			Discount:    totals.Discount,
			ShippingFee: totals.ShippingFee,
			Tax:         totals.Tax,
			TotalAmount: totals.Total,
			Note:        trimmedOrNil(input.Note),
			Version:     1,
		}
		if err := b.repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if err := s.emit(ctx, b, order, enums.EventOrderCreated, payloads.OrderCreatedEvent{
			OrderID:    order.ID,
			ShopID:     order.ShopID,
			BranchID:   order.BranchID,
			OrderNo:    order.OrderNo,
			CustomerID: order.CustomerID,
		}); err != nil {
			return err
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition("none", string(enums.OrderStatusDraft))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": snap.Order.ID.String(),
		"order_no": snap.Order.OrderNo,
		"shop_id":  scope.ShopID.String(),
	})
	s.logg.Info(logCtx, "draft order created")
	return snap, nil
}

func (s *service) AddLine(ctx context.Context, scope Scope, input AddLineInput) (*Snapshot, error) {
	if err := validateVersioned(scope, input.OrderID, input.ExpectedVersion); err != nil {
		return nil, err
	}
	if input.VariantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id is required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be greater than zero").
			WithDetails(map[string]any{"qty": input.Qty})
	}

	var snap *Snapshot
	err := s.inTx(ctx, "add_line", func(b bound) error {
		order, err := s.loadForMutation(ctx, b, scope, input.OrderID, input.ExpectedVersion)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDraft {
			return invalidState(order.Status, "add_line")
		}

		variant, err := b.catalog.Resolve(ctx, scope.ShopID, input.VariantID)
		if err != nil {
			return err
		}
		if !variant.TrackSerial && len(input.SerialNos) > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant does not track serial numbers").
				WithDetails(map[string]any{"variant_id": variant.VariantID.String()})
		}

		existing, err := b.repo.FindLineByVariant(ctx, order.ID, variant.VariantID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
		}

		var line models.OrderLine
		allocated := 0
		if existing == nil {
			line = models.OrderLine{
				ID:           uuid.New(),
				OrderID:      order.ID,
				VariantID:    variant.VariantID,
				Qty:          input.Qty,
				UnitPrice:    variant.UnitPrice,
				LineDiscount: decimalOrZero(input.LineDiscount),
				TaxRate:      input.TaxRate,
				Version:      1,
			}
		} else {
			line = *existing
			line.Qty += input.Qty
			line.UnitPrice = variant.UnitPrice
			if input.LineDiscount != nil {
				line.LineDiscount = *input.LineDiscount
			}
			if input.TaxRate != nil {
				line.TaxRate = input.TaxRate
			}
			if variant.TrackSerial {
				current, err := b.ledger.LineSerials(ctx, line.ID)
				if err != nil {
					return err
				}
				allocated = len(current)
			}
		}
		if err := pricing.ValidateLine(line.Qty, line.UnitPrice, line.LineDiscount); err != nil {
			return err
		}
		if allocated+len(input.SerialNos) > line.Qty {
			return pkgerrors.New(pkgerrors.CodeValidation, "more serial numbers than line qty").
				WithDetails(map[string]any{"qty": line.Qty, "serials": allocated + len(input.SerialNos)})
		}
		line.Amount = pricing.Round(pricing.LineAmount(line.UnitPrice, line.Qty, line.LineDiscount))

		if existing == nil {
			if err := b.repo.CreateLine(ctx, &line); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order line")
			}
		} else {
			ok, err := b.repo.UpdateLine(ctx, &line)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order line")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order line was modified concurrently").
					WithDetails(map[string]any{"order_line_id": line.ID.String()})
			}
		}

		key := ledger.Key{ShopID: order.ShopID, BranchID: order.BranchID, VariantID: variant.VariantID}
		if err := b.ledger.Reserve(ctx, key, input.Qty, lineRef(order, line.ID)); err != nil {
			return err
		}
		if len(input.SerialNos) > 0 {
			if err := b.ledger.AllocateSerials(ctx, key, line.ID, input.SerialNos); err != nil {
				return err
			}
		}

		order, err = s.repriceAndWrite(ctx, b, order, input.ExpectedVersion, nil)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, b, order, enums.EventOrderLineAdded, lineEvent(order, line)); err != nil {
			return err
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) RemoveLine(ctx context.Context, scope Scope, input RemoveLineInput) (*Snapshot, error) {
	if err := validateVersioned(scope, input.OrderID, input.ExpectedVersion); err != nil {
		return nil, err
	}
	if input.LineID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line id is required")
	}

	var snap *Snapshot
	err := s.inTx(ctx, "remove_line", func(b bound) error {
		order, err := s.loadForMutation(ctx, b, scope, input.OrderID, input.ExpectedVersion)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDraft {
			return invalidState(order.Status, "remove_line")
		}

		line, err := b.repo.FindLine(ctx, order.ID, input.LineID)
		if err != nil {
			return notFoundOr(err, "order line not found", "load order line")
		}
		if err := s.releaseLine(ctx, b, order, *line); err != nil {
			return err
		}
		if err := b.repo.DeleteLine(ctx, order.ID, line.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order line")
		}

		order, err = s.repriceAndWrite(ctx, b, order, input.ExpectedVersion, nil)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, b, order, enums.EventOrderLineRemoved, lineEvent(order, *line)); err != nil {
			return err
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) SetCharges(ctx context.Context, scope Scope, input SetChargesInput) (*Snapshot, error) {
	if err := validateVersioned(scope, input.OrderID, input.ExpectedVersion); err != nil {
		return nil, err
	}
	if input.ShippingFee.IsNegative() || input.Tax.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping fee and tax must not be negative").
			WithDetails(map[string]any{"shipping_fee": input.ShippingFee.String(), "tax": input.Tax.String()})
	}

	var snap *Snapshot
	err := s.inTx(ctx, "set_charges", func(b bound) error {
		order, err := s.loadForMutation(ctx, b, scope, input.OrderID, input.ExpectedVersion)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDraft {
			return invalidState(order.Status, "set_charges")
		}

		order.ShippingFee = input.ShippingFee
		order.Tax = input.Tax
		order, err = s.repriceAndWrite(ctx, b, order, input.ExpectedVersion, nil)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, b, order, enums.EventOrderChargesSet, payloads.OrderChargesSetEvent{
			OrderID:     order.ID,
			ShippingFee: order.ShippingFee,
			Tax:         order.Tax,
			Total:       order.TotalAmount,
			Version:     order.Version,
		}); err != nil {
			return err
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) ApplyCoupon(ctx context.Context, scope Scope, input ApplyCouponInput) (*Snapshot, error) {
	if err := validateVersioned(scope, input.OrderID, input.ExpectedVersion); err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	// The lock spans the whole transaction so a competing request only
	// evaluates once this redemption has committed.
	current, err := s.repo.FindOrder(ctx, scope.ShopID, input.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	release, err := s.locker.Obtain(ctx, coupons.LockKey(scope.ShopID, code, current.CustomerID))
	if err != nil {
		return nil, err
	}
	defer release(context.Background())

	var (
		snap    *Snapshot
		applied payloads.CouponAppliedEvent
	)
	err = s.inTx(ctx, "apply_coupon", func(b bound) error {
		order, err := s.loadForMutation(ctx, b, scope, input.OrderID, input.ExpectedVersion)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDraft && order.Status != enums.OrderStatusConfirmed {
			return invalidState(order.Status, "apply_coupon")
		}
		if order.Status == enums.OrderStatusConfirmed {
			if err := s.requireUnpaid(ctx, b, order); err != nil {
				return err
			}
		}

		def, err := b.coupons.FindByCode(ctx, scope.ShopID, code)
		if err != nil {
			return err
		}
		links, err := b.coupons.Applied(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			if link.CouponID == def.ID {
				return pkgerrors.CouponIneligible(coupons.ReasonAlreadyApplied, "coupon is already applied to this order")
			}
		}

		lines, err := b.repo.ListLines(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
		}
		now := s.now()
		amount, err := b.coupons.Evaluate(ctx, *def, couponSnapshot(order, lines), now)
		if err != nil {
			return err
		}
		if _, err := b.coupons.Redeem(ctx, *def, order.ID, order.CustomerID, now); err != nil {
			return err
		}
		if err := b.coupons.Attach(ctx, order.ID, *def, pricing.Round(amount)); err != nil {
			return err
		}

		order, err = s.repriceAndWrite(ctx, b, order, input.ExpectedVersion, nil)
		if err != nil {
			return err
		}
		applied = payloads.CouponAppliedEvent{
			OrderID:        order.ID,
			CouponID:       def.ID,
			Code:           def.Code,
			DiscountAmount: pricing.Round(amount),
			CustomerID:     order.CustomerID,
		}
		if err := s.emit(ctx, b, order, enums.EventCouponApplied, applied); err != nil {
			return err
		}

		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeCouponIneligible) {
			s.metrics.IncCoupon(pkgerrors.Reason(err))
		}
		return nil, err
	}

	s.metrics.IncCoupon("redeemed")
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":  applied.OrderID.String(),
		"coupon_id": applied.CouponID.String(),
		"discount":  applied.DiscountAmount.String(),
	})
	s.logg.Info(logCtx, "coupon applied")
	return snap, nil
}

func (s *service) Get(ctx context.Context, scope Scope, orderID uuid.UUID) (*Snapshot, error) {
	if scope.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var snap *Snapshot
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		b := s.bind(tx)
		order, err := b.repo.FindOrder(ctx, scope.ShopID, orderID)
		if err != nil {
			return notFoundOr(err, "order not found", "load order")
		}
		snap, err = s.snapshot(ctx, b, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) List(ctx context.Context, scope Scope, params pagination.Params, filters ListFilters) (*List, error) {
	if scope.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": string(*filters.Status)})
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	list, err := s.repo.ListOrders(ctx, scope.ShopID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// loadForMutation locks the order row and fails fast on a stale version.
func (s *service) loadForMutation(ctx context.Context, b bound, scope Scope, orderID uuid.UUID, expected int64) (*models.Order, error) {
	order, err := b.repo.FindOrderForUpdate(ctx, scope.ShopID, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if order.BranchID != scope.BranchID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another branch").
			WithDetails(map[string]any{"order_id": order.ID.String()})
	}
	if order.Version != expected {
		return nil, versionConflict(expected, order.Version)
	}
	return order, nil
}

// writeHeader is the compare-and-swap on the order version. Zero rows
// means another writer won; the caller's transaction is rolled back.
func (s *service) writeHeader(ctx context.Context, b bound, order *models.Order, expected int64, updates map[string]any) (*models.Order, error) {
	ok, err := b.repo.UpdateOrderVersioned(ctx, order.ShopID, order.ID, expected, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	if !ok {
		current := int64(0)
		if latest, err := b.repo.FindOrder(ctx, order.ShopID, order.ID); err == nil {
			current = latest.Version
		}
		return nil, versionConflict(expected, current)
	}
	updated, err := b.repo.FindOrder(ctx, order.ShopID, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	return updated, nil
}

func (s *service) emit(ctx context.Context, b bound, order *models.Order, eventType enums.OutboxEventType, data any) error {
	branchID := order.BranchID
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor: &outbox.ActorRef{
			UserID:   order.SalesUserID,
			ShopID:   order.ShopID,
			BranchID: &branchID,
		},
		Data:       data,
		OccurredAt: s.now().UTC(),
	}
	if err := s.outbox.Emit(ctx, b.tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
}

// snapshot assembles the read model of order inside the current transaction.
func (s *service) snapshot(ctx context.Context, b bound, order *models.Order) (*Snapshot, error) {
	rows, err := b.repo.ListLines(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order lines")
	}
	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		serials, err := b.ledger.LineSerials(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{OrderLine: row, SerialNos: serials})
	}
	links, err := b.coupons.Applied(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []models.OrderCoupon{}
	}
	paid, err := b.repo.PaidAmount(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum payments")
	}
	due := order.TotalAmount.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	return &Snapshot{
		Order:      *order,
		Lines:      lines,
		Coupons:    links,
		PaidAmount: paid,
		BalanceDue: due,
	}, nil
}

func validateVersioned(scope Scope, orderID uuid.UUID, expected int64) error {
	if err := scope.validate(); err != nil {
		return err
	}
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if expected <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "expected version is required").
			WithDetails(map[string]any{"expected_version": expected})
	}
	return nil
}

func versionConflict(expected, current int64) error {
	return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified by another request").
		WithDetails(map[string]any{"expected_version": expected, "current_version": current})
}

// requireUnpaid rejects discounts once any payment was recorded.
func (s *service) requireUnpaid(ctx context.Context, b bound, order *models.Order) error {
	paid, err := b.repo.PaidAmount(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum order payments")
	}
	if !paid.IsPositive() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, "apply_coupon is not allowed once payments were recorded").
		WithDetails(map[string]any{"from": string(order.Status), "operation": "apply_coupon", "paid_amount": paid.String()})
}

func invalidState(from enums.OrderStatus, operation string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, fmt.Sprintf("%s is not allowed on a %s order", operation, from)).
		WithDetails(map[string]any{"from": string(from), "operation": operation})
}

func notFoundOr(err error, notFound, dependency string) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, dependency)
}

func lineRef(order *models.Order, lineID uuid.UUID) ledger.Ref {
	orderID := order.ID
	return ledger.Ref{OrderID: &orderID, OrderLineID: &lineID, Note: order.OrderNo}
}

func lineEvent(order *models.Order, line models.OrderLine) payloads.OrderLineEvent {
	return payloads.OrderLineEvent{
		OrderID:   order.ID,
		LineID:    line.ID,
		VariantID: line.VariantID,
		Qty:       line.Qty,
		UnitPrice: line.UnitPrice,
		Total:     order.TotalAmount,
		Version:   order.Version,
	}
}

func decimalOrZero(value *decimal.Decimal) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return *value
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
