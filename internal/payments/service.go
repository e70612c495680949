package payments

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/retail-backoffice/internal/orders"
	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	"github.com/angelmondragon/retail-backoffice/pkg/db/models"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/metrics"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service reconciles payments against orders.
type Service interface {
	Record(ctx context.Context, scope orders.Scope, input RecordPaymentInput) (*Receipt, error)
	List(ctx context.Context, scope orders.Scope, orderID uuid.UUID) (*History, error)
	Methods(ctx context.Context) ([]models.PaymentMethod, error)
}

// RecordPaymentInput is one payment against an order. ExpectedVersion is
// optional; when set it must match the order version.
type RecordPaymentInput struct {
	OrderID         uuid.UUID
	ExpectedVersion *int64
	MethodCode      string
	Amount          decimal.Decimal
	RefNo           *string
	PaidAt          *time.Time
}

// Receipt is the outcome of Record.
type Receipt struct {
	Payment     models.Payment    `json:"payment"`
	OrderID     uuid.UUID         `json:"order_id"`
	Status      enums.OrderStatus `json:"status"`
	Version     int64             `json:"version"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	PaidAmount  decimal.Decimal   `json:"paid_amount"`
	BalanceDue  decimal.Decimal   `json:"balance_due"`
	BecamePaid  bool              `json:"became_paid"`
}

// History lists the payments of an order.
type History struct {
	OrderID     uuid.UUID        `json:"order_id"`
	Payments    []models.Payment `json:"payments"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	PaidAmount  decimal.Decimal  `json:"paid_amount"`
	BalanceDue  decimal.Decimal  `json:"balance_due"`
}

// ServiceParams groups the payment service dependencies.
type ServiceParams struct {
	Repo      Repository
	Orders    orders.Repository
	Outbox    outboxPublisher
	TxRunner  txRunner
	Tolerance decimal.Decimal
	Logger    *logger.Logger
	Metrics   *metrics.OrderMetrics
	Now       func() time.Time
}

type service struct {
	repo      Repository
	orders    orders.Repository
	outbox    outboxPublisher
	tx        txRunner
	tolerance decimal.Decimal
	logg      *logger.Logger
	metrics   *metrics.OrderMetrics
	now       func() time.Time
}

// NewService constructs the payment reconciler.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Tolerance.IsNegative() {
		return nil, fmt.Errorf("overpayment tolerance must not be negative")
	}
	svc := &service{
		repo:      params.Repo,
		orders:    params.Orders,
		outbox:    params.Outbox,
		tx:        params.TxRunner,
		tolerance: params.Tolerance,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       params.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

func (s *service) Record(ctx context.Context, scope orders.Scope, input RecordPaymentInput) (*Receipt, error) {
	if scope.ShopID == uuid.Nil || scope.BranchID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id and branch id are required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	methodCode := strings.ToUpper(strings.TrimSpace(input.MethodCode))
	if methodCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be greater than zero").
			WithDetails(map[string]any{"amount": input.Amount.String()})
	}
	amount := pricing.Round(input.Amount)
	paidAt := s.now().UTC()
	if input.PaidAt != nil && !input.PaidAt.IsZero() {
		paidAt = input.PaidAt.UTC()
	}

	var receipt *Receipt
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orderRepo := s.orders.WithTx(tx)

		order, err := orderRepo.FindOrderForUpdate(ctx, scope.ShopID, input.OrderID)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.BranchID != scope.BranchID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another branch")
		}
		if input.ExpectedVersion != nil && *input.ExpectedVersion != order.Version {
			return pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified by another request").
				WithDetails(map[string]any{"expected_version": *input.ExpectedVersion, "current_version": order.Version})
		}
		if !order.Status.AtLeast(enums.OrderStatusConfirmed) {
			return pkgerrors.New(pkgerrors.CodeInvalidStateTransition, fmt.Sprintf("payments are not accepted on a %s order", order.Status)).
				WithDetails(map[string]any{"from": string(order.Status), "operation": "record_payment"})
		}

		method, err := repo.FindMethod(ctx, methodCode)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
					WithDetails(map[string]any{"method_code": methodCode})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
		}
		if !method.IsActive {
			return pkgerrors.New(pkgerrors.CodeValidation, "payment method is not active").
				WithDetails(map[string]any{"method_code": methodCode})
		}

		paid, err := orderRepo.PaidAmount(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum payments")
		}
		if paid.Add(amount).GreaterThan(order.TotalAmount.Add(s.tolerance)) {
			return pkgerrors.New(pkgerrors.CodeOverpaymentRejected, "payment exceeds the order balance").
				WithDetails(map[string]any{
					"total":     order.TotalAmount.String(),
					"paid":      paid.String(),
					"attempted": amount.String(),
					"tolerance": s.tolerance.String(),
				})
		}

		payment := &models.Payment{
			ID:         uuid.New(),
			OrderID:    order.ID,
			ShopID:     order.ShopID,
			BranchID:   order.BranchID,
			MethodCode: method.MethodCode,
			PaidAmount: amount,
			PaidAt:     paidAt,
			RefNo:      trimmedOrNil(input.RefNo),
		}
		if err := repo.Create(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
		}
		paidTotal := paid.Add(amount)

		if err := s.emit(ctx, tx, order, enums.EventPaymentRecorded, enums.AggregatePayment, payment.ID, payloads.PaymentRecordedEvent{
			PaymentID:  payment.ID,
			OrderID:    order.ID,
			MethodCode: payment.MethodCode,
			PaidAmount: payment.PaidAmount,
			PaidTotal:  paidTotal,
			PaidAt:     payment.PaidAt,
		}); err != nil {
			return err
		}

		becamePaid := false
		if order.Status == enums.OrderStatusConfirmed && paidTotal.GreaterThanOrEqual(order.TotalAmount) {
			order, err = s.markPaid(ctx, tx, orderRepo, order, paidTotal, paidAt)
			if err != nil {
				return err
			}
			becamePaid = true
		}

		due := order.TotalAmount.Sub(paidTotal)
		if due.IsNegative() {
			due = decimal.Zero
		}
		receipt = &Receipt{
			Payment:     *payment,
			OrderID:     order.ID,
			Status:      order.Status,
			Version:     order.Version,
			TotalAmount: order.TotalAmount,
			PaidAmount:  paidTotal,
			BalanceDue:  due,
			BecamePaid:  becamePaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayment(receipt.Payment.MethodCode)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":    receipt.OrderID.String(),
		"payment_id":  receipt.Payment.ID.String(),
		"paid_amount": receipt.Payment.PaidAmount.String(),
		"balance_due": receipt.BalanceDue.String(),
	})
	s.logg.Info(logCtx, "payment recorded")
	if receipt.BecamePaid {
		s.metrics.ObserveTransition(string(enums.OrderStatusConfirmed), string(enums.OrderStatusPaid))
		s.logg.Info(logCtx, "order paid")
	}
	return receipt, nil
}

// markPaid moves a CONFIRMED order to PAID with a version bump and emits
// the sale snapshot analytics consumes.
func (s *service) markPaid(ctx context.Context, tx *gorm.DB, orderRepo orders.Repository, order *models.Order, paidTotal decimal.Decimal, paidAt time.Time) (*models.Order, error) {
	ok, err := orderRepo.UpdateOrderVersioned(ctx, order.ShopID, order.ID, order.Version, map[string]any{
		"status":  enums.OrderStatusPaid,
		"paid_at": paidAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrencyConflict, "order was modified by another request").
			WithDetails(map[string]any{"expected_version": order.Version})
	}
	updated, err := orderRepo.FindOrder(ctx, order.ShopID, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}

	lines, err := orderRepo.ListLines(ctx, order.ID)
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

	event := payloads.OrderPaidEvent{
		OrderID:     updated.ID,
		ShopID:      updated.ShopID,
		BranchID:    updated.BranchID,
		OrderNo:     updated.OrderNo,
		CustomerID:  updated.CustomerID,
		SalesUserID: updated.SalesUserID,
		OrderDate:   updated.OrderDate,
		SubTotal:    updated.SubTotal,
		Discount:    updated.Discount,
		ShippingFee: updated.ShippingFee,
		Tax:         updated.Tax,
		TotalAmount: updated.TotalAmount,
		PaidAmount:  paidTotal,
		PaidAt:      paidAt,
		Lines:       saleLines,
	}
	if err := s.emit(ctx, tx, updated, enums.EventOrderPaid, enums.AggregateOrder, updated.ID, event); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) List(ctx context.Context, scope orders.Scope, orderID uuid.UUID) (*History, error) {
	if scope.ShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	order, err := s.orders.FindOrder(ctx, scope.ShopID, orderID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	rows, err := s.repo.ListForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}

	paid := decimal.Zero
	for _, row := range rows {
		paid = paid.Add(row.PaidAmount)
	}
	due := order.TotalAmount.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	if rows == nil {
		rows = []models.Payment{}
	}
	return &History{
		OrderID:     order.ID,
		Payments:    rows,
		TotalAmount: order.TotalAmount,
		PaidAmount:  paid,
		BalanceDue:  due,
	}, nil
}

func (s *service) Methods(ctx context.Context) ([]models.PaymentMethod, error) {
	methods, err := s.repo.ListMethods(ctx, true)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment methods")
	}
	return methods, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID uuid.UUID, data any) error {
	branchID := order.BranchID
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Actor:         &outbox.ActorRef{UserID: order.SalesUserID, ShopID: order.ShopID, BranchID: &branchID},
		Data:          data,
		OccurredAt:    s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
	}
	return nil
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
