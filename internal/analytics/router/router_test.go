package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.EventOrderLineAdded,
		Payload:   []byte(`{"foo":"bar"}`),
	}
	if router.Supports(env.EventType) {
		t.Fatal("line events should not be supported")
	}
	err := router.Handle(context.Background(), env)
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventOrderPaid})
	if err == nil || errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
}

func TestRouterRoutesToOverride(t *testing.T) {
	handler := &stubHandler{}
	router, _ := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventOrderCancelled: handler,
	})
	data, _ := json.Marshal(payloads.OrderStatusEvent{OrderID: uuid.New(), Status: enums.OrderStatusCancelled})
	env := types.Envelope{EventType: enums.EventOrderCancelled, Payload: data}
	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handler.called {
		t.Fatal("handler not invoked")
	}
	if _, ok := handler.payload.(*payloads.OrderStatusEvent); !ok {
		t.Fatalf("expected decoded status event, got %T", handler.payload)
	}
}

func TestOrderPaidBecomesSalesFact(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	paidAt := time.Date(2025, 6, 3, 17, 30, 0, 0, time.UTC)
	sales := uuid.New()
	event := payloads.OrderPaidEvent{
		OrderID:     uuid.New(),
		ShopID:      uuid.New(),
		BranchID:    uuid.New(),
		OrderNo:     "ORD-0001",
		SalesUserID: &sales,
		OrderDate:   paidAt.Add(-time.Hour),
		SubTotal:    decimal.RequireFromString("120.00"),
		Discount:    decimal.RequireFromString("20.00"),
		ShippingFee: decimal.Zero,
		Tax:         decimal.Zero,
		TotalAmount: decimal.RequireFromString("100.00"),
		PaidAmount:  decimal.RequireFromString("100.00"),
		PaidAt:      paidAt,
		Lines: []payloads.SaleLine{
			{LineID: uuid.New(), VariantID: uuid.New(), Qty: 2, UnitPrice: decimal.RequireFromString("50.00"), Amount: decimal.RequireFromString("100.00")},
			{LineID: uuid.New(), VariantID: uuid.New(), Qty: 1, UnitPrice: decimal.RequireFromString("20.00"), Amount: decimal.RequireFromString("20.00")},
		},
	}
	data, _ := json.Marshal(event)
	env := types.Envelope{
		EventID:    uuid.NewString(),
		EventType:  enums.EventOrderPaid,
		OccurredAt: paidAt.Add(time.Minute),
		Payload:    data,
	}

	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle order_paid: %v", err)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(writer.inserted))
	}

	row := writer.inserted[0]
	if row.EventType != "order_paid" || row.Status != "PAID" {
		t.Fatalf("unexpected event type/status: %s %s", row.EventType, row.Status)
	}
	if !row.OccurredAt.Equal(paidAt) {
		t.Fatalf("expected occurred_at from paid_at, got %s", row.OccurredAt)
	}
	if row.TotalAmount == nil || row.TotalAmount.FloatString(2) != "100.00" {
		t.Fatalf("total mismatch: %v", row.TotalAmount)
	}
	if row.SubTotal == nil || row.SubTotal.FloatString(2) != "120.00" {
		t.Fatalf("sub total mismatch: %v", row.SubTotal)
	}
	if !row.UnitsSold.Valid || row.UnitsSold.Int64 != 3 {
		t.Fatalf("units sold mismatch: %v", row.UnitsSold)
	}
	if !row.LineCount.Valid || row.LineCount.Int64 != 2 {
		t.Fatalf("line count mismatch: %v", row.LineCount)
	}
	if !row.SalesUserID.Valid || row.SalesUserID.StringVal != sales.String() {
		t.Fatalf("sales user mismatch: %v", row.SalesUserID)
	}
	if row.CustomerID.Valid {
		t.Fatalf("expected null customer, got %v", row.CustomerID)
	}
	if !row.Items.Valid || !row.Payload.Valid {
		t.Fatal("expected items and payload json")
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(row.Items.JSONVal), &items); err != nil {
		t.Fatalf("unmarshal items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}

func TestOrderExpiredBecomesSalesFact(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	expiredAt := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	event := payloads.OrderStatusEvent{
		OrderID:    uuid.New(),
		ShopID:     uuid.New(),
		BranchID:   uuid.New(),
		OrderNo:    "ORD-0002",
		From:       enums.OrderStatusDraft,
		Status:     enums.OrderStatusCancelled,
		Total:      decimal.RequireFromString("42.50"),
		OccurredAt: expiredAt,
		Reason:     "draft expired",
	}
	data, _ := json.Marshal(event)
	env := types.Envelope{
		EventID:    uuid.NewString(),
		EventType:  enums.EventOrderExpired,
		OccurredAt: expiredAt.Add(time.Hour),
		Payload:    data,
	}

	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle order_expired: %v", err)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(writer.inserted))
	}
	row := writer.inserted[0]
	if row.EventType != "order_expired" || row.Status != "CANCELLED" {
		t.Fatalf("unexpected event type/status: %s %s", row.EventType, row.Status)
	}
	if !row.OccurredAt.Equal(expiredAt) {
		t.Fatalf("expected occurred_at from event, got %s", row.OccurredAt)
	}
	if row.PaidAmount != nil || row.SubTotal != nil {
		t.Fatal("terminated orders carry no revenue")
	}
	if row.TotalAmount == nil || row.TotalAmount.FloatString(2) != "42.50" {
		t.Fatalf("total mismatch: %v", row.TotalAmount)
	}
	if !row.Reason.Valid || row.Reason.StringVal != "draft expired" {
		t.Fatalf("reason mismatch: %v", row.Reason)
	}
}

func TestHandlerPropagatesWriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bq down")}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), nil)
	if err != nil {
		t.Fatalf("construct router: %v", err)
	}
	data, _ := json.Marshal(payloads.OrderStatusEvent{OrderID: uuid.New(), Status: enums.OrderStatusCancelled})
	err = router.Handle(context.Background(), types.Envelope{EventType: enums.EventOrderCancelled, Payload: data})
	if err == nil {
		t.Fatal("expected writer error to surface")
	}
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), overrides)
	if err != nil {
		t.Fatalf("construct router: %v", err)
	}
	return router, writer
}

type stubHandler struct {
	called  bool
	payload any
}

func (s *stubHandler) Handle(_ context.Context, _ types.Envelope, payload any) error {
	s.called = true
	s.payload = payload
	return nil
}

func TestSalesFactRejectsForeignPayload(t *testing.T) {
	writer := &fakeWriter{}
	rt := salesRoute(writer, logger.Nop(), paidFact)
	env := types.Envelope{EventType: enums.EventOrderPaid}
	if err := rt.handler.Handle(context.Background(), env, &payloads.OrderStatusEvent{}); err == nil {
		t.Fatal("expected payload type mismatch")
	}
	if len(writer.inserted) != 0 {
		t.Fatalf("nothing should be written, got %d rows", len(writer.inserted))
	}
	if _, ok := rt.newPayload().(*payloads.OrderPaidEvent); !ok {
		t.Fatalf("route decodes into %T", rt.newPayload())
	}
}
