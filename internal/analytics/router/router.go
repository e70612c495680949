// Package router turns decoded order events into BigQuery sales fact rows.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers sales fact rows produced by analytics handlers.
type Writer interface {
	InsertSale(ctx context.Context, row types.SalesFactRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	newPayload func() any
	handler    Handler
}

// Router dispatches analytics envelopes to the handler of their event type.
type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter records paid orders as revenue and cancelled or expired orders
// as lost sales. overrides replace the handler of an already routed event.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	routes := map[enums.OutboxEventType]route{
		enums.EventOrderPaid:      salesRoute(writer, logg, paidFact),
		enums.EventOrderCancelled: salesRoute(writer, logg, terminatedFact),
		enums.EventOrderExpired:   salesRoute(writer, logg, terminatedFact),
	}
	for eventType, custom := range overrides {
		rt, ok := routes[eventType]
		if !ok || custom == nil {
			continue
		}
		rt.handler = custom
		routes[eventType] = rt
	}
	return &Router{routes: routes}, nil
}

// Supports reports whether the router turns the event type into a sales fact.
func (r *Router) Supports(eventType enums.OutboxEventType) bool {
	_, ok := r.routes[eventType]
	return ok
}

// Handle decodes the envelope payload into the event's type and runs its
// handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := rt.newPayload()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return rt.handler.Handle(ctx, envelope, payload)
}

// factBuilder maps one decoded event to its sales fact row.
type factBuilder[T any] func(envelope types.Envelope, event *T) (types.SalesFactRow, error)

func salesRoute[T any](writer Writer, logg *logger.Logger, build factBuilder[T]) route {
	return route{
		newPayload: func() any { return new(T) },
		handler:    salesFact[T]{writer: writer, logg: logg, build: build},
	}
}

// salesFact builds the row for a T event and streams it to the writer.
type salesFact[T any] struct {
	writer Writer
	logg   *logger.Logger
	build  factBuilder[T]
}

func (h salesFact[T]) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*T)
	if !ok {
		return fmt.Errorf("%s: unexpected payload %T", envelope.EventType, payload)
	}
	row, err := h.build(envelope, event)
	if err != nil {
		return fmt.Errorf("build %s sales row: %w", envelope.EventType, err)
	}

	ctx = h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"order_id":   row.OrderID,
		"shop_id":    row.ShopID,
		"status":     row.Status,
	})
	if err := h.writer.InsertSale(ctx, row); err != nil {
		h.logg.Error(ctx, "insert sales row", err)
		return err
	}
	h.logg.Info(ctx, "sales fact recorded")
	return nil
}
