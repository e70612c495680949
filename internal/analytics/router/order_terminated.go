package router

import (
	"fmt"

	"github.com/angelmondragon/retail-backoffice/internal/analytics"
	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/retail-backoffice/internal/analytics/writer"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

// terminatedFact records a cancelled or expired order. The row carries the
// lost total but no paid amount.
func terminatedFact(envelope types.Envelope, event *payloads.OrderStatusEvent) (types.SalesFactRow, error) {
	raw, err := analyticswriter.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.SalesFactRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.SalesFactRow{
		EventID:     envelope.EventID,
		EventType:   string(envelope.EventType),
		OccurredAt:  analytics.FactTimestamp(event.OccurredAt, envelope.OccurredAt),
		ShopID:      event.ShopID.String(),
		BranchID:    event.BranchID.String(),
		OrderID:     event.OrderID.String(),
		OrderNo:     event.OrderNo,
		Status:      string(event.Status),
		TotalAmount: numeric(event.Total),
		Reason:      nullString(event.Reason),
		Payload:     raw,
	}, nil
}
