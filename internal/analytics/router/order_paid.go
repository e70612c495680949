package router

import (
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/retail-backoffice/internal/analytics"
	"github.com/angelmondragon/retail-backoffice/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/retail-backoffice/internal/analytics/writer"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	"github.com/angelmondragon/retail-backoffice/pkg/outbox/payloads"
)

// paidFact is the revenue row of a fully paid order, with its lines kept as
// a JSON items column.
func paidFact(envelope types.Envelope, event *payloads.OrderPaidEvent) (types.SalesFactRow, error) {
	items, err := analyticswriter.EncodeJSON(event.Lines)
	if err != nil {
		return types.SalesFactRow{}, fmt.Errorf("encode items json: %w", err)
	}
	raw, err := analyticswriter.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.SalesFactRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	var units int64
	for _, line := range event.Lines {
		units += int64(line.Qty)
	}

	row := types.SalesFactRow{
		EventID:     envelope.EventID,
		EventType:   string(envelope.EventType),
		OccurredAt:  analytics.FactTimestamp(event.PaidAt, envelope.OccurredAt),
		ShopID:      event.ShopID.String(),
		BranchID:    event.BranchID.String(),
		OrderID:     event.OrderID.String(),
		OrderNo:     event.OrderNo,
		Status:      string(enums.OrderStatusPaid),
		CustomerID:  nullUUID(event.CustomerID),
		SalesUserID: nullUUID(event.SalesUserID),
		SubTotal:    numeric(event.SubTotal),
		Discount:    numeric(event.Discount),
		ShippingFee: numeric(event.ShippingFee),
		Tax:         numeric(event.Tax),
		TotalAmount: numeric(event.TotalAmount),
		PaidAmount:  numeric(event.PaidAmount),
		LineCount:   nullInt(int64(len(event.Lines))),
		UnitsSold:   nullInt(units),
		Items:       items,
		Payload:     raw,
	}
	if !event.OrderDate.IsZero() {
		row.OrderDate = cbigquery.NullTimestamp{Timestamp: event.OrderDate.UTC(), Valid: true}
	}
	return row, nil
}
