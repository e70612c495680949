package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SalesFactRow mirrors the sales_facts BigQuery schema. Money columns are
// NUMERIC and stay nil for events that carry no amount of that kind; the
// other optional columns use the client's Null types.
type SalesFactRow struct {
	EventID     string                  `bigquery:"event_id"`
	EventType   string                  `bigquery:"event_type"`
	OccurredAt  time.Time               `bigquery:"occurred_at"`
	ShopID      string                  `bigquery:"shop_id"`
	BranchID    string                  `bigquery:"branch_id"`
	OrderID     string                  `bigquery:"order_id"`
	OrderNo     string                  `bigquery:"order_no"`
	Status      string                  `bigquery:"status"`
	CustomerID  cbigquery.NullString    `bigquery:"customer_id"`
	SalesUserID cbigquery.NullString    `bigquery:"sales_user_id"`
	OrderDate   cbigquery.NullTimestamp `bigquery:"order_date"`
	SubTotal    *big.Rat                `bigquery:"sub_total"`
	Discount    *big.Rat                `bigquery:"discount"`
	ShippingFee *big.Rat                `bigquery:"shipping_fee"`
	Tax         *big.Rat                `bigquery:"tax"`
	TotalAmount *big.Rat                `bigquery:"total_amount"`
	PaidAmount  *big.Rat                `bigquery:"paid_amount"`
	LineCount   cbigquery.NullInt64     `bigquery:"line_count"`
	UnitsSold   cbigquery.NullInt64     `bigquery:"units_sold"`
	Reason      cbigquery.NullString    `bigquery:"reason"`
	Items       cbigquery.NullJSON      `bigquery:"items"`
	Payload     cbigquery.NullJSON      `bigquery:"payload"`
}
