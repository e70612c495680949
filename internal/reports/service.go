package reports

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/internal/pricing"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	maxWindow     = 366 * 24 * time.Hour
)

// Filter scopes a report to one shop and a half-open [From, To) window on
// paid_at. Sale dates are UTC calendar days.
type Filter struct {
	ShopID      uuid.UUID
	BranchID    *uuid.UUID
	SalesUserID *uuid.UUID
	MethodCode  string
	From        time.Time
	To          time.Time
}

type RevenueDay struct {
	BranchID   uuid.UUID       `json:"branch_id"`
	SaleDate   string          `json:"sale_date"`
	Orders     int64           `json:"orders"`
	GrossSales decimal.Decimal `json:"gross_sales"`
	NetSales   decimal.Decimal `json:"net_sales"`
}

type PersonalSalesDay struct {
	SalesUserID uuid.UUID       `json:"sales_user_id"`
	SaleDate    string          `json:"sale_date"`
	Orders      int64           `json:"orders"`
	NetSales    decimal.Decimal `json:"net_sales"`
}

type PaymentEntry struct {
	PaymentID  uuid.UUID       `json:"payment_id"`
	OrderID    uuid.UUID       `json:"order_id"`
	OrderNo    string          `json:"order_no"`
	MethodCode string          `json:"method_code"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaidAt     time.Time       `json:"paid_at"`
	BranchID   uuid.UUID       `json:"branch_id"`
	CustomerID *uuid.UUID      `json:"customer_id,omitempty"`
}

type PaymentPage struct {
	Payments   []PaymentEntry `json:"payments"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Service exposes the back-office reports.
type Service interface {
	RevenueDaily(ctx context.Context, filter Filter) ([]RevenueDay, error)
	PersonalSales(ctx context.Context, filter Filter) ([]PersonalSalesDay, error)
	PaymentHistory(ctx context.Context, filter Filter, params pagination.Params) (*PaymentPage, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the reports service. now may be nil.
func NewService(repo Repository, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reports repository required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, now: now}, nil
}

func (s *service) RevenueDaily(ctx context.Context, filter Filter) ([]RevenueDay, error) {
	filter, err := s.normalize(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.RevenueDaily(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query daily revenue")
	}
	out := make([]RevenueDay, 0, len(rows))
	for _, row := range rows {
		out = append(out, RevenueDay{
			BranchID:   row.BranchID,
			SaleDate:   saleDate(row.SaleDate),
			Orders:     row.OrderCount,
			GrossSales: pricing.Round(row.GrossSales),
			NetSales:   pricing.Round(row.NetSales),
		})
	}
	return out, nil
}

func (s *service) PersonalSales(ctx context.Context, filter Filter) ([]PersonalSalesDay, error) {
	filter, err := s.normalize(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.PersonalSales(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query personal sales")
	}
	out := make([]PersonalSalesDay, 0, len(rows))
	for _, row := range rows {
		out = append(out, PersonalSalesDay{
			SalesUserID: row.SalesUserID,
			SaleDate:    saleDate(row.SaleDate),
			Orders:      row.OrderCount,
			NetSales:    pricing.Round(row.NetSales),
		})
	}
	return out, nil
}

func (s *service) PaymentHistory(ctx context.Context, filter Filter, params pagination.Params) (*PaymentPage, error) {
	filter, err := s.normalize(filter)
	if err != nil {
		return nil, err
	}
	filter.MethodCode = strings.ToUpper(strings.TrimSpace(filter.MethodCode))

	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, next, err := s.repo.PaymentHistory(ctx, filter, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query payment history")
	}
	page := &PaymentPage{Payments: make([]PaymentEntry, 0, len(rows))}
	for _, row := range rows {
		page.Payments = append(page.Payments, PaymentEntry{
			PaymentID:  row.PaymentID,
			OrderID:    row.OrderID,
			OrderNo:    row.OrderNo,
			MethodCode: row.MethodCode,
			PaidAmount: pricing.Round(row.PaidAmount),
			PaidAt:     row.PaidAt.UTC(),
			BranchID:   row.BranchID,
			CustomerID: row.CustomerID,
		})
	}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

// normalize defaults the window to the last 30 days and rejects empty,
// inverted or over-long windows.
func (s *service) normalize(filter Filter) (Filter, error) {
	if filter.ShopID == uuid.Nil {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "shop id is required")
	}
	if filter.To.IsZero() {
		filter.To = s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	}
	if filter.From.IsZero() {
		filter.From = filter.To.Add(-defaultWindow)
	}
	filter.From, filter.To = filter.From.UTC(), filter.To.UTC()
	if !filter.From.Before(filter.To) {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to").
			WithDetails(map[string]any{"from": filter.From, "to": filter.To})
	}
	if filter.To.Sub(filter.From) > maxWindow {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "report window is limited to 366 days")
	}
	return filter, nil
}

// saleDate trims driver-specific DATE renderings ("2026-01-15" on sqlite,
// an RFC 3339 timestamp on Postgres) to the calendar day.
func saleDate(raw string) string {
	if len(raw) > 10 {
		return raw[:10]
	}
	return raw
}
