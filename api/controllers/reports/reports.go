package reports

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/api/responses"
	"github.com/angelmondragon/retail-backoffice/api/validators"
	internalreports "github.com/angelmondragon/retail-backoffice/internal/reports"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

// RevenueDaily returns settled revenue per UTC day and branch.
func RevenueDaily(svc internalreports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		days, err := svc.RevenueDaily(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, days)
	}
}

// PersonalSales returns settled revenue per sales user and day.
func PersonalSales(svc internalreports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.PersonalSales(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// Payments pages through recorded payments, newest first.
func Payments(svc internalreports.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.PaymentHistory(r.Context(), filter, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseFilter(r *http.Request) (internalreports.Filter, error) {
	shopID, ok := middleware.ShopIDFromContext(r.Context())
	if !ok {
		return internalreports.Filter{}, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing")
	}
	filter := internalreports.Filter{
		ShopID:     shopID,
		MethodCode: validators.SanitizeNote(r.URL.Query().Get("method"), 32),
	}

	var err error
	if filter.BranchID, err = validators.ParseQueryUUID(r, "branch_id"); err != nil {
		return filter, err
	}
	if filter.SalesUserID, err = validators.ParseQueryUUID(r, "sales_user_id"); err != nil {
		return filter, err
	}
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return filter, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return filter, err
	}
	if from != nil {
		filter.From = *from
	}
	if to != nil {
		filter.To = *to
	}
	return filter, nil
}
