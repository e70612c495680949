package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/api/responses"
	"github.com/angelmondragon/retail-backoffice/api/validators"
	internalorders "github.com/angelmondragon/retail-backoffice/internal/orders"
	"github.com/angelmondragon/retail-backoffice/pkg/enums"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
	"github.com/angelmondragon/retail-backoffice/pkg/pagination"
)

type createDraftRequest struct {
	CustomerID  *uuid.UUID       `json:"customer_id,omitempty"`
	SalesUserID *uuid.UUID       `json:"sales_user_id,omitempty"`
	Note        *string          `json:"note,omitempty" validate:"omitempty,max=500"`
	ShippingFee *decimal.Decimal `json:"shipping_fee,omitempty" validate:"omitempty,gte=0"`
	Tax         *decimal.Decimal `json:"tax,omitempty" validate:"omitempty,gte=0"`
}

type addLineRequest struct {
	ExpectedVersion *int64           `json:"expected_version,omitempty"`
	VariantID       uuid.UUID        `json:"variant_id" validate:"required"`
	Qty             int              `json:"qty" validate:"required,gt=0"`
	LineDiscount    *decimal.Decimal `json:"line_discount,omitempty" validate:"omitempty,gte=0"`
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=1"`
	SerialNos       []string         `json:"serial_nos,omitempty" validate:"omitempty,dive,required,max=100"`
}

type chargesRequest struct {
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
	ShippingFee     decimal.Decimal `json:"shipping_fee" validate:"gte=0"`
	Tax             decimal.Decimal `json:"tax" validate:"gte=0"`
}

type couponRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	Code            string `json:"code" validate:"required,max=64"`
}

type transitionRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	Reason          string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// CreateDraft opens a DRAFT order for the caller's shop and branch.
func CreateDraft(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := writeScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body createDraftRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.SalesUserID == nil {
			if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
				body.SalesUserID = &userID
			}
		}

		snapshot, err := svc.CreateDraft(r.Context(), scope, internalorders.CreateDraftInput{
			CustomerID:  body.CustomerID,
			SalesUserID: body.SalesUserID,
			Note:        body.Note,
			ShippingFee: body.ShippingFee,
			Tax:         body.Tax,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusCreated, snapshot)
	}
}

// List returns a cursor page of the shop's orders.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := readScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := listFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		list, err := svc.List(r.Context(), scope, params, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns the order snapshot.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := readScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.Get(r.Context(), scope, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

// AddLine reserves stock and adds or merges a line.
func AddLine(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body addLineRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := expectedVersion(r, body.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.AddLine(r.Context(), scope, internalorders.AddLineInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			VariantID:       body.VariantID,
			Qty:             body.Qty,
			LineDiscount:    body.LineDiscount,
			TaxRate:         body.TaxRate,
			SerialNos:       body.SerialNos,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

// RemoveLine releases the line's reservation and deletes it. The version
// token comes from If-Match since DELETE carries no body.
func RemoveLine(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lineID, err := validators.URLParamUUID(r, "lineId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := expectedVersion(r, nil)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.RemoveLine(r.Context(), scope, internalorders.RemoveLineInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			LineID:          lineID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

// SetCharges replaces the order-level shipping fee and tax.
func SetCharges(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body chargesRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := expectedVersion(r, body.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.SetCharges(r.Context(), scope, internalorders.SetChargesInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			ShippingFee:     body.ShippingFee,
			Tax:             body.Tax,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

// ApplyCoupon redeems a coupon code against the order.
func ApplyCoupon(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body couponRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := expectedVersion(r, body.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := svc.ApplyCoupon(r.Context(), scope, internalorders.ApplyCouponInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			Code:            body.Code,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

type transitionCall func(ctx context.Context, scope internalorders.Scope, input internalorders.VersionedInput) (*internalorders.Snapshot, error)

func Confirm(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Confirm, logg)
}

func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Cancel, logg)
}

// Fulfill records the external fulfillment event for a PAID order.
func Fulfill(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Fulfill, logg)
}

func Complete(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Complete, logg)
}

func transition(call transitionCall, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, orderID, err := orderTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := expectedVersion(r, body.ExpectedVersion)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snapshot, err := call(r.Context(), scope, internalorders.VersionedInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			Reason:          body.Reason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSnapshot(w, http.StatusOK, snapshot)
	}
}

func writeSnapshot(w http.ResponseWriter, status int, snapshot *internalorders.Snapshot) {
	if snapshot != nil {
		w.Header().Set("ETag", validators.ETag(snapshot.Order.Version))
	}
	responses.WriteSuccessStatus(w, status, snapshot)
}

// readScope needs only the shop; the branch header narrows nothing on reads.
func readScope(r *http.Request) (internalorders.Scope, error) {
	shopID, ok := middleware.ShopIDFromContext(r.Context())
	if !ok {
		return internalorders.Scope{}, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing")
	}
	scope := internalorders.Scope{ShopID: shopID}
	if branchID, ok := middleware.BranchIDFromContext(r.Context()); ok {
		scope.BranchID = branchID
	}
	return scope, nil
}

func writeScope(r *http.Request) (internalorders.Scope, error) {
	scope, err := readScope(r)
	if err != nil {
		return scope, err
	}
	if scope.BranchID == uuid.Nil {
		return scope, pkgerrors.New(pkgerrors.CodeValidation, "X-Branch-Id header required")
	}
	return scope, nil
}

func orderTarget(r *http.Request) (internalorders.Scope, uuid.UUID, error) {
	scope, err := writeScope(r)
	if err != nil {
		return scope, uuid.Nil, err
	}
	orderID, err := validators.URLParamUUID(r, "orderId")
	if err != nil {
		return scope, uuid.Nil, err
	}
	return scope, orderID, nil
}

// expectedVersion prefers If-Match over the body field.
func expectedVersion(r *http.Request, fromBody *int64) (int64, error) {
	header, err := validators.ParseIfMatch(r)
	if err != nil {
		return 0, err
	}
	switch {
	case header != nil:
		return *header, nil
	case fromBody != nil && *fromBody > 0:
		return *fromBody, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, "order version required").
		WithDetails(map[string]any{"header": "If-Match", "field": "expected_version"})
}

func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return validators.DecodeJSONBody(r, dest)
}

func listFilters(r *http.Request) (internalorders.ListFilters, error) {
	var filters internalorders.ListFilters
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filters.Status = &status
	}

	var err error
	if filters.BranchID, err = validators.ParseQueryUUID(r, "branch_id"); err != nil {
		return filters, err
	}
	if filters.CustomerID, err = validators.ParseQueryUUID(r, "customer_id"); err != nil {
		return filters, err
	}
	if filters.SalesUserID, err = validators.ParseQueryUUID(r, "sales_user_id"); err != nil {
		return filters, err
	}
	if filters.DateFrom, err = validators.ParseQueryTime(r, "from"); err != nil {
		return filters, err
	}
	if filters.DateTo, err = validators.ParseQueryTime(r, "to"); err != nil {
		return filters, err
	}
	return filters, nil
}
