package payments

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/api/responses"
	"github.com/angelmondragon/retail-backoffice/api/validators"
	"github.com/angelmondragon/retail-backoffice/internal/orders"
	internalpayments "github.com/angelmondragon/retail-backoffice/internal/payments"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

type recordRequest struct {
	ExpectedVersion *int64          `json:"expected_version,omitempty"`
	MethodCode      string          `json:"method_code" validate:"required,max=32"`
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	RefNo           *string         `json:"ref_no,omitempty" validate:"omitempty,max=128"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

// Record applies a payment to a CONFIRMED order. The version token is
// optional here; the order row lock already serializes payments.
func Record(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := middleware.ShopIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing"))
			return
		}
		branchID, ok := middleware.BranchIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "X-Branch-Id header required"))
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body recordRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		version, err := validators.ParseIfMatch(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if version == nil {
			version = body.ExpectedVersion
		}

		receipt, err := svc.Record(r.Context(), orders.Scope{ShopID: shopID, BranchID: branchID}, internalpayments.RecordPaymentInput{
			OrderID:         orderID,
			ExpectedVersion: version,
			MethodCode:      body.MethodCode,
			Amount:          body.Amount,
			RefNo:           body.RefNo,
			PaidAt:          body.PaidAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set("ETag", validators.ETag(receipt.Version))
		responses.WriteSuccessStatus(w, http.StatusCreated, receipt)
	}
}

// History lists the payments recorded against an order.
func History(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, ok := middleware.ShopIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing"))
			return
		}
		orderID, err := validators.URLParamUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.List(r.Context(), orders.Scope{ShopID: shopID, BranchID: branchOrNil(r)}, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, history)
	}
}

// Methods lists the active payment methods.
func Methods(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		methods, err := svc.Methods(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, methods)
	}
}

func branchOrNil(r *http.Request) uuid.UUID {
	branchID, _ := middleware.BranchIDFromContext(r.Context())
	return branchID
}
