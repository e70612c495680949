package inventory

import (
	"net/http"

	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/api/responses"
	"github.com/angelmondragon/retail-backoffice/api/validators"
	internalinventory "github.com/angelmondragon/retail-backoffice/internal/inventory"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

type receiveRequest struct {
	Qty       int      `json:"qty" validate:"required,gt=0"`
	SerialNos []string `json:"serial_nos,omitempty" validate:"omitempty,dive,required,max=100"`
	Note      string   `json:"note,omitempty" validate:"omitempty,max=500"`
}

type adjustRequest struct {
	Delta int    `json:"delta" validate:"required,ne=0"`
	Note  string `json:"note" validate:"required,max=500"`
}

func Get(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := stockScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := validators.URLParamUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), scope, variantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// Receive books a goods receipt into the branch.
func Receive(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := stockScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := validators.URLParamUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body receiveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Receive(r.Context(), scope, internalinventory.ReceiveInput{
			VariantID: variantID,
			Qty:       body.Qty,
			SerialNos: body.SerialNos,
			Note:      body.Note,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

// Adjust books a signed stock correction such as a count or write-off.
func Adjust(svc internalinventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := stockScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		variantID, err := validators.URLParamUUID(r, "variantId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adjustRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Adjust(r.Context(), scope, internalinventory.AdjustInput{
			VariantID: variantID,
			Delta:     body.Delta,
			Note:      validators.SanitizeNote(body.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, record)
	}
}

func stockScope(r *http.Request) (internalinventory.Scope, error) {
	shopID, ok := middleware.ShopIDFromContext(r.Context())
	if !ok {
		return internalinventory.Scope{}, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing")
	}
	branchID, ok := middleware.BranchIDFromContext(r.Context())
	if !ok {
		return internalinventory.Scope{}, pkgerrors.New(pkgerrors.CodeValidation, "X-Branch-Id header required")
	}
	return internalinventory.Scope{ShopID: shopID, BranchID: branchID}, nil
}
