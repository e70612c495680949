package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/retail-backoffice/api/responses"
	pkgerrors "github.com/angelmondragon/retail-backoffice/pkg/errors"
	"github.com/angelmondragon/retail-backoffice/pkg/logger"
)

const (
	HeaderShopID   = "X-Shop-Id"
	HeaderBranchID = "X-Branch-Id"
	HeaderUserID   = "X-User-Id"
)

// Tenant resolves the shop, branch and user headers set by the gateway. The
// shop is mandatory; branch and user are optional here and enforced by the
// handlers that need them.
func Tenant(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			shopID, ok, err := headerUUID(r, HeaderShopID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing"))
				return
			}
			ctx = WithShopID(ctx, shopID)
			branchLabel := ""

			branchID, ok, err := headerUUID(r, HeaderBranchID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if ok {
				ctx = WithBranchID(ctx, branchID)
				branchLabel = branchID.String()
			}
			if logg != nil {
				ctx = logg.WithTenant(ctx, shopID.String(), branchLabel)
			}

			userID, ok, err := headerUUID(r, HeaderUserID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if ok {
				ctx = WithUserID(ctx, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerUUID(r *http.Request, header string) (uuid.UUID, bool, error) {
	raw := strings.TrimSpace(r.Header.Get(header))
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false, pkgerrors.New(pkgerrors.CodeValidation, "invalid tenant header").
			WithDetails(map[string]any{"header": header})
	}
	return id, true, nil
}
