package controllers

import (
	"net/http"

	"github.com/angelmondragon/retail-backoffice/api/middleware"
	"github.com/angelmondragon/retail-backoffice/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// TenantPing echoes the resolved tenant headers.
func TenantPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "tenant", "status": "ok"}
		if shopID, ok := middleware.ShopIDFromContext(r.Context()); ok {
			payload["shop_id"] = shopID.String()
		}
		if branchID, ok := middleware.BranchIDFromContext(r.Context()); ok {
			payload["branch_id"] = branchID.String()
		}
		responses.WriteSuccess(w, payload)
	}
}
