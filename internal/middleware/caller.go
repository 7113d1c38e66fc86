package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/orderchat/internal/identity"
	"github.com/orderchat/internal/logger"
	"github.com/orderchat/internal/role"
)

// CallerContext authenticates the caller against the identity service,
// resolves the acting role and puts the finished view into the context.
// The token and role come from headers, with query fallbacks for the
// WebSocket endpoint where custom headers are not available.
func CallerContext(auth *identity.Client, directory identity.MerchantDirectory, adminID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Session-Token")
			if token == "" {
				token = r.URL.Query().Get("session_token")
			}
			if token == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			caller, err := auth.CurrentCaller(r.Context(), token)
			if err != nil {
				if errors.Is(err, identity.ErrUnauthorized) {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
				logger.Errorf("caller middleware validate: %v", err)
				http.Error(w, `{"error":"auth service unavailable"}`, http.StatusServiceUnavailable)
				return
			}

			claimed := role.Role(r.Header.Get("X-Acting-Role"))
			if claimed == "" {
				claimed = role.Role(r.URL.Query().Get("acting_role"))
			}
			if claimed == "" {
				claimed = role.Customer
			}

			displayName := caller.DisplayName
			if claimed == role.Merchant {
				// A merchant claim must be backed by the directory; the
				// storefront name replaces the personal one.
				isMerchant, storeName, err := directory.Lookup(r.Context(), caller.ID)
				if err != nil {
					logger.Errorf("caller middleware directory lookup user_id=%s: %v", caller.ID, err)
					http.Error(w, `{"error":"merchant directory unavailable"}`, http.StatusServiceUnavailable)
					return
				}
				if !isMerchant {
					http.Error(w, `{"error":"not a merchant"}`, http.StatusForbidden)
					return
				}
				if storeName != "" {
					displayName = storeName
				}
			}

			view, err := role.Resolve(caller.ID, displayName, claimed, adminID)
			if err != nil {
				http.Error(w, `{"error":"unknown role"}`, http.StatusBadRequest)
				return
			}
			ctx := context.WithValue(r.Context(), ViewKey, view)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
