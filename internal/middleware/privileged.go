package middleware

import (
	"net/http"

	appctx "github.com/yogapratama/chatwire/backend/internal/context"
)

// RequirePrivileged gates a route on the privileged claim. Must run after
// Authenticate.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !appctx.IsPrivileged(r.Context()) {
			WriteError(w, http.StatusForbidden, "ACCESS_DENIED", "Privileged access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
