package middleware

import (
	"net/http"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/observability"
)

// RequireRole sits behind AuthGate and checks the role claim minted into
// the access token. Role changes therefore take effect on the next token
// refresh, not mid-flight.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, http.StatusUnauthorized, "missing access token")
				return
			}
			if _, ok := allowed[domain.Role(claims.Role)]; !ok {
				observability.Audit(r.Context(), "authz.denied", "failure", "role_mismatch",
					"user_id", claims.Subject, "role", claims.Role, "path", r.URL.Path)
				response.Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(domain.RoleAdmin)
}
