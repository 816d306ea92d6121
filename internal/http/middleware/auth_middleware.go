package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// AuthGate admits requests carrying a live bearer access token. A token
// that verifies but sits in the revocation ledger is rejected exactly like
// a bad signature.
func AuthGate(codec *security.TokenCodec, revocations service.RevocationLedger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing")
				response.Error(w, http.StatusUnauthorized, "missing access token")
				return
			}
			claims, err := codec.ParseAccessToken(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid")
				response.Error(w, http.StatusUnauthorized, "invalid access token")
				return
			}
			revoked, err := revocations.IsRevoked(r.Context(), claims.ID)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "error")
				response.ServerError(w)
				return
			}
			if revoked {
				observability.RecordAccessTokenValidation(r.Context(), "revoked")
				response.Error(w, http.StatusUnauthorized, "invalid access token")
				return
			}
			observability.RecordAccessTokenValidation(r.Context(), "valid")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) (*security.AccessClaims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.AccessClaims)
	return c, ok
}
