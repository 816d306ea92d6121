package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

func newGateFixture(t *testing.T) (*security.TokenCodec, service.RevocationLedger) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	codec := security.NewTokenCodec("carzone-test", "access-secret-0123456789", "refresh-secret-0123456789")
	return codec, service.NewRedisRevocationLedger(client, "")
}

func mintAccess(t *testing.T, codec *security.TokenCodec, role domain.Role) (string, string) {
	t.Helper()
	user := &domain.User{ID: "user-1", FullName: "Gate User", Email: "gate@example.com", Role: role}
	token, jti, err := codec.MintAccessToken(user, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token, jti
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthGateAdmitsValidBearer(t *testing.T) {
	codec, ledger := newGateFixture(t)
	token, _ := mintAccess(t, codec, domain.RoleCustomer)

	var hit bool
	var gotClaims *security.AccessClaims
	handler := AuthGate(codec, ledger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		gotClaims, _ = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !hit {
		t.Fatal("handler not reached")
	}
	if gotClaims == nil || gotClaims.Subject != "user-1" {
		t.Fatalf("claims not propagated: %+v", gotClaims)
	}
}

func TestAuthGateRejectsMissingAndMalformed(t *testing.T) {
	codec, ledger := newGateFixture(t)
	var hit bool
	handler := AuthGate(codec, ledger)(okHandler(&hit))

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no header", func(*http.Request) {}},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if hit {
				t.Fatal("handler reached with bad credentials")
			}
		})
	}
}

func TestAuthGateRejectsRevokedToken(t *testing.T) {
	codec, ledger := newGateFixture(t)
	token, jti := mintAccess(t, codec, domain.RoleCustomer)
	if err := ledger.Revoke(context.Background(), jti, time.Minute, "logout"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	var hit bool
	handler := AuthGate(codec, ledger)(okHandler(&hit))
	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if hit {
		t.Fatal("handler reached with revoked token")
	}
}

func TestAuthGateRejectsRefreshTokenAsBearer(t *testing.T) {
	codec, ledger := newGateFixture(t)
	refresh, err := codec.MintRefreshToken("user-1", domain.RoleCustomer, "sid-1", time.Hour)
	if err != nil {
		t.Fatalf("mint refresh: %v", err)
	}

	var hit bool
	handler := AuthGate(codec, ledger)(okHandler(&hit))
	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized || hit {
		t.Fatalf("refresh token must not pass the gate: status=%d hit=%v", rec.Code, hit)
	}
}

func TestRequireRole(t *testing.T) {
	codec, ledger := newGateFixture(t)

	run := func(role domain.Role) int {
		token, _ := mintAccess(t, codec, role)
		var hit bool
		handler := AuthGate(codec, ledger)(RequireAdmin()(okHandler(&hit)))
		req := httptest.NewRequest(http.MethodPost, "/cars", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := run(domain.RoleAdmin); code != http.StatusOK {
		t.Fatalf("admin status = %d, want 200", code)
	}
	if code := run(domain.RoleCustomer); code != http.StatusForbidden {
		t.Fatalf("customer status = %d, want 403", code)
	}
}

func TestRequireRoleWithoutGate(t *testing.T) {
	var hit bool
	handler := RequireAdmin()(okHandler(&hit))
	req := httptest.NewRequest(http.MethodPost, "/cars", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || hit {
		t.Fatalf("expected 401 without claims, got %d (hit=%v)", rec.Code, hit)
	}
}
