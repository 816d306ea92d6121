package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/http/handler"
	"github.com/carzone/carzone-backend/internal/http/router"
	"github.com/carzone/carzone-backend/internal/mailer"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

// envelope mirrors the JSON response shape of every endpoint.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	server   *httptest.Server
	client   *http.Client
	db       *gorm.DB
	payments *service.PaymentService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&domain.User{}, &domain.Token{}, &domain.Brand{}, &domain.Car{},
		&domain.Cart{}, &domain.CartItem{}, &domain.Order{}, &domain.OrderDetail{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	redisServer := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	cfg := &config.Config{
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		SessionTTL:           7 * 24 * time.Hour,
		ActionTokenTTL:       15 * time.Minute,
		RequireVerifiedEmail: true,
		PaymentAPIKey:        "integration-payment-key",
		CORSOrigins:          []string{"*"},
		APIRateLimitRPM:      60000,
		AuthRateLimitRPM:     60000,
	}
	codec := security.NewTokenCodec("carzone-integration", "access-secret-0123456789", "refresh-secret-0123456789")
	logger := slog.New(slog.DiscardHandler)
	mail := mailer.NewLogMailer(logger)

	users := repository.NewUserRepository(db)
	tokens := repository.NewTokenRepository(db)
	cars := repository.NewCarRepository(db)
	brands := repository.NewBrandRepository(db)
	carts := repository.NewCartRepository(db)
	orders := repository.NewOrderRepository(db)

	sessions := service.NewRedisSessionStore(redisClient, "")
	revocations := service.NewRedisRevocationLedger(redisClient, "")
	throttle := service.NewRedisLoginThrottle(redisClient, "", service.DefaultThrottlePolicy())

	authSvc := service.NewAuthService(users, tokens, carts, sessions, revocations, throttle, codec, mail, cfg, logger)
	catalogSvc := service.NewCatalogService(cars, brands)
	cartSvc := service.NewCartService(carts, cars)
	orderSvc := service.NewOrderService(orders, carts, cars, users, mail, logger)
	paymentSvc := service.NewPaymentService(cfg, orderSvc, logger)

	h := router.New(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, nil, cfg, logger),
		CatalogHandler:   handler.NewCatalogHandler(catalogSvc, logger),
		CartHandler:      handler.NewCartHandler(cartSvc, logger),
		OrderHandler:     handler.NewOrderHandler(orderSvc, logger),
		PaymentHandler:   handler.NewPaymentHandler(paymentSvc, orderSvc, authSvc, logger),
		HealthHandler:    handler.NewHealthHandler(db, redisClient),
		Codec:            codec,
		Revocations:      revocations,
		Logger:           logger,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
	})

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testServer{
		server:   server,
		client:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		db:       db,
		payments: paymentSvc,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return resp, env
}

// latestCode digs the most recent action code for a user out of the database,
// standing in for reading the email.
func (ts *testServer) latestCode(t *testing.T, email string, tokenType domain.TokenType) string {
	t.Helper()
	var user domain.User
	if err := ts.db.Where("email = ?", email).First(&user).Error; err != nil {
		t.Fatalf("load user %s: %v", email, err)
	}
	var token domain.Token
	err := ts.db.Where("user_id = ? AND type = ? AND is_valid = ?", user.ID, tokenType, true).
		Order("created_at DESC").
		First(&token).Error
	if err != nil {
		t.Fatalf("load code: %v", err)
	}
	return token.Code
}

// registerVerified provisions an account and completes email verification.
func (ts *testServer) registerVerified(t *testing.T, email, password string) {
	t.Helper()
	resp, _ := ts.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"full_name": "Integration User",
		"email":     email,
		"password":  password,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	code := ts.latestCode(t, email, domain.TokenTypeEmailVerification)
	resp, _ = ts.do(t, http.MethodPost, "/api/v1/auth/verify-email", "", map[string]any{"code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify email: status %d", resp.StatusCode)
	}
}

func (ts *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, env := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	return accessToken(t, env)
}

// registerAndLogin provisions a verified account and returns its access token.
func (ts *testServer) registerAndLogin(t *testing.T, email, password string) string {
	t.Helper()
	ts.registerVerified(t, email, password)
	return ts.login(t, email, password)
}

func accessToken(t *testing.T, env envelope) string {
	t.Helper()
	var data struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode auth payload: %v", err)
	}
	if data.AccessToken == "" {
		t.Fatalf("no access token in payload: %s", env.Data)
	}
	return data.AccessToken
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url %s: %v", raw, err)
	}
	return u
}

// promoteToAdmin flips a user's role directly in the database. Admin accounts
// are provisioned out of band in production.
func (ts *testServer) promoteToAdmin(t *testing.T, email string) {
	t.Helper()
	if err := ts.db.Model(&domain.User{}).Where("email = ?", email).Update("role", domain.RoleAdmin).Error; err != nil {
		t.Fatalf("promote admin: %v", err)
	}
}
