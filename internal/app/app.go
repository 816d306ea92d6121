package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/carzone/carzone-backend/internal/config"
	"github.com/carzone/carzone-backend/internal/database"
	"github.com/carzone/carzone-backend/internal/http/handler"
	"github.com/carzone/carzone-backend/internal/http/router"
	"github.com/carzone/carzone-backend/internal/mailer"
	"github.com/carzone/carzone-backend/internal/observability"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

// App owns every long-lived resource of the process.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	db  *gorm.DB
	rdb *redis.Client
}

// Bootstrap loads configuration, connects the backing stores and wires the
// whole object graph up to a ready-to-run HTTP server.
func Bootstrap(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var runtime *observability.Runtime
	if cfg.OTELEnabled {
		runtime, err = observability.InitRuntime(ctx, cfg, logger, loggerProvider)
		if err != nil {
			return nil, err
		}
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	users := repository.NewUserRepository(db)
	tokens := repository.NewTokenRepository(db)
	cars := repository.NewCarRepository(db)
	brands := repository.NewBrandRepository(db)
	carts := repository.NewCartRepository(db)
	orders := repository.NewOrderRepository(db)

	sessions := service.NewRedisSessionStore(rdb, "")
	revocations := service.NewRedisRevocationLedger(rdb, "")
	throttle := service.NewRedisLoginThrottle(rdb, "", service.DefaultThrottlePolicy())

	codec := security.NewTokenCodec(cfg.JWTIssuer, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	mail := mailer.FromConfig(cfg, logger)

	authSvc := service.NewAuthService(users, tokens, carts, sessions, revocations, throttle, codec, mail, cfg, logger)
	catalogSvc := service.NewCatalogService(cars, brands)
	cartSvc := service.NewCartService(carts, cars)
	orderSvc := service.NewOrderService(orders, carts, cars, users, mail, logger)
	paymentSvc := service.NewPaymentService(cfg, orderSvc, logger)

	var oauthSvc *service.OAuthService
	if cfg.GoogleClientID != "" {
		provider, err := service.NewGoogleProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		oauthSvc = service.NewOAuthService(provider, users, carts, authSvc)
	} else {
		logger.Info("google sign-in disabled, no client id configured")
	}

	h := router.New(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, oauthSvc, cfg, logger),
		CatalogHandler:   handler.NewCatalogHandler(catalogSvc, logger),
		CartHandler:      handler.NewCartHandler(cartSvc, logger),
		OrderHandler:     handler.NewOrderHandler(orderSvc, logger),
		PaymentHandler:   handler.NewPaymentHandler(paymentSvc, orderSvc, authSvc, logger),
		HealthHandler:    handler.NewHealthHandler(db, rdb),
		Codec:            codec,
		Revocations:      revocations,
		Logger:           logger,
		CORSOrigins:      cfg.CORSOrigins,
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		EnableOTelHTTP:   cfg.OTELEnabled,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      h,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		db:            db,
		rdb:           rdb,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// releases every resource.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.Logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if sqlDB, dbErr := a.db.DB(); dbErr == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Warn("close database", "error", err)
			}
		}
	}
	if a.Observability != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Observability.Shutdown(ctx); err != nil {
			a.Logger.Warn("shutdown observability", "error", err)
		}
	}
}
