package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/carzone/carzone-backend/internal/http/handler"
	"github.com/carzone/carzone-backend/internal/http/middleware"
	"github.com/carzone/carzone-backend/internal/security"
	"github.com/carzone/carzone-backend/internal/service"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	CatalogHandler *handler.CatalogHandler
	CartHandler    *handler.CartHandler
	OrderHandler   *handler.OrderHandler
	PaymentHandler *handler.PaymentHandler
	HealthHandler  *handler.HealthHandler

	Codec       *security.TokenCodec
	Revocations service.RevocationLedger
	Logger      *slog.Logger

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	EnableOTelHTTP   bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(dep.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   dep.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM).Middleware()
	gate := middleware.AuthGate(dep.Codec, dep.Revocations)

	r.Get("/health/live", dep.HealthHandler.Live)
	r.Get("/health/ready", dep.HealthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authLimiter).Post("/verify-email", dep.AuthHandler.VerifyEmail)
			r.With(authLimiter).Post("/resend-verification", dep.AuthHandler.ResendVerification)
			r.With(authLimiter).Post("/forgot-password", dep.AuthHandler.ForgotPassword)
			r.With(authLimiter).Post("/reset-password", dep.AuthHandler.ResetPassword)
			r.With(authLimiter).Get("/google", dep.AuthHandler.GoogleRedirect)
			r.With(authLimiter).Get("/google/callback", dep.AuthHandler.GoogleCallback)

			r.Group(func(r chi.Router) {
				r.Use(gate)
				r.Get("/user", dep.AuthHandler.CurrentUser)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Post("/logout-all", dep.AuthHandler.LogoutAll)
			})
		})

		r.Route("/cars", func(r chi.Router) {
			r.Get("/", dep.CatalogHandler.ListCars)
			r.Get("/newest", dep.CatalogHandler.NewestCars)
			r.Get("/{id}", dep.CatalogHandler.GetCar)
			r.Group(func(r chi.Router) {
				r.Use(gate, middleware.RequireAdmin())
				r.Post("/", dep.CatalogHandler.CreateCar)
				r.Put("/{id}", dep.CatalogHandler.UpdateCar)
				r.Delete("/{id}", dep.CatalogHandler.DeleteCar)
			})
		})

		r.Route("/brands", func(r chi.Router) {
			r.Get("/", dep.CatalogHandler.ListBrands)
			r.Get("/{id}", dep.CatalogHandler.GetBrand)
			r.Group(func(r chi.Router) {
				r.Use(gate, middleware.RequireAdmin())
				r.Post("/", dep.CatalogHandler.CreateBrand)
				r.Put("/{id}", dep.CatalogHandler.UpdateBrand)
				r.Delete("/{id}", dep.CatalogHandler.DeleteBrand)
			})
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(gate)
			r.Get("/", dep.CartHandler.GetCart)
			r.Post("/items", dep.CartHandler.AddItem)
			r.Delete("/items/{carID}", dep.CartHandler.RemoveItem)
			r.Delete("/", dep.CartHandler.Clear)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(gate)
			r.Post("/", dep.OrderHandler.Checkout)
			r.Get("/", dep.OrderHandler.ListMine)
			r.With(middleware.RequireAdmin()).Get("/all", dep.OrderHandler.ListAll)
			r.Get("/{id}", dep.OrderHandler.GetOrder)
			r.Post("/{id}/cancel", dep.OrderHandler.Cancel)
		})

		r.Route("/payments", func(r chi.Router) {
			// Gateway callback authenticates by signature, not bearer token.
			r.Post("/notification", dep.PaymentHandler.Notification)
			r.With(gate).Post("/", dep.PaymentHandler.CreateSession)
			r.With(gate).Get("/status/{orderCode}", dep.PaymentHandler.Status)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
