package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the explicit configuration injected into every component at
// construction. Nothing in the codebase reads the environment after Load
// returns.
type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer        string
	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	SessionTTL       time.Duration
	ActionTokenTTL   time.Duration

	RequireVerifiedEmail bool
	CookieSecure         bool

	FrontendURL        string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	SMTPAddr   string
	SMTPFrom   string
	SMTPUser   string
	SMTPPass   string
	MailerSend bool

	PaymentAPIURL string
	PaymentAPIKey string

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int

	OTELEnabled          bool
	OTELServiceName      string
	OTELEnvironment      string
	OTELExporterEndpoint string
	OTELExporterInsecure bool
	OTELExportInterval   time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		JWTIssuer:        getEnv("JWT_ISSUER", "carzone"),
		JWTAccessSecret:  strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTRefreshSecret: strings.TrimSpace(os.Getenv("JWT_REFRESH_SECRET")),
		AccessTokenTTL:   getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		SessionTTL:       getDuration("SESSION_TTL", 7*24*time.Hour),
		ActionTokenTTL:   getDuration("ACTION_TOKEN_TTL", 15*time.Minute),

		RequireVerifiedEmail: getBool("AUTH_REQUIRE_VERIFIED_EMAIL", true),
		CookieSecure:         getBool("COOKIE_SECURE", true),

		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:3000"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		SMTPAddr:   os.Getenv("SMTP_ADDR"),
		SMTPFrom:   getEnv("SMTP_FROM", "no-reply@carzone.local"),
		SMTPUser:   os.Getenv("SMTP_USER"),
		SMTPPass:   os.Getenv("SMTP_PASS"),
		MailerSend: getBool("MAILER_SEND", false),

		PaymentAPIURL: os.Getenv("PAYMENT_API_URL"),
		PaymentAPIKey: os.Getenv("PAYMENT_API_KEY"),

		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "*")),
		APIRateLimitRPM:  getInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM: getInt("AUTH_RATE_LIMIT_RPM", 20),

		OTELEnabled:          getBool("OTEL_ENABLED", false),
		OTELServiceName:      getEnv("OTEL_SERVICE_NAME", "carzone-backend"),
		OTELEnvironment:      getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELExportInterval:   getDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTAccessSecret == "" {
		return fmt.Errorf("validate config: JWT_SECRET is required")
	}
	if c.JWTRefreshSecret == "" {
		return fmt.Errorf("validate config: JWT_REFRESH_SECRET is required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("validate config: access and refresh secrets must differ")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("validate config: token TTLs must be positive")
	}
	if c.RefreshTokenTTL > c.SessionTTL {
		return fmt.Errorf("validate config: refresh token TTL cannot outlive the session TTL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
