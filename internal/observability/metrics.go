package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/carzone/carzone-backend/internal/config"
)

const meterName = "carzone-backend"

type appMetrics struct {
	loginCounter      metric.Int64Counter
	refreshCounter    metric.Int64Counter
	logoutCounter     metric.Int64Counter
	validationCounter metric.Int64Counter
	revocationCounter metric.Int64Counter
	repoCounter       metric.Int64Counter
}

var (
	metricsMu sync.RWMutex
	metrics   *appMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterEndpoint)}
	if cfg.OTELExporterInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &appMetrics{}
	if m.loginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.refreshCounter, err = meter.Int64Counter("auth.refresh.attempts"); err != nil {
		return nil, err
	}
	if m.logoutCounter, err = meter.Int64Counter("auth.logout.attempts"); err != nil {
		return nil, err
	}
	if m.validationCounter, err = meter.Int64Counter("auth.access_token.validations"); err != nil {
		return nil, err
	}
	if m.revocationCounter, err = meter.Int64Counter("auth.revocations"); err != nil {
		return nil, err
	}
	if m.repoCounter, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	metrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterEndpoint)
	return mp, nil
}

func loadMetrics() *appMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return metrics
}

func RecordAuthLogin(provider, status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.loginCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

func RecordAuthRefresh(status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.refreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.logoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAccessTokenValidation(ctx context.Context, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.validationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordRevocation(ctx context.Context, reason string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.revocationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	m := loadMetrics()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}
