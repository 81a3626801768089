// Package tracing configures OpenTelemetry for the unibox server.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/version"
)

const instrumentationName = "github.com/memohai/unibox"

// Manager owns the tracer provider lifecycle.
type Manager struct {
	cfg      config.TracingConfig
	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// NewManager creates a manager; Start installs the global provider.
func NewManager(log *slog.Logger, cfg config.TracingConfig) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, logger: log.With(slog.String("service", "tracing"))}
}

// Start installs the tracer provider when tracing is enabled. With tracing
// disabled the otel no-op provider stays in place and spans cost nothing.
func (m *Manager) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Debug("tracing disabled")
		return nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(m.cfg.ServiceName),
			semconv.ServiceVersionKey.String(version.GetInfo()),
			semconv.DeploymentEnvironmentKey.String(m.cfg.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if m.cfg.UseStdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	} else {
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
	}
	if err != nil {
		return fmt.Errorf("create exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	m.logger.Info("tracing initialized",
		slog.String("service_name", m.cfg.ServiceName),
		slog.Float64("sample_rate", m.cfg.SampleRate),
		slog.Bool("stdout", m.cfg.UseStdout),
	)
	return nil
}

// Stop flushes and shuts down the provider.
func (m *Manager) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// StartSpan starts a span on the global provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// End records err on span, if any, and ends it.
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
