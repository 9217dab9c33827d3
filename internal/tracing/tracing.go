// Package tracing installs the OpenTelemetry tracer provider and the W3C
// trace-context propagator used on outbound backend calls.
package tracing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/loykin/apigw/internal/common"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	Enabled     bool              `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string            `mapstructure:"exporter" yaml:"exporter"`
	Endpoint    string            `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool              `mapstructure:"insecure" yaml:"insecure"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers"`
	SampleRatio float64           `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string            `mapstructure:"service_name" yaml:"service_name"`
	Environment string            `mapstructure:"environment" yaml:"environment"`
	Version     string            `mapstructure:"-" yaml:"-"`

	// Writer receives stdout exporter output; nil means os.Stdout.
	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// ShutdownFunc flushes and stops the installed provider.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

func (c Config) ratio() float64 {
	switch {
	case c.SampleRatio <= 0:
		return 1
	case c.SampleRatio > 1:
		return 1
	default:
		return c.SampleRatio
	}
}

// Setup installs the global propagator and, when enabled, an SDK tracer
// provider. The propagator is always installed so trace headers received
// from clients are forwarded to backends even with tracing disabled.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	logger := common.GetLogger().WithComponent("tracing")

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "apigw"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(name),
		semconv.ServiceVersionKey.String(cfg.Version),
		attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
	))
	if err != nil {
		logger.Warn("otel resource init failed (continuing)", "error", err)
	}

	exporter, err := buildExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio()))),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	logger.Info("otel tracing initialized", "service", name, "exporter", exporterName(cfg), "endpoint", cfg.Endpoint)
	return tp.Shutdown, nil
}

func exporterName(cfg Config) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if name == "" {
		if cfg.Endpoint != "" {
			return ExporterOTLP
		}
		return ExporterStdout
	}
	return name
}

func buildExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch exporterName(cfg) {
	case ExporterNone:
		return nil, nil
	case ExporterStdout:
		opts := []stdouttrace.Option{}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		} else {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		return stdouttrace.New(opts...)
	case ExporterOTLP:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (valid: none, stdout, otlp)", cfg.Exporter)
	}
}
