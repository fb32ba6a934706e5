// Package telemetry wires the OTLP trace pipeline used by the span tester.
//
// Setup runs once at process start and hands back a Provider; callers pass
// its TracerProvider and Propagator down explicitly instead of reading the
// otel globals. Shutdown flushes batched spans before closing the transport.
package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/heatmap-panel/span-tester/internal/config"
)

const defaultGRPCEndpoint = "localhost:4317"

// Provider owns the tracer provider and the exporter transport behind it.
type Provider struct {
	tp         *sdktrace.TracerProvider
	conn       *grpc.ClientConn
	propagator propagation.TextMapPropagator
}

// Setup builds the exporter selected by cfg.Protocol and a tracer provider
// batching into it. Export failures are reported through logger.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *zap.Logger) (*Provider, error) {
	exporter, conn, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		closeConn(conn)
		return nil, err
	}

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("telemetry pipeline error", zap.Error(err))
	}))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	logger.Info("trace pipeline ready",
		zap.String("protocol", cfg.Protocol),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("service", cfg.ServiceName),
	)

	return &Provider{
		tp:   tp,
		conn: conn,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}, nil
}

// newResource describes the process; the config values win over
// OTEL_RESOURCE_ATTRIBUTES.
func newResource(ctx context.Context, cfg config.TelemetryConfig) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}
	return res, nil
}

// TracerProvider returns the provider handed to instrumentation and handlers.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tp
}

// Propagator returns the W3C trace context and baggage propagator.
func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

// Shutdown flushes pending spans and releases the exporter transport.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.tp.Shutdown(ctx)
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

// ── Exporters ───────────────────────────────────────────────────────

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, *grpc.ClientConn, error) {
	switch cfg.Protocol {
	case config.ProtocolGRPC:
		creds := insecure.NewCredentials()
		if !cfg.Insecure {
			creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		}
		conn, err := grpc.NewClient(grpcTarget(cfg.Endpoint),
			grpc.WithTransportCredentials(creds),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			closeConn(conn)
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exporter, conn, nil

	case config.ProtocolHTTP:
		var opts []otlptracehttp.Option
		switch {
		case cfg.Endpoint != "":
			opts = append(opts, otlptracehttp.WithEndpointURL(httpEndpointURL(cfg.Endpoint, cfg.Insecure)))
		case cfg.Insecure:
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		return exporter, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrInvalidProtocol, cfg.Protocol)
	}
}

// grpcTarget reduces an endpoint that may carry a scheme or path to host:port.
func grpcTarget(endpoint string) string {
	if endpoint == "" {
		return defaultGRPCEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

// httpEndpointURL adds a scheme to bare host:port endpoints.
func httpEndpointURL(endpoint string, plaintext bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if plaintext {
		return "http://" + endpoint
	}
	return "https://" + endpoint
}

func closeConn(conn *grpc.ClientConn) {
	if conn != nil {
		_ = conn.Close()
	}
}
