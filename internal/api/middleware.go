package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/logging"
)

const instrumentationName = "github.com/heatmap-panel/span-tester/internal/api"

// traceRequests starts the server span that ambient emitters annotate. The
// span is named after the method until routing yields a pattern, so paths
// that never match a route do not fan out into one name each. Span status is
// left to the handler.
func (s *Server) traceRequests(next http.Handler) http.Handler {
	tracer := s.tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(s.version))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(validUTF8(r.URL.Path)),
				semconv.URLScheme(scheme(r)),
				semconv.UserAgentOriginal(validUTF8(r.UserAgent())),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(semconv.HTTPRoute(pattern))
			}
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(statusOf(ww)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", statusOf(ww)),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}
		s.logger.Debug("request handled", append(fields, logging.TraceFields(r.Context())...)...)
	})
}

// statusOf treats a response that never called WriteHeader as 200.
func statusOf(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}

// validUTF8 replaces invalid byte sequences; OTLP refuses non-UTF-8 strings.
func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
