// Package api serves the span tester HTTP surface.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/emitter"
	"github.com/heatmap-panel/span-tester/internal/logging"
)

// Banner is the body served on GET /.
const Banner = "OpenTelemetry Span Tester"

// Options configures a Server. Emitter is required; a nil TracerProvider
// disables request spans, which leaves ambient emitters on their fallback.
type Options struct {
	Emitter        emitter.Emitter
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	Logger         *zap.Logger
	Version        string
}

type Server struct {
	emitter    emitter.Emitter
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
	version    string
	validator  *validator
	httpServer *http.Server
}

func NewServer(opts Options) (*Server, error) {
	if opts.Emitter == nil {
		return nil, errors.New("api: emitter is required")
	}
	s := &Server{
		emitter:    opts.Emitter,
		tp:         opts.TracerProvider,
		propagator: opts.Propagator,
		logger:     opts.Logger,
		version:    opts.Version,
	}
	if s.tp == nil {
		s.tp = noop.NewTracerProvider()
	}
	if s.propagator == nil {
		s.propagator = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}

	v, err := newValidator(context.Background())
	if err != nil {
		return nil, err
	}
	s.validator = v

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		s.traceRequests,
		s.logRequests,
		s.validator.middleware(s.logger),
	)
	r.Get("/", s.handleRoot)
	r.HandleFunc("/{level}", s.handleLevel)
	return r
}

// Handler returns the fully instrumented router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("span tester listening", zap.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(Banner))
}

func (s *Server) handleLevel(w http.ResponseWriter, r *http.Request) {
	level := chi.URLParam(r, "level")
	body := r.URL.Query().Get("body")
	w.WriteHeader(s.emitter.Emit(r.Context(), level, body))
}
