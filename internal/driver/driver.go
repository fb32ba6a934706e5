// Package driver sends a steady stream of severity requests at a running
// span tester so a tracing backend has something to show.
//
// Each request runs under a "drive <level>" root span and goes out through
// an otelhttp transport, so the tester's server span joins the same trace.
package driver

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/emitter"
	"github.com/heatmap-panel/span-tester/internal/logging"
)

const tracerName = "github.com/heatmap-panel/span-tester/internal/driver"

// MaxRate is the highest rate whose tick interval is still at least 1ns.
const MaxRate = float64(time.Second)

// ── Weighted random helpers ─────────────────────────────────────────

type weightedChoice struct {
	value  emitter.Level
	weight float64
}

func pickWeighted(rng *rand.Rand, choices []weightedChoice) emitter.Level {
	total := 0.0
	for _, c := range choices {
		total += c.weight
	}
	r := rng.Float64() * total
	for _, c := range choices {
		r -= c.weight
		if r <= 0 {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

func pickUniform(rng *rand.Rand, choices []string) string {
	return choices[rng.Intn(len(choices))]
}

// ── Message pools ───────────────────────────────────────────────────

var (
	levelWeights = []weightedChoice{
		{emitter.Debug, 40},
		{emitter.Info, 35},
		{emitter.Warn, 15},
		{emitter.Error, 10},
	}

	messages = map[emitter.Level][]string{
		emitter.Debug: {"cache lookup", "ping", "config reloaded", "handshake ok"},
		emitter.Info:  {"user signed in", "order created", "job finished", "report exported"},
		emitter.Warn:  {"slow query", "retrying upstream", "disk at 85%", "deprecated header"},
		emitter.Error: {"disk full", "upstream timeout", "payment declined", "connection reset"},
	}
)

// ── Driver ──────────────────────────────────────────────────────────

// Options configures a Driver. Rate is in requests per second; Count 0
// means run until the context ends.
type Options struct {
	Target         string
	Rate           float64
	Count          int
	Seed           int64
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	Logger         *zap.Logger
}

// Summary tallies what a run sent and received.
type Summary struct {
	Sent       int
	ByLevel    map[emitter.Level]int
	ByStatus   map[int]int
	Unexpected int
	Failures   int
}

type Driver struct {
	target   *url.URL
	interval time.Duration
	count    int
	client   *http.Client
	tracer   trace.Tracer
	logger   *zap.Logger
	rng      *rand.Rand
}

func New(opts Options) (*Driver, error) {
	target, err := url.Parse(opts.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", opts.Target, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target %q: need scheme and host", opts.Target)
	}
	if !(opts.Rate > 0 && opts.Rate <= MaxRate) {
		return nil, fmt.Errorf("rate must be in (0, %g], got %v", MaxRate, opts.Rate)
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	prop := opts.Propagator
	if prop == nil {
		prop = propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Driver{
		target:   target,
		interval: time.Duration(float64(time.Second) / opts.Rate),
		count:    opts.Count,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithTracerProvider(tp),
				otelhttp.WithPropagators(prop),
			),
		},
		tracer: tp.Tracer(tracerName),
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}, nil
}

// Run fires one request per tick until Count requests got an answer or ctx
// ends. Transport failures are counted, not returned.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	sum := Summary{
		ByLevel:  make(map[emitter.Level]int),
		ByStatus: make(map[int]int),
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for d.count == 0 || sum.Sent < d.count {
		select {
		case <-ctx.Done():
			return sum, nil
		case <-ticker.C:
			d.fire(ctx, &sum)
		}
	}
	return sum, nil
}

func (d *Driver) fire(ctx context.Context, sum *Summary) {
	level := pickWeighted(d.rng, levelWeights)
	body := pickUniform(d.rng, messages[level])

	ctx, span := d.tracer.Start(ctx, "drive "+level.String(),
		trace.WithAttributes(
			attribute.String("level", level.String()),
			attribute.String("message", body),
		),
	)
	defer span.End()

	status, err := d.send(ctx, level, body)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sum.Failures++
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Warn("request failed", zap.String("level", level.String()), zap.Error(err))
		return
	}

	sum.Sent++
	sum.ByLevel[level]++
	sum.ByStatus[status]++
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if want := level.Outcome().HTTPStatus; status != want {
		sum.Unexpected++
		span.SetStatus(codes.Error, fmt.Sprintf("expected %d, got %d", want, status))
		d.logger.Warn("unexpected status",
			zap.String("level", level.String()),
			zap.Int("want", want),
			zap.Int("got", status),
		)
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (d *Driver) send(ctx context.Context, level emitter.Level, body string) (int, error) {
	u := d.target.JoinPath(level.String())
	u.RawQuery = url.Values{"body": {body}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
