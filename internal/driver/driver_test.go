package driver

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/heatmap-panel/span-tester/internal/api"
	"github.com/heatmap-panel/span-tester/internal/config"
	"github.com/heatmap-panel/span-tester/internal/emitter"
)

func TestPickWeighted(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	only := []weightedChoice{{emitter.Debug, 0}, {emitter.Warn, 1}, {emitter.Error, 0}}
	for i := 0; i < 50; i++ {
		assert.Equal(t, emitter.Warn, pickWeighted(rng, only))
	}

	seen := make(map[emitter.Level]int)
	for i := 0; i < 2000; i++ {
		seen[pickWeighted(rng, levelWeights)]++
	}
	for _, l := range emitter.Levels {
		assert.Positive(t, seen[l], l)
	}
	assert.Greater(t, seen[emitter.Debug], seen[emitter.Error])
}

func TestMessagePoolsCoverEveryLevel(t *testing.T) {
	for _, l := range emitter.Levels {
		assert.NotEmpty(t, messages[l], l)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "no scheme", opts: Options{Target: "localhost:3000", Rate: 1}},
		{name: "garbage", opts: Options{Target: "://", Rate: 1}},
		{name: "zero rate", opts: Options{Target: "http://localhost:3000"}},
		{name: "sub-nanosecond interval", opts: Options{Target: "http://localhost:3000", Rate: 2e9}},
		{name: "infinite rate", opts: Options{Target: "http://localhost:3000", Rate: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestNewAcceptsMaxRate(t *testing.T) {
	d, err := New(Options{Target: "http://localhost:3000", Rate: MaxRate})
	require.NoError(t, err)
	assert.Equal(t, time.Nanosecond, d.interval)
}

func TestRunAgainstTester(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	e, err := emitter.New(config.ModeAmbient, tp, "test")
	require.NoError(t, err)
	srv, err := api.NewServer(api.Options{Emitter: e, TracerProvider: tp, Logger: zap.NewNop()})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	d, err := New(Options{
		Target:         ts.URL,
		Rate:           500,
		Count:          25,
		Seed:           42,
		TracerProvider: tp,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, err := d.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 25, sum.Sent)
	assert.Zero(t, sum.Failures)
	assert.Zero(t, sum.Unexpected)
	assert.Equal(t, sum.ByLevel[emitter.Error], sum.ByStatus[http.StatusInternalServerError])
	assert.Equal(t, sum.Sent-sum.ByLevel[emitter.Error], sum.ByStatus[http.StatusNoContent])

	// Every server span must belong to a trace started by the driver.
	roots := make(map[trace.TraceID]bool)
	var servers []sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		switch span.SpanKind() {
		case trace.SpanKindInternal:
			roots[span.SpanContext().TraceID()] = true
		case trace.SpanKindServer:
			servers = append(servers, span)
		}
	}
	require.Len(t, servers, 25)
	for _, span := range servers {
		assert.True(t, roots[span.SpanContext().TraceID()], span.Name())
		assert.NotEmpty(t, span.Events(), span.Name())
	}
}

func TestRunCountsUnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer ts.Close()

	d, err := New(Options{Target: ts.URL, Rate: 500, Count: 5, Seed: 7})
	require.NoError(t, err)

	sum, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, sum.Sent)
	assert.Equal(t, 5, sum.Unexpected)
	assert.Equal(t, 5, sum.ByStatus[http.StatusTeapot])
}

func TestRunStopsOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	d, err := New(Options{Target: ts.URL, Rate: 200})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan Summary, 1)
	go func() {
		sum, _ := d.Run(ctx)
		done <- sum
	}()

	select {
	case sum := <-done:
		assert.Zero(t, sum.Failures)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not stop after cancel")
	}
}

func TestRunCountsTransportFailures(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	target := ts.URL
	ts.Close()

	d, err := New(Options{Target: target, Rate: 500, Count: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sum, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Sent)
	assert.Positive(t, sum.Failures)
}
