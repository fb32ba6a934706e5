// Package emitter turns a requested severity and message into span
// mutations and an HTTP status code.
//
// Two variants exist. Ambient annotates whatever span the request context
// already carries and degrades to a status-only answer when there is none.
// Owned starts a dedicated "<level>-operation" span per call and ends it on
// every exit path.
package emitter

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/heatmap-panel/span-tester/internal/config"
)

// TracerName is the instrumentation scope of owned spans.
const TracerName = "github.com/heatmap-panel/span-tester/internal/emitter"

const (
	keyLevel   = attribute.Key("level")
	keyMessage = attribute.Key("message")
	keyError   = attribute.Key("error")
)

// Emitter records level and body on a span and returns the response status.
// Unknown levels yield http.StatusBadRequest without touching any span.
type Emitter interface {
	Emit(ctx context.Context, level, body string) int
}

// New returns the variant named by mode.
func New(mode string, tp trace.TracerProvider, version string) (Emitter, error) {
	switch mode {
	case config.ModeAmbient:
		return NewAmbient(SpanFromContext), nil
	case config.ModeOwned:
		return NewOwned(tp, version), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, mode)
	}
}

// ── Ambient ─────────────────────────────────────────────────────────

// SpanAccessor reports the span active in ctx, if any.
type SpanAccessor func(ctx context.Context) (trace.Span, bool)

// SpanFromContext is the SpanAccessor backed by the otel context.
func SpanFromContext(ctx context.Context) (trace.Span, bool) {
	span := trace.SpanFromContext(ctx)
	return span, span.SpanContext().IsValid()
}

// Ambient annotates the span supplied by request instrumentation.
type Ambient struct {
	active SpanAccessor
}

// NewAmbient returns an Ambient reading spans through active.
func NewAmbient(active SpanAccessor) *Ambient {
	if active == nil {
		active = SpanFromContext
	}
	return &Ambient{active: active}
}

func (a *Ambient) Emit(ctx context.Context, level, body string) int {
	l, err := ParseLevel(level)
	if err != nil {
		return http.StatusBadRequest
	}
	out := l.Outcome()

	span, ok := a.active(ctx)
	if !ok {
		return out.HTTPStatus
	}
	annotate(span, l, out, body)
	return out.HTTPStatus
}

// ── Owned ───────────────────────────────────────────────────────────

// Owned starts and ends its own span for every call.
type Owned struct {
	tracer trace.Tracer
}

// NewOwned returns an Owned using a tracer from tp.
func NewOwned(tp trace.TracerProvider, version string) *Owned {
	return &Owned{
		tracer: tp.Tracer(TracerName, trace.WithInstrumentationVersion(version)),
	}
}

func (o *Owned) Emit(ctx context.Context, level, body string) int {
	l, err := ParseLevel(level)
	if err != nil {
		return http.StatusBadRequest
	}
	out := l.Outcome()

	_, span := o.tracer.Start(ctx, l.String()+"-operation")
	defer span.End()

	span.SetAttributes(keyLevel.String(l.String()), keyMessage.String(body))
	if out.Failure {
		span.SetAttributes(keyError.Bool(true))
	}
	annotate(span, l, out, body)
	return out.HTTPStatus
}

// ── Shared ──────────────────────────────────────────────────────────

// reportedError carries a caller-supplied message into an exception event.
type reportedError string

func (e reportedError) Error() string { return string(e) }

func annotate(span trace.Span, l Level, out Outcome, body string) {
	span.AddEvent(out.Event, trace.WithAttributes(
		keyMessage.String(body),
		keyLevel.String(l.String()),
	))
	if !out.Failure {
		span.SetStatus(out.Status, "")
		return
	}
	span.SetStatus(out.Status, body)
	span.RecordError(reportedError(body))
}
