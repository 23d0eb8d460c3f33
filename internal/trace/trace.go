// Package trace provides request-scoped trace ids and timed spans for the
// pipeline's outward calls (transcription, LLM). Lightweight, slog-based.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"
)

// HeaderTraceID is honored on inbound HTTP requests so a UI can correlate.
const HeaderTraceID = "x-trace-id"

type ctxKey struct{}

// Context holds the identifiers for one span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// New creates a trace context with fresh ids.
func New() Context {
	return Context{TraceID: newID(16), SpanID: newID(8)}
}

// NewChild derives a child span context from parent.
func NewChild(parent Context) Context {
	return Context{
		TraceID:      parent.TraceID,
		SpanID:       newID(8),
		ParentSpanID: parent.SpanID,
	}
}

func newID(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext extracts trace context, if present.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext injects trace context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// EnsureContext returns the existing trace context or creates one.
func EnsureContext(ctx context.Context) (context.Context, Context) {
	if tc, ok := FromContext(ctx); ok {
		return ctx, tc
	}
	tc := New()
	return WithContext(ctx, tc), tc
}

// Span is a timed operation within a trace.
type Span struct {
	Name    string
	Ctx     Context
	started time.Time
	ended   time.Time
	attrs   []any
}

// StartSpan begins a span as a child of whatever trace is on ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, ok := FromContext(ctx)
	tc := NewChild(parent)
	if !ok {
		tc = New()
	}
	s := &Span{Name: name, Ctx: tc, started: time.Now()}
	return WithContext(ctx, tc), s
}

// End marks the span complete and logs it at debug level.
func (s *Span) End() {
	s.ended = time.Now()
	args := append([]any{
		"span", s.Name,
		"trace_id", s.Ctx.TraceID,
		"duration", s.Duration(),
	}, s.attrs...)
	slog.Debug("span end", args...)
}

// SetAttr records an attribute logged when the span ends.
func (s *Span) SetAttr(key string, val any) {
	s.attrs = append(s.attrs, key, val)
}

// Duration returns elapsed time; while the span is open it is time-so-far.
func (s *Span) Duration() time.Duration {
	if s.ended.IsZero() {
		return time.Since(s.started)
	}
	return s.ended.Sub(s.started)
}

// Logger returns a slog.Logger carrying the trace ids on ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}

// Middleware attaches a trace context to every request, honoring an
// inbound x-trace-id header when one is supplied.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := New()
		if id := r.Header.Get(HeaderTraceID); id != "" {
			tc.TraceID = id
		}
		w.Header().Set(HeaderTraceID, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
