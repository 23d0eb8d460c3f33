package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewIDsAreUnique(t *testing.T) {
	a, b := New(), New()
	if a.TraceID == b.TraceID {
		t.Error("trace ids should differ")
	}
	if len(a.TraceID) != 32 || len(a.SpanID) != 16 {
		t.Errorf("unexpected id lengths: %d/%d", len(a.TraceID), len(a.SpanID))
	}
}

func TestChildKeepsTraceID(t *testing.T) {
	parent := New()
	child := NewChild(parent)
	if child.TraceID != parent.TraceID {
		t.Error("child should share trace id")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child parent span should be parent's span")
	}
}

func TestEnsureContextRoundTrip(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got.TraceID != tc.TraceID {
		t.Error("trace context not stored on ctx")
	}

	// Second call must not replace it
	_, tc2 := EnsureContext(ctx)
	if tc2.TraceID != tc.TraceID {
		t.Error("EnsureContext replaced existing trace")
	}
}

func TestSpanInheritsTrace(t *testing.T) {
	ctx, tc := EnsureContext(context.Background())
	_, span := StartSpan(ctx, "llm_call")
	if span.Ctx.TraceID != tc.TraceID {
		t.Error("span should inherit trace id")
	}
}

func TestSpanDuration(t *testing.T) {
	_, span := StartSpan(context.Background(), "op")
	time.Sleep(5 * time.Millisecond)
	span.End()
	if span.Duration() < 5*time.Millisecond {
		t.Errorf("duration too small: %v", span.Duration())
	}
}

func TestMiddlewareHonorsInboundID(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, _ := FromContext(r.Context())
		seen = tc.TraceID
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderTraceID, "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc123" {
		t.Errorf("inbound trace id not honored, got %q", seen)
	}
	if rec.Header().Get(HeaderTraceID) != "abc123" {
		t.Error("trace id not echoed on response")
	}
}
