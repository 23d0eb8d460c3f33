package coach

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bbrew/core/internal/llm"
)

type fakeGen struct {
	mu        sync.Mutex
	responses []map[string]any
	calls     int
}

func (f *fakeGen) Active() string { return "fake" }

func (f *fakeGen) GenerateJSON(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.responses) {
		return &llm.Result{Object: f.responses[i], Provider: "fake"}, nil
	}
	return &llm.Result{Object: map[string]any{}, Provider: "fake"}, nil
}

func newTestEngine(gen Generator, opts Options) (*Engine, func() []Alert) {
	var mu sync.Mutex
	var alerts []Alert
	publish := func(a Alert, _ []AgendaItem) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	}
	e := NewEngine(gen, func() string { return "plenty of transcript text for a pass" }, publish, opts)
	return e, func() []Alert {
		mu.Lock()
		defer mu.Unlock()
		return append([]Alert(nil), alerts...)
	}
}

func TestTimeBudgetThresholdsFireExactlyOnce(t *testing.T) {
	e, _ := newTestEngine(&fakeGen{}, Options{ExpectedDuration: 100 * time.Minute})

	if got := e.checkTimeBudget(50 * time.Minute); len(got) != 0 {
		t.Errorf("alerts before first threshold: %v", got)
	}

	got := e.checkTimeBudget(80 * time.Minute)
	if len(got) != 1 || got[0].Severity != SeverityInfo || got[0].Type != AlertTimeWarning {
		t.Fatalf("at 80%% got %+v, want one info time warning", got)
	}

	// Same threshold must not fire again.
	if got := e.checkTimeBudget(82 * time.Minute); len(got) != 0 {
		t.Errorf("75%% threshold fired twice: %v", got)
	}

	got = e.checkTimeBudget(95 * time.Minute)
	if len(got) != 1 || got[0].Severity != SeverityWarning {
		t.Fatalf("at 95%% got %+v, want one warning", got)
	}

	got = e.checkTimeBudget(101 * time.Minute)
	if len(got) != 1 || got[0].Severity != SeverityCritical {
		t.Fatalf("at 101%% got %+v, want one critical", got)
	}

	if got := e.checkTimeBudget(200 * time.Minute); len(got) != 0 {
		t.Errorf("thresholds refired: %v", got)
	}
}

func TestTimeBudgetCatchesUpAcrossSkippedThresholds(t *testing.T) {
	e, _ := newTestEngine(&fakeGen{}, Options{ExpectedDuration: 10 * time.Minute})

	got := e.checkTimeBudget(11 * time.Minute)
	if len(got) != 3 {
		t.Fatalf("got %d alerts jumping past all thresholds, want 3", len(got))
	}
}

func TestNoTimeBudgetWithoutExpectedDuration(t *testing.T) {
	e, _ := newTestEngine(&fakeGen{}, Options{})
	if got := e.checkTimeBudget(5 * time.Hour); got != nil {
		t.Errorf("alerts without an expected duration: %v", got)
	}
}

func TestCoverageIsOneWay(t *testing.T) {
	e, _ := newTestEngine(&fakeGen{}, Options{Agenda: []string{"Budget", "Hiring"}})

	e.markCovered("budget", 2*time.Minute)
	agenda := e.Agenda()
	if !agenda[0].Covered || agenda[0].FirstMentioned != 2*time.Minute {
		t.Fatalf("agenda = %+v", agenda)
	}

	// A later mention keeps the first-mentioned time.
	e.markCovered("Budget", 9*time.Minute)
	if got := e.Agenda()[0].FirstMentioned; got != 2*time.Minute {
		t.Errorf("first mention moved to %v", got)
	}
	if e.Agenda()[1].Covered {
		t.Error("unmentioned item marked covered")
	}
}

func TestEmitCarriesAgendaSnapshot(t *testing.T) {
	var got []AgendaItem
	e := NewEngine(&fakeGen{}, func() string { return "" }, func(_ Alert, agenda []AgendaItem) {
		got = agenda
	}, Options{Agenda: []string{"Budget"}})

	e.markCovered("budget", time.Minute)
	e.emit(Alert{ID: "a", Type: AlertSuggestion, Severity: SeverityInfo, Message: "m"})

	if len(got) != 1 || !got[0].Covered || got[0].FirstMentioned != time.Minute {
		t.Errorf("agenda snapshot = %+v", got)
	}
}

func TestPassAppliesCoverageAndAlerts(t *testing.T) {
	gen := &fakeGen{responses: []map[string]any{{
		"covered_items": []any{"Budget"},
		"alerts": []any{
			map[string]any{"type": "off_topic", "severity": "warning", "message": "Drifting into weekend plans"},
			map[string]any{"type": "bogus", "severity": "loud", "message": "Unknown fields get defaults"},
			map[string]any{"type": "suggestion", "severity": "info", "message": ""},
		},
	}}}
	e, alerts := newTestEngine(gen, Options{Agenda: []string{"Budget"}})

	if err := e.pass(context.Background(), time.Minute, "transcript"); err != nil {
		t.Fatalf("pass: %v", err)
	}

	if !e.Agenda()[0].Covered {
		t.Error("covered item not applied")
	}
	got := alerts()
	if len(got) != 2 {
		t.Fatalf("alerts = %+v, want 2 (empty message dropped)", got)
	}
	if got[0].Type != AlertOffTopic || got[0].Severity != SeverityWarning {
		t.Errorf("first alert = %+v", got[0])
	}
	if got[1].Type != AlertSuggestion || got[1].Severity != SeverityInfo {
		t.Errorf("invalid fields not defaulted: %+v", got[1])
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Error("alert ids must be unique and non-empty")
	}
}
