package coach

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/llm"
)

// Generator is the slice of the llm router the coach needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request) (*llm.Result, error)
	Active() string
}

// Options configures one coached session.
type Options struct {
	Agenda           []string
	Notes            string
	Context          []string // prior-meeting references
	ExpectedDuration time.Duration
	Interval         time.Duration
	MinChars         int
	Window           int
}

// Engine runs the coaching loop for one session.
type Engine struct {
	gen        Generator
	transcript func() string
	publish    func(Alert, []AgendaItem)
	opts       Options
	start      time.Time

	mu     sync.Mutex
	agenda []AgendaItem
	recent []Alert
	fired  map[string]bool
}

// NewEngine builds a coach for the given agenda and expectations. Every
// published alert carries a snapshot of the agenda coverage at that moment.
func NewEngine(gen Generator, transcript func() string, publish func(Alert, []AgendaItem), opts Options) *Engine {
	e := &Engine{
		gen:        gen,
		transcript: transcript,
		publish:    publish,
		opts:       opts,
		start:      time.Now(),
		fired:      make(map[string]bool),
	}
	for _, item := range opts.Agenda {
		if strings.TrimSpace(item) != "" {
			e.agenda = append(e.agenda, AgendaItem{Text: strings.TrimSpace(item)})
		}
	}
	return e
}

// Agenda returns a copy of the current coverage state.
func (e *Engine) Agenda() []AgendaItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AgendaItem, len(e.agenda))
	copy(out, e.agenda)
	return out
}

// Run ticks until the context ends. Time-budget checks never touch the
// model; agenda and advice checks do.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := time.Since(e.start)
		for _, a := range e.checkTimeBudget(elapsed) {
			e.emit(a)
		}

		text := e.transcript()
		if len(text) < e.opts.MinChars {
			continue
		}
		if err := e.pass(ctx, elapsed, tail(text, e.opts.Window)); err != nil {
			if apperrors.IsFatalLLM(err) {
				slog.Error("coaching stopped for this session", "error", err)
				return
			}
			slog.Warn("coaching pass failed", "error", err)
		}
	}
}

// checkTimeBudget raises each expected-duration threshold alert exactly
// once. Safe to call with any elapsed value, in any order.
func (e *Engine) checkTimeBudget(elapsed time.Duration) []Alert {
	if e.opts.ExpectedDuration <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Alert
	frac := float64(elapsed) / float64(e.opts.ExpectedDuration)
	for _, th := range timeThresholds {
		if frac < th.Ratio || e.fired[th.Label] {
			continue
		}
		e.fired[th.Label] = true
		msg := fmt.Sprintf("Meeting has used %s of its planned time", th.Label)
		if th.Ratio >= 1.0 {
			msg = "Meeting has exceeded its planned duration"
		}
		out = append(out, Alert{
			ID:       ulid.Make().String(),
			Elapsed:  elapsed,
			Type:     AlertTimeWarning,
			Severity: th.Severity,
			Message:  msg,
		})
	}
	return out
}

func (e *Engine) pass(ctx context.Context, elapsed time.Duration, window string) error {
	res, err := e.gen.GenerateJSON(ctx, llm.Request{Prompt: e.buildPrompt(window)})
	if err != nil {
		return err
	}

	for _, item := range stringList(res.Object["covered_items"]) {
		e.markCovered(item, elapsed)
	}

	alerts, _ := res.Object["alerts"].([]any)
	for _, raw := range alerts {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		a := Alert{
			ID:      ulid.Make().String(),
			Elapsed: elapsed,
		}
		if s, _ := m["type"].(string); validType(AlertType(s)) {
			a.Type = AlertType(s)
		} else {
			a.Type = AlertSuggestion
		}
		if s, _ := m["severity"].(string); validSeverity(Severity(s)) {
			a.Severity = Severity(s)
		} else {
			a.Severity = SeverityInfo
		}
		a.Message, _ = m["message"].(string)
		a.AgendaItem, _ = m["agenda_item"].(string)
		if strings.TrimSpace(a.Message) == "" {
			continue
		}
		e.emit(a)
	}
	return nil
}

// markCovered flips an agenda item to covered on first mention. Never
// reverts.
func (e *Engine) markCovered(text string, elapsed time.Duration) {
	key := strings.ToLower(strings.TrimSpace(text))
	if key == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.agenda {
		if strings.ToLower(e.agenda[i].Text) != key {
			continue
		}
		if !e.agenda[i].Covered {
			e.agenda[i].Covered = true
			e.agenda[i].FirstMentioned = elapsed
		}
		return
	}
}

func (e *Engine) emit(a Alert) {
	e.mu.Lock()
	e.recent = append(e.recent, a)
	if len(e.recent) > 10 {
		e.recent = e.recent[len(e.recent)-10:]
	}
	agenda := make([]AgendaItem, len(e.agenda))
	copy(agenda, e.agenda)
	e.mu.Unlock()
	e.publish(a, agenda)
}

func (e *Engine) buildPrompt(window string) string {
	var b strings.Builder
	b.WriteString("You are coaching a live meeting.\n\nAgenda and coverage:\n")

	e.mu.Lock()
	for _, item := range e.agenda {
		status := "not yet discussed"
		if item.Covered {
			status = "covered"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", item.Text, status)
	}
	recent := append([]Alert(nil), e.recent...)
	e.mu.Unlock()

	if e.opts.Notes != "" {
		fmt.Fprintf(&b, "\nMeeting notes:\n%s\n", e.opts.Notes)
	}
	if len(e.opts.Context) > 0 {
		b.WriteString("\nContext from earlier meetings:\n")
		for _, c := range e.opts.Context {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(recent) > 0 {
		b.WriteString("\nAlerts already raised (do not repeat them):\n")
		for _, a := range recent {
			fmt.Fprintf(&b, "- [%s] %s\n", a.Type, a.Message)
		}
	}

	fmt.Fprintf(&b, `
Latest transcript:

%s

Respond with a JSON object: "covered_items" (array of agenda item texts now discussed) and "alerts" (array of {"type","severity","message","agenda_item"}). Valid types: off_topic, agenda_covered, agenda_missing, suggestion, context_reference. Valid severities: info, warning, critical. Only raise alerts that are genuinely useful right now.`, window)
	return b.String()
}

func validType(t AlertType) bool {
	switch t {
	case AlertOffTopic, AlertAgendaCovered, AlertAgendaMissing,
		AlertSuggestion, AlertContextReference, AlertTimeWarning:
		return true
	}
	return false
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
