package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/llm"
)

// Generator is the slice of the llm router the engine needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request) (*llm.Result, error)
	Active() string
}

// Options tunes the analysis loop.
type Options struct {
	Interval      time.Duration // between analysis passes
	GracePeriod   time.Duration // initial wait before the first pass
	MinChars      int           // skip passes until this much transcript exists
	Window        int           // transcript tail sent per pass, in chars
	SlowThreshold time.Duration // a pass slower than this disables the loop
}

// Engine runs the periodic analysis loop for one session.
type Engine struct {
	gen        Generator
	transcript func() string
	publish    func(State)
	opts       Options
}

// NewEngine wires the loop to a transcript source and a publish sink.
func NewEngine(gen Generator, transcript func() string, publish func(State), opts Options) *Engine {
	return &Engine{gen: gen, transcript: transcript, publish: publish, opts: opts}
}

// Run executes analysis passes until the context ends, a fatal provider
// error occurs, or a pass exceeds the slow-call threshold. Each session
// starts from an empty state.
func (e *Engine) Run(ctx context.Context) {
	var state State

	if !sleepCtx(ctx, e.opts.GracePeriod) {
		return
	}

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		text := e.transcript()
		if len(text) >= e.opts.MinChars {
			update, elapsed, err := e.pass(ctx, state, tail(text, e.opts.Window))
			switch {
			case ctx.Err() != nil:
				return
			case err != nil && apperrors.IsFatalLLM(err):
				slog.Error("analysis stopped for this session", "error", err)
				return
			case err != nil:
				slog.Warn("analysis pass failed", "error", err)
			default:
				state = Merge(state, update)
				e.publish(state)
			}
			if e.opts.SlowThreshold > 0 && elapsed > e.opts.SlowThreshold {
				slog.Warn("provider too slow for live analysis, disabling",
					"provider", e.gen.Active(), "elapsed", elapsed)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) pass(ctx context.Context, state State, window string) (State, time.Duration, error) {
	start := time.Now()
	res, err := e.gen.GenerateJSON(ctx, llm.Request{Prompt: buildPrompt(state, window)})
	elapsed := time.Since(start)
	if err != nil {
		return State{}, elapsed, err
	}
	return fromObject(res.Object), elapsed, nil
}

// buildPrompt echoes the accumulated analysis back and asks the model to
// extend it from the newest transcript window, so earlier findings persist
// even when their source text has scrolled out.
func buildPrompt(state State, window string) string {
	prior, _ := json.Marshal(state)
	return fmt.Sprintf(`You are analyzing a live meeting. Here is the analysis so far:

%s

Here is the latest portion of the transcript:

%s

Update the analysis. Keep everything still valid from the prior analysis and add what the new transcript reveals. Respond with a JSON object with these keys: "meeting_type" (string), "confidence" (number 0-1), "topic" (string), "sentiment" (string), "key_points" (array of strings), "action_items" (array of {"text","assignee"}), "decisions" (array of strings), "suggested_questions" (array of strings).`,
		prior, window)
}

func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// sleepCtx waits in small increments so a stopped session exits promptly.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return ctx.Err() == nil
}
