package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bbrew/core/internal/audio"
	"github.com/bbrew/core/internal/config"
	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/history"
	"github.com/bbrew/core/internal/llm"
	"github.com/bbrew/core/internal/stt"
)

type fakeCapture struct {
	mu      sync.Mutex
	done    chan struct{}
	onStop  func()
	stopped bool
	err     error
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	if f.onStop != nil {
		f.onStop()
	}
	close(f.done)
}

func (f *fakeCapture) Done() <-chan struct{} { return f.done }

func (f *fakeCapture) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// fail simulates the device dying mid-session: the write loop finishes on
// its own without anyone having called Stop.
func (f *fakeCapture) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	f.err = err
	if f.onStop != nil {
		f.onStop()
	}
	close(f.done)
}

type fakeCapturer struct {
	startErr  error
	lastPart  string
	lastFinal string
	capture   *fakeCapture
	finalData []byte
}

func (f *fakeCapturer) Start(mode audio.Mode, partPath, finalPath string) (CaptureHandle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.lastPart, f.lastFinal = partPath, finalPath
	f.capture = &fakeCapture{done: make(chan struct{})}
	f.capture.onStop = func() {
		if f.finalData != nil {
			_ = os.WriteFile(finalPath, f.finalData, 0o644)
		}
	}
	return f.capture, nil
}

type fakeTranscriber struct {
	readyErr error
	result   *stt.Result
	err      error
}

func (f *fakeTranscriber) Ready() error { return f.readyErr }
func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeGen struct {
	object map[string]any
	raw    string
	err    error
	delay  time.Duration
}

func (f *fakeGen) Active() string { return "fake" }
func (f *fakeGen) GenerateJSON(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	res := &llm.Result{Object: f.object, Raw: f.raw, Provider: "fake"}
	if f.err != nil {
		return res, f.err
	}
	return res, nil
}

type fakeStore struct {
	mu   sync.Mutex
	recs []history.Record
}

func (f *fakeStore) Append(rec history.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeStore) records() []history.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]history.Record(nil), f.recs...)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		RecordingsDir:      t.TempDir(),
		TranscribeInterval: 0.05,
		InsightInterval:    0.05,
		InsightGracePeriod: 0,
		InsightMinChars:    50,
		TranscriptWindow:   3000,
		CoachInterval:      0.05,
	}
}

func newTestManager(t *testing.T, capt Capturer, tr stt.Transcriber, gen Generator, store Recorder) *Manager {
	t.Helper()
	return NewManager(testConfig(t), capt, tr, gen, store, NewBus())
}

// drainEvents empties the bus without blocking.
func drainEvents(bus *Bus) []Event {
	var out []Event
	for {
		select {
		case evt := <-bus.Events():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func happyTranscriber() *fakeTranscriber {
	return &fakeTranscriber{result: &stt.Result{
		Text: "hello world",
		Segments: []stt.Segment{
			{Start: 0, End: 2.5, Text: "hello world"},
			{Start: 3, End: 5, Text: "goodbye"},
		},
	}}
}

func TestStartRejectsSecondSession(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{object: map[string]any{}}, nil)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer m.Stop(context.Background())

	_, err := m.Start(StartOptions{Mode: audio.ModeMicrophone})
	if !apperrors.IsCode(err, apperrors.CodeSessionActive) {
		t.Fatalf("got %v, want %s", err, apperrors.CodeSessionActive)
	}
}

func TestStartWhileModelLoading(t *testing.T) {
	tr := &fakeTranscriber{readyErr: apperrors.New(apperrors.CodeModelLoading, "loading")}
	m := newTestManager(t, &fakeCapturer{}, tr, &fakeGen{}, nil)

	_, err := m.Start(StartOptions{Mode: audio.ModeMicrophone})
	if !apperrors.IsCode(err, apperrors.CodeModelLoading) {
		t.Fatalf("got %v, want %s", err, apperrors.CodeModelLoading)
	}
	if m.Status().State != StateIdle {
		t.Error("failed start must leave the manager idle")
	}
}

func TestStartFailsOnMissingDevice(t *testing.T) {
	capt := &fakeCapturer{startErr: apperrors.New(apperrors.CodeDeviceNotFound, "no hybrid device")}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{}, nil)

	_, err := m.Start(StartOptions{Mode: audio.ModeHybrid})
	if !apperrors.IsCode(err, apperrors.CodeDeviceNotFound) {
		t.Fatalf("got %v, want %s", err, apperrors.CodeDeviceNotFound)
	}
	if m.Status().State != StateIdle {
		t.Error("failed start must leave the manager idle")
	}
}

func TestStopWithoutSession(t *testing.T) {
	m := newTestManager(t, &fakeCapturer{}, happyTranscriber(), &fakeGen{}, nil)

	_, err := m.Stop(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeSessionNotActive) {
		t.Fatalf("got %v, want %s", err, apperrors.CodeSessionNotActive)
	}
}

func TestStartStopHappyPath(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	gen := &fakeGen{object: map[string]any{
		"title":             "Planning sync",
		"executive_summary": "We planned things.",
		"speaker_info":      map[string]any{"count": 2.0, "list": []any{"Speaker 1", "Speaker 2"}},
		"tasks": []any{
			map[string]any{"description": "Write it up", "assignee": "dana"},
		},
	}}
	store := &fakeStore{}
	m := newTestManager(t, capt, happyTranscriber(), gen, store)

	id, err := m.Start(StartOptions{Mode: audio.ModeMicrophone})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Status().State != StateCapturing || m.Status().SessionID != id {
		t.Fatalf("status = %+v", m.Status())
	}

	rec, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.ID != id || rec.Title != "Planning sync" {
		t.Errorf("record = %+v", rec)
	}
	if rec.SpeakerInfo.Count != 2 || len(rec.Tasks) != 1 {
		t.Errorf("summary fields = %+v", rec)
	}
	if rec.Transcript == "" || rec.Duration == "" {
		t.Errorf("metadata missing: %+v", rec)
	}
	if m.Status().State != StateIdle {
		t.Error("manager not idle after stop")
	}
	if got := store.records(); len(got) != 1 || got[0].ID != id {
		t.Errorf("history = %+v", got)
	}
}

func TestStopSalvagesMalformedSummary(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	gen := &fakeGen{
		raw: "the model rambled instead of emitting JSON",
		err: apperrors.New(apperrors.CodeMalformedResponse, "not json"),
	}
	m := newTestManager(t, capt, happyTranscriber(), gen, nil)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec, err := m.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.ErrorSummary != "the model rambled instead of emitting JSON" {
		t.Errorf("error summary = %q", rec.ErrorSummary)
	}
	if rec.Transcript == "" {
		t.Error("transcript must survive a malformed summary")
	}
	if rec.Title == "" {
		t.Error("degraded record still needs a fallback title")
	}
}

func TestStopRejectsTooShortCapture(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 100)}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{}, nil)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := m.Stop(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeCaptureTooShort) {
		t.Fatalf("got %v, want %s", err, apperrors.CodeCaptureTooShort)
	}
	if m.Status().State != StateIdle {
		t.Error("manager must return to idle after a failed finalization")
	}
	if _, err := os.Stat(capt.lastFinal); !os.IsNotExist(err) {
		t.Error("too-short recording left on disk")
	}
}

func TestStopOutlivesCallerContext(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	store := &fakeStore{}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{object: map[string]any{"title": "t"}}, store)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The client hanging up mid-stop must not lose the meeting.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec == nil || rec.Transcript == "" {
		t.Fatalf("record = %+v", rec)
	}
	if got := store.records(); len(got) != 1 {
		t.Fatalf("history = %d records, want 1", len(got))
	}
}

func TestSecondStopDuringFinalizationIsNoOp(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	gen := &fakeGen{object: map[string]any{"title": "t"}, delay: 300 * time.Millisecond}
	store := &fakeStore{}
	bus := NewBus()
	m := NewManager(testConfig(t), capt, happyTranscriber(), gen, store, bus)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	firstDone := make(chan *history.Record, 1)
	go func() {
		rec, _ := m.Stop(context.Background())
		firstDone <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.Status().State != StateStopping {
		if time.Now().After(deadline) {
			t.Fatal("first Stop never reached the stopping state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, err := m.Stop(context.Background())
	if rec != nil || err != nil {
		t.Fatalf("second Stop = (%v, %v), want a silent no-op", rec, err)
	}

	if first := <-firstDone; first == nil {
		t.Fatal("first Stop lost the record")
	}
	if got := store.records(); len(got) != 1 {
		t.Fatalf("history = %d records, want exactly one finalization", len(got))
	}

	results := 0
	for _, evt := range drainEvents(bus) {
		if evt.Type == EventResult {
			results++
		}
	}
	if results != 1 {
		t.Errorf("result events = %d, want 1", results)
	}
}

func TestTrackerReportsModelLoadFailureOnce(t *testing.T) {
	tr := &fakeTranscriber{readyErr: apperrors.New(apperrors.CodeModelLoadFailed, "model load failed")}
	bus := NewBus()
	m := NewManager(testConfig(t), &fakeCapturer{}, tr, &fakeGen{}, nil, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	m.runTracker(ctx, t.TempDir()+"/rec.part.wav")

	var failures, placeholders int
	for _, evt := range drainEvents(bus) {
		switch {
		case evt.Type == EventStatus && evt.Payload == modelFailedStatus:
			failures++
		case evt.Type == EventTranscript && evt.Payload == modelLoadingPlaceholder:
			placeholders++
		}
	}
	if failures != 1 {
		t.Errorf("failure status published %d times, want exactly once", failures)
	}
	if placeholders != 0 {
		t.Errorf("a dead model must not read as still loading, got %d placeholders", placeholders)
	}
}

func TestCaptureFailureStopsSession(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	store := &fakeStore{}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{object: map[string]any{"title": "t"}}, store)

	if _, err := m.Start(StartOptions{Mode: audio.ModeMicrophone}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	capt.capture.fail(apperrors.New(apperrors.CodeDeviceIO, "stream died"))

	deadline := time.Now().Add(5 * time.Second)
	for m.Status().State != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("manager never returned to idle after capture failure")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := store.records(); len(got) != 1 {
		t.Fatalf("captured audio must still be finalized, history = %+v", got)
	}
}

func TestSessionsAreRestartableAfterStop(t *testing.T) {
	capt := &fakeCapturer{finalData: make([]byte, 8192)}
	m := newTestManager(t, capt, happyTranscriber(), &fakeGen{object: map[string]any{"title": "t"}}, nil)

	first, err := m.Start(StartOptions{Mode: audio.ModeMicrophone})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	time.Sleep(1100 * time.Millisecond) // distinct rec_HHMMSS name

	second, err := m.Start(StartOptions{Mode: audio.ModeMicrophone})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second == first {
		t.Error("session ids must be unique")
	}
	if _, err := m.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
