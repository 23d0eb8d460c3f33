package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbrew/core/internal/audio"
	"github.com/bbrew/core/internal/coach"
	"github.com/bbrew/core/internal/config"
	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/history"
	"github.com/bbrew/core/internal/insight"
	"github.com/bbrew/core/internal/llm"
	"github.com/bbrew/core/internal/stt"
	"github.com/bbrew/core/internal/syncx"
)

// State is the lifecycle phase of the manager.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateStopping  State = "stopping"
)

// Lifecycle status texts pushed to clients.
const (
	statusRecording  = "Recording..."
	statusProcessing = "Processing final audio..."
	statusSummary    = "Generating AI Summary..."
	statusReady      = "Ready"
)

// How long Stop waits on the capture and on each analysis loop.
const joinTimeout = 3 * time.Second

// Cap on the finalization pipeline once it is detached from the caller.
const finalizeTimeout = 5 * time.Minute

// Capturer abstracts the audio engine for the manager.
type Capturer interface {
	Start(mode audio.Mode, partPath, finalPath string) (CaptureHandle, error)
}

// CaptureHandle is one in-flight recording.
type CaptureHandle interface {
	Stop()
	Done() <-chan struct{}
	Err() error
}

// Generator is the slice of the llm router the manager and its loops need.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request) (*llm.Result, error)
	Active() string
}

// Recorder persists finished meetings.
type Recorder interface {
	Append(rec history.Record) error
}

// CoachUpdate is the payload of a coach event: the new alert plus the
// agenda coverage at the moment it was raised.
type CoachUpdate struct {
	Alert  coach.Alert        `json:"alert"`
	Agenda []coach.AgendaItem `json:"agenda"`
}

// StartOptions parametrize one session.
type StartOptions struct {
	Mode             audio.Mode
	Agenda           []string
	Notes            string
	Context          []string
	ExpectedDuration time.Duration
}

// active is the mutable state of one running session.
type active struct {
	id        string
	mode      audio.Mode
	startedAt time.Time
	partPath  string
	finalPath string
	capture   CaptureHandle
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

// Manager enforces the at-most-one-session lifecycle and wires the live
// loops to a capture.
type Manager struct {
	cfg      *config.Config
	capturer Capturer
	stt      stt.Transcriber
	gen      Generator
	store    Recorder
	bus      *Bus

	transcript *syncx.Guard[string]

	mu      sync.Mutex
	state   State
	current *active
}

// NewManager wires a manager. store may be nil when persistence is
// disabled.
func NewManager(cfg *config.Config, capturer Capturer, transcriber stt.Transcriber, gen Generator, store Recorder, bus *Bus) *Manager {
	return &Manager{
		cfg:        cfg,
		capturer:   capturer,
		stt:        transcriber,
		gen:        gen,
		store:      store,
		bus:        bus,
		transcript: syncx.NewGuard(""),
		state:      StateIdle,
	}
}

// Transcript returns the latest live transcript snapshot.
func (m *Manager) Transcript() string {
	return m.transcript.Get()
}

// Status describes the manager for clients.
type Status struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Provider  string    `json:"provider"`
}

// Status reports the current lifecycle phase.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{State: m.state, Provider: m.gen.Active()}
	if m.current != nil {
		s.SessionID = m.current.id
		s.Mode = string(m.current.mode)
		s.StartedAt = m.current.startedAt
	}
	return s
}

// Start begins a session. It is a no-op returning a typed error when a
// session is already running or the speech model is not ready yet.
func (m *Manager) Start(opts StartOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return "", apperrors.New(apperrors.CodeSessionActive, "a session is already running")
	}
	if err := m.stt.Ready(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(m.cfg.RecordingsDir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeDeviceIO, "create recordings dir")
	}

	now := time.Now()
	base := filepath.Join(m.cfg.RecordingsDir, "rec_"+now.Format("150405"))
	partPath := base + ".part.wav"
	finalPath := base + ".wav"

	capture, err := m.capturer.Start(opts.Mode, partPath, finalPath)
	if err != nil {
		return "", err
	}

	sess := &active{
		id:        uuid.NewString(),
		mode:      opts.Mode,
		startedAt: now,
		partPath:  partPath,
		finalPath: finalPath,
		capture:   capture,
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	m.current = sess
	m.state = StateCapturing
	m.transcript.Set("")

	m.startLoops(ctx, sess, opts)

	m.bus.Publish(EventStatus, statusRecording)
	slog.Info("session started", "session", sess.id, "mode", sess.mode)
	return sess.id, nil
}

func (m *Manager) startLoops(ctx context.Context, sess *active, opts StartOptions) {
	// The capture finishing while we are still Capturing means the device
	// failed under us; drive the normal stop path so whatever audio made it
	// to disk is still finalized.
	go func() {
		<-sess.capture.Done()
		m.mu.Lock()
		failed := m.state == StateCapturing && m.current == sess
		m.mu.Unlock()
		if !failed {
			return
		}
		err := sess.capture.Err()
		slog.Error("capture ended unexpectedly", "session", sess.id, "error", err)
		if err != nil {
			m.bus.Publish(EventStatus, apperrors.UserMessage(err))
		} else {
			m.bus.Publish(EventStatus, "Audio device stopped unexpectedly")
		}
		if _, serr := m.Stop(context.Background()); serr != nil {
			slog.Error("stop after capture failure failed", "session", sess.id, "error", serr)
		}
	}()

	sess.loops.Add(1)
	go func() {
		defer sess.loops.Done()
		m.runTracker(ctx, sess.partPath)
	}()

	grace := secs(m.cfg.InsightGracePeriod)
	if m.gen.Active() == "ollama" {
		// Local models warm up slowly; give the first pass more runway.
		grace *= 2
	}
	engine := insight.NewEngine(m.gen, m.transcript.Get, func(s insight.State) {
		m.bus.Publish(EventInsights, s)
	}, insight.Options{
		Interval:      secs(m.cfg.InsightInterval),
		GracePeriod:   grace,
		MinChars:      m.cfg.InsightMinChars,
		Window:        m.cfg.TranscriptWindow,
		SlowThreshold: secs(m.cfg.SlowCallThreshold),
	})
	sess.loops.Add(1)
	go func() {
		defer sess.loops.Done()
		engine.Run(ctx)
	}()

	if len(opts.Agenda) > 0 || opts.ExpectedDuration > 0 {
		c := coach.NewEngine(m.gen, m.transcript.Get, func(a coach.Alert, agenda []coach.AgendaItem) {
			m.bus.Publish(EventCoach, CoachUpdate{Alert: a, Agenda: agenda})
		}, coach.Options{
			Agenda:           opts.Agenda,
			Notes:            opts.Notes,
			Context:          opts.Context,
			ExpectedDuration: opts.ExpectedDuration,
			Interval:         secs(m.cfg.CoachInterval),
			MinChars:         m.cfg.InsightMinChars,
			Window:           m.cfg.TranscriptWindow,
		})
		sess.loops.Add(1)
		go func() {
			defer sess.loops.Done()
			c.Run(ctx)
		}()
	}
}

// Stop ends the active session, waits out the capture and loops with
// bounded joins, and runs finalization exactly once. A second Stop while
// one is in flight is a harmless no-op.
func (m *Manager) Stop(ctx context.Context) (*history.Record, error) {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeSessionNotActive, "no session to stop")
	case StateStopping:
		m.mu.Unlock()
		return nil, nil
	}
	sess := m.current
	m.state = StateStopping
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state = StateIdle
		m.current = nil
		m.mu.Unlock()
	}()

	m.bus.Publish(EventStatus, statusProcessing)
	sess.cancel()
	sess.capture.Stop()

	select {
	case <-sess.capture.Done():
	case <-time.After(joinTimeout):
		slog.Warn("capture did not drain in time", "session", sess.id)
	}
	if err := sess.capture.Err(); err != nil {
		slog.Warn("capture ended with error", "session", sess.id, "error", err)
	}

	waitBounded(&sess.loops, joinTimeout)

	m.bus.Publish(EventStatus, statusSummary)

	// Finalization outlives the caller: a client hanging up or a shutdown
	// deadline expiring at stop time must not lose the meeting.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()
	rec, err := m.finalize(fctx, sess)
	if err != nil {
		m.bus.Publish(EventStatus, apperrors.UserMessage(err))
		slog.Error("finalization failed", "session", sess.id, "error", err)
		return nil, err
	}

	if m.store != nil {
		if err := m.store.Append(*rec); err != nil {
			slog.Error("history append failed", "session", sess.id, "error", err)
		}
	}

	m.bus.Publish(EventResult, rec)
	m.bus.Publish(EventStatus, statusReady)
	slog.Info("session finished", "session", sess.id, "title", rec.Title)
	return rec, nil
}

func waitBounded(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("analysis loops did not exit in time")
	}
}

func secs(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// EngineCapturer adapts the audio engine to the Capturer interface.
type EngineCapturer struct {
	Engine *audio.Engine
}

func (e EngineCapturer) Start(mode audio.Mode, partPath, finalPath string) (CaptureHandle, error) {
	c, err := e.Engine.Start(mode, partPath, finalPath)
	if err != nil {
		return nil, err
	}
	return c, nil
}
