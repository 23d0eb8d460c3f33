package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/bbrew/core/internal/audio"
	apperrors "github.com/bbrew/core/internal/errors"
	"github.com/bbrew/core/internal/history"
	"github.com/bbrew/core/internal/session"
	"github.com/bbrew/core/internal/trace"
)

// Sessions is the lifecycle surface the server exposes.
type Sessions interface {
	Start(opts session.StartOptions) (string, error)
	Stop(ctx context.Context) (*history.Record, error)
	Status() session.Status
}

// Devices lists capture endpoints.
type Devices interface {
	Refresh()
	Reinit()
	List() []audio.Device
}

// Meetings reads the session history.
type Meetings interface {
	List() ([]history.Record, error)
}

// StartRequest is the body of POST /api/recording/start.
type StartRequest struct {
	Mode            string   `json:"mode"`
	Agenda          []string `json:"agenda,omitempty"`
	Notes           string   `json:"notes,omitempty"`
	Context         []string `json:"context,omitempty"`
	DurationMinutes int      `json:"expected_duration_minutes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	sessions Sessions
	devices  Devices
	meetings Meetings

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts the event broadcaster.
func New(sessions Sessions, devices Devices, meetings Meetings, bus *session.Bus) *Server {
	s := &Server{
		sessions:   sessions,
		devices:    devices,
		meetings:   meetings,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}
	go s.broadcast(bus)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/recording/start", s.handleStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleStop)
	mux.HandleFunc("GET /api/recording/status", s.handleStatus)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /api/meetings", s.handleMeetings)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// broadcast fans session events out to every connected client.
func (s *Server) broadcast(bus *session.Bus) {
	for evt := range bus.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, e session.Event) {
				ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
				defer cancel()
				_ = wsjson.Write(ctx, c, e)
			}(conn, evt)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	// Events flow server to client; the read loop only drains pings and
	// enforces the inbound rate limit.
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, errorResponse{Error: "rate limit exceeded"})
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Mode == "" {
		req.Mode = string(audio.ModeHybrid)
	}

	id, err := s.sessions.Start(session.StartOptions{
		Mode:             audio.Mode(req.Mode),
		Agenda:           req.Agenda,
		Notes:            req.Notes,
		Context:          req.Context,
		ExpectedDuration: time.Duration(req.DurationMinutes) * time.Minute,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "recording_started",
		"session_id": id,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "recording_stopped",
		"result": rec,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Status())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	// Hot-plugged devices only show up after a host reinit, which cannot
	// run while a capture holds a stream.
	if s.sessions.Status().State == session.StateIdle {
		s.devices.Reinit()
	} else {
		s.devices.Refresh()
	}
	type deviceInfo struct {
		Index    int    `json:"index"`
		Name     string `json:"name"`
		Channels int    `json:"channels"`
		Role     string `json:"role"`
	}
	devices := s.devices.List()
	out := make([]deviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceInfo{Index: d.Index, Name: d.Name, Channels: d.Channels, Role: string(d.Role)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.meetings.List()
	if err != nil {
		slog.Error("history list failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses, exposing only
// the sanitized message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.CodeOf(err) {
	case apperrors.CodeSessionActive, apperrors.CodeSessionNotActive:
		status = http.StatusConflict
	case apperrors.CodeModelLoading:
		status = http.StatusServiceUnavailable
	case apperrors.CodeDeviceNotFound:
		status = http.StatusNotFound
	case apperrors.CodeCaptureTooShort, apperrors.CodeNoAudioFile:
		status = http.StatusUnprocessableEntity
	case apperrors.CodeCredentialMissing, apperrors.CodeProviderUnsupported:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: apperrors.UserMessage(err)})
}
