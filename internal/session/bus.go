// Package session owns the recording lifecycle: one active session at a
// time, live analysis loops while it runs, finalization when it stops.
package session

import "log/slog"

// EventType tags a bus event for consumers.
type EventType string

const (
	EventStatus     EventType = "status"
	EventTranscript EventType = "transcript"
	EventLevel      EventType = "audio_level"
	EventInsights   EventType = "insights"
	EventCoach      EventType = "coach_alert"
	EventResult     EventType = "result"
)

// Event is one update pushed to consumers.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Bus fans session events out to a single consumer (the server, which
// multiplexes to clients). Publish never blocks the producing loop.
type Bus struct {
	ch chan Event
}

// NewBus creates a bounded bus.
func NewBus() *Bus {
	return &Bus{ch: make(chan Event, 256)}
}

// Publish enqueues an event, dropping it when the consumer is behind.
// Level events are frequent and individually worthless, so dropping is the
// right failure mode here.
func (b *Bus) Publish(t EventType, payload any) {
	select {
	case b.ch <- Event{Type: t, Payload: payload}:
	default:
		slog.Debug("event bus full, dropping", "event", t)
	}
}

// Events returns the consumer side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}
