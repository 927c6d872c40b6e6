package api

import (
	"net/http"
	"sync"

	"trustedcircle/core/events"
	"trustedcircle/core/types"
)

// attributed is satisfied by every concrete domain event; it exposes its
// fields as a flat string map, matching the wire shape of types.Event.
type attributed interface {
	Attributes() map[string]string
}

// eventLog is a bounded in-memory ring buffer of recently emitted domain
// events, serialized to the spec's flat types.Event shape (spec.md §6
// "Event schema") and served over /v1/events for operators and indexers
// that don't want to scrape logs.
type eventLog struct {
	mu      sync.Mutex
	entries []types.Event
	cap     int
}

func newEventLog(capacity int) *eventLog {
	if capacity <= 0 {
		capacity = 256
	}
	return &eventLog{cap: capacity}
}

// Emit implements events.Emitter.
func (l *eventLog) Emit(ev events.Event) {
	wire := types.Event{Type: ev.EventType()}
	if a, ok := ev.(attributed); ok {
		wire.Attributes = a.Attributes()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, wire)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

func (l *eventLog) recent(limit int) []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	start := len(l.entries) - limit
	out := make([]types.Event, limit)
	copy(out, l.entries[start:])
	return out
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.events.recent(queryLimit(r)))
}
