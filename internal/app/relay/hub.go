package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskloop/backend/internal/platform/metrics"
)

const sessionBufferSize = 64

var (
	sessionsGauge = metrics.NewGauge(metrics.Opts{
		Name: "relay_sessions",
		Help: "Currently connected realtime sessions.",
	})
	relayedEvents = metrics.NewCounterVec(metrics.Opts{
		Name: "relay_events_relayed_total",
		Help: "Events fanned out to recipient sessions, by kind.",
	}, []string{"kind"})
	droppedEvents = metrics.NewCounterVec(metrics.Opts{
		Name: "relay_events_dropped_total",
		Help: "Events dropped because a recipient buffer was full, by kind.",
	}, []string{"kind"})
)

func init() {
	metrics.Default.MustRegister(sessionsGauge, relayedEvents, droppedEvents)
}

// Event is a relayed (kind, payload) pair. The payload is opaque: the relay
// performs no schema validation.
type Event struct {
	Kind    string          `json:"event"`
	Payload json.RawMessage `json:"task"`
}

// Session is a live realtime connection. It exists only while connected and
// is not tied to an authenticated identity.
type Session struct {
	ID          string
	ConnectedAt time.Time
	events      chan Event
}

// Events is the session's receive channel, closed on disconnect.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Hub owns the transient session set. Sessions are inserted on connect and
// removed on disconnect; nothing else mutates the set.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newID    func() string
}

func NewHub() *Hub {
	return &Hub{
		sessions: map[string]*Session{},
		newID:    uuid.NewString,
	}
}

func (h *Hub) Connect() *Session {
	s := &Session{
		ID:          h.newID(),
		ConnectedAt: time.Now().UTC(),
		events:      make(chan Event, sessionBufferSize),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	sessionsGauge.Inc()
	return s
}

// Disconnect removes the session from the set. The event channel is left
// open: an in-flight broadcast may still hold a snapshot reference, and
// receivers stop through their own connection context.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	_, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	if ok {
		sessionsGauge.Dec()
	}
}

// Broadcast forwards (kind, payload) to every connected session except the
// originator. Delivery is best-effort: a recipient whose buffer is full is
// skipped without blocking the others, and failures are never surfaced.
func (h *Hub) Broadcast(originSessionID, kind string, payload json.RawMessage) {
	h.mu.Lock()
	recipients := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id == originSessionID {
			continue
		}
		recipients = append(recipients, s)
	}
	h.mu.Unlock()

	event := Event{Kind: kind, Payload: payload}
	for _, s := range recipients {
		select {
		case s.events <- event:
			relayedEvents.WithLabelValues(kind).Inc()
		default:
			droppedEvents.WithLabelValues(kind).Inc()
		}
	}
}

// Len reports the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
