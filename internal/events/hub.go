package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Publisher is injected into the components that mutate tasks; delivery is
// fire-and-forget.
type Publisher interface {
	Emit(scope, event string, payload any)
}

type Message struct {
	Scope   string `json:"scope"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub is an in-process fan-out of mutation events to live subscribers
// (SSE connections). Slow subscribers are skipped, never blocked on.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Message]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{subs: map[string]map[chan Message]struct{}{}, log: log}
}

func (h *Hub) Emit(scope, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[scope] {
		select {
		case ch <- Message{Scope: scope, Event: event, Payload: payload}:
		default:
			h.log.Debug().Str("scope", scope).Str("event", event).Msg("events: dropping message for slow subscriber")
		}
	}
}

// Subscribe registers a buffered channel for the scope and returns it with
// its cancel function.
func (h *Hub) Subscribe(scope string) (<-chan Message, func()) {
	ch := make(chan Message, 16)
	h.mu.Lock()
	if h.subs[scope] == nil {
		h.subs[scope] = map[chan Message]struct{}{}
	}
	h.subs[scope][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[scope]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, scope)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
