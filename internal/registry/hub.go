package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MuhammadArhumDev/Raidware/internal/metrics"
	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
)

// Subscriber is one dashboard connection receiving presence events.
// Its writer goroutine drains Outbox until the channel is closed.
type Subscriber struct {
	ID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSubscriber creates a subscriber with the given outbox capacity.
func NewSubscriber(buffer int) *Subscriber {
	return &Subscriber{
		ID:   uuid.NewString(),
		send: make(chan []byte, buffer),
	}
}

// Outbox returns the channel of encoded frames to write.
func (s *Subscriber) Outbox() <-chan []byte { return s.send }

// SafeSend queues data without blocking. It reports false if the
// subscriber is closed or its buffer is full.
func (s *Subscriber) SafeSend(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Close closes the outbox exactly once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Hub fans presence events out to dashboard subscribers. Broadcasts never
// block: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
	log  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscriber]struct{}),
		log:  log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Subscribe(s *Subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.DashboardClients.Set(float64(n))
}

// Unsubscribe removes s and closes its outbox.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.Close()
	metrics.DashboardClients.Set(float64(n))
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast encodes one event and queues it for every subscriber.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		h.log.Error().Err(err).Str("type", msgType).Msg("encode broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.SafeSend(data) {
			metrics.BroadcastsDropped.Inc()
			h.log.Debug().Str("subscriber", s.ID).Msg("dropped broadcast for slow subscriber")
		}
	}
}
