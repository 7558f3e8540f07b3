// Package events implements the Event Bus component: an in-process
// publish/subscribe hub that fans domain.Event values out to subscribers
// filtered by execution ID and event type.
//
// Grounded on the teacher's event Manager: same pattern-matching
// subscription bookkeeping and panic-safe dispatch loop, but simplified
// down to a single event shape delivered directly in-process rather than
// over raft/storage-watch plumbing, since this engine runs as a single
// process with no cluster membership to fan events across.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

// defaultSubscriberBuffer is used when cfg.SubscriberBuffer is unset.
const defaultSubscriberBuffer = 64

type subscription struct {
	id     string
	filter ports.SubscriptionFilter
	ch     chan domain.Event
}

type Manager struct {
	logger *slog.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

func NewManager(cfg domain.EventBusConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Manager{
		logger: logger.With("component", "event-bus"),
		buffer: buffer,
		subs:   make(map[string]*subscription),
	}
}

// Publish fans event out to every matching subscriber. Delivery per
// subscriber is ordered (a single buffered channel) but never blocks: a
// full channel drops the event and logs it rather than stalling the caller.
func (m *Manager) Publish(event domain.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	for _, sub := range m.subs {
		if !matches(sub.filter, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			m.logger.Warn("event subscriber buffer full, dropping event",
				"subscription", sub.id, "type", event.Type, "execution_id", event.ExecutionID)
		}
	}
}

func (m *Manager) Subscribe(filter ports.SubscriptionFilter) (string, <-chan domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan domain.Event, m.buffer)
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subs[id] = &subscription{id: id, filter: filter, ch: ch}
	return id, ch
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, exists := m.subs[id]
	if !exists {
		return
	}
	delete(m.subs, id)
	close(sub.ch)
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for _, sub := range m.subs {
		close(sub.ch)
	}
	m.subs = make(map[string]*subscription)
}

func matches(filter ports.SubscriptionFilter, event domain.Event) bool {
	if filter.ExecutionID != "" && filter.ExecutionID != event.ExecutionID {
		return false
	}
	if len(filter.Types) == 0 {
		return true
	}
	for _, t := range filter.Types {
		if t == event.Type {
			return true
		}
	}
	return false
}

var _ ports.EventBusPort = (*Manager)(nil)
