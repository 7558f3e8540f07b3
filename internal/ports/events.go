package ports

import "github.com/wireflow-run/wireflow/internal/domain"

// SubscriptionFilter narrows which events a subscriber receives. A zero
// value (all fields empty) matches every event.
type SubscriptionFilter struct {
	ExecutionID string
	Types       []domain.EventType
}

// EventBusPort is the Event Bus component's contract: best-effort,
// non-blocking, per-subscriber-ordered in-process pub/sub.
type EventBusPort interface {
	Publish(event domain.Event)
	Subscribe(filter SubscriptionFilter) (id string, ch <-chan domain.Event)
	Unsubscribe(id string)
	Close()
}
