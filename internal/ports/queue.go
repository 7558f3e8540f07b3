package ports

import (
	"context"
	"time"
)

// QueuePort is the Job Queue component's contract: at-least-once delivery
// of opaque job payloads with claim/complete semantics, exponential
// backoff redelivery, and a dead-letter path for poisoned items.
type QueuePort interface {
	Enqueue(item []byte) error
	EnqueueAfter(item []byte, delay time.Duration) error
	Claim() (item []byte, claimID string, exists bool, err error)
	Complete(claimID string) error
	Release(claimID string, backoff time.Duration) error
	WaitForItem(ctx context.Context) <-chan struct{}
	Size() (int, error)

	SendToDeadLetter(item []byte, reason string) error
	GetDeadLetterItems(limit int) ([]DeadLetterItem, error)
	RetryFromDeadLetter(itemID string) error

	// ReclaimExpiredClaims scans the claimed keyspace for claims older than
	// ttl and returns each one to pending, as if its worker had called
	// Release. Meant to be invoked periodically so a crash between Claim
	// and Complete does not strand a job forever.
	ReclaimExpiredClaims(ttl time.Duration) (int, error)

	// InFlightNodeKeys returns the domain.NodeExecutionKey of every job
	// currently sitting in the claimed keyspace, letting a caller tell a
	// genuinely running node apart from one whose claim was lost to a
	// crash before ReclaimExpiredClaims got to it.
	InFlightNodeKeys() (map[string]struct{}, error)

	Close() error
}

type DeadLetterItem struct {
	ID         string    `json:"id"`
	Item       []byte    `json:"item"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}
