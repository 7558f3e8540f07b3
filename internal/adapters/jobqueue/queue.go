// Package jobqueue implements the Job Queue component: at-least-once
// delivery over a badger-backed pending/claimed/dead-letter key space,
// grounded on the same lexicographic-sequence-key convention the teacher's
// queue adapter uses for FIFO ordering.
package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

const queueName = "jobs"

type Queue struct {
	storage ports.StoragePort
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	waitersMu sync.Mutex
	waiters   []chan struct{}
}

func New(storage ports.StoragePort, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		storage: storage,
		logger:  logger.With("component", "job-queue"),
	}
}

func (q *Queue) Enqueue(item []byte) error {
	return q.enqueueAt(item, time.Time{})
}

func (q *Queue) EnqueueAfter(item []byte, delay time.Duration) error {
	return q.enqueueAt(item, time.Now().Add(delay))
}

func (q *Queue) enqueueAt(item []byte, processAfter time.Time) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	job, err := domain.JobItemFromBytes(item)
	if err == nil && !processAfter.IsZero() {
		job.ProcessAfter = processAfter
		if item, err = job.ToBytes(); err != nil {
			return domain.NewDiscoveryError("job-queue", "reencode_delay", err)
		}
	}

	sequence, err := q.storage.AtomicIncrement(domain.QueueSequenceKey(queueName))
	if err != nil {
		return err
	}

	queueItem := domain.NewQueueItem(item, sequence)
	itemBytes, err := queueItem.ToBytes()
	if err != nil {
		return err
	}

	if err := q.storage.Put(domain.QueuePendingKey(queueName, sequence), itemBytes); err != nil {
		return err
	}

	q.notifyWaiters()
	return nil
}

// Claim atomically moves the earliest ready pending item to the claimed
// space and hands it to the caller. Items whose ProcessAfter has not yet
// elapsed (backoff delay) are skipped without being claimed.
func (q *Queue) Claim() (item []byte, claimID string, exists bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, "", false, &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	prefix := fmt.Sprintf("queue:%s:pending:", queueName)
	now := time.Now()
	const maxSkips = 200
	skipped := 0

	currentKey, value, itemExists, err := q.storage.GetNext(prefix)
	if err != nil {
		return nil, "", false, err
	}

	for itemExists && skipped < maxSkips {
		queueItem, derr := domain.QueueItemFromBytes(value)
		if derr != nil {
			currentKey, value, itemExists, err = q.storage.GetNextAfter(prefix, currentKey)
			if err != nil {
				return nil, "", false, err
			}
			continue
		}

		job, jerr := domain.JobItemFromBytes(queueItem.Data)
		ready := jerr != nil || job.ProcessAfter.IsZero() || !job.ProcessAfter.After(now)

		if ready {
			claimID = uuid.New().String()
			claimed := domain.NewClaimedItem(queueItem.Data, claimID, queueItem.Sequence)
			claimedBytes, cerr := claimed.ToBytes()
			if cerr != nil {
				return nil, "", false, cerr
			}

			ops := []ports.WriteOp{
				{Type: ports.OpDelete, Key: currentKey},
				{Type: ports.OpPut, Key: domain.QueueClaimedKey(queueName, claimID), Value: claimedBytes},
			}
			if err := q.storage.BatchWrite(ops); err != nil {
				return nil, "", false, err
			}
			return queueItem.Data, claimID, true, nil
		}

		skipped++
		currentKey, value, itemExists, err = q.storage.GetNextAfter(prefix, currentKey)
		if err != nil {
			return nil, "", false, err
		}
	}

	return nil, "", false, nil
}

func (q *Queue) Complete(claimID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}
	return q.storage.Delete(domain.QueueClaimedKey(queueName, claimID))
}

// Release returns a claimed item to the pending space after backoff,
// bumping its attempt counter so callers can classify eventual exhaustion.
func (q *Queue) Release(claimID string, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	claimedKey := domain.QueueClaimedKey(queueName, claimID)
	value, exists, err := q.storage.Get(claimedKey)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewKeyNotFoundError(claimedKey)
	}

	claimed, err := domain.ClaimedItemFromBytes(value)
	if err != nil {
		return err
	}

	job, err := domain.JobItemFromBytes(claimed.Data)
	if err == nil {
		job.Attempt++
		job.ProcessAfter = time.Now().Add(backoff)
		if reencoded, rerr := job.ToBytes(); rerr == nil {
			claimed.Data = reencoded
		}
	}

	sequence, err := q.storage.AtomicIncrement(domain.QueueSequenceKey(queueName))
	if err != nil {
		return err
	}
	queueItem := domain.NewQueueItem(claimed.Data, sequence)
	itemBytes, err := queueItem.ToBytes()
	if err != nil {
		return err
	}

	ops := []ports.WriteOp{
		{Type: ports.OpDelete, Key: claimedKey},
		{Type: ports.OpPut, Key: domain.QueuePendingKey(queueName, sequence), Value: itemBytes},
	}
	if err := q.storage.BatchWrite(ops); err != nil {
		return err
	}
	q.notifyWaiters()
	return nil
}

// WaitForItem returns a channel that receives a signal whenever a new item
// is enqueued or released back to pending, letting idle workers block
// instead of busy-polling Claim.
func (q *Queue) WaitForItem(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	q.waitersMu.Lock()
	q.waiters = append(q.waiters, ch)
	q.waitersMu.Unlock()

	go func() {
		<-ctx.Done()
		q.waitersMu.Lock()
		defer q.waitersMu.Unlock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}
	}()

	return ch
}

func (q *Queue) notifyWaiters() {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()
	for _, ch := range q.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (q *Queue) Size() (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0, &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}
	return q.storage.CountPrefix(fmt.Sprintf("queue:%s:pending:", queueName))
}

func (q *Queue) SendToDeadLetter(item []byte, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	sequence, err := q.storage.AtomicIncrement(domain.QueueDeadLetterSequenceKey(queueName))
	if err != nil {
		return err
	}
	dlqItem := domain.NewDeadLetterQueueItem(item, reason, 0, sequence)
	itemBytes, err := dlqItem.ToBytes()
	if err != nil {
		return err
	}
	return q.storage.Put(domain.QueueDeadLetterKey(queueName, dlqItem.ID), itemBytes)
}

func (q *Queue) GetDeadLetterItems(limit int) ([]ports.DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	items, err := q.storage.ListByPrefix(fmt.Sprintf("queue:%s:deadletter:", queueName))
	if err != nil {
		return nil, err
	}

	var out []ports.DeadLetterItem
	for i, item := range items {
		if limit > 0 && i >= limit {
			break
		}
		dlqItem, err := domain.DeadLetterQueueItemFromBytes(item.Value)
		if err != nil {
			continue
		}
		out = append(out, ports.DeadLetterItem{
			ID:         dlqItem.ID,
			Item:       dlqItem.Data,
			Reason:     dlqItem.Reason,
			Timestamp:  dlqItem.Timestamp,
			RetryCount: dlqItem.RetryCount,
		})
	}
	return out, nil
}

func (q *Queue) RetryFromDeadLetter(itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	dlqKey := domain.QueueDeadLetterKey(queueName, itemID)
	value, exists, err := q.storage.Get(dlqKey)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.StorageError{Type: domain.ErrKeyNotFound, Key: dlqKey, Message: "dead letter item not found"}
	}

	dlqItem, err := domain.DeadLetterQueueItemFromBytes(value)
	if err != nil {
		return err
	}

	sequence, err := q.storage.AtomicIncrement(domain.QueueSequenceKey(queueName))
	if err != nil {
		return err
	}
	queueItem := domain.NewQueueItem(dlqItem.Data, sequence)
	itemBytes, err := queueItem.ToBytes()
	if err != nil {
		return err
	}
	if err := q.storage.Put(domain.QueuePendingKey(queueName, sequence), itemBytes); err != nil {
		return err
	}
	q.notifyWaiters()

	return q.storage.Delete(dlqKey)
}

// ReclaimExpiredClaims returns every claim older than ttl to pending,
// bumping its attempt counter the same way Release does. A node's crash
// between Claim and Complete otherwise strands the job in the claimed
// keyspace forever, since nothing else ever revisits it.
func (q *Queue) ReclaimExpiredClaims(ttl time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	items, err := q.storage.ListByPrefix(domain.QueueClaimedPrefix(queueName))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-ttl)
	reclaimed := 0
	for _, item := range items {
		claimed, derr := domain.ClaimedItemFromBytes(item.Value)
		if derr != nil {
			q.logger.Warn("skipping unparseable claim during reap", "key", item.Key, "error", derr)
			continue
		}
		if claimed.ClaimedAt.After(cutoff) {
			continue
		}

		job, jerr := domain.JobItemFromBytes(claimed.Data)
		data := claimed.Data
		if jerr == nil {
			job.Attempt++
			job.ProcessAfter = time.Time{}
			if reencoded, rerr := job.ToBytes(); rerr == nil {
				data = reencoded
			}
		}

		sequence, serr := q.storage.AtomicIncrement(domain.QueueSequenceKey(queueName))
		if serr != nil {
			return reclaimed, serr
		}
		queueItem := domain.NewQueueItem(data, sequence)
		itemBytes, ierr := queueItem.ToBytes()
		if ierr != nil {
			return reclaimed, ierr
		}

		ops := []ports.WriteOp{
			{Type: ports.OpDelete, Key: item.Key},
			{Type: ports.OpPut, Key: domain.QueuePendingKey(queueName, sequence), Value: itemBytes},
		}
		if err := q.storage.BatchWrite(ops); err != nil {
			return reclaimed, err
		}
		reclaimed++
		q.logger.Info("reclaimed expired claim", "key", item.Key, "claim_id", claimed.ClaimID)
	}

	if reclaimed > 0 {
		q.notifyWaiters()
	}
	return reclaimed, nil
}

// InFlightNodeKeys reports which (execution, node) pairs currently have a
// live claim outstanding, so a crash-recovery pass can tell a node that is
// genuinely still running apart from one whose claim died with its worker.
func (q *Queue) InFlightNodeKeys() (map[string]struct{}, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, &domain.StorageError{Type: domain.ErrClosed, Message: "queue is closed"}
	}

	items, err := q.storage.ListByPrefix(domain.QueueClaimedPrefix(queueName))
	if err != nil {
		return nil, err
	}

	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		claimed, derr := domain.ClaimedItemFromBytes(item.Value)
		if derr != nil {
			continue
		}
		job, jerr := domain.JobItemFromBytes(claimed.Data)
		if jerr != nil {
			continue
		}
		out[domain.NodeExecutionKey(job.ExecutionID, job.NodeID)] = struct{}{}
	}
	return out, nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var _ ports.QueuePort = (*Queue)(nil)
