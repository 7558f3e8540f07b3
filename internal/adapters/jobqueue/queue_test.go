package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wireflow-run/wireflow/internal/adapters/storage"
	"github.com/wireflow-run/wireflow/internal/domain"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	backend, err := storage.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return New(backend, nil)
}

func testJobBytes(t *testing.T, nodeID string) []byte {
	t.Helper()
	job := domain.JobItem{ExecutionID: "exec-1", WorkflowID: "wf-1", NodeID: nodeID, NodeType: "noop"}
	bytes, err := job.ToBytes()
	require.NoError(t, err)
	return bytes
}

func TestQueue_EnqueueClaimCompleteRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(testJobBytes(t, "a")))

	item, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	require.NotEmpty(t, claimID)

	job, err := domain.JobItemFromBytes(item)
	require.NoError(t, err)
	require.Equal(t, "a", job.NodeID)

	require.NoError(t, q.Complete(claimID))

	_, _, exists, err = q.Claim()
	require.NoError(t, err)
	require.False(t, exists)
}

func TestQueue_ClaimOnEmptyQueueReturnsNotExists(t *testing.T) {
	q := newTestQueue(t)
	_, _, exists, err := q.Claim()
	require.NoError(t, err)
	require.False(t, exists)
}

func TestQueue_FIFOOrdering(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(testJobBytes(t, "first")))
	require.NoError(t, q.Enqueue(testJobBytes(t, "second")))

	item1, claim1, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job1, _ := domain.JobItemFromBytes(item1)
	require.Equal(t, "first", job1.NodeID)
	require.NoError(t, q.Complete(claim1))

	item2, claim2, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job2, _ := domain.JobItemFromBytes(item2)
	require.Equal(t, "second", job2.NodeID)
	require.NoError(t, q.Complete(claim2))
}

func TestQueue_EnqueueAfterDelaysVisibility(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.EnqueueAfter(testJobBytes(t, "delayed"), 100*time.Millisecond))

	_, _, exists, err := q.Claim()
	require.NoError(t, err)
	require.False(t, exists, "delayed item should not be claimable before its delay elapses")

	time.Sleep(150 * time.Millisecond)

	item, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job, err := domain.JobItemFromBytes(item)
	require.NoError(t, err)
	require.Equal(t, "delayed", job.NodeID)
	require.NoError(t, q.Complete(claimID))
}

func TestQueue_ReleaseBumpsAttemptAndReschedules(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(testJobBytes(t, "retry-me")))

	item, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job, _ := domain.JobItemFromBytes(item)
	require.Equal(t, 0, job.Attempt)

	require.NoError(t, q.Release(claimID, 50*time.Millisecond))

	_, _, exists, err = q.Claim()
	require.NoError(t, err)
	require.False(t, exists, "released item is not ready until its backoff elapses")

	time.Sleep(80 * time.Millisecond)
	item2, claimID2, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job2, err := domain.JobItemFromBytes(item2)
	require.NoError(t, err)
	require.Equal(t, 1, job2.Attempt)
	require.NoError(t, q.Complete(claimID2))
}

func TestQueue_WaitForItemWakesOnEnqueue(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := q.WaitForItem(ctx)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(testJobBytes(t, "wakeup"))
	}()

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected wakeup signal after enqueue")
	}
}

func TestQueue_DeadLetterSendListAndRetry(t *testing.T) {
	q := newTestQueue(t)
	item := testJobBytes(t, "poisoned")

	require.NoError(t, q.SendToDeadLetter(item, "exhausted retries"))

	items, err := q.GetDeadLetterItems(10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "exhausted retries", items[0].Reason)

	require.NoError(t, q.RetryFromDeadLetter(items[0].ID))

	remaining, err := q.GetDeadLetterItems(10)
	require.NoError(t, err)
	require.Empty(t, remaining)

	requeued, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)
	job, err := domain.JobItemFromBytes(requeued)
	require.NoError(t, err)
	require.Equal(t, "poisoned", job.NodeID)
	require.NoError(t, q.Complete(claimID))
}

func TestQueue_RetryFromDeadLetterUnknownID(t *testing.T) {
	q := newTestQueue(t)
	err := q.RetryFromDeadLetter("does-not-exist")
	require.Error(t, err)
}

func TestQueue_SizeReflectsPendingCount(t *testing.T) {
	q := newTestQueue(t)
	size, err := q.Size()
	require.NoError(t, err)
	require.Equal(t, 0, size)

	require.NoError(t, q.Enqueue(testJobBytes(t, "a")))
	require.NoError(t, q.Enqueue(testJobBytes(t, "b")))

	size, err = q.Size()
	require.NoError(t, err)
	require.Equal(t, 2, size)
}

func TestQueue_ReclaimExpiredClaimsRequeuesStaleClaim(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Enqueue(testJobBytes(t, "stuck")))

	_, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)

	// A live claim younger than ttl must not be touched.
	reclaimed, err := q.ReclaimExpiredClaims(time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, reclaimed)

	_, _, exists, err = q.Claim()
	require.NoError(t, err)
	require.False(t, exists, "still-claimed item must not be independently claimable")

	// Simulate the worker holding claimID having crashed: a ttl of ~0
	// treats the claim as stale regardless of age.
	reclaimed, err = q.ReclaimExpiredClaims(time.Nanosecond)
	require.NoError(t, err)
	require.Equal(t, 1, reclaimed)

	item, claimID2, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists, "reclaimed job must be redelivered")
	require.NotEqual(t, claimID, claimID2)
	job, err := domain.JobItemFromBytes(item)
	require.NoError(t, err)
	require.Equal(t, "stuck", job.NodeID)
	require.Equal(t, 1, job.Attempt, "reclaim bumps the attempt counter like Release does")
	require.NoError(t, q.Complete(claimID2))
}

func TestQueue_InFlightNodeKeysReflectsLiveClaims(t *testing.T) {
	q := newTestQueue(t)
	job := domain.JobItem{ExecutionID: "exec-1", WorkflowID: "wf-1", NodeID: "a", NodeType: "noop"}
	bytes, err := job.ToBytes()
	require.NoError(t, err)

	keys, err := q.InFlightNodeKeys()
	require.NoError(t, err)
	require.Empty(t, keys)

	require.NoError(t, q.Enqueue(bytes))
	_, claimID, exists, err := q.Claim()
	require.NoError(t, err)
	require.True(t, exists)

	keys, err = q.InFlightNodeKeys()
	require.NoError(t, err)
	require.Contains(t, keys, domain.NodeExecutionKey("exec-1", "a"))

	require.NoError(t, q.Complete(claimID))
	keys, err = q.InFlightNodeKeys()
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestQueue_OperationsFailAfterClose(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Close())

	require.Error(t, q.Enqueue(testJobBytes(t, "a")))
	_, _, _, err := q.Claim()
	require.Error(t, err)
}
