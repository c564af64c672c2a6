package syncqueue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opticrew/fieldsync/internal/agent/domain"
)

// scriptedSender fails a configurable number of times per identity key
// before succeeding, recording the order of accepted operations
type scriptedSender struct {
	mu       sync.Mutex
	failures map[string]int // remaining transient failures per identity key
	rejects  map[string]bool
	accepted []string
	attempts map[string]int
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{
		failures: map[string]int{},
		rejects:  map[string]bool{},
		attempts: map[string]int{},
	}
}

func (s *scriptedSender) PushOperation(ctx context.Context, op *domain.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := op.IdentityKey()
	s.attempts[key]++

	if s.rejects[key] {
		return errors.New("validation failed")
	}
	if s.failures[key] > 0 {
		s.failures[key]--
		return domain.NewTransientError(errors.New("connection refused"))
	}
	s.accepted = append(s.accepted, key)
	return nil
}

func newTestDrainer(t *testing.T, sender Sender, maxAttempts int) (*Drainer, *Queue) {
	t.Helper()

	q := newTestQueue(t)
	d := NewDrainer(&DrainerConfig{
		Queue:       q,
		Sender:      sender,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxAttempts: maxAttempts,
		Backoff:     BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	return d, q
}

func TestDrainer_RetriesUntilSuccess(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 8)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "payload")
	require.NoError(t, err)

	// Three transient failures, then the backend accepts
	sender.failures[op.IdentityKey()] = 3

	require.NoError(t, d.Drain(ctx))

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.SyncStateSynced, ops[0].SyncState)
	assert.Equal(t, 4, ops[0].AttemptCount)
	assert.Empty(t, ops[0].LastError)

	// A later cycle does not replay a synced operation
	require.NoError(t, d.Drain(ctx))
	assert.Equal(t, 4, sender.attempts[op.IdentityKey()])
}

func TestDrainer_FreezesAfterMaxAttempts(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 3)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "payload")
	require.NoError(t, err)
	sender.failures[op.IdentityKey()] = 100

	err = d.Drain(ctx)
	require.Error(t, err)

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.SyncStateFailed, ops[0].SyncState)
	assert.Equal(t, 3, ops[0].AttemptCount)
	assert.NotEmpty(t, ops[0].LastError)

	// Frozen operations are not retried on later cycles
	require.NoError(t, d.Drain(ctx))
	assert.Equal(t, 3, sender.attempts[op.IdentityKey()])
}

func TestDrainer_RejectionFreezesImmediately(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 8)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "payload")
	require.NoError(t, err)
	sender.rejects[op.IdentityKey()] = true

	err = d.Drain(ctx)
	require.ErrorIs(t, err, domain.ErrOperationRejected)

	ops, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateFailed, ops[0].SyncState)
	assert.Equal(t, 1, ops[0].AttemptCount, "a definitive rejection is not retried")
}

func TestDrainer_EntityOrder(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 8)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "start")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, domain.OpProductionSubmission, "j1", "submit")
	require.NoError(t, err)
	third, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "another")
	require.NoError(t, err)

	require.NoError(t, d.Drain(ctx))

	assert.Equal(t, []string{first.IdentityKey(), second.IdentityKey(), third.IdentityKey()}, sender.accepted)
}

func TestDrainer_FailureBlocksRestOfEntity(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 2)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "start")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, domain.OpProductionSubmission, "j1", "submit")
	require.NoError(t, err)

	sender.failures[first.IdentityKey()] = 100

	require.Error(t, d.Drain(ctx))

	// The later operation for the same entity was never attempted
	assert.Zero(t, sender.attempts[second.IdentityKey()])

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.SyncStateFailed, ops[0].SyncState)
	assert.Equal(t, domain.SyncStatePending, ops[1].SyncState)
}

func TestDrainer_IndependentEntities(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 2)
	ctx := context.Background()

	blocked, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "start")
	require.NoError(t, err)
	other, err := q.Enqueue(ctx, domain.OpStatusTransition, "j2", "start")
	require.NoError(t, err)

	sender.failures[blocked.IdentityKey()] = 100

	require.Error(t, d.Drain(ctx))

	// j1 failing does not stop j2 from syncing
	assert.Contains(t, sender.accepted, other.IdentityKey())
}

func TestDrainer_ReplaysInFlightLeftovers(t *testing.T) {
	sender := newScriptedSender()
	d, q := newTestDrainer(t, sender, 8)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "start")
	require.NoError(t, err)

	// Simulate a crash mid-drain: the operation was marked IN_FLIGHT but
	// the outcome was never recorded
	op.SyncState = domain.SyncStateInFlight
	op.AttemptCount = 1
	require.NoError(t, q.Update(ctx, op))

	require.NoError(t, d.Drain(ctx))

	ops, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateSynced, ops[0].SyncState)
}

func TestDrainer_EmptyQueue(t *testing.T) {
	sender := newScriptedSender()
	d, _ := newTestDrainer(t, sender, 8)

	require.NoError(t, d.Drain(context.Background()))
	assert.Empty(t, sender.accepted)
}

func TestDrainer_TriggerCoalesces(t *testing.T) {
	sender := newScriptedSender()
	d, _ := newTestDrainer(t, sender, 8)

	// Repeated triggers never block
	for i := 0; i < 10; i++ {
		d.Trigger()
	}
}

func TestDrainer_StartStop(t *testing.T) {
	sender := newScriptedSender()
	q := newTestQueue(t)
	d := NewDrainer(&DrainerConfig{
		Queue:    q,
		Sender:   sender,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Interval: 10 * time.Millisecond,
		Backoff:  BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	ctx := context.Background()
	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "start")
	require.NoError(t, err)

	d.Start(ctx)
	d.Trigger()

	assert.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.accepted) == 1
	}, 2*time.Second, 5*time.Millisecond)

	d.Stop()

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.SyncStateSynced, ops[0].SyncState)
	assert.Equal(t, op.IdentityKey(), ops[0].IdentityKey())
}
