package syncqueue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

// tickingClock hands out strictly increasing times so same-entity
// operations never collide on a key
type tickingClock struct {
	t time.Time
}

func (c *tickingClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	clock := &tickingClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	return NewQueue(newTestStore(t), clock.now, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestQueue_EnqueueAndList(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op1, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", map[string]string{"to_status": "IN_PROGRESS"})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatePending, op1.SyncState)
	assert.Equal(t, 0, op1.AttemptCount)
	assert.Contains(t, op1.Payload, "IN_PROGRESS")

	_, err = q.Enqueue(ctx, domain.OpPhotoCapture, "j1", map[string]string{"photo_id": "p1"})
	require.NoError(t, err)

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, domain.OpStatusTransition, ops[0].OperationType)
	assert.Equal(t, domain.OpPhotoCapture, ops[1].OperationType)
}

func TestQueue_PendingByEntityOrdering(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "first")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.OpProductionSubmission, "j1", "second")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.OpStatusTransition, "j2", "other")
	require.NoError(t, err)

	groups, err := q.PendingByEntity(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Len(t, groups["j1"], 2)
	assert.Equal(t, domain.OpStatusTransition, groups["j1"][0].OperationType)
	assert.Equal(t, domain.OpProductionSubmission, groups["j1"][1].OperationType)
	assert.True(t, groups["j1"][0].CreatedAt.Before(groups["j1"][1].CreatedAt))

	require.Len(t, groups["j2"], 1)
}

func TestQueue_PendingExcludesSettled(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	synced, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "a")
	require.NoError(t, err)
	failed, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "b")
	require.NoError(t, err)
	inflight, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "c")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, domain.OpStatusTransition, "j1", "d")
	require.NoError(t, err)

	synced.SyncState = domain.SyncStateSynced
	require.NoError(t, q.Update(ctx, synced))
	failed.SyncState = domain.SyncStateFailed
	require.NoError(t, q.Update(ctx, failed))
	// IN_FLIGHT leftovers from an interrupted drain stay replayable
	inflight.SyncState = domain.SyncStateInFlight
	require.NoError(t, q.Update(ctx, inflight))

	groups, err := q.PendingByEntity(ctx)
	require.NoError(t, err)
	require.Len(t, groups["j1"], 2)
	assert.Equal(t, domain.SyncStateInFlight, groups["j1"][0].SyncState)
	assert.Equal(t, domain.SyncStatePending, groups["j1"][1].SyncState)
}

func TestQueue_HasPendingTransition(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	// Photo manifests do not affect job status; they must not hold up
	// reconciliation
	_, err := q.Enqueue(ctx, domain.OpPhotoCapture, "j1", "p1")
	require.NoError(t, err)

	pending, err := q.HasPendingTransition(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, pending)

	transition, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "resume")
	require.NoError(t, err)

	pending, err = q.HasPendingTransition(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, pending)

	// Other entities are unaffected
	pending, err = q.HasPendingTransition(ctx, "j2")
	require.NoError(t, err)
	assert.False(t, pending)

	// Once the transition syncs, the backend has seen it
	transition.SyncState = domain.SyncStateSynced
	require.NoError(t, q.Update(ctx, transition))

	pending, err = q.HasPendingTransition(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestQueue_UpdatePersists(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "x")
	require.NoError(t, err)

	op.SyncState = domain.SyncStateFailed
	op.AttemptCount = 8
	op.LastError = "backend rejected"
	require.NoError(t, q.Update(ctx, op))

	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, domain.SyncStateFailed, ops[0].SyncState)
	assert.Equal(t, 8, ops[0].AttemptCount)
	assert.Equal(t, "backend rejected", ops[0].LastError)
}

func TestQueue_IdentityKeyStable(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	op, err := q.Enqueue(ctx, domain.OpStatusTransition, "j1", "x")
	require.NoError(t, err)

	key := op.IdentityKey()

	// The identity survives the round trip through the store
	ops, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, key, ops[0].IdentityKey())
}
