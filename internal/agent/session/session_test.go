package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/opticrew/fieldsync/internal/agent/checklist"
	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/lifecycle"
)

// fakeBackend is an in-memory backend of record. reachable=false makes
// every call fail transiently, simulating a device with no connectivity.
type fakeBackend struct {
	mu        sync.Mutex
	reachable bool
	jobs      map[string]*domain.Job
	pushed    []*domain.QueuedOperation
	pushedKey map[string]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		reachable: true,
		jobs:      map[string]*domain.Job{},
		pushedKey: map[string]int{},
	}
}

func (b *fakeBackend) setReachable(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reachable = ok
}

func (b *fakeBackend) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.reachable {
		return nil, domain.NewTransientError(context.DeadlineExceeded)
	}
	job, ok := b.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (b *fakeBackend) ListJobsByAssignee(ctx context.Context, userID string) ([]*domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.reachable {
		return nil, domain.NewTransientError(context.DeadlineExceeded)
	}
	var out []*domain.Job
	for _, job := range b.jobs {
		if job.AssignedToUserID == userID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (b *fakeBackend) PushOperation(ctx context.Context, op *domain.QueuedOperation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.reachable {
		return domain.NewTransientError(context.DeadlineExceeded)
	}
	// Idempotent ingest: a resend of a known identity key is acknowledged
	// without recording a second apply
	key := op.IdentityKey()
	b.pushedKey[key]++
	if b.pushedKey[key] == 1 {
		copied := *op
		b.pushed = append(b.pushed, &copied)
	}
	return nil
}

func newTestSession(t *testing.T, backend *fakeBackend) *Session {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sess, err := New(&Config{
		UserID:  "crew-1",
		DB:      db,
		Backend: backend,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return sess
}

func TestSession_RequiresUserID(t *testing.T) {
	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = New(&Config{DB: db, Backend: newFakeBackend(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.Error(t, err)
}

func TestSession_OfflineJobFlow(t *testing.T) {
	backend := newFakeBackend()
	backend.jobs["j1"] = &domain.Job{
		ID:               "j1",
		JobCode:          "JOB-2025-0001",
		Title:            "Aerial span on Route 9",
		Status:           domain.JobStatusAssigned,
		AssignedToUserID: "crew-1",
	}

	sess := newTestSession(t, backend)
	ctx := context.Background()

	// Prime the cache while connectivity is up
	_, err := sess.Machine.GetJob(ctx, "j1")
	require.NoError(t, err)

	// Connectivity drops; the whole job flow still works locally
	backend.setReachable(false)

	result, err := sess.Machine.StartWork(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StartNeedsChecklist, result)

	_, err = sess.Gate.Complete(ctx, "j1", checklist.CriticalItemIDs(checklist.DefaultItems))
	require.NoError(t, err)

	result, err = sess.Machine.StartWork(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StartOK, result)

	require.NoError(t, sess.Machine.SubmitProduction(ctx, "j1", &domain.ProductionRecord{
		TotalFootage: 800,
		AnchorCount:  2,
	}))

	job, err := sess.Machine.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSubmitted, job.Status)

	// checklist-completion, status-transition, production-submission
	groups, err := sess.Queue.PendingByEntity(ctx)
	require.NoError(t, err)
	require.Len(t, groups["j1"], 3)

	// Connectivity returns; one drain pushes everything in creation order
	backend.setReachable(true)
	require.NoError(t, sess.Drainer.Drain(ctx))

	require.Len(t, backend.pushed, 3)
	assert.Equal(t, domain.OpChecklistCompletion, backend.pushed[0].OperationType)
	assert.Equal(t, domain.OpStatusTransition, backend.pushed[1].OperationType)
	assert.Equal(t, domain.OpProductionSubmission, backend.pushed[2].OperationType)

	// Re-draining pushes nothing new
	require.NoError(t, sess.Drainer.Drain(ctx))
	assert.Len(t, backend.pushed, 3)

	groups, err = sess.Queue.PendingByEntity(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSession_ReviewOutcomeReachesDevice(t *testing.T) {
	backend := newFakeBackend()
	backend.jobs["j1"] = &domain.Job{
		ID:               "j1",
		Status:           domain.JobStatusSubmitted,
		AssignedToUserID: "crew-1",
	}

	sess := newTestSession(t, backend)
	ctx := context.Background()

	_, err := sess.Machine.GetJob(ctx, "j1")
	require.NoError(t, err)

	// The supervisor bounces the job; the next notification poll carries
	// the new status into the local cache
	backend.mu.Lock()
	backend.jobs["j1"].Status = domain.JobStatusNeedsRevision
	backend.jobs["j1"].SupervisorNotes = "re-check splice loss on strand 4"
	backend.mu.Unlock()

	require.NoError(t, sess.Notifier.Poll(ctx))

	job, err := sess.Machine.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusNeedsRevision, job.Status)

	result, err := sess.Machine.ResumeWork(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StartOK, result)
}

func TestSession_CloseStopsLoops(t *testing.T) {
	backend := newFakeBackend()
	sess := newTestSession(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	sess.Close()
}
