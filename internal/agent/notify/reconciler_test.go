package notify

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

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

type fakeSource struct {
	mu   sync.Mutex
	jobs []*domain.Job
	err  error
}

func (f *fakeSource) setJobs(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = f.jobs[:0]
	for _, id := range ids {
		f.jobs = append(f.jobs, &domain.Job{ID: id, Status: domain.JobStatusAssigned})
	}
}

func (f *fakeSource) ListJobsByAssignee(ctx context.Context, userID string) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*domain.Job, len(f.jobs))
	copy(out, f.jobs)
	return out, nil
}

type recordingCache struct {
	mu     sync.Mutex
	cached []string
}

func (c *recordingCache) CacheJob(ctx context.Context, job *domain.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = append(c.cached, job.ID)
	return nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *fakeSource, *recordingCache) {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	source := &fakeSource{}
	cache := &recordingCache{}
	r := NewReconciler(&Config{
		Store:  s,
		Source: source,
		Cache:  cache,
		UserID: "crew-1",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r, source, cache
}

func TestReconciler_PollAndMarkSeen(t *testing.T) {
	r, source, cache := newTestReconciler(t)
	ctx := context.Background()

	source.setJobs("j1", "j2", "j3")
	require.NoError(t, r.Poll(ctx))

	count, err := r.UnseenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.ElementsMatch(t, []string{"j1", "j2", "j3"}, cache.cached)

	require.NoError(t, r.MarkAllSeen(ctx, []string{"j1", "j2", "j3"}))

	count, err = r.UnseenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconciler_NewAssignmentAfterSeen(t *testing.T) {
	r, source, _ := newTestReconciler(t)
	ctx := context.Background()

	source.setJobs("j1")
	require.NoError(t, r.Poll(ctx))
	require.NoError(t, r.MarkAllSeen(ctx, []string{"j1"}))

	source.setJobs("j1", "j2")
	require.NoError(t, r.Poll(ctx))

	count, err := r.UnseenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the new assignment is unseen")
}

func TestReconciler_SeenSurvivesReassignment(t *testing.T) {
	r, source, _ := newTestReconciler(t)
	ctx := context.Background()

	source.setJobs("j1", "j2")
	require.NoError(t, r.Poll(ctx))
	require.NoError(t, r.MarkAllSeen(ctx, []string{"j1", "j2"}))

	// j2 reassigned away, then back again: it stays acknowledged
	source.setJobs("j1")
	require.NoError(t, r.Poll(ctx))

	source.setJobs("j1", "j2")
	require.NoError(t, r.Poll(ctx))

	count, err := r.UnseenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconciler_PollFailureKeepsState(t *testing.T) {
	r, source, _ := newTestReconciler(t)
	ctx := context.Background()

	source.setJobs("j1", "j2")
	require.NoError(t, r.Poll(ctx))

	source.err = context.DeadlineExceeded
	require.Error(t, r.Poll(ctx))

	// Last good assignment set still answers queries
	ids, err := r.AssignedJobIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, ids)
}

func TestReconciler_UnseenDisplayCap(t *testing.T) {
	r, source, _ := newTestReconciler(t)
	ctx := context.Background()

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	source.setJobs(ids...)
	require.NoError(t, r.Poll(ctx))

	display, err := r.UnseenDisplay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "9+", display)

	require.NoError(t, r.MarkAllSeen(ctx, ids[:5]))
	display, err = r.UnseenDisplay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", display)
}

func TestReconciler_MarkSeenIdempotent(t *testing.T) {
	r, source, _ := newTestReconciler(t)
	ctx := context.Background()

	source.setJobs("j1")
	require.NoError(t, r.Poll(ctx))

	require.NoError(t, r.MarkAllSeen(ctx, []string{"j1"}))
	require.NoError(t, r.MarkAllSeen(ctx, []string{"j1"}))

	count, err := r.UnseenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReconciler_StartStop(t *testing.T) {
	t.Parallel()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	source := &fakeSource{}
	source.setJobs("j1")
	r := NewReconciler(&Config{
		Store:    s,
		Source:   source,
		UserID:   "crew-1",
		Interval: 10 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx := context.Background()
	r.Start(ctx)

	assert.Eventually(t, func() bool {
		count, err := r.UnseenCount(ctx)
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
}
