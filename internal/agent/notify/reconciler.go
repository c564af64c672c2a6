package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

// DefaultPollInterval is how often assignments are refreshed from the
// backend
const DefaultPollInterval = 30 * time.Second

// DefaultDisplayCap caps the rendered unseen count ("9+" above it)
const DefaultDisplayCap = 9

// State is the per-user notification record. SeenJobIDs only ever grows:
// a job reassigned away leaves the active set but stays acknowledged.
type State struct {
	UserID         string    `json:"user_id"`
	AssignedJobIDs []string  `json:"assigned_job_ids"`
	SeenJobIDs     []string  `json:"seen_job_ids"`
	LastPolledAt   time.Time `json:"last_polled_at"`
}

// JobSource lists the jobs currently assigned to a user on the backend of
// record
type JobSource interface {
	ListJobsByAssignee(ctx context.Context, userID string) ([]*domain.Job, error)
}

// JobCache receives refreshed job copies from each poll. Optional.
type JobCache interface {
	CacheJob(ctx context.Context, job *domain.Job) error
}

// Reconciler computes which assigned jobs a user has not yet acknowledged,
// polling the backend on a fixed interval and merging results without
// losing local seen-state.
type Reconciler struct {
	store      *store.Store
	source     JobSource
	cache      JobCache
	userID     string
	interval   time.Duration
	displayCap int
	now        func() time.Time
	logger     *slog.Logger

	// mu serializes read-modify-write of the persisted state between
	// Poll and MarkAllSeen
	mu sync.Mutex

	inFlight atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds reconciler configuration
type Config struct {
	Store      *store.Store
	Source     JobSource
	Cache      JobCache
	UserID     string
	Interval   time.Duration
	DisplayCap int
	Now        func() time.Time
	Logger     *slog.Logger
}

// NewReconciler creates a notification reconciler for one user
func NewReconciler(cfg *Config) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	displayCap := cfg.DisplayCap
	if displayCap <= 0 {
		displayCap = DefaultDisplayCap
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:      cfg.Store,
		source:     cfg.Source,
		cache:      cfg.Cache,
		userID:     cfg.UserID,
		interval:   interval,
		displayCap: displayCap,
		now:        now,
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}
}

func stateKey(userID string) string {
	return "notify:" + userID
}

// Start begins the polling loop
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.pollLoop(ctx)

	r.logger.Info("Notification poller started",
		slog.String("user_id", r.userID),
		slog.Duration("interval", r.interval),
	)
}

// Stop stops the polling loop
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
	r.logger.Info("Notification poller stopped",
		slog.String("user_id", r.userID),
	)
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Overlap guard: a tick firing while the previous fetch is
			// still outstanding is skipped
			if !r.inFlight.CompareAndSwap(false, true) {
				r.logger.Debug("Poll still in flight, skipping tick",
					slog.String("user_id", r.userID),
				)
				continue
			}
			if err := r.Poll(ctx); err != nil {
				r.logger.Warn("Notification poll failed",
					slog.String("user_id", r.userID),
					slog.String("error", err.Error()),
				)
			}
			r.inFlight.Store(false)
		}
	}
}

// Poll fetches the user's current assignments and reconciles them into
// local state. The active assigned set is replaced by the fetch; seen-state
// is untouched.
func (r *Reconciler) Poll(ctx context.Context) error {
	jobs, err := r.source.ListJobsByAssignee(ctx, r.userID)
	if err != nil {
		return fmt.Errorf("failed to fetch assignments: %w", err)
	}

	assigned := make([]string, 0, len(jobs))
	for _, job := range jobs {
		assigned = append(assigned, job.ID)
		if r.cache != nil {
			if err := r.cache.CacheJob(ctx, job); err != nil {
				r.logger.Warn("Failed to refresh cached job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	sort.Strings(assigned)

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadState(ctx)
	if err != nil {
		return err
	}

	state.AssignedJobIDs = assigned
	state.LastPolledAt = r.now().UTC()

	if err := r.store.Set(ctx, stateKey(r.userID), state); err != nil {
		return fmt.Errorf("failed to persist notification state: %w", err)
	}

	r.logger.Debug("Assignments reconciled",
		slog.String("user_id", r.userID),
		slog.Int("assigned", len(state.AssignedJobIDs)),
		slog.Int("unseen", unseen(state)),
	)

	return nil
}

// MarkAllSeen acknowledges the given jobs. SeenJobIDs is append-only.
func (r *Reconciler) MarkAllSeen(ctx context.Context, jobIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadState(ctx)
	if err != nil {
		return err
	}

	seenSet := make(map[string]struct{}, len(state.SeenJobIDs))
	for _, id := range state.SeenJobIDs {
		seenSet[id] = struct{}{}
	}
	for _, id := range jobIDs {
		if _, ok := seenSet[id]; !ok {
			seenSet[id] = struct{}{}
			state.SeenJobIDs = append(state.SeenJobIDs, id)
		}
	}
	sort.Strings(state.SeenJobIDs)

	if err := r.store.Set(ctx, stateKey(r.userID), state); err != nil {
		return fmt.Errorf("failed to persist notification state: %w", err)
	}

	r.logger.Info("Notifications marked seen",
		slog.String("user_id", r.userID),
		slog.Int("marked", len(jobIDs)),
	)

	return nil
}

// UnseenCount returns the number of assigned jobs not yet acknowledged
func (r *Reconciler) UnseenCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadState(ctx)
	if err != nil {
		return 0, err
	}
	return unseen(state), nil
}

// UnseenDisplay renders the unseen count with the display cap ("9+")
func (r *Reconciler) UnseenDisplay(ctx context.Context) (string, error) {
	count, err := r.UnseenCount(ctx)
	if err != nil {
		return "", err
	}
	if count > r.displayCap {
		return strconv.Itoa(r.displayCap) + "+", nil
	}
	return strconv.Itoa(count), nil
}

// AssignedJobIDs returns the active assigned set from the last poll
func (r *Reconciler) AssignedJobIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return state.AssignedJobIDs, nil
}

func (r *Reconciler) loadState(ctx context.Context) (*State, error) {
	var state State
	err := r.store.Get(ctx, stateKey(r.userID), &state)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, domain.ErrCorruptRecord) {
			return &State{UserID: r.userID}, nil
		}
		return nil, fmt.Errorf("failed to load notification state: %w", err)
	}
	return &state, nil
}

func unseen(state *State) int {
	seenSet := make(map[string]struct{}, len(state.SeenJobIDs))
	for _, id := range state.SeenJobIDs {
		seenSet[id] = struct{}{}
	}
	count := 0
	for _, id := range state.AssignedJobIDs {
		if _, ok := seenSet[id]; !ok {
			count++
		}
	}
	return count
}
