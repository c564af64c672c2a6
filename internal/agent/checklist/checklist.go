package checklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

// DefaultValidity models a shift boundary: one attestation covers job
// entries within the same shift, a new shift needs a fresh one.
const DefaultValidity = 12 * time.Hour

// Record is a time-boxed attestation that safety preconditions were
// verified before work started on a job. Records are superseded by a later
// completion, never mutated.
type Record struct {
	JobID          string    `json:"job_id"`
	CompletedAt    time.Time `json:"completed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CheckedItemIDs []string  `json:"checked_item_ids"`
}

// Enqueuer appends a mutation to the offline sync queue
type Enqueuer interface {
	Enqueue(ctx context.Context, operationType, entityID string, payload interface{}) (*domain.QueuedOperation, error)
}

// Gate validates and records the mandatory pre-work safety attestation
type Gate struct {
	store    *store.Store
	queue    Enqueuer
	items    []Item
	validity time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Config holds gate configuration
type Config struct {
	Store    *store.Store
	Queue    Enqueuer
	Items    []Item        // defaults to DefaultItems
	Validity time.Duration // defaults to DefaultValidity
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewGate creates a checklist gate
func NewGate(cfg *Config) *Gate {
	items := cfg.Items
	if items == nil {
		items = DefaultItems
	}
	validity := cfg.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:    cfg.Store,
		queue:    cfg.Queue,
		items:    items,
		validity: validity,
		now:      now,
		logger:   cfg.Logger,
	}
}

// Items returns the item catalog for checklist rendering
func (g *Gate) Items() []Item {
	return g.items
}

func recordKey(jobID string) string {
	return "checklist:" + jobID
}

// IsValid reports whether the job's most recent attestation is usable: not
// expired and covering every critical item. Absent, corrupt, or expired
// records all read as invalid; corruption fails safe toward re-attestation.
func (g *Gate) IsValid(ctx context.Context, jobID string) (bool, error) {
	var rec Record
	err := g.store.Get(ctx, recordKey(jobID), &rec)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if errors.Is(err, domain.ErrCorruptRecord) {
			g.logger.Warn("Corrupt checklist record, requiring re-attestation",
				slog.String("job_id", jobID),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to read checklist record: %w", err)
	}

	if !g.now().Before(rec.ExpiresAt) {
		return false, nil
	}

	return coversCritical(g.items, rec.CheckedItemIDs), nil
}

// Complete records a new attestation for the job. All critical items must be
// present in checkedItemIDs; non-critical items do not block. On acceptance
// the prior record for the job is superseded and a checklist-completion
// mutation is enqueued for backend sync.
func (g *Gate) Complete(ctx context.Context, jobID string, checkedItemIDs []string) (*Record, error) {
	if missing := g.missingCritical(checkedItemIDs); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingCritical, missing)
	}

	completedAt := g.now()
	rec := &Record{
		JobID:          jobID,
		CompletedAt:    completedAt,
		ExpiresAt:      completedAt.Add(g.validity),
		CheckedItemIDs: checkedItemIDs,
	}

	if err := g.store.Set(ctx, recordKey(jobID), rec); err != nil {
		return nil, fmt.Errorf("failed to persist checklist record: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checklist payload: %w", err)
	}

	if _, err := g.queue.Enqueue(ctx, domain.OpChecklistCompletion, jobID, json.RawMessage(payload)); err != nil {
		return nil, fmt.Errorf("failed to enqueue checklist completion: %w", err)
	}

	g.logger.Info("Checklist completed",
		slog.String("job_id", jobID),
		slog.Int("checked_items", len(checkedItemIDs)),
		slog.Time("expires_at", rec.ExpiresAt),
	)

	return rec, nil
}

// missingCritical returns critical item ids absent from checked
func (g *Gate) missingCritical(checked []string) []string {
	checkedSet := make(map[string]struct{}, len(checked))
	for _, id := range checked {
		checkedSet[id] = struct{}{}
	}

	var missing []string
	for _, item := range g.items {
		if !item.Critical {
			continue
		}
		if _, ok := checkedSet[item.ID]; !ok {
			missing = append(missing, item.ID)
		}
	}
	return missing
}

func coversCritical(items []Item, checked []string) bool {
	checkedSet := make(map[string]struct{}, len(checked))
	for _, id := range checked {
		checkedSet[id] = struct{}{}
	}
	for _, item := range items {
		if !item.Critical {
			continue
		}
		if _, ok := checkedSet[item.ID]; !ok {
			return false
		}
	}
	return true
}
