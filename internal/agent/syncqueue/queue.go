package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

// opKeyPrefix namespaces queue records in the local store
const opKeyPrefix = "op:"

// Queue is the durable offline mutation log. Every state-changing action is
// appended here together with its optimistic local update, before any
// network attempt. Operations leave the queue only as SYNCED or FAILED.
type Queue struct {
	store  *store.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewQueue creates a Queue backed by the local record store
func NewQueue(s *store.Store, now func() time.Time, logger *slog.Logger) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{store: s, now: now, logger: logger}
}

// opKey orders same-entity operations by creation time. The zero-padded
// nanosecond timestamp makes lexicographic key order equal creation order.
func opKey(entityID string, createdAt time.Time) string {
	return fmt.Sprintf("%s%s:%019d", opKeyPrefix, entityID, createdAt.UnixNano())
}

// Enqueue appends a new pending operation. payload is stored as JSON.
func (q *Queue) Enqueue(ctx context.Context, operationType, entityID string, payload interface{}) (*domain.QueuedOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	op := &domain.QueuedOperation{
		OperationType: operationType,
		EntityID:      entityID,
		Payload:       string(data),
		CreatedAt:     q.now().UTC(),
		SyncState:     domain.SyncStatePending,
	}

	if err := q.store.Set(ctx, opKey(entityID, op.CreatedAt), op); err != nil {
		return nil, fmt.Errorf("failed to persist queued operation: %w", err)
	}

	q.logger.Info("Operation queued",
		slog.String("operation_type", operationType),
		slog.String("entity_id", entityID),
		slog.String("identity_key", op.IdentityKey()),
	)

	return op, nil
}

// List returns every queued operation, ordered by entity then creation time
func (q *Queue) List(ctx context.Context) ([]*domain.QueuedOperation, error) {
	keys, err := q.store.ListKeys(ctx, opKeyPrefix)
	if err != nil {
		return nil, err
	}

	ops := make([]*domain.QueuedOperation, 0, len(keys))
	for _, key := range keys {
		var op domain.QueuedOperation
		if err := q.store.Get(ctx, key, &op); err != nil {
			// A corrupt queue entry cannot be replayed. Leave it in place
			// and surface the rest of the queue.
			q.logger.Error("Skipping unreadable queued operation",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		ops = append(ops, &op)
	}

	return ops, nil
}

// PendingByEntity returns replayable operations grouped by entity, each
// group in creation order. IN_FLIGHT leftovers from an interrupted drain are
// included: sends are idempotent, so replaying them is safe.
func (q *Queue) PendingByEntity(ctx context.Context) (map[string][]*domain.QueuedOperation, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*domain.QueuedOperation)
	for _, op := range ops {
		if op.SyncState != domain.SyncStatePending && op.SyncState != domain.SyncStateInFlight {
			continue
		}
		groups[op.EntityID] = append(groups[op.EntityID], op)
	}

	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
	}

	return groups, nil
}

// HasPendingTransition reports whether a status-affecting operation for
// the entity is still queued unsynced. While one is, the backend has not
// seen the job's latest local status, so reconciliation keeps the local
// copy.
func (q *Queue) HasPendingTransition(ctx context.Context, entityID string) (bool, error) {
	groups, err := q.PendingByEntity(ctx)
	if err != nil {
		return false, err
	}
	for _, op := range groups[entityID] {
		switch op.OperationType {
		case domain.OpStatusTransition, domain.OpProductionSubmission:
			return true, nil
		}
	}
	return false, nil
}

// Update persists a state change for an operation
func (q *Queue) Update(ctx context.Context, op *domain.QueuedOperation) error {
	if err := q.store.Set(ctx, opKey(op.EntityID, op.CreatedAt), op); err != nil {
		return fmt.Errorf("failed to update queued operation: %w", err)
	}
	return nil
}
