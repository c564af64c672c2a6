package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opticrew/fieldsync/internal/worker/domain"
)

// fakeStore is an in-memory stand-in for the sync operations schema
type fakeStore struct {
	ops        map[string]*domain.Operation
	jobStatus  map[string]string
	production map[string]string
	rejected   map[string]string
	released   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ops:        map[string]*domain.Operation{},
		jobStatus:  map[string]string{},
		production: map[string]string{},
		rejected:   map[string]string{},
	}
}

func (f *fakeStore) addOperation(op *domain.Operation) {
	if op.Status == "" {
		op.Status = domain.OperationReceived
	}
	f.ops[op.OperationID] = op
}

func (f *fakeStore) ClaimOperation(ctx context.Context, operationID, workerID string) (*domain.Operation, error) {
	op, ok := f.ops[operationID]
	if !ok {
		return nil, domain.ErrOperationNotFound
	}
	switch op.Status {
	case domain.OperationReceived:
		op.Status = domain.OperationApplying
		copied := *op
		return &copied, nil
	case domain.OperationApplied, domain.OperationRejected:
		return nil, domain.ErrOperationAlreadyApplied
	default:
		return nil, domain.ErrOperationAlreadyClaimed
	}
}

func (f *fakeStore) HasEarlierPending(ctx context.Context, operationID, entityID string, clientCreatedAt time.Time) (bool, error) {
	for id, op := range f.ops {
		if id == operationID || op.EntityID != entityID {
			continue
		}
		if op.Status != domain.OperationReceived && op.Status != domain.OperationApplying {
			continue
		}
		if op.ClientCreatedAt.Before(clientCreatedAt) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Release(ctx context.Context, operationID string) error {
	f.ops[operationID].Status = domain.OperationReceived
	f.released = append(f.released, operationID)
	return nil
}

func (f *fakeStore) MarkApplied(ctx context.Context, operationID string) error {
	f.ops[operationID].Status = domain.OperationApplied
	return nil
}

func (f *fakeStore) MarkRejected(ctx context.Context, operationID, errorMsg string) error {
	f.ops[operationID].Status = domain.OperationRejected
	f.rejected[operationID] = errorMsg
	return nil
}

func (f *fakeStore) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	status, ok := f.jobStatus[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	return status, nil
}

func (f *fakeStore) ApplyStatusTransition(ctx context.Context, jobID, fromStatus, toStatus string) (bool, error) {
	if f.jobStatus[jobID] != fromStatus {
		return false, nil
	}
	f.jobStatus[jobID] = toStatus
	return true, nil
}

func (f *fakeStore) AttachProduction(ctx context.Context, jobID, productionJSON string) (bool, error) {
	if f.jobStatus[jobID] != domain.JobStatusInProgress {
		return false, nil
	}
	f.jobStatus[jobID] = domain.JobStatusSubmitted
	f.production[jobID] = productionJSON
	return true, nil
}

func (f *fakeStore) InsertAttestation(ctx context.Context, jobID string, completedAt, expiresAt time.Time, checkedItemsJSON string) error {
	return nil
}

func (f *fakeStore) InsertPhoto(ctx context.Context, jobID, photoID, filename string, latitude, longitude float64, capturedAt time.Time) error {
	return nil
}

func newTestWorker(store *fakeStore) *Worker {
	return &Worker{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		storage:      store,
		applyTimeout: time.Second,
		workerID:     "applier-test",
	}
}

func transitionOp(id, jobID, from, to string, createdAt time.Time) *domain.Operation {
	return &domain.Operation{
		OperationID:     id,
		OperationType:   domain.OpStatusTransition,
		EntityID:        jobID,
		Payload:         `{"from_status":"` + from + `","to_status":"` + to + `"}`,
		ClientCreatedAt: createdAt,
	}
}

func TestProcessOperation_ResubmissionCycleApplies(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusNeedsRevision

	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.addOperation(transitionOp("op-resume", "j1",
		domain.JobStatusNeedsRevision, domain.JobStatusInProgress, base))
	store.addOperation(&domain.Operation{
		OperationID:     "op-resubmit",
		OperationType:   domain.OpProductionSubmission,
		EntityID:        "j1",
		Payload:         `{"total_footage":640,"anchor_count":3}`,
		ClientCreatedAt: base.Add(time.Minute),
	})

	w := newTestWorker(store)
	ctx := context.Background()

	// The resume out of NEEDS_REVISION must actually apply, not be waved
	// through as already satisfied
	require.NoError(t, w.processOperation(ctx, &domain.OperationMessage{OperationID: "op-resume"}))
	assert.Equal(t, domain.JobStatusInProgress, store.jobStatus["j1"])
	assert.Equal(t, domain.OperationApplied, store.ops["op-resume"].Status)

	// And the resubmitted production then lands instead of being rejected
	require.NoError(t, w.processOperation(ctx, &domain.OperationMessage{OperationID: "op-resubmit"}))
	assert.Equal(t, domain.JobStatusSubmitted, store.jobStatus["j1"])
	assert.JSONEq(t, `{"total_footage":640,"anchor_count":3}`, store.production["j1"])
	assert.Equal(t, domain.OperationApplied, store.ops["op-resubmit"].Status)
	assert.Empty(t, store.rejected)
}

func TestProcessOperation_DuplicateTransitionNoOps(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusInProgress
	store.addOperation(transitionOp("op-1", "j1",
		domain.JobStatusNeedsRevision, domain.JobStatusInProgress, time.Now().UTC()))

	w := newTestWorker(store)

	// The job is already at this operation's target: same transition
	// landed through another path, so this one is an idempotent success
	require.NoError(t, w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-1"}))
	assert.Equal(t, domain.JobStatusInProgress, store.jobStatus["j1"])
	assert.Equal(t, domain.OperationApplied, store.ops["op-1"].Status)
}

func TestProcessOperation_StaleTransitionRejected(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusSubmitted
	store.addOperation(transitionOp("op-1", "j1",
		domain.JobStatusAssigned, domain.JobStatusInProgress, time.Now().UTC()))

	w := newTestWorker(store)

	// Settled outcome: the delivery is acked and the operation is frozen
	// as rejected
	require.NoError(t, w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-1"}))
	assert.Equal(t, domain.OperationRejected, store.ops["op-1"].Status)
	assert.Contains(t, store.rejected["op-1"], "stale")
	assert.Equal(t, domain.JobStatusSubmitted, store.jobStatus["j1"])
}

func TestProcessOperation_IllegalTransitionRejected(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusSubmitted
	store.addOperation(transitionOp("op-1", "j1",
		domain.JobStatusSubmitted, domain.JobStatusInProgress, time.Now().UTC()))

	w := newTestWorker(store)

	require.NoError(t, w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-1"}))
	assert.Equal(t, domain.OperationRejected, store.ops["op-1"].Status)
	assert.Equal(t, domain.JobStatusSubmitted, store.jobStatus["j1"])
}

func TestProcessOperation_OutOfOrderRequeues(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusAssigned

	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.addOperation(transitionOp("op-first", "j1",
		domain.JobStatusAssigned, domain.JobStatusInProgress, base))
	store.addOperation(transitionOp("op-second", "j1",
		domain.JobStatusInProgress, domain.JobStatusSubmitted, base.Add(time.Minute)))

	w := newTestWorker(store)

	// The later operation delivered first: claim released, requeued
	err := w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-second"})
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)
	assert.True(t, w.shouldRequeue(err))
	assert.Contains(t, store.released, "op-second")
	assert.Equal(t, domain.OperationReceived, store.ops["op-second"].Status)
	assert.Equal(t, domain.JobStatusAssigned, store.jobStatus["j1"])
}

func TestProcessOperation_SettledDuplicateAcked(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusInProgress
	op := transitionOp("op-1", "j1", domain.JobStatusAssigned, domain.JobStatusInProgress, time.Now().UTC())
	op.Status = domain.OperationApplied
	store.addOperation(op)

	w := newTestWorker(store)

	// Redelivery of a settled operation is acked without reapplying
	require.NoError(t, w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-1"}))
	assert.Equal(t, domain.JobStatusInProgress, store.jobStatus["j1"])
}

func TestProcessOperation_ProductionAlreadyAttached(t *testing.T) {
	store := newFakeStore()
	store.jobStatus["j1"] = domain.JobStatusSubmitted
	store.addOperation(&domain.Operation{
		OperationID:     "op-1",
		OperationType:   domain.OpProductionSubmission,
		EntityID:        "j1",
		Payload:         `{"total_footage":600}`,
		ClientCreatedAt: time.Now().UTC(),
	})

	w := newTestWorker(store)

	require.NoError(t, w.processOperation(context.Background(), &domain.OperationMessage{OperationID: "op-1"}))
	assert.Equal(t, domain.OperationApplied, store.ops["op-1"].Status)
	assert.Empty(t, store.production["j1"])
}
