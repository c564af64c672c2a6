package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/store"
)

// StartResult is the outcome of a StartWork call
type StartResult string

const (
	// StartOK means the job moved to IN_PROGRESS
	StartOK StartResult = "ok"
	// StartNeedsChecklist means the safety gate is not satisfied; run the
	// checklist flow and call StartWork again. No state was changed.
	StartNeedsChecklist StartResult = "needs_checklist"
)

// SafetyGate answers whether a job's safety attestation is currently valid
type SafetyGate interface {
	IsValid(ctx context.Context, jobID string) (bool, error)
}

// OperationQueue is the machine's view of the offline sync queue. The
// pending-transition check guards local optimistic status against stale
// backend reads during reconciliation.
type OperationQueue interface {
	Enqueue(ctx context.Context, operationType, entityID string, payload interface{}) (*domain.QueuedOperation, error)
	HasPendingTransition(ctx context.Context, entityID string) (bool, error)
}

// JobFetcher fetches a job from the backend of record when it is not cached
// locally. May fail or be unreachable; the machine then works from cache
// only.
type JobFetcher interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Machine owns the job status lifecycle. Local transitions update the
// cached job optimistically and append to the sync queue in the same call;
// the cached copy is the source of truth for the UI and is never rolled
// back on a later sync failure.
type Machine struct {
	store   *store.Store
	gate    SafetyGate
	queue   OperationQueue
	fetcher JobFetcher

	// reattestOnRevision controls whether resuming a NEEDS_REVISION job
	// re-runs the safety gate. Off by default: a revision within the same
	// shift is covered by the original attestation.
	reattestOnRevision bool

	now    func() time.Time
	logger *slog.Logger
}

// Config holds machine configuration
type Config struct {
	Store              *store.Store
	Gate               SafetyGate
	Queue              OperationQueue
	Fetcher            JobFetcher
	ReattestOnRevision bool
	Now                func() time.Time
	Logger             *slog.Logger
}

// NewMachine creates a lifecycle state machine
func NewMachine(cfg *Config) *Machine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		store:              cfg.Store,
		gate:               cfg.Gate,
		queue:              cfg.Queue,
		fetcher:            cfg.Fetcher,
		reattestOnRevision: cfg.ReattestOnRevision,
		now:                now,
		logger:             cfg.Logger,
	}
}

func jobKey(jobID string) string {
	return "job:" + jobID
}

// CacheJob stores a backend copy of a job locally without going through a
// transition. Remote status is merged through the workflow table (see
// acceptRemoteStatus); everything else refreshes from the backend copy.
func (m *Machine) CacheJob(ctx context.Context, job *domain.Job) error {
	cached, err := m.getCached(ctx, job.ID)
	if err == nil && cached.Status != job.Status {
		accept, aerr := m.acceptRemoteStatus(ctx, cached, job.Status)
		if aerr != nil {
			return aerr
		}
		if !accept {
			stale := job.Status
			job.Status = cached.Status
			job.Production = cached.Production
			m.logger.Debug("Keeping local status over stale remote",
				slog.String("job_id", job.ID),
				slog.String("local_status", cached.Status),
				slog.String("remote_status", stale),
			)
		}
	}
	return m.store.Set(ctx, jobKey(job.ID), job)
}

// acceptRemoteStatus decides whether a remotely reported status replaces
// the local one. The local copy wins while any of its own status-affecting
// operations are still queued unsynced; once the queue for the job is
// clear, the backend is authoritative for every status the workflow can
// reach from the local one. Anything unreachable (a regression the
// workflow cannot produce, or an unknown status) is a stale read and is
// ignored.
func (m *Machine) acceptRemoteStatus(ctx context.Context, job *domain.Job, remoteStatus string) (bool, error) {
	if remoteStatus == job.Status {
		return false, nil
	}
	pending, err := m.queue.HasPendingTransition(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check pending transitions: %w", err)
	}
	if pending {
		return false, nil
	}
	return domain.StatusReachable(job.Status, remoteStatus), nil
}

// GetJob returns the cached job, fetching from the backend on a cache miss
func (m *Machine) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := m.getCached(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, domain.ErrCorruptRecord) {
		return nil, err
	}

	if m.fetcher == nil {
		return nil, domain.ErrJobNotFound
	}

	job, err = m.fetcher.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, jobKey(jobID), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (m *Machine) getCached(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	if err := m.store.Get(ctx, jobKey(jobID), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StartWork moves an ASSIGNED job to IN_PROGRESS. The safety gate is
// consulted first: when the attestation is missing, expired, or incomplete
// the call returns StartNeedsChecklist with no side effect, and the caller
// re-invokes StartWork after the checklist flow.
func (m *Machine) StartWork(ctx context.Context, jobID string) (StartResult, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	if job.Status != domain.JobStatusAssigned {
		return "", fmt.Errorf("%w: start work from %s", domain.ErrInvalidTransition, job.Status)
	}

	valid, err := m.gate.IsValid(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("failed to check safety gate: %w", err)
	}
	if !valid {
		m.logger.Info("Start suspended, checklist required",
			slog.String("job_id", jobID),
		)
		return StartNeedsChecklist, nil
	}

	if err := m.transition(ctx, job, domain.JobStatusInProgress, ""); err != nil {
		return "", err
	}
	return StartOK, nil
}

// ResumeWork re-enters IN_PROGRESS from IN_PROGRESS (no-op refresh) or
// NEEDS_REVISION. Gate policy per Config.ReattestOnRevision.
func (m *Machine) ResumeWork(ctx context.Context, jobID string) (StartResult, error) {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}

	switch job.Status {
	case domain.JobStatusInProgress:
		return StartOK, nil
	case domain.JobStatusNeedsRevision:
		if m.reattestOnRevision {
			valid, err := m.gate.IsValid(ctx, jobID)
			if err != nil {
				return "", fmt.Errorf("failed to check safety gate: %w", err)
			}
			if !valid {
				return StartNeedsChecklist, nil
			}
		}
		if err := m.transition(ctx, job, domain.JobStatusInProgress, ""); err != nil {
			return "", err
		}
		return StartOK, nil
	default:
		return "", fmt.Errorf("%w: resume work from %s", domain.ErrInvalidTransition, job.Status)
	}
}

// SubmitProduction attaches the production record and moves the job from
// IN_PROGRESS to SUBMITTED
func (m *Machine) SubmitProduction(ctx context.Context, jobID string, record *domain.ProductionRecord) error {
	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status != domain.JobStatusInProgress {
		return fmt.Errorf("%w: submit from %s", domain.ErrInvalidTransition, job.Status)
	}

	record.SubmittedAt = m.now().UTC()
	job.Production = record

	if err := m.transitionEnqueue(ctx, job, domain.JobStatusSubmitted, domain.OpProductionSubmission, record); err != nil {
		return err
	}
	return nil
}

// RecordPhoto appends a photo manifest entry for the job and queues it for
// sync. Photos do not change job status.
func (m *Machine) RecordPhoto(ctx context.Context, jobID string, photo *domain.PhotoCapture) error {
	if _, err := m.GetJob(ctx, jobID); err != nil {
		return err
	}
	if photo.CapturedAt.IsZero() {
		photo.CapturedAt = m.now().UTC()
	}
	if _, err := m.queue.Enqueue(ctx, domain.OpPhotoCapture, jobID, photo); err != nil {
		return fmt.Errorf("failed to enqueue photo capture: %w", err)
	}
	return nil
}

// ApplyRemoteStatus merges an externally-reported status (review outcomes,
// reassignment) into the cache. A status the workflow cannot reach from the
// local one is ignored: the backend may simply not have seen our queued
// transitions yet.
func (m *Machine) ApplyRemoteStatus(ctx context.Context, jobID, remoteStatus string) error {
	if !domain.ValidStatus(remoteStatus) {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, remoteStatus)
	}

	job, err := m.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	accept, err := m.acceptRemoteStatus(ctx, job, remoteStatus)
	if err != nil {
		return err
	}
	if !accept {
		return nil
	}

	m.logger.Info("Applying remote status",
		slog.String("job_id", jobID),
		slog.String("old_status", job.Status),
		slog.String("new_status", remoteStatus),
	)

	job.Status = remoteStatus
	job.UpdatedAt = m.now().UTC()
	return m.store.Set(ctx, jobKey(jobID), job)
}

// transition applies a local status change and queues a status-transition
// operation
func (m *Machine) transition(ctx context.Context, job *domain.Job, toStatus, notes string) error {
	payload := &domain.StatusTransition{
		FromStatus: job.Status,
		ToStatus:   toStatus,
		ChangedAt:  m.now().UTC(),
		Notes:      notes,
	}
	return m.applyAndEnqueue(ctx, job, toStatus, domain.OpStatusTransition, payload)
}

// transitionEnqueue is transition with a caller-supplied operation type and
// payload (production submissions carry the record itself)
func (m *Machine) transitionEnqueue(ctx context.Context, job *domain.Job, toStatus, opType string, payload interface{}) error {
	return m.applyAndEnqueue(ctx, job, toStatus, opType, payload)
}

func (m *Machine) applyAndEnqueue(ctx context.Context, job *domain.Job, toStatus, opType string, payload interface{}) error {
	fromStatus := job.Status
	job.Status = toStatus
	job.UpdatedAt = m.now().UTC()

	if err := m.store.Set(ctx, jobKey(job.ID), job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	if _, err := m.queue.Enqueue(ctx, opType, job.ID, payload); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", opType, err)
	}

	m.logger.Info("Job status changed",
		slog.String("job_id", job.ID),
		slog.String("old_status", fromStatus),
		slog.String("new_status", toStatus),
	)

	return nil
}
