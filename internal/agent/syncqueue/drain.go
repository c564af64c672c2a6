package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opticrew/fieldsync/internal/agent/domain"
)

// Sender pushes one queued operation to the backend of record. A nil return
// means the backend durably acknowledged the operation. Transient failures
// are reported as *domain.TransientError; any other error is a definitive
// rejection.
type Sender interface {
	PushOperation(ctx context.Context, op *domain.QueuedOperation) error
}

// DrainerConfig holds drainer configuration
type DrainerConfig struct {
	Queue          *Queue
	Sender         Sender
	Logger         *slog.Logger
	MaxAttempts    int           // total attempts per operation before freezing as FAILED
	AttemptTimeout time.Duration // per-send timeout, counted as a transient failure
	Concurrency    int           // entity groups drained in parallel
	Interval       time.Duration // periodic drain loop interval
	Backoff        BackoffConfig
}

// Drainer replays queued operations against the backend: in creation order
// per entity, parallel across entities, idempotent per send. Cycles run on
// an interval and on explicit triggers (connectivity regained, app
// foreground), with an overlap guard so two cycles never interleave.
type Drainer struct {
	queue          *Queue
	sender         Sender
	logger         *slog.Logger
	maxAttempts    int
	attemptTimeout time.Duration
	concurrency    int
	interval       time.Duration
	backoff        BackoffConfig

	mu       sync.Mutex
	draining bool

	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDrainer creates a Drainer
func NewDrainer(cfg *DrainerConfig) *Drainer {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	attemptTimeout := cfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 15 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	backoff := cfg.Backoff
	if backoff.BaseDelay <= 0 {
		backoff = DefaultBackoff()
	}

	return &Drainer{
		queue:          cfg.Queue,
		sender:         cfg.Sender,
		logger:         cfg.Logger,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		concurrency:    concurrency,
		interval:       interval,
		backoff:        backoff,
		trigger:        make(chan struct{}, 1),
		stopChan:       make(chan struct{}),
	}
}

// Start runs the periodic drain loop until Stop or context cancellation
func (d *Drainer) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.drainLoop(ctx)

	d.logger.Info("Drain loop started",
		slog.Duration("interval", d.interval),
		slog.Int("concurrency", d.concurrency),
	)
}

// Stop stops the drain loop and waits for an in-flight cycle to finish
func (d *Drainer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopChan)
	})
	d.wg.Wait()
	d.logger.Info("Drain loop stopped")
}

// Trigger requests an immediate drain cycle. Non-blocking; coalesces with a
// cycle that is already scheduled.
func (d *Drainer) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

func (d *Drainer) drainLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.trigger:
		}

		if err := d.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("Drain cycle finished with errors",
				slog.String("error", err.Error()),
			)
		}
	}
}

// Drain runs one replay cycle. A cycle already in progress makes this call
// a no-op; per-entity ordering only holds if cycles never overlap.
func (d *Drainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		d.logger.Debug("Drain already in progress, skipping")
		return nil
	}
	d.draining = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.draining = false
		d.mu.Unlock()
	}()

	groups, err := d.queue.PendingByEntity(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}
	if len(groups) == 0 {
		return nil
	}

	d.logger.Info("Drain cycle started",
		slog.Int("entities", len(groups)),
	)

	groupChan := make(chan []*domain.QueuedOperation, len(groups))
	for _, group := range groups {
		groupChan <- group
	}
	close(groupChan)

	workers := d.concurrency
	if len(groups) < workers {
		workers = len(groups)
	}

	errChan := make(chan error, len(groups))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range groupChan {
				if err := d.drainEntity(ctx, group); err != nil {
					errChan <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errChan)

	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// drainEntity applies one entity's operations strictly in creation order.
// When an operation freezes as FAILED the rest of the group is left pending:
// applying a later mutation over a failed earlier one would reorder.
func (d *Drainer) drainEntity(ctx context.Context, group []*domain.QueuedOperation) error {
	for _, op := range group {
		if err := d.drainOne(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (d *Drainer) drainOne(ctx context.Context, op *domain.QueuedOperation) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		op.SyncState = domain.SyncStateInFlight
		op.AttemptCount++
		if err := d.queue.Update(ctx, op); err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		err := d.sender.PushOperation(sendCtx, op)
		cancel()

		if err == nil {
			op.SyncState = domain.SyncStateSynced
			op.LastError = ""
			if err := d.queue.Update(ctx, op); err != nil {
				return err
			}
			d.logger.Info("Operation synced",
				slog.String("identity_key", op.IdentityKey()),
				slog.Int("attempts", op.AttemptCount),
			)
			return nil
		}

		// An attempt that ran out of time is a transient failure
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.NewTransientError(err)
		}

		op.LastError = err.Error()

		if !domain.IsTransient(err) {
			op.SyncState = domain.SyncStateFailed
			if uerr := d.queue.Update(ctx, op); uerr != nil {
				return uerr
			}
			d.logger.Error("Operation rejected by backend",
				slog.String("identity_key", op.IdentityKey()),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("%w: %s: %v", domain.ErrOperationRejected, op.IdentityKey(), err)
		}

		if op.AttemptCount >= d.maxAttempts {
			op.SyncState = domain.SyncStateFailed
			if uerr := d.queue.Update(ctx, op); uerr != nil {
				return uerr
			}
			d.logger.Error("Operation exceeded max attempts",
				slog.String("identity_key", op.IdentityKey()),
				slog.Int("attempts", op.AttemptCount),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("operation %s failed after %d attempts: %w", op.IdentityKey(), op.AttemptCount, err)
		}

		op.SyncState = domain.SyncStatePending
		if uerr := d.queue.Update(ctx, op); uerr != nil {
			return uerr
		}

		delay := d.backoff.Delay(op.AttemptCount)
		d.logger.Warn("Transient sync failure, retrying",
			slog.String("identity_key", op.IdentityKey()),
			slog.Int("attempt", op.AttemptCount),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
