package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opticrew/fieldsync/internal/worker/domain"
	"github.com/opticrew/fieldsync/internal/worker/storage"
	"github.com/opticrew/fieldsync/shared/postgresql"
	"github.com/opticrew/fieldsync/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	DBClient      *postgresql.Client
	RabbitClient  *rabbitmq.Client
	Concurrency   int
	ApplyTimeout  time.Duration
	PrefetchCount int
	QueueName     string
}

// operationStore is what the applier needs from the sync operations schema
type operationStore interface {
	ClaimOperation(ctx context.Context, operationID, workerID string) (*domain.Operation, error)
	HasEarlierPending(ctx context.Context, operationID, entityID string, clientCreatedAt time.Time) (bool, error)
	Release(ctx context.Context, operationID string) error
	MarkApplied(ctx context.Context, operationID string) error
	MarkRejected(ctx context.Context, operationID, errorMsg string) error
	GetJobStatus(ctx context.Context, jobID string) (string, error)
	ApplyStatusTransition(ctx context.Context, jobID, fromStatus, toStatus string) (bool, error)
	AttachProduction(ctx context.Context, jobID, productionJSON string) (bool, error)
	InsertAttestation(ctx context.Context, jobID string, completedAt, expiresAt time.Time, checkedItemsJSON string) error
	InsertPhoto(ctx context.Context, jobID, photoID, filename string, latitude, longitude float64, capturedAt time.Time) error
}

// Worker applies ingested sync operations to the jobs database
type Worker struct {
	logger        *slog.Logger
	storage       operationStore
	rabbitClient  *rabbitmq.Client
	concurrency   int
	applyTimeout  time.Duration
	prefetchCount int
	queueName     string
	workerID      string
	opsChan       chan *domain.OperationMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	applyTimeout := cfg.ApplyTimeout
	if applyTimeout <= 0 {
		applyTimeout = 30 * time.Second
	}
	prefetchCount := cfg.PrefetchCount
	if prefetchCount <= 0 {
		prefetchCount = concurrency * 2
	}

	return &Worker{
		logger:        cfg.Logger,
		storage:       storage.NewStorage(cfg.DBClient.GetDB(), cfg.Logger),
		rabbitClient:  cfg.RabbitClient,
		concurrency:   concurrency,
		applyTimeout:  applyTimeout,
		prefetchCount: prefetchCount,
		queueName:     cfg.QueueName,
		workerID:      "applier-" + uuid.New().String()[:8],
		opsChan:       make(chan *domain.OperationMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and applying operations. Blocks until the context
// is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("apply_timeout", w.applyTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
