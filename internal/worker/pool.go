package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opticrew/fieldsync/internal/worker/domain"
)

// spawnWorkerPool spawns N applier goroutines based on concurrency
// configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each applier goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Applier goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Applier stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Applier stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.opsChan:
			if !ok {
				return
			}

			err := w.processOperation(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("operation_id", msg.OperationID),
				)
				continue
			}

			if err != nil {
				requeue := w.shouldRequeue(err)

				w.logger.Error("Operation processing failed",
					slog.String("worker_name", workerName),
					slog.String("operation_id", msg.OperationID),
					slog.Bool("requeue", requeue),
					slog.String("error", err.Error()),
				)

				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("operation_id", msg.OperationID),
						slog.String("error", nackErr.Error()),
					)
				}
			} else {
				if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
					w.logger.Error("Failed to ACK message",
						slog.String("worker_name", workerName),
						slog.String("operation_id", msg.OperationID),
						slog.String("error", ackErr.Error()),
					)
				}
			}
		}
	}
}

// shouldRequeue determines if an operation should be requeued based on the
// error type
func (w *Worker) shouldRequeue(err error) bool {
	// Out-of-order delivery: an earlier same-job operation must apply
	// first, so this one goes back on the queue
	if errors.Is(err, domain.ErrOutOfOrder) {
		return true
	}

	// Transient DB/backend trouble
	var transientErr *domain.TransientError
	if errors.As(err, &transientErr) {
		return true
	}

	// Everything else (already claimed, rejected, unknown operation) is
	// not worth redelivering
	return false
}
