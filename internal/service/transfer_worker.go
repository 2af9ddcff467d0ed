package service

import (
	"context"
	"fmt"

	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/clearline/clearing-engine/internal/observability"
	"github.com/clearline/clearing-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// TransferWorker consumes inbound transfer instructions from the broker and
// runs them through the orchestrator. Failed transfers do not nack: the
// orchestrator has already written the repair record, and redelivery would
// only produce duplicate orchestrations.
type TransferWorker struct {
	orchestrator *Orchestrator
	consumer     queue.Consumer
	logger       *zap.Logger
	concurrency  int
}

func NewTransferWorker(
	orchestrator *Orchestrator,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*TransferWorker, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TransferWorker{
		orchestrator: orchestrator,
		consumer:     consumer,
		logger:       logger,
		concurrency:  concurrency,
	}, nil
}

// Start consumes the transfer intake queue until context cancellation.
func (w *TransferWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("transfer worker started", zap.Int("workerId", workerID))

			err := w.consumer.Consume(groupCtx, queue.TransfersQueue, w.processMessage)
			if err != nil {
				w.logger.Error("transfer worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("transfer worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *TransferWorker) processMessage(ctx context.Context, msg queue.TransferMessage) error {
	ctx = observability.WithTransactionReference(ctx, msg.TransactionReference)
	logger := observability.WithContextLogger(w.logger, ctx)

	result, err := w.orchestrator.ProcessTransaction(ctx, msg.ToTransferRequest())
	if err != nil {
		// Validation failure; the message will never become processable.
		logger.Warn("rejecting unprocessable transfer", zap.Error(err))
		return nil
	}

	switch result.Status {
	case domain.OrchestrationSuccess:
		logger.Info("transfer completed", zap.String("status", result.Status.String()))
	default:
		logger.Warn("transfer did not complete cleanly",
			zap.String("status", result.Status.String()),
			zap.String("error", result.ErrorMessage),
		)
	}

	return nil
}
