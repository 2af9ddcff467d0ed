package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearline/clearing-engine/internal/corebanking"
	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/clearline/clearing-engine/internal/observability"
	"github.com/clearline/clearing-engine/internal/queue"
	"github.com/clearline/clearing-engine/internal/repository"
	"github.com/clearline/clearing-engine/internal/resilience"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRepairScanInterval = 30 * time.Second
	defaultRepairScanLimit    = 50
	defaultRetryConcurrency   = 8
)

// RepairScheduler periodically re-drives failed transfer legs. Each pass
// first escalates records past their absolute deadline, then claims and
// replays due records. Replays for different transaction references run in
// parallel; the conditional PENDING->IN_PROGRESS claim keeps two passes
// from ever processing the same record concurrently.
type RepairScheduler struct {
	repairs   repository.RepairRepository
	adapter   corebanking.Adapter
	executor  *resilience.Executor
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics

	interval    time.Duration
	limit       int
	concurrency int
	now         func() time.Time
}

func NewRepairScheduler(
	repairs repository.RepairRepository,
	adapter corebanking.Adapter,
	executor *resilience.Executor,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	concurrency int,
	logger *zap.Logger,
) (*RepairScheduler, error) {
	if repairs == nil {
		return nil, fmt.Errorf("repair repository is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("core banking adapter is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("resilience executor is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRepairScanInterval
	}
	if limit <= 0 {
		limit = defaultRepairScanLimit
	}
	if concurrency <= 0 {
		concurrency = defaultRetryConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RepairScheduler{
		repairs:     repairs,
		adapter:     adapter,
		executor:    executor,
		publisher:   publisher,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *RepairScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RepairScheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so already-due repairs do not wait for the first
	// ticker edge.
	if err := s.runPass(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("repair scheduler initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runPass(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("repair scheduler pass failed", zap.Error(err))
			}
		}
	}
}

func (s *RepairScheduler) runPass(ctx context.Context) error {
	if err := s.sweepTimedOut(ctx); err != nil {
		s.logger.Error("timeout sweep failed", zap.Error(err))
	}

	if err := s.retryDue(ctx); err != nil {
		return err
	}

	s.refreshGauges(ctx)
	return nil
}

// sweepTimedOut force-escalates records whose absolute deadline passed,
// regardless of remaining retry budget. Escalation delivery beyond the
// broker is external.
func (s *RepairScheduler) sweepTimedOut(ctx context.Context) error {
	timedOut, err := s.repairs.GetTimedOut(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch timed-out repairs: %w", err)
	}

	for i := range timedOut {
		repair := timedOut[i]

		marked, err := s.repairs.MarkEscalated(ctx, repair.ID)
		if err != nil {
			s.logger.Error("failed to mark repair escalated",
				zap.String("transactionReference", repair.TransactionReference),
				zap.Error(err),
			)
			continue
		}
		if !marked {
			continue
		}

		s.metrics.IncRepairEscalated()
		s.publishEvent(ctx, queue.RepairEscalatedQueue, queue.RepairEventMessage{
			Kind:                 queue.RepairEventEscalated,
			TransactionReference: repair.TransactionReference,
			TenantID:             repair.TenantID,
			RepairType:           repair.RepairType,
			Priority:             repair.Priority,
			RetryCount:           repair.RetryCount,
			Reason:               "absolute deadline exceeded",
		})

		s.logger.Warn("repair escalated past absolute deadline",
			zap.String("transactionReference", repair.TransactionReference),
			zap.String("tenantId", repair.TenantID),
			zap.Int("retryCount", repair.RetryCount),
		)
	}

	return nil
}

func (s *RepairScheduler) retryDue(ctx context.Context) error {
	due, err := s.repairs.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due repairs: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range due {
		repair := due[i]
		g.Go(func() error {
			s.retryOne(groupCtx, repair.ID)
			return nil
		})
	}

	return g.Wait()
}

func (s *RepairScheduler) retryOne(ctx context.Context, id string) {
	claimed, err := s.repairs.ClaimForRetry(ctx, id)
	if err != nil {
		s.logger.Error("failed to claim repair for retry", zap.String("repairId", id), zap.Error(err))
		return
	}
	// Nil means another pass won the claim or the record moved on.
	if claimed == nil {
		return
	}

	ctx = observability.WithTransactionReference(ctx, claimed.TransactionReference)
	logger := observability.WithContextLogger(s.logger, ctx)

	replayErr := s.replay(ctx, claimed)
	if replayErr == nil {
		if err := s.repairs.MarkResolved(ctx, claimed.ID, systemActor, nil); err != nil {
			logger.Error("failed to mark repair resolved", zap.Error(err))
			return
		}
		s.metrics.IncRepairRetry("resolved")
		logger.Info("repair resolved on retry", zap.Int("retryCount", claimed.RetryCount))
		return
	}

	failure := replayErr.Error()
	var nextRetryAt time.Time
	if !claimed.RetriesExhausted() {
		nextRetryAt = s.now().UTC().Add(domain.NextBackoff(claimed.RetryCount))
	}
	if err := s.repairs.Requeue(ctx, claimed.ID, nextRetryAt, &failure); err != nil {
		logger.Error("failed to requeue repair after failed retry", zap.Error(err))
		return
	}
	s.metrics.IncRepairRetry("failed")

	if claimed.RetriesExhausted() {
		s.metrics.IncRepairExhausted()
		s.publishEvent(ctx, queue.RepairExhaustedQueue, queue.RepairEventMessage{
			Kind:                 queue.RepairEventExhausted,
			TransactionReference: claimed.TransactionReference,
			TenantID:             claimed.TenantID,
			RepairType:           claimed.RepairType,
			Priority:             claimed.Priority,
			RetryCount:           claimed.RetryCount,
			Reason:               failure,
		})
		logger.Warn("repair retries exhausted, awaiting manual action",
			zap.Int("retryCount", claimed.RetryCount),
			zap.Int("maxRetries", claimed.MaxRetries),
		)
		return
	}

	logger.Info("repair retry failed, requeued",
		zap.Int("retryCount", claimed.RetryCount),
		zap.Time("nextRetryAt", nextRetryAt),
	)
}

// replay re-drives only the legs that have not succeeded yet. A leg
// recorded as SUCCESS is never re-issued.
func (s *RepairScheduler) replay(ctx context.Context, repair *domain.TransactionRepair) error {
	if repair.DebitStatus != domain.StepSuccess {
		if err := s.replayDebit(ctx, repair); err != nil {
			return err
		}
	}

	if repair.CreditStatus != domain.StepSuccess {
		if err := s.replayCredit(ctx, repair); err != nil {
			return err
		}
	}

	return nil
}

func (s *RepairScheduler) replayDebit(ctx context.Context, repair *domain.TransactionRepair) error {
	req := corebanking.DebitTransactionRequest{
		TransactionReference: repair.TransactionReference + debitReferenceSuffix,
		AccountNumber:        repair.FromAccountNumber,
		Amount:               repair.Amount,
		Currency:             repair.Currency,
		Description:          snapshotString(repair, "description"),
		TenantID:             repair.TenantID,
		PaymentType:          repair.PaymentType,
	}

	txResult, err := resilience.Execute(ctx, s.executor, ServiceCoreBanking, repair.TenantID,
		func(callCtx context.Context) (*corebanking.TransactionResult, error) {
			return s.adapter.ProcessDebit(callCtx, req)
		}, nil)
	if err != nil {
		return fmt.Errorf("debit replay failed: %w", err)
	}
	if txResult == nil || !txResult.Success {
		return fmt.Errorf("debit replay rejected: %s", resultMessage(txResult))
	}

	repair.DebitStatus = domain.StepSuccess
	outcome := legOutcomeFromResult(txResult)
	if updateErr := s.repairs.UpdateLegOutcomes(ctx, repair.ID, outcome, nil); updateErr != nil {
		// The debit went through; losing the leg update must not trigger
		// another debit, so surface it loudly instead of failing the replay.
		s.logger.Error("failed to persist replayed debit outcome",
			zap.String("transactionReference", repair.TransactionReference),
			zap.Error(updateErr),
		)
	}

	return nil
}

func (s *RepairScheduler) replayCredit(ctx context.Context, repair *domain.TransactionRepair) error {
	req := corebanking.CreditTransactionRequest{
		TransactionReference: repair.TransactionReference + creditReferenceSuffix,
		AccountNumber:        repair.ToAccountNumber,
		Amount:               repair.Amount,
		Currency:             repair.Currency,
		Description:          snapshotString(repair, "description"),
		TenantID:             repair.TenantID,
		PaymentType:          repair.PaymentType,
	}

	txResult, err := resilience.Execute(ctx, s.executor, ServiceCoreBanking, repair.TenantID,
		func(callCtx context.Context) (*corebanking.TransactionResult, error) {
			return s.adapter.ProcessCredit(callCtx, req)
		}, nil)
	if err != nil || txResult == nil || !txResult.Success {
		s.reclassifyCreditFailure(ctx, repair, err)
		if err != nil {
			return fmt.Errorf("credit replay failed: %w", err)
		}
		return fmt.Errorf("credit replay rejected: %s", resultMessage(txResult))
	}

	repair.CreditStatus = domain.StepSuccess
	outcome := legOutcomeFromResult(txResult)
	if updateErr := s.repairs.UpdateLegOutcomes(ctx, repair.ID, nil, outcome); updateErr != nil {
		s.logger.Error("failed to persist replayed credit outcome",
			zap.String("transactionReference", repair.TransactionReference),
			zap.Error(updateErr),
		)
	}

	return nil
}

// reclassifyCreditFailure moves a debit-side record to the credit side once
// its debit leg has been completed by a replay, so the next retry skips
// straight to the credit.
func (s *RepairScheduler) reclassifyCreditFailure(ctx context.Context, repair *domain.TransactionRepair, err error) {
	if repair.DebitStatus != domain.StepSuccess || !repair.RepairType.IsDebitSide() {
		return
	}

	repairType := domain.RepairCreditFailed
	if err != nil && corebanking.IsTimeout(err) {
		repairType = domain.RepairCreditTimeout
	}

	if updateErr := s.repairs.UpdateRepairType(ctx, repair.ID, repairType); updateErr != nil {
		s.logger.Error("failed to reclassify repair",
			zap.String("transactionReference", repair.TransactionReference),
			zap.Error(updateErr),
		)
		return
	}
	repair.RepairType = repairType
}

func (s *RepairScheduler) publishEvent(ctx context.Context, queueName string, msg queue.RepairEventMessage) {
	if err := s.publisher.Publish(ctx, queueName, msg); err != nil {
		s.logger.Error("failed to publish repair event",
			zap.String("queue", queueName),
			zap.String("transactionReference", msg.TransactionReference),
			zap.Error(err),
		)
	}
}

func (s *RepairScheduler) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}

	counts, err := s.repairs.CountOpenByStatus(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("failed to count open repairs", zap.Error(err))
		}
		return
	}
	for _, c := range counts {
		s.metrics.SetRepairsOpen(c.Status.String(), float64(c.Count))
	}

	s.metrics.SetBreakerState(ServiceCoreBanking, s.executor.BreakerState(ServiceCoreBanking).String())
}

func snapshotString(repair *domain.TransactionRepair, key string) string {
	if repair == nil || repair.OriginalRequest == nil {
		return ""
	}
	if value, ok := repair.OriginalRequest[key].(string); ok {
		return value
	}
	return ""
}

func legOutcomeFromResult(txResult *corebanking.TransactionResult) *repository.LegOutcome {
	outcome := &repository.LegOutcome{Status: domain.StepSuccess}
	if txResult.CoreBankingReference != "" {
		ref := txResult.CoreBankingReference
		outcome.Reference = &ref
	}
	if txResult.Status != "" {
		resp := txResult.Status
		outcome.Response = &resp
	}
	return outcome
}

func resultMessage(txResult *corebanking.TransactionResult) string {
	if txResult == nil {
		return "empty core banking result"
	}
	if txResult.ErrorMessage != "" {
		return txResult.ErrorMessage
	}
	return "core banking reported failure"
}
