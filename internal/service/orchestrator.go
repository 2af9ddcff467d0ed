package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clearline/clearing-engine/internal/corebanking"
	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/clearline/clearing-engine/internal/observability"
	"github.com/clearline/clearing-engine/internal/repository"
	"github.com/clearline/clearing-engine/internal/resilience"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServiceCoreBanking is the resilience policy key for core-banking calls.
const ServiceCoreBanking = "core-banking"

const (
	debitReferenceSuffix  = "-DEBIT"
	creditReferenceSuffix = "-CREDIT"

	systemActor = "clearing-engine"
)

// Orchestrator drives one transfer through debit then credit. Any failure
// at either leg is converted into a durable repair record; the caller only
// ever sees a typed OrchestrationResult.
type Orchestrator struct {
	repairs  repository.RepairRepository
	adapter  corebanking.Adapter
	executor *resilience.Executor
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewOrchestrator(
	repairs repository.RepairRepository,
	adapter corebanking.Adapter,
	executor *resilience.Executor,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if repairs == nil {
		return nil, fmt.Errorf("repair repository is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("core banking adapter is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("resilience executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		repairs:  repairs,
		adapter:  adapter,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// ProcessTransaction executes debit then credit under the request's overall
// deadline. The returned error is non-nil only for invalid input; every
// downstream failure is reported through the result status.
func (o *Orchestrator) ProcessTransaction(ctx context.Context, req domain.TransferRequest) (result *domain.OrchestrationResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.ApplyDefaults()

	ctx = observability.WithTransactionReference(ctx, req.TransactionReference)
	logger := observability.WithContextLogger(o.logger, ctx)

	result = &domain.OrchestrationResult{
		TransactionReference: req.TransactionReference,
		TenantID:             req.TenantID,
		StartedAt:            o.now().UTC(),
	}

	overallCtx, cancel := context.WithTimeout(ctx, req.OverallTimeout())
	defer cancel()

	// Named returns so a recovered panic still surfaces as a typed ERROR
	// result instead of a nil dereference in the caller.
	defer func() {
		if r := recover(); r != nil {
			o.recordSystemError(ctx, req, fmt.Sprintf("panic: %v", r))
			result.Status = domain.OrchestrationError
			result.ErrorMessage = fmt.Sprintf("unexpected error: %v", r)
			result.CompletedAt = o.now().UTC()
			o.observeResult(result)
			logger.Error("orchestration panicked", zap.Any("panic", r))
		}
	}()

	o.runSteps(overallCtx, req, result, logger)

	result.CompletedAt = o.now().UTC()
	o.observeResult(result)
	return result, nil
}

// ProcessTransactionAsync runs the orchestration off the caller's goroutine.
// Cancelling ctx cancels whichever leg is in flight; the repair record for
// a cancelled orchestration is still written before the result is emitted.
func (o *Orchestrator) ProcessTransactionAsync(ctx context.Context, req domain.TransferRequest) <-chan *domain.OrchestrationResult {
	out := make(chan *domain.OrchestrationResult, 1)
	go func() {
		defer close(out)
		result, err := o.ProcessTransaction(ctx, req)
		if err != nil {
			result = &domain.OrchestrationResult{
				TransactionReference: req.TransactionReference,
				TenantID:             req.TenantID,
				Status:               domain.OrchestrationError,
				ErrorMessage:         err.Error(),
				StartedAt:            o.now().UTC(),
				CompletedAt:          o.now().UTC(),
			}
		}
		out <- result
	}()
	return out
}

func (o *Orchestrator) runSteps(
	overallCtx context.Context,
	req domain.TransferRequest,
	result *domain.OrchestrationResult,
	logger *zap.Logger,
) {
	debit, debitErr := o.executeDebit(overallCtx, req)
	result.Debit = debit

	if debitErr != nil || debit.Status != domain.StepSuccess {
		if o.handleOverallTimeout(overallCtx, req, result, logger) {
			return
		}

		repairType := domain.RepairDebitFailed
		if isTimeoutFailure(debitErr) {
			repairType = domain.RepairDebitTimeout
		}

		o.createStepRepair(overallCtx, req, repairType, debit, nil, debitErr)
		result.Status = domain.OrchestrationFailed
		result.ErrorMessage = failureMessage(debit, debitErr)
		logger.Warn("debit step failed",
			zap.String("repairType", repairType.String()),
			zap.String("error", result.ErrorMessage),
		)
		return
	}

	credit, creditErr := o.executeCredit(overallCtx, req)
	result.Credit = credit

	if creditErr != nil || credit.Status != domain.StepSuccess {
		if o.handleOverallTimeout(overallCtx, req, result, logger) {
			return
		}

		repairType := domain.RepairCreditFailed
		if isTimeoutFailure(creditErr) {
			repairType = domain.RepairCreditTimeout
		}

		// Money already left the source account: the record must carry
		// the debit outcome so remediation never re-debits.
		o.createStepRepair(overallCtx, req, repairType, debit, credit, creditErr)
		result.Status = domain.OrchestrationPartialSuccess
		result.ErrorMessage = failureMessage(credit, creditErr)
		logger.Warn("credit step failed after successful debit",
			zap.String("repairType", repairType.String()),
			zap.String("error", result.ErrorMessage),
		)
		return
	}

	result.Status = domain.OrchestrationSuccess
}

func (o *Orchestrator) executeDebit(ctx context.Context, req domain.TransferRequest) (*domain.StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, req.DebitTimeout())
	defer cancel()

	start := o.now()
	debitReq := corebanking.DebitTransactionRequest{
		TransactionReference: req.TransactionReference + debitReferenceSuffix,
		AccountNumber:        req.FromAccountNumber,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          req.Description,
		TenantID:             req.TenantID,
		PaymentType:          req.PaymentType,
	}

	txResult, err := resilience.Execute(stepCtx, o.executor, ServiceCoreBanking, req.TenantID,
		func(callCtx context.Context) (*corebanking.TransactionResult, error) {
			return o.adapter.ProcessDebit(callCtx, debitReq)
		}, nil)

	o.metrics.ObserveStepDuration("debit", o.now().Sub(start))
	return toStepResult(txResult, err), err
}

func (o *Orchestrator) executeCredit(ctx context.Context, req domain.TransferRequest) (*domain.StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, req.CreditTimeout())
	defer cancel()

	start := o.now()
	creditReq := corebanking.CreditTransactionRequest{
		TransactionReference: req.TransactionReference + creditReferenceSuffix,
		AccountNumber:        req.ToAccountNumber,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          req.Description,
		TenantID:             req.TenantID,
		PaymentType:          req.PaymentType,
	}

	txResult, err := resilience.Execute(stepCtx, o.executor, ServiceCoreBanking, req.TenantID,
		func(callCtx context.Context) (*corebanking.TransactionResult, error) {
			return o.adapter.ProcessCredit(callCtx, creditReq)
		}, nil)

	o.metrics.ObserveStepDuration("credit", o.now().Sub(start))
	return toStepResult(txResult, err), err
}

// handleOverallTimeout converts an expired whole-operation deadline into the
// TIMEOUT result and its repair record. From the caller's perspective the
// step outcome is unknown, which is strictly more dangerous than a known
// failure, so a record is always written.
func (o *Orchestrator) handleOverallTimeout(
	overallCtx context.Context,
	req domain.TransferRequest,
	result *domain.OrchestrationResult,
	logger *zap.Logger,
) bool {
	if !errors.Is(overallCtx.Err(), context.DeadlineExceeded) {
		return false
	}

	repair := o.newRepair(req, domain.RepairDebitTimeout)
	if result.Debit != nil {
		applyLegToRepair(repair, result.Debit, true)
	}
	timeoutMsg := "TIMEOUT"
	repair.ErrorMessage = &timeoutMsg

	o.persistRepair(overallCtx, repair)

	result.Status = domain.OrchestrationTimeout
	result.ErrorMessage = timeoutMsg
	logger.Warn("orchestration exceeded overall deadline",
		zap.Int("timeoutSeconds", req.TimeoutSeconds),
	)
	return true
}

func (o *Orchestrator) createStepRepair(
	ctx context.Context,
	req domain.TransferRequest,
	repairType domain.RepairType,
	debit *domain.StepResult,
	credit *domain.StepResult,
	stepErr error,
) {
	repair := o.newRepair(req, repairType)
	if debit != nil {
		applyLegToRepair(repair, debit, true)
	}
	if credit != nil {
		applyLegToRepair(repair, credit, false)
	}

	if stepErr != nil {
		msg := stepErr.Error()
		repair.ErrorMessage = &msg
		var adapterErr *corebanking.AdapterError
		if errors.As(stepErr, &adapterErr) && adapterErr.ErrorCode != "" {
			code := adapterErr.ErrorCode
			repair.ErrorCode = &code
		}
	}

	o.persistRepair(ctx, repair)
}

func (o *Orchestrator) recordSystemError(ctx context.Context, req domain.TransferRequest, reason string) {
	repair := o.newRepair(req, domain.RepairSystemError)
	repair.FailureReason = &reason
	o.persistRepair(ctx, repair)
}

func (o *Orchestrator) newRepair(req domain.TransferRequest, repairType domain.RepairType) *domain.TransactionRepair {
	now := o.now().UTC()
	timeoutAt := now.Add(time.Duration(req.TimeoutHours) * time.Hour)

	return &domain.TransactionRepair{
		ID:                   uuid.NewString(),
		TenantID:             req.TenantID,
		TransactionReference: req.TransactionReference,
		RepairType:           repairType,
		RepairStatus:         domain.RepairPending,
		FromAccountNumber:    req.FromAccountNumber,
		ToAccountNumber:      req.ToAccountNumber,
		Amount:               req.Amount,
		Currency:             req.Currency,
		PaymentType:          req.PaymentType,
		OriginalRequest:      req.Snapshot(),
		DebitStatus:          domain.StepNotAttempted,
		CreditStatus:         domain.StepNotAttempted,
		MaxRetries:           req.MaxRetries,
		Priority:             req.Priority,
		TimeoutAt:            &timeoutAt,
		CreatedAt:            now,
		CreatedBy:            systemActor,
		UpdatedAt:            now,
	}
}

// persistRepair writes the record idempotently: a second failure for the
// same (tenantId, transactionReference) never produces a second row. The
// store cannot be the reason a failure is silently lost, so a write error
// is logged loudly rather than swallowed quietly.
func (o *Orchestrator) persistRepair(ctx context.Context, repair *domain.TransactionRepair) {
	// The overall deadline may already be expired; the repair write must
	// still go through.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	created, err := o.repairs.CreateIfAbsent(writeCtx, repair)
	if err != nil {
		o.logger.Error("failed to persist repair record",
			zap.String("transactionReference", repair.TransactionReference),
			zap.String("tenantId", repair.TenantID),
			zap.String("repairType", repair.RepairType.String()),
			zap.Error(err),
		)
		return
	}
	if !created {
		o.logger.Info("repair record already exists, skipping create",
			zap.String("transactionReference", repair.TransactionReference),
			zap.String("tenantId", repair.TenantID),
		)
		return
	}

	o.metrics.IncRepairCreated(repair.RepairType.String())
}

func (o *Orchestrator) observeResult(result *domain.OrchestrationResult) {
	o.metrics.IncOrchestration(result.Status.String())
}

func toStepResult(txResult *corebanking.TransactionResult, err error) *domain.StepResult {
	step := &domain.StepResult{Status: domain.StepFailed}

	if err != nil {
		step.ErrorMessage = err.Error()
		if isFastFail(err) {
			step.Status = domain.StepNotAttempted
		}
		var adapterErr *corebanking.AdapterError
		if errors.As(err, &adapterErr) {
			step.ErrorCode = adapterErr.ErrorCode
		}
		return step
	}

	if txResult == nil {
		step.ErrorMessage = "empty core banking result"
		return step
	}

	step.CoreBankingReference = txResult.CoreBankingReference
	step.ResponseBody = txResult.Status
	step.ErrorCode = txResult.ErrorCode
	step.ErrorMessage = txResult.ErrorMessage
	if txResult.Success {
		step.Status = domain.StepSuccess
	}
	return step
}

// isFastFail reports rejections that happened before the call was dispatched;
// the leg outcome for those is NOT_ATTEMPTED rather than FAILED.
func isFastFail(err error) bool {
	return errors.Is(err, resilience.ErrBulkheadFull) ||
		errors.Is(err, resilience.ErrRateLimited) ||
		errors.Is(err, resilience.ErrCircuitOpen)
}

func isTimeoutFailure(err error) bool {
	return err != nil && corebanking.IsTimeout(err)
}

func applyLegToRepair(repair *domain.TransactionRepair, step *domain.StepResult, isDebit bool) {
	reference := step.CoreBankingReference
	var refPtr *string
	if reference != "" {
		refPtr = &reference
	}

	var respPtr *string
	if step.ResponseBody != "" {
		resp := step.ResponseBody
		respPtr = &resp
	} else if step.ErrorMessage != "" {
		resp := step.ErrorMessage
		respPtr = &resp
	}

	if isDebit {
		repair.DebitStatus = step.Status
		repair.DebitReference = refPtr
		repair.DebitResponse = respPtr
	} else {
		repair.CreditStatus = step.Status
		repair.CreditReference = refPtr
		repair.CreditResponse = respPtr
	}
}

func failureMessage(step *domain.StepResult, err error) string {
	if step != nil && step.ErrorMessage != "" {
		return step.ErrorMessage
	}
	if err != nil {
		return err.Error()
	}
	return "step did not succeed"
}
