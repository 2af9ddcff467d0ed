package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clearline/clearing-engine/internal/corebanking"
	"github.com/clearline/clearing-engine/internal/domain"
)

func testTransfer() domain.TransferRequest {
	return domain.TransferRequest{
		TransactionReference: "TXN-100",
		TenantID:             "tenant-a",
		FromAccountNumber:    "1001",
		ToAccountNumber:      "2002",
		Amount:               500,
		Currency:             "EUR",
	}
}

func newTestOrchestrator(t *testing.T, repo *fakeRepairRepo, adapter *fakeAdapter) *Orchestrator {
	t.Helper()

	orchestrator, err := NewOrchestrator(repo, adapter, newTestServiceExecutor(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orchestrator
}

func TestProcessTransactionSuccess(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationSuccess {
		t.Fatalf("status = %s, want SUCCESS", result.Status)
	}
	if result.Debit == nil || result.Debit.Status != domain.StepSuccess {
		t.Fatalf("debit = %+v, want SUCCESS", result.Debit)
	}
	if result.Credit == nil || result.Credit.Status != domain.StepSuccess {
		t.Fatalf("credit = %+v, want SUCCESS", result.Credit)
	}
	if repair := repo.byReference("tenant-a", "TXN-100"); repair != nil {
		t.Fatalf("no repair record expected on success, got %+v", repair)
	}

	debits, credits := adapter.calls()
	if debits != 1 || credits != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", debits, credits)
	}
}

func TestProcessTransactionInvalidInput(t *testing.T) {
	t.Parallel()

	orchestrator := newTestOrchestrator(t, newFakeRepairRepo(), &fakeAdapter{})

	req := testTransfer()
	req.Amount = -5

	if _, err := orchestrator.ProcessTransaction(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestProcessTransactionDebitFailureNeverCredits(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		debitFn: func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
			return nil, &corebanking.AdapterError{StatusCode: 422, ErrorCode: "INSUFFICIENT_FUNDS", Message: "balance too low"}
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationFailed {
		t.Fatalf("status = %s, want FAILED", result.Status)
	}
	if result.Credit != nil {
		t.Fatal("credit leg must never run after a failed debit")
	}

	_, credits := adapter.calls()
	if credits != 0 {
		t.Fatalf("credit calls = %d, want 0", credits)
	}

	repair := repo.byReference("tenant-a", "TXN-100")
	if repair == nil {
		t.Fatal("expected a repair record for the failed debit")
	}
	if repair.RepairType != domain.RepairDebitFailed {
		t.Fatalf("repair type = %s, want DEBIT_FAILED", repair.RepairType)
	}
	if repair.RepairStatus != domain.RepairPending {
		t.Fatalf("repair status = %s, want PENDING", repair.RepairStatus)
	}
	if repair.DebitStatus != domain.StepFailed {
		t.Fatalf("debit leg = %s, want FAILED", repair.DebitStatus)
	}
	if repair.CreditStatus != domain.StepNotAttempted {
		t.Fatalf("credit leg = %s, want NOT_ATTEMPTED", repair.CreditStatus)
	}
	if repair.ErrorCode == nil || *repair.ErrorCode != "INSUFFICIENT_FUNDS" {
		t.Fatalf("error code = %v, want INSUFFICIENT_FUNDS", repair.ErrorCode)
	}
}

func TestProcessTransactionCreditFailureIsPartialSuccess(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		creditFn: func(ctx context.Context, req corebanking.CreditTransactionRequest) (*corebanking.TransactionResult, error) {
			return nil, &corebanking.AdapterError{StatusCode: 503, Message: "ledger unavailable", Transient: true}
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationPartialSuccess {
		t.Fatalf("status = %s, want PARTIAL_SUCCESS", result.Status)
	}
	if result.Debit == nil || result.Debit.Status != domain.StepSuccess {
		t.Fatalf("debit = %+v, want SUCCESS preserved in the result", result.Debit)
	}

	repair := repo.byReference("tenant-a", "TXN-100")
	if repair == nil {
		t.Fatal("expected a repair record for the failed credit")
	}
	if repair.RepairType != domain.RepairCreditFailed {
		t.Fatalf("repair type = %s, want CREDIT_FAILED", repair.RepairType)
	}
	if repair.DebitStatus != domain.StepSuccess {
		t.Fatal("debit SUCCESS must be recorded so remediation never re-debits")
	}
	if repair.DebitReference == nil || *repair.DebitReference != "CB-D" {
		t.Fatalf("debit reference = %v, want CB-D", repair.DebitReference)
	}
	if repair.CreditStatus != domain.StepFailed {
		t.Fatalf("credit leg = %s, want FAILED", repair.CreditStatus)
	}
}

func TestProcessTransactionCreditTimeoutClassification(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		creditFn: func(ctx context.Context, req corebanking.CreditTransactionRequest) (*corebanking.TransactionResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationPartialSuccess {
		t.Fatalf("status = %s, want PARTIAL_SUCCESS", result.Status)
	}

	repair := repo.byReference("tenant-a", "TXN-100")
	if repair == nil {
		t.Fatal("expected a repair record")
	}
	if repair.RepairType != domain.RepairCreditTimeout {
		t.Fatalf("repair type = %s, want CREDIT_TIMEOUT", repair.RepairType)
	}
}

func TestProcessTransactionOverallTimeout(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		debitFn: func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	req := testTransfer()
	req.TimeoutSeconds = 1
	req.DebitTimeoutSeconds = 5

	result, err := orchestrator.ProcessTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationTimeout {
		t.Fatalf("status = %s, want TIMEOUT", result.Status)
	}
	if result.ErrorMessage != "TIMEOUT" {
		t.Fatalf("error message = %q, want TIMEOUT", result.ErrorMessage)
	}

	repair := repo.byReference("tenant-a", "TXN-100")
	if repair == nil {
		t.Fatal("an unknown outcome must still produce a repair record")
	}
	if repair.RepairType != domain.RepairDebitTimeout {
		t.Fatalf("repair type = %s, want DEBIT_TIMEOUT", repair.RepairType)
	}
}

func TestProcessTransactionRepairIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		debitFn: func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
			return nil, &corebanking.AdapterError{StatusCode: 500, Message: "boom", Transient: true}
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	for i := 0; i < 2; i++ {
		if _, err := orchestrator.ProcessTransaction(context.Background(), testTransfer()); err != nil {
			t.Fatalf("ProcessTransaction() attempt %d error = %v", i+1, err)
		}
	}

	records, total, err := repo.List(context.Background(), listAll())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("records = %d, want exactly one per (tenant, reference)", total)
	}
}

func TestProcessTransactionBusinessDeclineOnResult(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		debitFn: func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
			return &corebanking.TransactionResult{
				Success:      false,
				ErrorCode:    "ACCOUNT_BLOCKED",
				ErrorMessage: "account is blocked",
			}, nil
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}

	if result.Status != domain.OrchestrationFailed {
		t.Fatalf("status = %s, want FAILED for a declined debit", result.Status)
	}
	if result.Debit.Status != domain.StepFailed {
		t.Fatalf("debit = %s, want FAILED", result.Debit.Status)
	}
	if result.Debit.ErrorCode != "ACCOUNT_BLOCKED" {
		t.Fatalf("error code = %q", result.Debit.ErrorCode)
	}
}

func TestProcessTransactionAsync(t *testing.T) {
	t.Parallel()

	orchestrator := newTestOrchestrator(t, newFakeRepairRepo(), &fakeAdapter{})

	select {
	case result := <-orchestrator.ProcessTransactionAsync(context.Background(), testTransfer()):
		if result.Status != domain.OrchestrationSuccess {
			t.Fatalf("status = %s, want SUCCESS", result.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async orchestration did not complete")
	}
}

func TestProcessTransactionPanicReturnsSystemError(t *testing.T) {
	t.Parallel()

	repo := newFakeRepairRepo()
	adapter := &fakeAdapter{
		debitFn: func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
			panic("ledger connection handle is nil")
		},
	}
	orchestrator := newTestOrchestrator(t, repo, adapter)

	result, err := orchestrator.ProcessTransaction(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("ProcessTransaction() error = %v", err)
	}
	if result == nil {
		t.Fatal("result = nil, want typed ERROR result")
	}
	if result.Status != domain.OrchestrationError {
		t.Fatalf("status = %s, want ERROR", result.Status)
	}
	if !strings.Contains(result.ErrorMessage, "ledger connection handle is nil") {
		t.Fatalf("errorMessage = %q, want the panic reason", result.ErrorMessage)
	}
	if result.CompletedAt.IsZero() {
		t.Fatal("completedAt not stamped on recovered panic")
	}

	repair := repo.byReference("tenant-a", "TXN-100")
	if repair == nil {
		t.Fatal("expected a repair record for the recovered panic")
	}
	if repair.RepairType != domain.RepairSystemError {
		t.Fatalf("repairType = %s, want SYSTEM_ERROR", repair.RepairType)
	}
	if repair.RepairStatus != domain.RepairPending {
		t.Fatalf("repairStatus = %s, want PENDING", repair.RepairStatus)
	}
	if repair.FailureReason == nil || !strings.Contains(*repair.FailureReason, "panic") {
		t.Fatalf("failureReason = %v, want panic detail", repair.FailureReason)
	}
}
