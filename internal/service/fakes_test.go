package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clearline/clearing-engine/internal/corebanking"
	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/clearline/clearing-engine/internal/queue"
	"github.com/clearline/clearing-engine/internal/repository"
	"github.com/clearline/clearing-engine/internal/resilience"
)

// fakeRepairRepo is an in-memory RepairRepository keyed by record id.
type fakeRepairRepo struct {
	mu      sync.Mutex
	records map[string]*domain.TransactionRepair

	createErr error
	claimErr  error
}

func newFakeRepairRepo() *fakeRepairRepo {
	return &fakeRepairRepo{records: make(map[string]*domain.TransactionRepair)}
}

func (f *fakeRepairRepo) put(r *domain.TransactionRepair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *r
	f.records[r.ID] = &clone
}

func (f *fakeRepairRepo) get(id string) *domain.TransactionRepair {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil
	}
	clone := *r
	return &clone
}

func (f *fakeRepairRepo) byReference(tenantID, reference string) *domain.TransactionRepair {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.TenantID == tenantID && r.TransactionReference == reference {
			clone := *r
			return &clone
		}
	}
	return nil
}

func (f *fakeRepairRepo) CreateIfAbsent(ctx context.Context, r *domain.TransactionRepair) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.records {
		if existing.TenantID == r.TenantID && existing.TransactionReference == r.TransactionReference {
			return false, nil
		}
	}
	clone := *r
	f.records[r.ID] = &clone
	return true, nil
}

func (f *fakeRepairRepo) GetByID(ctx context.Context, id string) (*domain.TransactionRepair, error) {
	r := f.get(id)
	if r == nil {
		return nil, fmt.Errorf("%w: repair %s", domain.ErrNotFound, id)
	}
	return r, nil
}

func (f *fakeRepairRepo) GetByReference(ctx context.Context, tenantID, reference string) (*domain.TransactionRepair, error) {
	r := f.byReference(tenantID, reference)
	if r == nil {
		return nil, fmt.Errorf("%w: repair %s", domain.ErrNotFound, reference)
	}
	return r, nil
}

func (f *fakeRepairRepo) List(ctx context.Context, params repository.ListParams) ([]domain.TransactionRepair, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TransactionRepair, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRepairRepo) CountOpenByStatus(ctx context.Context) ([]repository.StatusCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.RepairStatus]int64)
	for _, r := range f.records {
		if !r.RepairStatus.IsTerminal() {
			counts[r.RepairStatus]++
		}
	}
	out := make([]repository.StatusCount, 0, len(counts))
	for status, count := range counts {
		out = append(out, repository.StatusCount{Status: status, Count: count})
	}
	return out, nil
}

func (f *fakeRepairRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	out := make([]domain.TransactionRepair, 0)
	for _, r := range f.records {
		if r.DueForRetry(now) && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepairRepo) ClaimForRetry(ctx context.Context, id string) (*domain.TransactionRepair, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.RepairStatus != domain.RepairPending || r.RetryCount >= r.MaxRetries {
		return nil, nil
	}
	r.RepairStatus = domain.RepairInProgress
	r.RetryCount++
	now := time.Now().UTC()
	r.LastRetryAt = &now
	clone := *r
	return &clone, nil
}

func (f *fakeRepairRepo) Requeue(ctx context.Context, id string, nextRetryAt time.Time, failure *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.RepairStatus != domain.RepairInProgress {
		return fmt.Errorf("%w: repair %s is not in progress", domain.ErrConflict, id)
	}
	r.RepairStatus = domain.RepairPending
	if nextRetryAt.IsZero() {
		r.NextRetryAt = nil
	} else {
		r.NextRetryAt = &nextRetryAt
	}
	r.FailureReason = failure
	return nil
}

func (f *fakeRepairRepo) MarkResolved(ctx context.Context, id, resolvedBy string, notes *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: repair %s", domain.ErrNotFound, id)
	}
	if r.RepairStatus.IsTerminal() {
		return fmt.Errorf("%w: repair %s is terminal", domain.ErrConflict, id)
	}
	r.RepairStatus = domain.RepairResolved
	now := time.Now().UTC()
	r.ResolvedAt = &now
	r.ResolvedBy = &resolvedBy
	r.ResolutionNotes = notes
	return nil
}

func (f *fakeRepairRepo) Cancel(ctx context.Context, id, cancelledBy string, notes *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: repair %s", domain.ErrNotFound, id)
	}
	if r.RepairStatus.IsTerminal() {
		return fmt.Errorf("%w: repair %s is terminal", domain.ErrConflict, id)
	}
	r.RepairStatus = domain.RepairCancelled
	return nil
}

func (f *fakeRepairRepo) UpdateRepairType(ctx context.Context, id string, repairType domain.RepairType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: repair %s", domain.ErrNotFound, id)
	}
	r.RepairType = repairType
	return nil
}

func (f *fakeRepairRepo) UpdateLegOutcomes(ctx context.Context, id string, debit, credit *repository.LegOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return fmt.Errorf("%w: repair %s", domain.ErrNotFound, id)
	}
	if debit != nil {
		r.DebitStatus = debit.Status
		r.DebitReference = debit.Reference
		r.DebitResponse = debit.Response
	}
	if credit != nil {
		r.CreditStatus = credit.Status
		r.CreditReference = credit.Reference
		r.CreditResponse = credit.Response
	}
	return nil
}

func (f *fakeRepairRepo) GetTimedOut(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	out := make([]domain.TransactionRepair, 0)
	for _, r := range f.records {
		if !r.RepairStatus.IsTerminal() && r.TimedOut(now) && r.EscalatedAt == nil && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRepairRepo) MarkEscalated(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.EscalatedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	r.EscalatedAt = &now
	action := domain.ActionEscalate
	r.CorrectiveAction = &action
	return true, nil
}

func (f *fakeRepairRepo) GetRetriesExhausted(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TransactionRepair, 0)
	for _, r := range f.records {
		if r.RepairStatus == domain.RepairPending && r.RetriesExhausted() && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

// fakeAdapter scripts per-leg outcomes and counts invocations.
type fakeAdapter struct {
	mu          sync.Mutex
	debitCalls  int
	creditCalls int
	debitFn     func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error)
	creditFn    func(ctx context.Context, req corebanking.CreditTransactionRequest) (*corebanking.TransactionResult, error)
}

func (f *fakeAdapter) ProcessDebit(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
	f.mu.Lock()
	f.debitCalls++
	f.mu.Unlock()
	if f.debitFn == nil {
		return &corebanking.TransactionResult{Success: true, TransactionReference: req.TransactionReference, CoreBankingReference: "CB-D"}, nil
	}
	return f.debitFn(ctx, req)
}

func (f *fakeAdapter) ProcessCredit(ctx context.Context, req corebanking.CreditTransactionRequest) (*corebanking.TransactionResult, error) {
	f.mu.Lock()
	f.creditCalls++
	f.mu.Unlock()
	if f.creditFn == nil {
		return &corebanking.TransactionResult{Success: true, TransactionReference: req.TransactionReference, CoreBankingReference: "CB-C"}, nil
	}
	return f.creditFn(ctx, req)
}

func (f *fakeAdapter) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.debitCalls, f.creditCalls
}

// fakePublisher records published repair events.
type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][]queue.Message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[string][]queue.Message)}
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[queueName] = append(f.messages[queueName], msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) published(queueName string) []queue.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Message(nil), f.messages[queueName]...)
}

func newTestServiceExecutor() *resilience.Executor {
	executor := resilience.NewExecutor(nil, map[string]resilience.Policy{
		ServiceCoreBanking: {
			MaxAttempts:       1,
			SlidingWindowSize: 1000,
			MinimumCalls:      1000,
		},
	}, corebanking.IsTransient, nil)
	return executor
}

func listAll() repository.ListParams {
	return repository.ListParams{Page: 1, PageSize: 100}
}

func failingDebit(message string) func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
	return func(ctx context.Context, req corebanking.DebitTransactionRequest) (*corebanking.TransactionResult, error) {
		return nil, &corebanking.AdapterError{StatusCode: 503, Message: message, Transient: true}
	}
}
