package domain

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// RepairType classifies which step of a transfer failed and how.
type RepairType string

const (
	RepairDebitFailed   RepairType = "DEBIT_FAILED"
	RepairDebitTimeout  RepairType = "DEBIT_TIMEOUT"
	RepairCreditFailed  RepairType = "CREDIT_FAILED"
	RepairCreditTimeout RepairType = "CREDIT_TIMEOUT"
	RepairSystemError   RepairType = "SYSTEM_ERROR"
	RepairManualReview  RepairType = "MANUAL_REVIEW"
)

func (t RepairType) String() string { return string(t) }

func (t RepairType) IsValid() bool {
	switch t {
	case RepairDebitFailed, RepairDebitTimeout, RepairCreditFailed,
		RepairCreditTimeout, RepairSystemError, RepairManualReview:
		return true
	}
	return false
}

// IsDebitSide reports whether the failed step was the debit leg.
func (t RepairType) IsDebitSide() bool {
	return t == RepairDebitFailed || t == RepairDebitTimeout
}

func ParseRepairTypeFromString(s string) (RepairType, error) {
	t := RepairType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid repair type %q", ErrValidation, s)
	}
	return t, nil
}

// CorrectiveAction is the remediation assigned to a repair record. The
// engine only ever assigns ESCALATE (timeout sweep); everything else is set
// by operators or external rules.
type CorrectiveAction string

const (
	ActionRetry        CorrectiveAction = "RETRY"
	ActionReverseDebit CorrectiveAction = "REVERSE_DEBIT"
	ActionEscalate     CorrectiveAction = "ESCALATE"
	ActionManualReview CorrectiveAction = "MANUAL_REVIEW"
	ActionIgnore       CorrectiveAction = "IGNORE"
)

func (a CorrectiveAction) String() string { return string(a) }

func (a CorrectiveAction) IsValid() bool {
	switch a {
	case ActionRetry, ActionReverseDebit, ActionEscalate, ActionManualReview, ActionIgnore:
		return true
	}
	return false
}

func ParseCorrectiveActionFromString(s string) (CorrectiveAction, error) {
	a := CorrectiveAction(strings.ToUpper(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: invalid corrective action %q", ErrValidation, s)
	}
	return a, nil
}

// RepairStatus is the repair record lifecycle state. PENDING is the only
// state the scheduler retries automatically.
type RepairStatus string

const (
	RepairPending    RepairStatus = "PENDING"
	RepairAssigned   RepairStatus = "ASSIGNED"
	RepairInProgress RepairStatus = "IN_PROGRESS"
	RepairResolved   RepairStatus = "RESOLVED"
	RepairCancelled  RepairStatus = "CANCELLED"
)

func (s RepairStatus) String() string { return string(s) }

func (s RepairStatus) IsValid() bool {
	switch s {
	case RepairPending, RepairAssigned, RepairInProgress, RepairResolved, RepairCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the record is excluded from all future scheduling.
func (s RepairStatus) IsTerminal() bool {
	return s == RepairResolved || s == RepairCancelled
}

func ParseRepairStatusFromString(s string) (RepairStatus, error) {
	st := RepairStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid repair status %q", ErrValidation, s)
	}
	return st, nil
}

// StepStatus records the known outcome of one transfer leg.
type StepStatus string

const (
	StepNotAttempted StepStatus = "NOT_ATTEMPTED"
	StepSuccess      StepStatus = "SUCCESS"
	StepFailed       StepStatus = "FAILED"
)

func (s StepStatus) String() string { return string(s) }

func (s StepStatus) IsValid() bool {
	switch s {
	case StepNotAttempted, StepSuccess, StepFailed:
		return true
	}
	return false
}

// Retry control defaults.
const (
	DefaultMaxRetries    = 3
	DefaultPriority      = 1
	MinPriority          = 1
	MaxPriority          = 10
	DefaultTimeoutWindow = 24 * time.Hour
)

// TransactionRepair is the durable compensation record for a transfer whose
// debit or credit leg failed. Exactly one row exists per
// (tenantId, transactionReference) that has ever failed.
type TransactionRepair struct {
	ID                   string            `gorm:"type:uuid;primaryKey"`
	TenantID             string            `gorm:"type:varchar(64);not null"`
	TransactionReference string            `gorm:"type:varchar(64);not null"`
	RepairType           RepairType        `gorm:"type:varchar(20);not null"`
	CorrectiveAction     *CorrectiveAction `gorm:"type:varchar(20)"`
	RepairStatus         RepairStatus      `gorm:"type:varchar(20);not null"`

	FromAccountNumber string            `gorm:"type:varchar(64);not null"`
	ToAccountNumber   string            `gorm:"type:varchar(64);not null"`
	Amount            float64           `gorm:"type:numeric(19,4);not null"`
	Currency          string            `gorm:"type:varchar(3);not null"`
	PaymentType       string            `gorm:"type:varchar(32)"`
	OriginalRequest   datatypes.JSONMap `gorm:"type:jsonb"`

	// Per-leg outcomes. DebitStatus == SUCCESS is monotonic: once set, the
	// debit leg is never re-issued for this reference.
	DebitStatus     StepStatus `gorm:"type:varchar(20);not null"`
	DebitReference  *string    `gorm:"type:varchar(64)"`
	DebitResponse   *string    `gorm:"type:text"`
	CreditStatus    StepStatus `gorm:"type:varchar(20);not null"`
	CreditReference *string    `gorm:"type:varchar(64)"`
	CreditResponse  *string    `gorm:"type:text"`

	RetryCount  int        `gorm:"not null;default:0"`
	MaxRetries  int        `gorm:"not null;default:3"`
	NextRetryAt *time.Time `gorm:"type:timestamptz"`
	LastRetryAt *time.Time `gorm:"type:timestamptz"`
	Priority    int        `gorm:"not null;default:1"`
	TimeoutAt   *time.Time `gorm:"type:timestamptz"`
	EscalatedAt *time.Time `gorm:"type:timestamptz"`

	ErrorCode     *string `gorm:"type:varchar(64)"`
	ErrorMessage  *string `gorm:"type:text"`
	FailureReason *string `gorm:"type:text"`

	CreatedAt       time.Time `gorm:"type:timestamptz"`
	CreatedBy       string    `gorm:"type:varchar(64)"`
	UpdatedAt       time.Time `gorm:"type:timestamptz"`
	UpdatedBy       *string   `gorm:"type:varchar(64)"`
	ResolvedAt      *time.Time
	ResolvedBy      *string `gorm:"type:varchar(64)"`
	ResolutionNotes *string `gorm:"type:text"`
}

func (r *TransactionRepair) Validate() error {
	if strings.TrimSpace(r.TransactionReference) == "" {
		return fmt.Errorf("%w: transaction reference is required", ErrValidation)
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !r.RepairType.IsValid() {
		return fmt.Errorf("%w: invalid repair type %q", ErrValidation, r.RepairType)
	}
	if !r.RepairStatus.IsValid() {
		return fmt.Errorf("%w: invalid repair status %q", ErrValidation, r.RepairStatus)
	}
	if !r.DebitStatus.IsValid() || !r.CreditStatus.IsValid() {
		return fmt.Errorf("%w: invalid step status", ErrValidation)
	}
	if r.CorrectiveAction != nil && !r.CorrectiveAction.IsValid() {
		return fmt.Errorf("%w: invalid corrective action %q", ErrValidation, *r.CorrectiveAction)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrValidation)
	}
	if r.RetryCount < 0 || r.RetryCount > r.MaxRetries {
		return fmt.Errorf("%w: retry count %d out of range [0,%d]", ErrValidation, r.RetryCount, r.MaxRetries)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d out of range [%d,%d]", ErrValidation, r.Priority, MinPriority, MaxPriority)
	}
	return nil
}

// RetriesExhausted reports whether the record has used its full retry budget.
func (r *TransactionRepair) RetriesExhausted() bool {
	return r.RetryCount >= r.MaxRetries
}

// TimedOut reports whether the absolute deadline has passed.
func (r *TransactionRepair) TimedOut(now time.Time) bool {
	return r.TimeoutAt != nil && !r.TimeoutAt.After(now)
}

// DueForRetry mirrors the scheduler selection predicate for a single record.
func (r *TransactionRepair) DueForRetry(now time.Time) bool {
	if r.RepairStatus != RepairPending || r.RetriesExhausted() || r.TimedOut(now) {
		return false
	}
	return r.NextRetryAt == nil || !r.NextRetryAt.After(now)
}

// NextBackoff returns the delay before the next retry attempt:
// 2^retryCount minutes (1, 2, 4, 8, ... for retryCount 0, 1, 2, 3, ...).
// No jitter; concurrent records with equal counts land on the same instant.
func NextBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(1<<uint(retryCount)) * time.Minute
}
