package domain

import (
	"fmt"
	"strings"
	"time"
)

// Transfer timeout defaults (required by the clearing contract, overridable
// per request).
const (
	DefaultOverallTimeout = 300 * time.Second
	DefaultStepTimeout    = 60 * time.Second
)

// TransferRequest is a client instruction to move funds from one account to
// another across two core-banking calls.
type TransferRequest struct {
	TransactionReference string
	TenantID             string
	FromAccountNumber    string
	ToAccountNumber      string
	Amount               float64
	Currency             string
	Description          string
	PaymentType          string

	TimeoutSeconds       int
	DebitTimeoutSeconds  int
	CreditTimeoutSeconds int
	MaxRetries           int
	Priority             int
	TimeoutHours         int
}

func (r *TransferRequest) Validate() error {
	if strings.TrimSpace(r.TransactionReference) == "" {
		return fmt.Errorf("%w: transaction reference is required", ErrValidation)
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(r.FromAccountNumber) == "" {
		return fmt.Errorf("%w: from account is required", ErrValidation)
	}
	if strings.TrimSpace(r.ToAccountNumber) == "" {
		return fmt.Errorf("%w: to account is required", ErrValidation)
	}
	if r.FromAccountNumber == r.ToAccountNumber {
		return fmt.Errorf("%w: from and to accounts must differ", ErrValidation)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	if r.Priority != 0 && (r.Priority < MinPriority || r.Priority > MaxPriority) {
		return fmt.Errorf("%w: priority %d out of range [%d,%d]", ErrValidation, r.Priority, MinPriority, MaxPriority)
	}
	if r.TimeoutSeconds < 0 || r.DebitTimeoutSeconds < 0 || r.CreditTimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrValidation)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrValidation)
	}
	return nil
}

// ApplyDefaults fills zero-valued tuning fields with the engine defaults.
func (r *TransferRequest) ApplyDefaults() {
	if r.TimeoutSeconds == 0 {
		r.TimeoutSeconds = int(DefaultOverallTimeout / time.Second)
	}
	if r.DebitTimeoutSeconds == 0 {
		r.DebitTimeoutSeconds = int(DefaultStepTimeout / time.Second)
	}
	if r.CreditTimeoutSeconds == 0 {
		r.CreditTimeoutSeconds = int(DefaultStepTimeout / time.Second)
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if r.TimeoutHours == 0 {
		r.TimeoutHours = int(DefaultTimeoutWindow / time.Hour)
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

// OverallTimeout is the whole-operation deadline.
func (r *TransferRequest) OverallTimeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// DebitTimeout is the debit leg deadline.
func (r *TransferRequest) DebitTimeout() time.Duration {
	return time.Duration(r.DebitTimeoutSeconds) * time.Second
}

// CreditTimeout is the credit leg deadline.
func (r *TransferRequest) CreditTimeout() time.Duration {
	return time.Duration(r.CreditTimeoutSeconds) * time.Second
}

// Snapshot flattens the transfer into an opaque payload stored on the repair
// record so the failed step can be replayed verbatim.
func (r *TransferRequest) Snapshot() map[string]any {
	return map[string]any{
		"transactionReference": r.TransactionReference,
		"tenantId":             r.TenantID,
		"fromAccountNumber":    r.FromAccountNumber,
		"toAccountNumber":      r.ToAccountNumber,
		"amount":               r.Amount,
		"currency":             r.Currency,
		"description":          r.Description,
		"paymentType":          r.PaymentType,
		"timeoutSeconds":       r.TimeoutSeconds,
		"debitTimeoutSeconds":  r.DebitTimeoutSeconds,
		"creditTimeoutSeconds": r.CreditTimeoutSeconds,
	}
}
