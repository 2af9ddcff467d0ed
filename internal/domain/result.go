package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrchestrationStatus is the caller-visible outcome of one transfer.
type OrchestrationStatus string

const (
	OrchestrationSuccess        OrchestrationStatus = "SUCCESS"
	OrchestrationPartialSuccess OrchestrationStatus = "PARTIAL_SUCCESS"
	OrchestrationFailed         OrchestrationStatus = "FAILED"
	OrchestrationTimeout        OrchestrationStatus = "TIMEOUT"
	OrchestrationError          OrchestrationStatus = "ERROR"
)

func (s OrchestrationStatus) String() string { return string(s) }

func (s OrchestrationStatus) IsValid() bool {
	switch s {
	case OrchestrationSuccess, OrchestrationPartialSuccess, OrchestrationFailed,
		OrchestrationTimeout, OrchestrationError:
		return true
	}
	return false
}

func ParseOrchestrationStatusFromString(s string) (OrchestrationStatus, error) {
	st := OrchestrationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid orchestration status %q", ErrValidation, s)
	}
	return st, nil
}

// StepResult is the transient outcome of one leg (debit or credit).
type StepResult struct {
	Status               StepStatus
	CoreBankingReference string
	ResponseBody         string
	ErrorCode            string
	ErrorMessage         string
}

// OrchestrationResult is returned to the caller synchronously; it is never
// persisted. Durable failure state lives on the TransactionRepair record.
type OrchestrationResult struct {
	TransactionReference string
	TenantID             string
	Status               OrchestrationStatus
	StartedAt            time.Time
	CompletedAt          time.Time
	Debit                *StepResult
	Credit               *StepResult
	ErrorMessage         string
}
