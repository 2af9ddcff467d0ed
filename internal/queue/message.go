package queue

import (
	"fmt"
	"strings"

	"github.com/clearline/clearing-engine/internal/domain"
)

// TransferMessage is the broker payload for an inbound transfer instruction.
type TransferMessage struct {
	TransactionReference string  `json:"transactionReference"`
	TenantID             string  `json:"tenantId"`
	FromAccountNumber    string  `json:"fromAccountNumber"`
	ToAccountNumber      string  `json:"toAccountNumber"`
	Amount               float64 `json:"amount"`
	Currency             string  `json:"currency"`
	Description          string  `json:"description,omitempty"`
	PaymentType          string  `json:"paymentType,omitempty"`
	TimeoutSeconds       int     `json:"timeoutSeconds,omitempty"`
	DebitTimeoutSeconds  int     `json:"debitTimeoutSeconds,omitempty"`
	CreditTimeoutSeconds int     `json:"creditTimeoutSeconds,omitempty"`
	MaxRetries           int     `json:"maxRetries,omitempty"`
	Priority             int     `json:"priority,omitempty"`
	TimeoutHours         int     `json:"timeoutHours,omitempty"`
}

func (m TransferMessage) Validate() error {
	if strings.TrimSpace(m.TransactionReference) == "" {
		return fmt.Errorf("transactionReference is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if strings.TrimSpace(m.FromAccountNumber) == "" || strings.TrimSpace(m.ToAccountNumber) == "" {
		return fmt.Errorf("both account numbers are required")
	}
	if m.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if m.Priority != 0 && (m.Priority < domain.MinPriority || m.Priority > domain.MaxPriority) {
		return fmt.Errorf("priority %d out of range", m.Priority)
	}
	return nil
}

func (m TransferMessage) MessageID() string      { return m.TransactionReference }
func (m TransferMessage) CorrelationKey() string { return m.TransactionReference }

func (m TransferMessage) PriorityValue() uint8 {
	if m.Priority < domain.MinPriority || m.Priority > domain.MaxPriority {
		return uint8(domain.DefaultPriority)
	}
	return uint8(m.Priority)
}

// ToTransferRequest converts the broker payload to the orchestrator input.
func (m TransferMessage) ToTransferRequest() domain.TransferRequest {
	return domain.TransferRequest{
		TransactionReference: m.TransactionReference,
		TenantID:             m.TenantID,
		FromAccountNumber:    m.FromAccountNumber,
		ToAccountNumber:      m.ToAccountNumber,
		Amount:               m.Amount,
		Currency:             m.Currency,
		Description:          m.Description,
		PaymentType:          m.PaymentType,
		TimeoutSeconds:       m.TimeoutSeconds,
		DebitTimeoutSeconds:  m.DebitTimeoutSeconds,
		CreditTimeoutSeconds: m.CreditTimeoutSeconds,
		MaxRetries:           m.MaxRetries,
		Priority:             m.Priority,
		TimeoutHours:         m.TimeoutHours,
	}
}

// RepairEventKind distinguishes the repair lifecycle events published for
// operational tooling.
type RepairEventKind string

const (
	RepairEventEscalated RepairEventKind = "ESCALATED"
	RepairEventExhausted RepairEventKind = "RETRIES_EXHAUSTED"
)

// RepairEventMessage notifies external ops tooling that a repair record
// needs human attention. Delivery beyond the broker is out of scope.
type RepairEventMessage struct {
	Kind                 RepairEventKind   `json:"kind"`
	TransactionReference string            `json:"transactionReference"`
	TenantID             string            `json:"tenantId"`
	RepairType           domain.RepairType `json:"repairType"`
	Priority             int               `json:"priority"`
	RetryCount           int               `json:"retryCount"`
	Reason               string            `json:"reason,omitempty"`
}

func (m RepairEventMessage) Validate() error {
	if m.Kind != RepairEventEscalated && m.Kind != RepairEventExhausted {
		return fmt.Errorf("invalid repair event kind %q", m.Kind)
	}
	if strings.TrimSpace(m.TransactionReference) == "" {
		return fmt.Errorf("transactionReference is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if !m.RepairType.IsValid() {
		return fmt.Errorf("invalid repair type %q", m.RepairType)
	}
	return nil
}

func (m RepairEventMessage) MessageID() string      { return m.TransactionReference }
func (m RepairEventMessage) CorrelationKey() string { return m.TransactionReference }

func (m RepairEventMessage) PriorityValue() uint8 {
	if m.Priority < domain.MinPriority || m.Priority > domain.MaxPriority {
		return uint8(domain.DefaultPriority)
	}
	return uint8(m.Priority)
}
