package corebanking

import "context"

// DebitTransactionRequest debits the source account on the core system.
type DebitTransactionRequest struct {
	TransactionReference string  `json:"transactionReference"`
	AccountNumber        string  `json:"accountNumber"`
	Amount               float64 `json:"amount"`
	Currency             string  `json:"currency"`
	Description          string  `json:"description,omitempty"`
	TenantID             string  `json:"tenantId"`
	PaymentType          string  `json:"paymentType,omitempty"`
}

// CreditTransactionRequest credits the destination account on the core system.
type CreditTransactionRequest struct {
	TransactionReference string  `json:"transactionReference"`
	AccountNumber        string  `json:"accountNumber"`
	Amount               float64 `json:"amount"`
	Currency             string  `json:"currency"`
	Description          string  `json:"description,omitempty"`
	TenantID             string  `json:"tenantId"`
	PaymentType          string  `json:"paymentType,omitempty"`
}

// TransactionResult is the core-banking outcome of one leg.
type TransactionResult struct {
	Success              bool   `json:"success"`
	TransactionReference string `json:"transactionReference"`
	CoreBankingReference string `json:"coreBankingReference,omitempty"`
	ErrorCode            string `json:"errorCode,omitempty"`
	ErrorMessage         string `json:"errorMessage,omitempty"`
	Status               string `json:"status,omitempty"`
}

// Adapter is the outbound core-banking port. Implementations are expected
// to be invoked through the resilience executor, never directly.
type Adapter interface {
	ProcessDebit(ctx context.Context, req DebitTransactionRequest) (*TransactionResult, error)
	ProcessCredit(ctx context.Context, req CreditTransactionRequest) (*TransactionResult, error)
}
