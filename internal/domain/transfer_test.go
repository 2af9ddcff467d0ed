package domain

import (
	"errors"
	"testing"
	"time"
)

func validTransfer() *TransferRequest {
	return &TransferRequest{
		TransactionReference: "TXN-1001",
		TenantID:             "tenant-a",
		FromAccountNumber:    "1001",
		ToAccountNumber:      "2002",
		Amount:               250,
		Currency:             "EUR",
	}
}

func TestTransferRequestValidate(t *testing.T) {
	t.Parallel()

	if err := validTransfer().Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(r *TransferRequest)
	}{
		{name: "missing reference", mutate: func(r *TransferRequest) { r.TransactionReference = "" }},
		{name: "missing tenant", mutate: func(r *TransferRequest) { r.TenantID = " " }},
		{name: "missing from account", mutate: func(r *TransferRequest) { r.FromAccountNumber = "" }},
		{name: "missing to account", mutate: func(r *TransferRequest) { r.ToAccountNumber = "" }},
		{name: "same accounts", mutate: func(r *TransferRequest) { r.ToAccountNumber = r.FromAccountNumber }},
		{name: "zero amount", mutate: func(r *TransferRequest) { r.Amount = 0 }},
		{name: "negative amount", mutate: func(r *TransferRequest) { r.Amount = -10 }},
		{name: "bad currency", mutate: func(r *TransferRequest) { r.Currency = "EURO" }},
		{name: "priority out of range", mutate: func(r *TransferRequest) { r.Priority = 11 }},
		{name: "negative timeout", mutate: func(r *TransferRequest) { r.TimeoutSeconds = -1 }},
		{name: "negative max retries", mutate: func(r *TransferRequest) { r.MaxRetries = -1 }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			transfer := validTransfer()
			tc.mutate(transfer)
			if err := transfer.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestTransferRequestApplyDefaults(t *testing.T) {
	t.Parallel()

	transfer := validTransfer()
	transfer.Currency = " eur "
	transfer.ApplyDefaults()

	if transfer.TimeoutSeconds != 300 {
		t.Errorf("TimeoutSeconds = %d, want 300", transfer.TimeoutSeconds)
	}
	if transfer.DebitTimeoutSeconds != 60 || transfer.CreditTimeoutSeconds != 60 {
		t.Errorf("step timeouts = %d/%d, want 60/60", transfer.DebitTimeoutSeconds, transfer.CreditTimeoutSeconds)
	}
	if transfer.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", transfer.MaxRetries, DefaultMaxRetries)
	}
	if transfer.Priority != DefaultPriority {
		t.Errorf("Priority = %d, want %d", transfer.Priority, DefaultPriority)
	}
	if transfer.TimeoutHours != 24 {
		t.Errorf("TimeoutHours = %d, want 24", transfer.TimeoutHours)
	}
	if transfer.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", transfer.Currency)
	}
}

func TestTransferRequestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	transfer := validTransfer()
	transfer.TimeoutSeconds = 120
	transfer.DebitTimeoutSeconds = 15
	transfer.MaxRetries = 5
	transfer.Priority = 9
	transfer.ApplyDefaults()

	if transfer.OverallTimeout() != 120*time.Second {
		t.Errorf("OverallTimeout = %v, want 2m", transfer.OverallTimeout())
	}
	if transfer.DebitTimeout() != 15*time.Second {
		t.Errorf("DebitTimeout = %v, want 15s", transfer.DebitTimeout())
	}
	if transfer.CreditTimeout() != 60*time.Second {
		t.Errorf("CreditTimeout = %v, want 60s", transfer.CreditTimeout())
	}
	if transfer.MaxRetries != 5 || transfer.Priority != 9 {
		t.Errorf("retry tuning = %d/%d, want 5/9", transfer.MaxRetries, transfer.Priority)
	}
}

func TestTransferRequestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	transfer := validTransfer()
	transfer.ApplyDefaults()
	snapshot := transfer.Snapshot()

	if snapshot["transactionReference"] != "TXN-1001" {
		t.Errorf("snapshot reference = %v", snapshot["transactionReference"])
	}
	if snapshot["amount"] != 250.0 {
		t.Errorf("snapshot amount = %v", snapshot["amount"])
	}
	if snapshot["currency"] != "EUR" {
		t.Errorf("snapshot currency = %v", snapshot["currency"])
	}
}
