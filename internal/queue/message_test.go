package queue

import (
	"testing"

	"github.com/clearline/clearing-engine/internal/domain"
)

func validTransferMessage() TransferMessage {
	return TransferMessage{
		TransactionReference: "TXN-42",
		TenantID:             "tenant-a",
		FromAccountNumber:    "1001",
		ToAccountNumber:      "2002",
		Amount:               75,
		Currency:             "EUR",
		Priority:             5,
	}
}

func TestTransferMessageValidate(t *testing.T) {
	t.Parallel()

	if err := validTransferMessage().Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(m *TransferMessage)
	}{
		{name: "missing reference", mutate: func(m *TransferMessage) { m.TransactionReference = "" }},
		{name: "missing tenant", mutate: func(m *TransferMessage) { m.TenantID = " " }},
		{name: "missing from account", mutate: func(m *TransferMessage) { m.FromAccountNumber = "" }},
		{name: "missing to account", mutate: func(m *TransferMessage) { m.ToAccountNumber = "" }},
		{name: "zero amount", mutate: func(m *TransferMessage) { m.Amount = 0 }},
		{name: "priority out of range", mutate: func(m *TransferMessage) { m.Priority = 12 }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			msg := validTransferMessage()
			tc.mutate(&msg)
			if err := msg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestTransferMessageIdentity(t *testing.T) {
	t.Parallel()

	msg := validTransferMessage()
	if msg.MessageID() != "TXN-42" || msg.CorrelationKey() != "TXN-42" {
		t.Fatalf("identity = %s/%s, want transaction reference", msg.MessageID(), msg.CorrelationKey())
	}
	if got := msg.PriorityValue(); got != 5 {
		t.Fatalf("PriorityValue() = %d, want 5", got)
	}

	msg.Priority = 0
	if got := msg.PriorityValue(); got != uint8(domain.DefaultPriority) {
		t.Fatalf("PriorityValue() = %d, want default", got)
	}
}

func TestTransferMessageToTransferRequest(t *testing.T) {
	t.Parallel()

	msg := validTransferMessage()
	msg.TimeoutSeconds = 120
	msg.MaxRetries = 5

	req := msg.ToTransferRequest()
	if req.TransactionReference != msg.TransactionReference {
		t.Errorf("reference = %s", req.TransactionReference)
	}
	if req.Amount != msg.Amount || req.Currency != msg.Currency {
		t.Errorf("amount/currency = %v/%s", req.Amount, req.Currency)
	}
	if req.TimeoutSeconds != 120 || req.MaxRetries != 5 {
		t.Errorf("tuning = %d/%d, want 120/5", req.TimeoutSeconds, req.MaxRetries)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("converted request invalid: %v", err)
	}
}

func TestRepairEventMessageValidate(t *testing.T) {
	t.Parallel()

	valid := RepairEventMessage{
		Kind:                 RepairEventEscalated,
		TransactionReference: "TXN-9",
		TenantID:             "tenant-a",
		RepairType:           domain.RepairCreditFailed,
		Priority:             3,
		RetryCount:           2,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(m *RepairEventMessage)
	}{
		{name: "bad kind", mutate: func(m *RepairEventMessage) { m.Kind = "NOTIFIED" }},
		{name: "missing reference", mutate: func(m *RepairEventMessage) { m.TransactionReference = "" }},
		{name: "missing tenant", mutate: func(m *RepairEventMessage) { m.TenantID = "" }},
		{name: "bad repair type", mutate: func(m *RepairEventMessage) { m.RepairType = "BROKEN" }},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			msg := valid
			tc.mutate(&msg)
			if err := msg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
