package repository

import (
	"time"

	"github.com/clearline/clearing-engine/internal/domain"
	"gorm.io/datatypes"
)

// TransactionRepairModel is the persistence model for transaction_repairs.
type TransactionRepairModel struct {
	ID                   string                   `gorm:"type:uuid;primaryKey"`
	TenantID             string                   `gorm:"type:varchar(64);not null;uniqueIndex:idx_repairs_tenant_reference"`
	TransactionReference string                   `gorm:"type:varchar(64);not null;uniqueIndex:idx_repairs_tenant_reference"`
	RepairType           domain.RepairType        `gorm:"type:varchar(20);not null"`
	CorrectiveAction     *domain.CorrectiveAction `gorm:"type:varchar(20)"`
	RepairStatus         domain.RepairStatus      `gorm:"type:varchar(20);not null"`

	FromAccountNumber string            `gorm:"type:varchar(64);not null"`
	ToAccountNumber   string            `gorm:"type:varchar(64);not null"`
	Amount            float64           `gorm:"type:numeric(19,4);not null"`
	Currency          string            `gorm:"type:varchar(3);not null"`
	PaymentType       string            `gorm:"type:varchar(32)"`
	OriginalRequest   datatypes.JSONMap `gorm:"type:jsonb"`

	DebitStatus     domain.StepStatus `gorm:"type:varchar(20);not null"`
	DebitReference  *string           `gorm:"type:varchar(64)"`
	DebitResponse   *string           `gorm:"type:text"`
	CreditStatus    domain.StepStatus `gorm:"type:varchar(20);not null"`
	CreditReference *string           `gorm:"type:varchar(64)"`
	CreditResponse  *string           `gorm:"type:text"`

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

func (TransactionRepairModel) TableName() string {
	return "transaction_repairs"
}

func repairModelFromDomain(r *domain.TransactionRepair) *TransactionRepairModel {
	if r == nil {
		return nil
	}

	return &TransactionRepairModel{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		TransactionReference: r.TransactionReference,
		RepairType:           r.RepairType,
		CorrectiveAction:     r.CorrectiveAction,
		RepairStatus:         r.RepairStatus,
		FromAccountNumber:    r.FromAccountNumber,
		ToAccountNumber:      r.ToAccountNumber,
		Amount:               r.Amount,
		Currency:             r.Currency,
		PaymentType:          r.PaymentType,
		OriginalRequest:      r.OriginalRequest,
		DebitStatus:          r.DebitStatus,
		DebitReference:       r.DebitReference,
		DebitResponse:        r.DebitResponse,
		CreditStatus:         r.CreditStatus,
		CreditReference:      r.CreditReference,
		CreditResponse:       r.CreditResponse,
		RetryCount:           r.RetryCount,
		MaxRetries:           r.MaxRetries,
		NextRetryAt:          r.NextRetryAt,
		LastRetryAt:          r.LastRetryAt,
		Priority:             r.Priority,
		TimeoutAt:            r.TimeoutAt,
		EscalatedAt:          r.EscalatedAt,
		ErrorCode:            r.ErrorCode,
		ErrorMessage:         r.ErrorMessage,
		FailureReason:        r.FailureReason,
		CreatedAt:            r.CreatedAt,
		CreatedBy:            r.CreatedBy,
		UpdatedAt:            r.UpdatedAt,
		UpdatedBy:            r.UpdatedBy,
		ResolvedAt:           r.ResolvedAt,
		ResolvedBy:           r.ResolvedBy,
		ResolutionNotes:      r.ResolutionNotes,
	}
}

func repairModelToDomain(m *TransactionRepairModel) *domain.TransactionRepair {
	if m == nil {
		return nil
	}

	return &domain.TransactionRepair{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		TransactionReference: m.TransactionReference,
		RepairType:           m.RepairType,
		CorrectiveAction:     m.CorrectiveAction,
		RepairStatus:         m.RepairStatus,
		FromAccountNumber:    m.FromAccountNumber,
		ToAccountNumber:      m.ToAccountNumber,
		Amount:               m.Amount,
		Currency:             m.Currency,
		PaymentType:          m.PaymentType,
		OriginalRequest:      m.OriginalRequest,
		DebitStatus:          m.DebitStatus,
		DebitReference:       m.DebitReference,
		DebitResponse:        m.DebitResponse,
		CreditStatus:         m.CreditStatus,
		CreditReference:      m.CreditReference,
		CreditResponse:       m.CreditResponse,
		RetryCount:           m.RetryCount,
		MaxRetries:           m.MaxRetries,
		NextRetryAt:          m.NextRetryAt,
		LastRetryAt:          m.LastRetryAt,
		Priority:             m.Priority,
		TimeoutAt:            m.TimeoutAt,
		EscalatedAt:          m.EscalatedAt,
		ErrorCode:            m.ErrorCode,
		ErrorMessage:         m.ErrorMessage,
		FailureReason:        m.FailureReason,
		CreatedAt:            m.CreatedAt,
		CreatedBy:            m.CreatedBy,
		UpdatedAt:            m.UpdatedAt,
		UpdatedBy:            m.UpdatedBy,
		ResolvedAt:           m.ResolvedAt,
		ResolvedBy:           m.ResolvedBy,
		ResolutionNotes:      m.ResolutionNotes,
	}
}
