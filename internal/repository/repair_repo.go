package repository

import (
	"context"
	"errors"
	"time"

	"github.com/clearline/clearing-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	TenantID    *string
	Status      *domain.RepairStatus
	RepairType  *domain.RepairType
	MinPriority *int
	Page        int
	PageSize    int
}

type StatusCount struct {
	Status domain.RepairStatus `gorm:"column:repair_status"`
	Count  int64               `gorm:"column:count"`
}

// LegOutcome captures a replayed leg's result for persistence.
type LegOutcome struct {
	Status    domain.StepStatus
	Reference *string
	Response  *string
}

type RepairRepository interface {
	// CreateIfAbsent inserts the record unless one already exists for the
	// same (tenantId, transactionReference). Returns false when the row
	// already existed.
	CreateIfAbsent(ctx context.Context, r *domain.TransactionRepair) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.TransactionRepair, error)
	GetByReference(ctx context.Context, tenantID, reference string) (*domain.TransactionRepair, error)
	List(ctx context.Context, params ListParams) ([]domain.TransactionRepair, int64, error)
	CountOpenByStatus(ctx context.Context) ([]StatusCount, error)

	// GetDueForRetry selects PENDING records inside their retry budget and
	// deadline whose backoff has elapsed, highest priority first, oldest
	// first within a priority tier.
	GetDueForRetry(ctx context.Context, limit int) ([]domain.TransactionRepair, error)
	// ClaimForRetry atomically moves PENDING -> IN_PROGRESS and consumes
	// one retry. Returns nil, nil when another worker won the claim.
	ClaimForRetry(ctx context.Context, id string) (*domain.TransactionRepair, error)
	// Requeue moves IN_PROGRESS back to PENDING with a recomputed backoff
	// and updated failure details. A zero nextRetryAt clears the column;
	// it is only meaningful while the record still has retries left.
	Requeue(ctx context.Context, id string, nextRetryAt time.Time, failure *string) error
	MarkResolved(ctx context.Context, id, resolvedBy string, notes *string) error
	Cancel(ctx context.Context, id, cancelledBy string, notes *string) error
	UpdateRepairType(ctx context.Context, id string, repairType domain.RepairType) error
	UpdateLegOutcomes(ctx context.Context, id string, debit, credit *LegOutcome) error

	// GetTimedOut selects non-terminal records past their absolute deadline
	// that have not been escalated yet.
	GetTimedOut(ctx context.Context, limit int) ([]domain.TransactionRepair, error)
	// MarkEscalated stamps the escalation exactly once per record.
	MarkEscalated(ctx context.Context, id string) (bool, error)
	// GetRetriesExhausted selects PENDING records that have consumed their
	// full retry budget, for operator surfacing.
	GetRetriesExhausted(ctx context.Context, limit int) ([]domain.TransactionRepair, error)
}

type GormRepairRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormRepairRepo(db *gorm.DB) *GormRepairRepo {
	return &GormRepairRepo{db: db, now: time.Now}
}

func (r *GormRepairRepo) CreateIfAbsent(ctx context.Context, repair *domain.TransactionRepair) (bool, error) {
	model := repairModelFromDomain(repair)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "transaction_reference"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if repair != nil {
		*repair = *repairModelToDomain(model)
	}
	return true, nil
}

func (r *GormRepairRepo) GetByID(ctx context.Context, id string) (*domain.TransactionRepair, error) {
	var model TransactionRepairModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return repairModelToDomain(&model), nil
}

func (r *GormRepairRepo) GetByReference(ctx context.Context, tenantID, reference string) (*domain.TransactionRepair, error) {
	var model TransactionRepairModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND transaction_reference = ?", tenantID, reference).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return repairModelToDomain(&model), nil
}

func (r *GormRepairRepo) List(ctx context.Context, params ListParams) ([]domain.TransactionRepair, int64, error) {
	query := r.db.WithContext(ctx).Model(&TransactionRepairModel{})

	if params.TenantID != nil {
		query = query.Where("tenant_id = ?", *params.TenantID)
	}
	if params.Status != nil {
		query = query.Where("repair_status = ?", *params.Status)
	}
	if params.RepairType != nil {
		query = query.Where("repair_type = ?", *params.RepairType)
	}
	if params.MinPriority != nil {
		query = query.Where("priority >= ?", *params.MinPriority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []TransactionRepairModel
	err := query.
		Order("priority DESC, created_at ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	repairs := make([]domain.TransactionRepair, 0, len(models))
	for i := range models {
		repairs = append(repairs, *repairModelToDomain(&models[i]))
	}

	return repairs, total, nil
}

func (r *GormRepairRepo) CountOpenByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Select("repair_status, COUNT(*) as count").
		Where("repair_status NOT IN ?", []domain.RepairStatus{domain.RepairResolved, domain.RepairCancelled}).
		Group("repair_status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormRepairRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	now := r.now()

	var models []TransactionRepairModel
	err := r.db.WithContext(ctx).
		Where("repair_status = ?", domain.RepairPending).
		Where("retry_count < max_retries").
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Where("timeout_at IS NULL OR timeout_at > ?", now).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	repairs := make([]domain.TransactionRepair, 0, len(models))
	for i := range models {
		repairs = append(repairs, *repairModelToDomain(&models[i]))
	}

	return repairs, nil
}

func (r *GormRepairRepo) ClaimForRetry(ctx context.Context, id string) (*domain.TransactionRepair, error) {
	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ? AND repair_status = ? AND retry_count < max_retries", id, domain.RepairPending).
		Updates(map[string]any{
			"repair_status": domain.RepairInProgress,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": r.now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Another scheduler pass claimed it, or state moved on.
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

func (r *GormRepairRepo) Requeue(ctx context.Context, id string, nextRetryAt time.Time, failure *string) error {
	updates := map[string]any{
		"repair_status": domain.RepairPending,
	}
	// A zero nextRetryAt means the retry budget is spent; the column is
	// cleared so the row reads as awaiting manual action.
	if nextRetryAt.IsZero() {
		updates["next_retry_at"] = nil
	} else {
		updates["next_retry_at"] = nextRetryAt
	}
	if failure != nil {
		updates["failure_reason"] = *failure
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ? AND repair_status = ?", id, domain.RepairInProgress).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormRepairRepo) MarkResolved(ctx context.Context, id, resolvedBy string, notes *string) error {
	updates := map[string]any{
		"repair_status": domain.RepairResolved,
		"resolved_at":   r.now(),
		"resolved_by":   resolvedBy,
		"next_retry_at": nil,
	}
	if notes != nil {
		updates["resolution_notes"] = *notes
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ? AND repair_status NOT IN ?", id,
			[]domain.RepairStatus{domain.RepairResolved, domain.RepairCancelled}).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormRepairRepo) Cancel(ctx context.Context, id, cancelledBy string, notes *string) error {
	updates := map[string]any{
		"repair_status": domain.RepairCancelled,
		"resolved_at":   r.now(),
		"resolved_by":   cancelledBy,
		"next_retry_at": nil,
	}
	if notes != nil {
		updates["resolution_notes"] = *notes
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ? AND repair_status NOT IN ?", id,
			[]domain.RepairStatus{domain.RepairResolved, domain.RepairCancelled}).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormRepairRepo) UpdateRepairType(ctx context.Context, id string, repairType domain.RepairType) error {
	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ?", id).
		Update("repair_type", repairType)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRepairRepo) UpdateLegOutcomes(ctx context.Context, id string, debit, credit *LegOutcome) error {
	updates := map[string]any{}
	if debit != nil {
		updates["debit_status"] = debit.Status
		if debit.Reference != nil {
			updates["debit_reference"] = *debit.Reference
		}
		if debit.Response != nil {
			updates["debit_response"] = *debit.Response
		}
	}
	if credit != nil {
		updates["credit_status"] = credit.Status
		if credit.Reference != nil {
			updates["credit_reference"] = *credit.Reference
		}
		if credit.Response != nil {
			updates["credit_response"] = *credit.Response
		}
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRepairRepo) GetTimedOut(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	var models []TransactionRepairModel
	err := r.db.WithContext(ctx).
		Where("repair_status IN ?", []domain.RepairStatus{
			domain.RepairPending, domain.RepairAssigned, domain.RepairInProgress,
		}).
		Where("timeout_at IS NOT NULL AND timeout_at <= ?", r.now()).
		Where("escalated_at IS NULL").
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	repairs := make([]domain.TransactionRepair, 0, len(models))
	for i := range models {
		repairs = append(repairs, *repairModelToDomain(&models[i]))
	}

	return repairs, nil
}

func (r *GormRepairRepo) MarkEscalated(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&TransactionRepairModel{}).
		Where("id = ? AND escalated_at IS NULL", id).
		Updates(map[string]any{
			"escalated_at":      r.now(),
			"corrective_action": domain.ActionEscalate,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormRepairRepo) GetRetriesExhausted(ctx context.Context, limit int) ([]domain.TransactionRepair, error) {
	var models []TransactionRepairModel
	err := r.db.WithContext(ctx).
		Where("repair_status = ?", domain.RepairPending).
		Where("retry_count >= max_retries").
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	repairs := make([]domain.TransactionRepair, 0, len(models))
	for i := range models {
		repairs = append(repairs, *repairModelToDomain(&models[i]))
	}

	return repairs, nil
}
