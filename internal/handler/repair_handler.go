package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/clearline/clearing-engine/internal/repository"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
)

// RepairStore is the read/remediate surface exposed to operational tooling.
type RepairStore interface {
	List(ctx context.Context, params repository.ListParams) ([]domain.TransactionRepair, int64, error)
	GetByReference(ctx context.Context, tenantID, reference string) (*domain.TransactionRepair, error)
	MarkResolved(ctx context.Context, id, resolvedBy string, notes *string) error
	Cancel(ctx context.Context, id, cancelledBy string, notes *string) error
}

type RepairHandler struct {
	repairs RepairStore
}

func NewRepairHandler(repairs RepairStore) (*RepairHandler, error) {
	if repairs == nil {
		return nil, fmt.Errorf("repair store is required")
	}
	return &RepairHandler{repairs: repairs}, nil
}

func RegisterRepairRoutes(router fiber.Router, repairs RepairStore) error {
	h, err := NewRepairHandler(repairs)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/repairs", h.ListRepairs)
	v1.Get("/repairs/:reference", h.GetRepair)
	v1.Post("/repairs/:reference/resolve", h.ResolveRepair)
	v1.Post("/repairs/:reference/cancel", h.CancelRepair)

	return nil
}

type repairResponse struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenantId"`
	TransactionReference string         `json:"transactionReference"`
	RepairType           string         `json:"repairType"`
	CorrectiveAction     *string        `json:"correctiveAction,omitempty"`
	RepairStatus         string         `json:"repairStatus"`
	FromAccountNumber    string         `json:"fromAccountNumber"`
	ToAccountNumber      string         `json:"toAccountNumber"`
	Amount               float64        `json:"amount"`
	Currency             string         `json:"currency"`
	PaymentType          string         `json:"paymentType,omitempty"`
	OriginalRequest      map[string]any `json:"originalRequest,omitempty"`
	DebitStatus          string         `json:"debitStatus"`
	DebitReference       *string        `json:"debitReference,omitempty"`
	CreditStatus         string         `json:"creditStatus"`
	CreditReference      *string        `json:"creditReference,omitempty"`
	RetryCount           int            `json:"retryCount"`
	MaxRetries           int            `json:"maxRetries"`
	NextRetryAt          *time.Time     `json:"nextRetryAt,omitempty"`
	LastRetryAt          *time.Time     `json:"lastRetryAt,omitempty"`
	Priority             int            `json:"priority"`
	TimeoutAt            *time.Time     `json:"timeoutAt,omitempty"`
	EscalatedAt          *time.Time     `json:"escalatedAt,omitempty"`
	ErrorCode            *string        `json:"errorCode,omitempty"`
	ErrorMessage         *string        `json:"errorMessage,omitempty"`
	FailureReason        *string        `json:"failureReason,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	ResolvedAt           *time.Time     `json:"resolvedAt,omitempty"`
	ResolvedBy           *string        `json:"resolvedBy,omitempty"`
	ResolutionNotes      *string        `json:"resolutionNotes,omitempty"`
}

type listRepairsResponse struct {
	Data []repairResponse `json:"data"`
	Meta listMeta         `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type remediationRequest struct {
	Actor string  `json:"actor"`
	Notes *string `json:"notes,omitempty"`
}

func (h *RepairHandler) ListRepairs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	repairs, total, err := h.repairs.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]repairResponse, 0, len(repairs))
	for i := range repairs {
		responses = append(responses, toRepairResponse(&repairs[i]))
	}

	return c.JSON(listRepairsResponse{
		Data: responses,
		Meta: listMeta{
			Page:     max(params.Page, defaultPage),
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *RepairHandler) GetRepair(c *fiber.Ctx) error {
	tenantID := strings.TrimSpace(c.Query("tenantId"))
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenantId query parameter is required")
	}

	repair, err := h.repairs.GetByReference(c.Context(), tenantID, c.Params("reference"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(toRepairResponse(repair))
}

func (h *RepairHandler) ResolveRepair(c *fiber.Ctx) error {
	return h.remediate(c, h.repairs.MarkResolved, domain.RepairResolved)
}

func (h *RepairHandler) CancelRepair(c *fiber.Ctx) error {
	return h.remediate(c, h.repairs.Cancel, domain.RepairCancelled)
}

func (h *RepairHandler) remediate(
	c *fiber.Ctx,
	action func(ctx context.Context, id, actor string, notes *string) error,
	target domain.RepairStatus,
) error {
	tenantID := strings.TrimSpace(c.Query("tenantId"))
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenantId query parameter is required")
	}

	var req remediationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		return fiber.NewError(fiber.StatusBadRequest, "actor is required")
	}

	repair, err := h.repairs.GetByReference(c.Context(), tenantID, c.Params("reference"))
	if err != nil {
		return toHTTPError(err)
	}

	if err := action(c.Context(), repair.ID, actor, req.Notes); err != nil {
		return toHTTPError(err)
	}

	repair.RepairStatus = target
	return c.JSON(toRepairResponse(repair))
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     defaultPage,
		PageSize: defaultPageSize,
	}

	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return repository.ListParams{}, fmt.Errorf("%w: page must be a positive integer", domain.ErrValidation)
		}
		params.Page = page
	}
	if raw := strings.TrimSpace(c.Query("pageSize")); raw != "" {
		pageSize, err := strconv.Atoi(raw)
		if err != nil || pageSize < 1 {
			return repository.ListParams{}, fmt.Errorf("%w: pageSize must be a positive integer", domain.ErrValidation)
		}
		params.PageSize = pageSize
	}
	if raw := strings.TrimSpace(c.Query("tenantId")); raw != "" {
		params.TenantID = &raw
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseRepairStatusFromString(raw)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("repairType")); raw != "" {
		repairType, err := domain.ParseRepairTypeFromString(raw)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.RepairType = &repairType
	}
	if raw := strings.TrimSpace(c.Query("minPriority")); raw != "" {
		minPriority, err := strconv.Atoi(raw)
		if err != nil || minPriority < domain.MinPriority || minPriority > domain.MaxPriority {
			return repository.ListParams{}, fmt.Errorf("%w: minPriority must be between %d and %d",
				domain.ErrValidation, domain.MinPriority, domain.MaxPriority)
		}
		params.MinPriority = &minPriority
	}

	return params, nil
}

func toRepairResponse(r *domain.TransactionRepair) repairResponse {
	if r == nil {
		return repairResponse{}
	}

	var action *string
	if r.CorrectiveAction != nil {
		value := r.CorrectiveAction.String()
		action = &value
	}

	return repairResponse{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		TransactionReference: r.TransactionReference,
		RepairType:           r.RepairType.String(),
		CorrectiveAction:     action,
		RepairStatus:         r.RepairStatus.String(),
		FromAccountNumber:    r.FromAccountNumber,
		ToAccountNumber:      r.ToAccountNumber,
		Amount:               r.Amount,
		Currency:             r.Currency,
		PaymentType:          r.PaymentType,
		OriginalRequest:      r.OriginalRequest,
		DebitStatus:          r.DebitStatus.String(),
		DebitReference:       r.DebitReference,
		CreditStatus:         r.CreditStatus.String(),
		CreditReference:      r.CreditReference,
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
		ResolvedAt:           r.ResolvedAt,
		ResolvedBy:           r.ResolvedBy,
		ResolutionNotes:      r.ResolutionNotes,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
