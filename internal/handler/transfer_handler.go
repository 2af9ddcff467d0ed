package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clearline/clearing-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
)

// TransferService is the orchestration entry point consumed by the API.
type TransferService interface {
	ProcessTransaction(ctx context.Context, req domain.TransferRequest) (*domain.OrchestrationResult, error)
}

type TransferHandler struct {
	service TransferService
}

func NewTransferHandler(service TransferService) (*TransferHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("transfer service is required")
	}
	return &TransferHandler{service: service}, nil
}

func RegisterTransferRoutes(router fiber.Router, service TransferService) error {
	h, err := NewTransferHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/transfers", h.SubmitTransfer)

	return nil
}

type submitTransferRequest struct {
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

type stepResultResponse struct {
	Status               string `json:"status"`
	CoreBankingReference string `json:"coreBankingReference,omitempty"`
	ErrorCode            string `json:"errorCode,omitempty"`
	ErrorMessage         string `json:"errorMessage,omitempty"`
}

type orchestrationResponse struct {
	TransactionReference string              `json:"transactionReference"`
	TenantID             string              `json:"tenantId"`
	Status               string              `json:"status"`
	StartedAt            time.Time           `json:"startedAt"`
	CompletedAt          time.Time           `json:"completedAt"`
	Debit                *stepResultResponse `json:"debit,omitempty"`
	Credit               *stepResultResponse `json:"credit,omitempty"`
	ErrorMessage         string              `json:"errorMessage,omitempty"`
}

func (h *TransferHandler) SubmitTransfer(c *fiber.Ctx) error {
	var req submitTransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	transfer := domain.TransferRequest{
		TransactionReference: strings.TrimSpace(req.TransactionReference),
		TenantID:             strings.TrimSpace(req.TenantID),
		FromAccountNumber:    strings.TrimSpace(req.FromAccountNumber),
		ToAccountNumber:      strings.TrimSpace(req.ToAccountNumber),
		Amount:               req.Amount,
		Currency:             req.Currency,
		Description:          strings.TrimSpace(req.Description),
		PaymentType:          strings.TrimSpace(req.PaymentType),
		TimeoutSeconds:       req.TimeoutSeconds,
		DebitTimeoutSeconds:  req.DebitTimeoutSeconds,
		CreditTimeoutSeconds: req.CreditTimeoutSeconds,
		MaxRetries:           req.MaxRetries,
		Priority:             req.Priority,
		TimeoutHours:         req.TimeoutHours,
	}

	result, err := h.service.ProcessTransaction(c.Context(), transfer)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(statusCodeForResult(result.Status)).JSON(toOrchestrationResponse(result))
}

func statusCodeForResult(status domain.OrchestrationStatus) int {
	switch status {
	case domain.OrchestrationSuccess:
		return fiber.StatusOK
	case domain.OrchestrationPartialSuccess, domain.OrchestrationFailed:
		return fiber.StatusUnprocessableEntity
	case domain.OrchestrationTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func toOrchestrationResponse(result *domain.OrchestrationResult) orchestrationResponse {
	if result == nil {
		return orchestrationResponse{}
	}

	return orchestrationResponse{
		TransactionReference: result.TransactionReference,
		TenantID:             result.TenantID,
		Status:               result.Status.String(),
		StartedAt:            result.StartedAt,
		CompletedAt:          result.CompletedAt,
		Debit:                toStepResponse(result.Debit),
		Credit:               toStepResponse(result.Credit),
		ErrorMessage:         result.ErrorMessage,
	}
}

func toStepResponse(step *domain.StepResult) *stepResultResponse {
	if step == nil {
		return nil
	}

	return &stepResultResponse{
		Status:               step.Status.String(),
		CoreBankingReference: step.CoreBankingReference,
		ErrorCode:            step.ErrorCode,
		ErrorMessage:         step.ErrorMessage,
	}
}
