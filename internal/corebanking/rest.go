package corebanking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultCallTimeout = 30 * time.Second

	debitPath  = "/api/v1/transactions/debit"
	creditPath = "/api/v1/transactions/credit"
)

// RESTAdapter talks to the core-banking gateway over HTTP.
type RESTAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewRESTAdapter(baseURL string) (*RESTAdapter, error) {
	client := resty.New()
	client.SetTimeout(defaultCallTimeout)
	client.SetRetryCount(0)

	return NewRESTAdapterWithClient(baseURL, client)
}

func NewRESTAdapterWithClient(baseURL string, client *resty.Client) (*RESTAdapter, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("core banking base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid core banking base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultCallTimeout)
	}
	// Retries belong to the resilience executor, not the transport client.
	client.SetRetryCount(0)

	return &RESTAdapter{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (a *RESTAdapter) ProcessDebit(ctx context.Context, req DebitTransactionRequest) (*TransactionResult, error) {
	return a.post(ctx, debitPath, req)
}

func (a *RESTAdapter) ProcessCredit(ctx context.Context, req CreditTransactionRequest) (*TransactionResult, error) {
	return a.post(ctx, creditPath, req)
}

func (a *RESTAdapter) post(ctx context.Context, path string, body any) (*TransactionResult, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("adapter is not initialized")
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(a.baseURL + path)
	if err != nil {
		return nil, &AdapterError{
			Message:   "core banking request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &AdapterError{
			Message:   "core banking returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		var result TransactionResult
		if err := json.Unmarshal([]byte(responseBody), &result); err != nil {
			return nil, &AdapterError{
				StatusCode: statusCode,
				Message:    "core banking returned malformed body",
				Transient:  false,
				Cause:      err,
			}
		}
		return &result, nil
	}

	return nil, &AdapterError{
		StatusCode: statusCode,
		Message:    adapterErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func adapterErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("core banking returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
