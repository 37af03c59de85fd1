package handlers

import (
	"errors"
	"net/http"

	"expedify/internal/services"
	"expedify/pkg/llm"
)

// ErrorResponse is the error body shared by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// PaginatedResponse wraps list endpoints.
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// SuccessResponse is the generic mutation acknowledgment.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// notFoundErrs are the service sentinels that translate to a 404.
var notFoundErrs = []error{
	services.ErrLogEntryNotFound,
	services.ErrRuleNotFound,
	services.ErrCompanyNotFound,
	services.ErrInvoiceNotFound,
	services.ErrPromiseNotFound,
	services.ErrTaskNotFound,
}

// statusFromError maps service errors to HTTP status codes. Upstream
// rate-limit and quota conditions pass through verbatim as 429/402.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, llm.ErrQuotaExhausted):
		return http.StatusPaymentRequired
	default:
		for _, sentinel := range notFoundErrs {
			if errors.Is(err, sentinel) {
				return http.StatusNotFound
			}
		}
		return http.StatusInternalServerError
	}
}
