package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/billingguard/internal/alert/domain"
	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	cycledomain "github.com/smallbiznis/billingguard/internal/billingcycle/domain"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	invoicedomain "github.com/smallbiznis/billingguard/internal/invoice/domain"
	orgdomain "github.com/smallbiznis/billingguard/internal/organization/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
	"github.com/smallbiznis/billingguard/pkg/docstore"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if be, ok := accountdomain.AsBillingError(err); ok {
		return mapBillingError(be)
	}

	if v, ok := invdomain.AsViolation(err); ok {
		return http.StatusConflict, errorPayload{
			Type:    "invariant_violation",
			Message: v.Message,
			Errors: []ValidationError{
				{
					Field:   "invariant",
					Code:    string(v.Invariant),
					Message: v.Message,
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// mapBillingError renders a guard rejection. A blocked usage write takes the
// status of the guard that blocked it.
func mapBillingError(be *accountdomain.BillingError) (int, errorPayload) {
	payload := errorPayload{
		Type:    strings.ToLower(string(be.Code)),
		Message: billingErrorMessage(be.Code),
	}
	if be.AccountID != "" || be.Status != "" {
		payload.Errors = []ValidationError{{
			Field:   "billing_account",
			Code:    string(be.Code),
			Message: billingErrorDetail(be),
		}}
	}

	switch be.Code {
	case accountdomain.CodeBillingSuspended, accountdomain.CodeBillingDue:
		return http.StatusPaymentRequired, payload
	case accountdomain.CodeBillingNotFound:
		return http.StatusNotFound, payload
	case accountdomain.CodeBillingCycleLocked:
		return http.StatusConflict, payload
	case accountdomain.CodeUsageWriteBlocked:
		status := http.StatusForbidden
		if be.Err != nil {
			status, _ = mapError(be.Err)
		}
		if status >= http.StatusInternalServerError {
			status = http.StatusForbidden
		}
		return status, payload
	default:
		return http.StatusForbidden, payload
	}
}

func billingErrorMessage(code accountdomain.ErrorCode) string {
	switch code {
	case accountdomain.CodeBillingSuspended:
		return "billing account is suspended"
	case accountdomain.CodeBillingDue:
		return "billing account has an outstanding balance"
	case accountdomain.CodeBillingNotFound:
		return "billing account not found"
	case accountdomain.CodeBillingCycleLocked:
		return "billing cycle is locked"
	case accountdomain.CodeUsageWriteBlocked:
		return "usage write blocked"
	default:
		return "billing guard rejected the request"
	}
}

func billingErrorDetail(be *accountdomain.BillingError) string {
	detail := be.AccountID
	if be.Status != "" {
		detail = strings.TrimSpace(detail + " " + string(be.Status))
	}
	if be.Err != nil {
		if cause, ok := accountdomain.AsBillingError(be.Err); ok {
			detail = strings.TrimSpace(detail + " " + string(cause.Code))
		}
	}
	return detail
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, accountdomain.ErrInvalidStatus),
		errors.Is(err, accountdomain.ErrInvalidAccountType),
		errors.Is(err, accountdomain.ErrInvalidOwner),
		errors.Is(err, accountdomain.ErrEmptyLookup),
		errors.Is(err, usagedomain.ErrInvalidWorkspace),
		errors.Is(err, usagedomain.ErrInvalidResourceType),
		errors.Is(err, usagedomain.ErrInvalidUnits),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, orgdomain.ErrInvalidOrganization),
		errors.Is(err, orgdomain.ErrInvalidMember),
		errors.Is(err, orgdomain.ErrInvalidRole),
		errors.Is(err, alertdomain.ErrInvalidWorkspace),
		errors.Is(err, alertdomain.ErrInvalidResourceType),
		errors.Is(err, alertdomain.ErrInvalidThreshold),
		errors.Is(err, alertdomain.ErrInvalidAlertType),
		errors.Is(err, alertdomain.ErrInvalidWebhookURL):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, accountdomain.ErrInvalidTransition),
		errors.Is(err, accountdomain.ErrConcurrentTransition),
		errors.Is(err, cycledomain.ErrCycleNotLocked),
		errors.Is(err, cycledomain.ErrConcurrentAdvance),
		errors.Is(err, usagedomain.ErrAggregationFinalized),
		errors.Is(err, invoicedomain.ErrInvalidTransition),
		errors.Is(err, invoicedomain.ErrConcurrentTransition),
		errors.Is(err, docstore.ErrAlreadyExists):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, cycledomain.ErrCycleNotLocked):
		return "billing cycle is not locked"
	case errors.Is(err, accountdomain.ErrInvalidTransition),
		errors.Is(err, invoicedomain.ErrInvalidTransition):
		return "invalid status transition"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, usagedomain.ErrAggregationNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, orgdomain.ErrMemberNotFound),
		errors.Is(err, alertdomain.ErrAlertNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return rootErrorCode(err)
	}
}

// rootErrorCode returns the sentinel text of a wrapped error.
func rootErrorCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	code, _, _ := strings.Cut(err.Error(), ":")
	return code
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog reports the response type and the most specific code
// for the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 && payload.Errors[0].Code != "" {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
