package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	accountdomain "github.com/smallbiznis/billingguard/internal/billingaccount/domain"
	cycledomain "github.com/smallbiznis/billingguard/internal/billingcycle/domain"
	invdomain "github.com/smallbiznis/billingguard/internal/invariant/domain"
	usagedomain "github.com/smallbiznis/billingguard/internal/usage/domain"
)

func TestMapError(t *testing.T) {
	suspended := &accountdomain.BillingError{Code: accountdomain.CodeBillingSuspended, AccountID: "ba_org_1", Status: accountdomain.StatusSuspended}
	locked := &accountdomain.BillingError{Code: accountdomain.CodeBillingCycleLocked, AccountID: "ba_org_1", Status: accountdomain.StatusActive}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"suspended", suspended, http.StatusPaymentRequired, "billing_suspended"},
		{"due", &accountdomain.BillingError{Code: accountdomain.CodeBillingDue}, http.StatusPaymentRequired, "billing_due"},
		{"not found", &accountdomain.BillingError{Code: accountdomain.CodeBillingNotFound}, http.StatusNotFound, "billing_not_found"},
		{"cycle locked", locked, http.StatusConflict, "billing_cycle_locked"},
		{"write blocked by suspension", accountdomain.UsageWriteBlocked(suspended), http.StatusPaymentRequired, "usage_write_blocked"},
		{"write blocked by lock", accountdomain.UsageWriteBlocked(locked), http.StatusConflict, "usage_write_blocked"},
		{"write blocked without cause", accountdomain.UsageWriteBlocked(errors.New("boom")), http.StatusForbidden, "usage_write_blocked"},
		{"violation", &invdomain.Violation{Invariant: invdomain.InvoiceUsageImmutable, Message: "not finalized"}, http.StatusConflict, "invariant_violation"},
		{"wrapped transition", fmt.Errorf("%w: ACTIVE -> SUSPENDED", accountdomain.ErrInvalidTransition), http.StatusConflict, "conflict"},
		{"cycle not locked", fmt.Errorf("%w: account x", cycledomain.ErrCycleNotLocked), http.StatusConflict, "conflict"},
		{"validation", usagedomain.ErrInvalidUnits, http.StatusBadRequest, "validation_error"},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"unavailable", ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			if status != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, status)
			}
			if payload.Type != tt.wantType {
				t.Fatalf("expected type %q, got %q", tt.wantType, payload.Type)
			}
		})
	}
}

func TestValidationErrorFieldFromWrappedSentinel(t *testing.T) {
	_, payload := mapError(fmt.Errorf("%w: %q -> %q", accountdomain.ErrInvalidStatus, "X", "Y"))
	if len(payload.Errors) != 1 {
		t.Fatalf("expected one validation error, got %d", len(payload.Errors))
	}
	if payload.Errors[0].Code != "invalid_billing_status" || payload.Errors[0].Field != "billing_status" {
		t.Fatalf("unexpected validation error %+v", payload.Errors[0])
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, code := classifyErrorForLog(accountdomain.UsageWriteBlocked(&accountdomain.BillingError{
		Code:      accountdomain.CodeBillingSuspended,
		AccountID: "ba_org_1",
	}))
	if errType != "usage_write_blocked" || code != string(accountdomain.CodeUsageWriteBlocked) {
		t.Fatalf("unexpected classification %q/%q", errType, code)
	}
}
