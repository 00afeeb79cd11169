package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeBillingSuspended   ErrorCode = "BILLING_SUSPENDED"
	CodeBillingDue         ErrorCode = "BILLING_DUE"
	CodeBillingNotFound    ErrorCode = "BILLING_NOT_FOUND"
	CodeBillingCycleLocked ErrorCode = "BILLING_CYCLE_LOCKED"
	CodeUsageWriteBlocked  ErrorCode = "USAGE_WRITE_BLOCKED"
)

var (
	ErrBillingSuspended   = errors.New("billing_suspended")
	ErrBillingDue         = errors.New("billing_due")
	ErrBillingNotFound    = errors.New("billing_not_found")
	ErrBillingCycleLocked = errors.New("billing_cycle_locked")
	ErrUsageWriteBlocked  = errors.New("usage_write_blocked")

	ErrInvalidTransition    = errors.New("invalid_status_transition")
	ErrInvalidStatus        = errors.New("invalid_billing_status")
	ErrInvalidAccountType   = errors.New("invalid_account_type")
	ErrInvalidOwner         = errors.New("invalid_account_owner")
	ErrConcurrentTransition = errors.New("status_changed_concurrently")
	ErrEmptyLookup          = errors.New("empty_billing_lookup")
)

var codeSentinels = map[ErrorCode]error{
	CodeBillingSuspended:   ErrBillingSuspended,
	CodeBillingDue:         ErrBillingDue,
	CodeBillingNotFound:    ErrBillingNotFound,
	CodeBillingCycleLocked: ErrBillingCycleLocked,
	CodeUsageWriteBlocked:  ErrUsageWriteBlocked,
}

// BillingError is returned by the billing guards. It matches the sentinel for
// its Code through errors.Is and unwraps to Err, so a blocked usage write
// still matches the reason it was blocked.
type BillingError struct {
	Code      ErrorCode
	AccountID string
	Status    Status
	Err       error
}

func NewBillingError(code ErrorCode, account *BillingAccount) *BillingError {
	e := &BillingError{Code: code}
	if account != nil {
		e.AccountID = account.ID
		e.Status = account.BillingStatus
	}
	return e
}

func (e *BillingError) Error() string {
	msg := string(e.Code)
	if e.AccountID != "" {
		msg = fmt.Sprintf("%s: account %s", msg, e.AccountID)
	}
	if e.Status != "" {
		msg = fmt.Sprintf("%s (status %s)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BillingError) Unwrap() error { return e.Err }

func (e *BillingError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && target == sentinel
}

// AsBillingError returns the outermost BillingError in err.
func AsBillingError(err error) (*BillingError, bool) {
	var be *BillingError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// UsageWriteBlocked wraps the guard failure that blocked a usage write.
func UsageWriteBlocked(cause error) *BillingError {
	e := &BillingError{Code: CodeUsageWriteBlocked, Err: cause}
	if be, ok := AsBillingError(cause); ok {
		e.AccountID = be.AccountID
		e.Status = be.Status
	}
	return e
}
