// Package apierrors defines the closed set of error kinds the control plane
// surfaces to clients, and the stable JSON envelope they render to.
package apierrors

import (
	"fmt"
	"net/http"
)

// Code is a stable, closed error identifier returned in API responses.
type Code string

const (
	AuthRequired               Code = "auth.required"
	AuthInvalid                Code = "auth.invalid"
	AuthAdminRequired          Code = "auth.admin_required"
	TenantForbidden            Code = "tenant.forbidden"
	IdempotencyMissingKey      Code = "idempotency.missing_key"
	IdempotencyInProgress      Code = "idempotency.in_progress"
	IdempotencyKeyReused       Code = "idempotency.key_reused_with_different_payload"
	BudgetHardCeiling          Code = "budget.hard_ceiling"
	BudgetHardStop120          Code = "budget.hard_stop_120"
	BudgetReauthorizeRequired  Code = "budget.reauthorization_required"
	PolicyBudget               Code = "policy.budget"
	PolicyApproval             Code = "policy.approval"
	PolicyOwner                Code = "policy.owner"
	PolicyTenancy              Code = "policy.tenancy"
	NotFound                   Code = "NOT_FOUND"
	AlreadyExists              Code = "ALREADY_EXISTS"
	Conflict                   Code = "CONFLICT"
	InvalidArgument            Code = "INVALID_ARGUMENT"
	PermissionDenied           Code = "PERMISSION_DENIED"
	Unauthenticated            Code = "UNAUTHENTICATED"
	BreakerOpen                Code = "breaker.open"
	Internal                   Code = "INTERNAL"
)

// httpStatus maps every closed code to its HTTP status. Codes not listed
// here are programmer errors; Status renders them as 500 rather than
// silently returning 200.
var httpStatus = map[Code]int{
	AuthRequired:              http.StatusUnauthorized,
	AuthInvalid:               http.StatusUnauthorized,
	AuthAdminRequired:         http.StatusForbidden,
	TenantForbidden:           http.StatusForbidden,
	IdempotencyMissingKey:     http.StatusBadRequest,
	IdempotencyInProgress:     http.StatusConflict,
	IdempotencyKeyReused:      http.StatusConflict,
	BudgetHardCeiling:         http.StatusBadRequest,
	BudgetHardStop120:         http.StatusForbidden,
	BudgetReauthorizeRequired: http.StatusForbidden,
	PolicyBudget:              http.StatusBadRequest,
	PolicyApproval:            http.StatusForbidden,
	PolicyOwner:               http.StatusForbidden,
	PolicyTenancy:             http.StatusForbidden,
	NotFound:                  http.StatusNotFound,
	AlreadyExists:             http.StatusConflict,
	Conflict:                  http.StatusConflict,
	InvalidArgument:           http.StatusBadRequest,
	PermissionDenied:          http.StatusForbidden,
	Unauthenticated:           http.StatusUnauthorized,
	BreakerOpen:               http.StatusServiceUnavailable,
	Internal:                  http.StatusInternalServerError,
}

// Status returns the HTTP status code a Code renders as.
func (c Code) Status() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the typed error every internal component returns at its
// boundary; the request pipeline translates it to the stable envelope.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for the given code.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error of the given code.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Envelope is the stable JSON body every enforced failure renders.
type Envelope struct {
	Detail Detail `json:"detail"`
}

// Detail carries the closed code and a human message.
type Detail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToEnvelope converts any error into the stable response envelope,
// defaulting unrecognized errors to an internal error code.
func ToEnvelope(err error) (int, Envelope) {
	if apiErr, ok := err.(*Error); ok {
		return apiErr.Code.Status(), Envelope{Detail: Detail{Code: apiErr.Code, Message: apiErr.Message}}
	}
	return http.StatusInternalServerError, Envelope{Detail: Detail{Code: Internal, Message: err.Error()}}
}

// As reports whether err is an *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
