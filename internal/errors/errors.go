// Package errors defines the typed error vocabulary shared by every
// NeoGuard service. Handlers translate ServiceError values straight into
// HTTP responses; services return them so callers can branch on Code
// without string matching.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies a failure. Codes are stable API surface; messages are not.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeStateConflict      Code = "STATE_CONFLICT"
	CodeTimelockNotElapsed Code = "TIMELOCK_NOT_ELAPSED"
	CodeInsufficientFunds  Code = "INSUFFICIENT_FUNDS"
	CodeNotFound           Code = "NOT_FOUND"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodeRateLimitExceeded  Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// ServiceError carries a machine-readable code, a human-readable message,
// the HTTP status a handler should emit, and optional diagnostic details.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a diagnostic key/value pair and returns the error
// so calls can chain.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if goerrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// InvalidInput flags a request parameter the caller must fix.
func InvalidInput(message string) *ServiceError {
	return newError(CodeInvalidInput, http.StatusBadRequest, message, nil)
}

// InvalidAmount rejects a zero or otherwise unusable amount.
func InvalidAmount() *ServiceError {
	return InvalidInput("amount must be greater than zero")
}

// InvalidTimelock rejects a zero recovery delay.
func InvalidTimelock() *ServiceError {
	return InvalidInput("timelock duration must be greater than zero")
}

// InvalidRecoveryKey rejects a null or malformed recovery key.
func InvalidRecoveryKey() *ServiceError {
	return InvalidInput("recovery key must be a valid identity")
}

// InvalidIdentity rejects a null or undecodable address parameter.
func InvalidIdentity(field string) *ServiceError {
	return InvalidInput(fmt.Sprintf("%s must be a valid address", field)).
		WithDetails("field", field)
}

// Unauthorized flags a caller that is known but not permitted.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "caller is not authorized for this operation"
	}
	return newError(CodeUnauthorized, http.StatusForbidden, message, nil)
}

// InvalidToken flags an unusable bearer token.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", cause)
}

// RecoveryAlreadyActive reports the live request that blocks a new initiation.
// The details tell the guardian what is pending and when it unlocks.
func RecoveryAlreadyActive(executeAfter time.Time, newOwner string) *ServiceError {
	return newError(CodeStateConflict, http.StatusConflict, "a recovery request is already active", nil).
		WithDetails("execute_after", executeAfter.UTC().Format(time.RFC3339)).
		WithDetails("new_owner", newOwner)
}

// NoActiveRecovery rejects cancel/execute against an idle vault.
func NoActiveRecovery() *ServiceError {
	return newError(CodeStateConflict, http.StatusConflict, "no recovery request is active", nil)
}

// SaltAlreadyUsed rejects a deployment whose derived address is taken.
func SaltAlreadyUsed(address string) *ServiceError {
	return newError(CodeStateConflict, http.StatusConflict, "a vault already exists at the derived address", nil).
		WithDetails("address", address)
}

// RecoveryStillLocked reports how far the clock is from the deadline.
func RecoveryStillLocked(now, executeAfter time.Time) *ServiceError {
	return newError(CodeTimelockNotElapsed, http.StatusLocked, "recovery timelock has not elapsed", nil).
		WithDetails("now", now.UTC().Format(time.RFC3339)).
		WithDetails("execute_after", executeAfter.UTC().Format(time.RFC3339))
}

// InsufficientFunds reports both sides of a failed balance check.
func InsufficientFunds(requested, available int64) *ServiceError {
	return newError(CodeInsufficientFunds, http.StatusConflict, "vault balance is insufficient", nil).
		WithDetails("requested", requested).
		WithDetails("available", available)
}

// AccountNotFound flags a lookup for a vault the registry never deployed.
func AccountNotFound(address string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, "no vault deployed at this address", nil).
		WithDetails("address", address)
}

// NotFound is the generic lookup failure for non-vault entities.
func NotFound(entity string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found", entity), nil)
}

// SignatureInvalid covers every verification failure: bad encoding, wrong
// signer, stale counter. The reason stays server-side friendly and never
// distinguishes which check failed beyond what the caller may learn.
func SignatureInvalid(reason string) *ServiceError {
	if reason == "" {
		reason = "signature verification failed"
	}
	return newError(CodeSignatureInvalid, http.StatusUnauthorized, reason, nil)
}

// RateLimitExceeded flags a throttled caller.
func RateLimitExceeded() *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "rate limit exceeded", nil)
}

// Internal wraps an unexpected failure. The cause is logged, never serialized.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "internal error"
	}
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}
