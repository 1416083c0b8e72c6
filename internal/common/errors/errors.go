// Package errors defines the error taxonomy for the coordination core.
//
// The classes matter operationally: configuration errors are fatal at startup
// or assignment time, transient coordination errors are retried on the next
// poll, execution-level failures are terminal for one activation only, and
// lease renewal failures are surfaced distinctly because they indicate a
// possible mutual-exclusion violation.
package errors

import (
	"errors"
	"fmt"
)

// Error codes as constants
const (
	CodeConfiguration         = "CONFIGURATION"
	CodeTransientCoordination = "TRANSIENT_COORDINATION"
	CodeLeaseRenewalFailure   = "LEASE_RENEWAL_FAILURE"
	CodeExecutionTimeout      = "EXECUTION_TIMEOUT"
	CodeExecutorFailure       = "EXECUTOR_FAILURE"
	CodeMetricsParse          = "METRICS_PARSE"
)

// CoordError is an error with a coordination-core error class attached.
type CoordError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *CoordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *CoordError) Unwrap() error {
	return e.Err
}

// Configuration creates a fatal configuration error (unknown executor, invalid
// mode). Surfaced before any lease is acquired.
func Configuration(message string) *CoordError {
	return &CoordError{Code: CodeConfiguration, Message: message}
}

// Transient creates a transient coordination error (Hub or Lease Store
// unreachable). The current scheduling pass aborts and is retried next poll.
func Transient(message string, err error) *CoordError {
	return &CoordError{Code: CodeTransientCoordination, Message: message, Err: err}
}

// LeaseRenewalFailure creates the one error class that may indicate the
// at-most-one-activation invariant is already broken. Never silently retried.
func LeaseRenewalFailure(agentID string, err error) *CoordError {
	return &CoordError{
		Code:    CodeLeaseRenewalFailure,
		Message: fmt.Sprintf("lease renewal failed for agent '%s'; activation may be duplicated", agentID),
		Err:     err,
	}
}

// ExecutionTimeout creates an activation-level timeout error.
func ExecutionTimeout(activationID string) *CoordError {
	return &CoordError{
		Code:    CodeExecutionTimeout,
		Message: fmt.Sprintf("activation '%s' exceeded its wall-clock budget", activationID),
	}
}

// ExecutorFailure creates an error for a non-zero or abnormal executor exit.
func ExecutorFailure(message string, err error) *CoordError {
	return &CoordError{Code: CodeExecutorFailure, Message: message, Err: err}
}

// MetricsParse creates a non-fatal metrics parse error. Callers degrade to
// zeroed metrics instead of failing the activation.
func MetricsParse(message string, err error) *CoordError {
	return &CoordError{Code: CodeMetricsParse, Message: message, Err: err}
}

func hasCode(err error, code string) bool {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsConfiguration checks if the error is a fatal configuration error.
func IsConfiguration(err error) bool { return hasCode(err, CodeConfiguration) }

// IsTransient checks if the error is a transient coordination error.
func IsTransient(err error) bool { return hasCode(err, CodeTransientCoordination) }

// IsLeaseRenewalFailure checks if the error is a lease renewal failure.
func IsLeaseRenewalFailure(err error) bool { return hasCode(err, CodeLeaseRenewalFailure) }

// IsExecutionTimeout checks if the error is an activation-level timeout.
func IsExecutionTimeout(err error) bool { return hasCode(err, CodeExecutionTimeout) }

// IsExecutorFailure checks if the error is an executor failure.
func IsExecutorFailure(err error) bool { return hasCode(err, CodeExecutorFailure) }

// IsMetricsParse checks if the error is a non-fatal metrics parse failure.
func IsMetricsParse(err error) bool { return hasCode(err, CodeMetricsParse) }

// Code returns the error class of err, or empty string for untyped errors.
func Code(err error) string {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
