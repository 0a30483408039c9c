package service

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeDuplicateProof    ErrorCode = "duplicate_proof"
	CodeCryptographic     ErrorCode = "cryptographic_error"
	CodeLedgerConsistency ErrorCode = "ledger_consistency_error"
	CodeAnchorSubmission  ErrorCode = "anchor_submission_error"
)

// Error is the service level error taxonomy. Callers branch on Code; the
// wrapped cause stays available through errors.Unwrap for logging.
type Error struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	}
}

func NewValidationError(format string, args ...interface{}) *Error {
	return newError(CodeValidation, nil, format, args...)
}

func NewDuplicateProofError(existingProofId string) *Error {
	return newError(CodeDuplicateProof, nil, "content already registered as proof %s", existingProofId)
}

func NewCryptographicError(cause error, format string, args ...interface{}) *Error {
	return newError(CodeCryptographic, cause, format, args...)
}

func NewLedgerConsistencyError(cause error, format string, args ...interface{}) *Error {
	return newError(CodeLedgerConsistency, cause, format, args...)
}

func NewAnchorSubmissionError(cause error, format string, args ...interface{}) *Error {
	return newError(CodeAnchorSubmission, cause, format, args...)
}

// CodeOf extracts the taxonomy code from any error in a chain; unknown errors
// report as empty.
func CodeOf(err error) ErrorCode {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
