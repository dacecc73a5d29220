package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type
type ErrorCode string

const (
	// Data integrity errors
	ErrDecode          ErrorCode = "DECODE_ERROR"
	ErrCyclicStructure ErrorCode = "CYCLIC_STRUCTURE"
	ErrCorruptDocument ErrorCode = "CORRUPT_DOCUMENT"
	ErrPathConflict    ErrorCode = "PATH_CONFLICT"

	// Ledger validation errors
	ErrInvalidAmount     ErrorCode = "INVALID_AMOUNT"
	ErrInsufficientPurse ErrorCode = "INSUFFICIENT_PURSE"
	ErrInsufficientBank  ErrorCode = "INSUFFICIENT_BANK"
	ErrBankCapExceeded   ErrorCode = "BANK_CAP_EXCEEDED"

	// Lookup and authorization errors
	ErrInvalidPage ErrorCode = "INVALID_PAGE"
	ErrNotOwner    ErrorCode = "NOT_OWNER"
	ErrNotFound    ErrorCode = "NOT_FOUND"

	// Timing errors
	ErrCooldownActive ErrorCode = "COOLDOWN_ACTIVE"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"

	// System errors
	ErrLockTimeout   ErrorCode = "LOCK_TIMEOUT"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error raised by the store and the services built on it
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // Underlying error, if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new Error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error in an Error
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first Error in err's chain, or "" if there is none
func CodeOf(err error) ErrorCode {
	var coded *Error
	if !As(err, &coded) {
		return ""
	}
	return coded.Code
}

// Is checks if err carries the given code anywhere in its chain
func Is(err error, code ErrorCode) bool {
	var coded *Error
	for err != nil {
		if errors.As(err, &coded) {
			if coded.Code == code {
				return true
			}
			err = coded.Err
			continue
		}
		return false
	}
	return false
}

// As finds the first Error in err's chain
func As(err error, target **Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.As(err, target)
}

// IsValidation reports whether err is an expected, user-correctable failure.
// These are shown to the user as-is and never logged as incidents.
func IsValidation(err error) bool {
	switch CodeOf(err) {
	case ErrInvalidAmount, ErrInsufficientPurse, ErrInsufficientBank, ErrBankCapExceeded,
		ErrInvalidPage, ErrNotOwner, ErrNotFound, ErrCooldownActive, ErrRateLimited:
		return true
	}
	return false
}

// IsIntegrity reports whether err signals damaged or misshapen stored data
func IsIntegrity(err error) bool {
	return Is(err, ErrDecode) || Is(err, ErrCyclicStructure) ||
		Is(err, ErrCorruptDocument) || Is(err, ErrPathConflict)
}
