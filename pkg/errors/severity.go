// Package errors provides severity-aware error types.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// BCAError is a structured error with context.
type BCAError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Key         string   `json:"key,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

func (e *BCAError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s: %s (key: %s)", e.Severity, e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

// Error codes
const (
	ErrCodeMissingKey    = "MISSING_KEY"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeDivideByZero  = "DIVIDE_BY_ZERO"
)

// NewMissingKeyError creates an error for a required record or reference value that is absent.
func NewMissingKeyError(what string, key any) *BCAError {
	return &BCAError{
		Code:        ErrCodeMissingKey,
		Message:     fmt.Sprintf("no %s found", what),
		Severity:    SeverityFatal,
		Key:         fmt.Sprint(key),
		Recoverable: false,
	}
}

// NewConfigError creates an error for an invalid run configuration setting.
func NewConfigError(field, msg string) *BCAError {
	return &BCAError{
		Code:        ErrCodeInvalidConfig,
		Message:     fmt.Sprintf("%s: %s", field, msg),
		Severity:    SeverityFatal,
		Recoverable: false,
	}
}

// NewInputError creates an error for malformed input data.
func NewInputError(what, msg string) *BCAError {
	return &BCAError{
		Code:        ErrCodeInvalidInput,
		Message:     fmt.Sprintf("%s: %s", what, msg),
		Severity:    SeverityError,
		Recoverable: false,
	}
}

// NewDivideByZeroError creates an error for a denominator that must not be zero.
func NewDivideByZeroError(what string, key any) *BCAError {
	return &BCAError{
		Code:        ErrCodeDivideByZero,
		Message:     fmt.Sprintf("zero denominator in %s", what),
		Severity:    SeverityError,
		Key:         fmt.Sprint(key),
		Recoverable: false,
	}
}

// HasCode reports whether any error in err's chain is a BCAError with the given code.
func HasCode(err error, code string) bool {
	var be *BCAError
	if stderrors.As(err, &be) {
		return be.Code == code
	}
	return false
}

// IsMissingKey reports whether err is (or wraps) a missing-key failure.
func IsMissingKey(err error) bool { return HasCode(err, ErrCodeMissingKey) }

// IsConfigError reports whether err is (or wraps) a configuration failure.
func IsConfigError(err error) bool { return HasCode(err, ErrCodeInvalidConfig) }
