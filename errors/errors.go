package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Caller errors
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInvalid    ErrorType = "invalid"

	// Memory errors
	ErrorTypeAllocation ErrorType = "allocation"

	// Codec errors
	ErrorTypeDecode ErrorType = "decode"
	ErrorTypeEncode ErrorType = "encode"

	// System errors
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error codes for specific scenarios
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidField     = "INVALID_FIELD"
	CodeOutOfMemory      = "OUT_OF_MEMORY"
	CodeStaleRegion      = "STALE_REGION"
	CodePhaseViolation   = "PHASE_VIOLATION"
	CodeNotAnImage       = "NOT_AN_IMAGE"
	CodeEncodeFailed     = "ENCODE_FAILED"
	CodeOutputOverflow   = "OUTPUT_OVERFLOW"
)

// AppError represents a structured error raised by the shrink core.
type AppError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	InnerError error          `json:"-"`
	Stack      []string       `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.InnerError != nil {
		return msg + ": " + e.InnerError.Error()
	}
	return msg
}

// Unwrap returns the inner error
func (e *AppError) Unwrap() error {
	return e.InnerError
}

// WithMessage adds a message to the error
func (e *AppError) WithMessage(msg string) *AppError {
	e.Message = msg
	return e
}

// WithCode adds a code to the error
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInnerError sets the inner error
func (e *AppError) WithInnerError(err error) *AppError {
	e.InnerError = err
	return e
}

// WithStack captures the call stack
func (e *AppError) WithStack() *AppError {
	e.Stack = captureStack(3)
	return e
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	if targetApp, ok := target.(*AppError); ok {
		return e.Type == targetApp.Type
	}
	return false
}

// Recoverable reports whether the error belongs to the pass-through tier:
// the caller falls back to the original bytes instead of failing.
func (e *AppError) Recoverable() bool {
	return e.Type == ErrorTypeDecode
}

// New creates a new AppError
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Code:    string(errType),
	}
}

// FromError converts a standard error to AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{
		Type:       ErrorTypeUnknown,
		Message:    err.Error(),
		InnerError: err,
	}
}

// Wrap wraps an error with additional context, keeping its type.
func Wrap(err error, message string) *AppError {
	inner := FromError(err)
	return &AppError{
		Type:       inner.Type,
		Code:       inner.Code,
		Message:    message,
		InnerError: err,
	}
}

// WrapWithType wraps an error with a specific type
func WrapWithType(err error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		InnerError: err,
		Code:       string(errType),
	}
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	return FromError(err).Type
}

// IsType reports whether any AppError in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	return err != nil && errors.Is(err, &AppError{Type: errType})
}

// NewValidation reports a caller contract violation.
func NewValidation(message string) *AppError {
	return New(ErrorTypeValidation, message).WithCode(CodeValidationFailed)
}

// NewInvalid reports a value outside its permitted range.
func NewInvalid(field string, value any, reason string) *AppError {
	return New(ErrorTypeInvalid, fmt.Sprintf("invalid value for %s: %v", field, value)).
		WithCode(CodeInvalidField).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// NewAllocation reports a memory request that cannot be satisfied.
func NewAllocation(requested, limit int) *AppError {
	return New(ErrorTypeAllocation, fmt.Sprintf("cannot allocate %d bytes", requested)).
		WithCode(CodeOutOfMemory).
		WithDetail("requested", requested).
		WithDetail("limit", limit)
}

// NewDecode reports input that does not decode as a supported image.
func NewDecode(err error) *AppError {
	return WrapWithType(err, ErrorTypeDecode, "not a decodable image").WithCode(CodeNotAnImage)
}

// NewEncode reports an encoder failure.
func NewEncode(err error) *AppError {
	return WrapWithType(err, ErrorTypeEncode, "encode failed").WithCode(CodeEncodeFailed)
}

// NewInternal reports a broken internal invariant.
func NewInternal(message string) *AppError {
	return New(ErrorTypeInternal, message)
}

// ErrorRecover recovers from panics and converts them to errors
func ErrorRecover(err *error) {
	if r := recover(); r != nil {
		var cause error
		switch v := r.(type) {
		case error:
			cause = v
		case string:
			cause = errors.New(v)
		default:
			cause = fmt.Errorf("%v", v)
		}
		*err = WrapWithType(cause, ErrorTypeInternal, "panic recovered").WithStack()
	}
}

// captureStack captures the call stack
func captureStack(skip int) []string {
	var stack []string
	for i := skip; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		funcName := fn.Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}

		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return stack
}
