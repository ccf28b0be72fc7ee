package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound        = NewError("NOT_FOUND", "resource not found", http.StatusNotFound)
	ErrValidation      = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrVersionConflict = NewError("VERSION_CONFLICT", "resource was modified concurrently", http.StatusConflict)
	ErrAlreadyExists   = NewError("ALREADY_EXISTS", "resource already exists", http.StatusConflict)
	ErrUnauthorized    = NewError("UNAUTHORIZED", "unauthorized", http.StatusUnauthorized)
	ErrInternal        = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrTimeout         = NewError("TIMEOUT", "operation timed out", http.StatusRequestTimeout)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

// FieldViolation names a single offending field so callers can decide
// retry vs. abort without parsing free text.
type FieldViolation struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

type Error struct {
	Code       string
	Message    string
	Status     int
	Details    map[string]interface{}
	Violations []FieldViolation
	Cause      error
	retryable  *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if len(e.Violations) > 0 {
		msg = fmt.Sprintf("%s: %s: %s", msg, e.Violations[0].Field, e.Violations[0].Description)
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	switch e.Code {
	case ErrValidation.Code, ErrNotFound.Code, ErrVersionConflict.Code,
		ErrAlreadyExists.Code, ErrUnauthorized.Code:
		return false
	}
	return true
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}
	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) WithViolation(field, description string) *Error {
	err := *e
	err.Violations = append(append([]FieldViolation{}, e.Violations...), FieldViolation{
		Field:       field,
		Description: description,
	})
	return &err
}

func (e *Error) WithViolations(violations []FieldViolation) *Error {
	err := *e
	err.Violations = violations
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return appErr.WithCause(err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrNotFound.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

func IsVersionConflict(err error) bool {
	return hasCode(err, ErrVersionConflict.Code)
}

func IsAlreadyExists(err error) bool {
	return hasCode(err, ErrAlreadyExists.Code)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}
	if len(appErr.Violations) > 0 {
		response["field_violations"] = appErr.Violations
	}

	return response
}
