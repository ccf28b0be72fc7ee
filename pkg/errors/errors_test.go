package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{name: "validation is not retryable", err: ErrValidation, retryable: false},
		{name: "not found is not retryable", err: ErrNotFound, retryable: false},
		{name: "version conflict is not retryable", err: ErrVersionConflict, retryable: false},
		{name: "already exists is not retryable", err: ErrAlreadyExists, retryable: false},
		{name: "unauthorized is not retryable", err: ErrUnauthorized, retryable: false},
		{name: "internal is retryable", err: ErrInternal, retryable: true},
		{name: "timeout is retryable", err: ErrTimeout, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
		})
	}
}

func TestWithDetail_DoesNotMutateSentinel(t *testing.T) {
	err := ErrVersionConflict.WithDetail("id", "checkout")

	assert.Equal(t, "checkout", err.Details["id"])
	assert.Empty(t, ErrVersionConflict.Details)
}

func TestAsRetryableOverride(t *testing.T) {
	err := ErrVersionConflict.AsRetryable()
	assert.True(t, err.IsRetryable())
	assert.False(t, ErrVersionConflict.IsRetryable())

	fatal := ErrInternal.AsFatal()
	assert.False(t, fatal.IsRetryable())
	assert.True(t, fatal.IsFatal())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrInternal)
	require.NotNil(t, err)
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.ErrorIs(t, err, cause)

	// An already-typed error passes through untouched.
	typed := ErrNotFound.WithDetail("id", "x")
	assert.Same(t, typed, Wrap(typed, ErrInternal))

	assert.Nil(t, Wrap(nil, ErrInternal))
}

func TestCodePredicates(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound.WithDetail("id", "x")))
	assert.True(t, IsValidation(ErrValidation.WithViolation("f", "bad")))
	assert.True(t, IsVersionConflict(ErrVersionConflict))
	assert.True(t, IsAlreadyExists(ErrAlreadyExists))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(ErrNotFound))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(ErrVersionConflict))
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(ErrValidation))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("plain")))
}

func TestToErrorResponse(t *testing.T) {
	err := ErrValidation.
		WithViolation("priority", "must be non-negative").
		WithDetail("config_type", "label-application-rule")

	resp := ToErrorResponse(err)
	assert.Equal(t, "VALIDATION_ERROR", resp["error_code"])
	assert.NotNil(t, resp["details"])
	assert.NotNil(t, resp["field_violations"])

	plain := ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", plain["error_code"])
}
