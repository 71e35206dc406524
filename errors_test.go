package stoker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCheckers(t *testing.T) {
	cases := []struct {
		err   error
		check func(error) bool
	}{
		{NewPermissionDeniedError("Buildings", "nope"), IsPermissionDenied},
		{NewValidationError("Name", "required"), IsValidationError},
		{NewUniqueValueTakenError("Buildings", "Code", "HQ"), IsValidationError},
		{NewSystemFieldViolationError("Created_At"), IsSystemFieldViolation},
		{NewCancelledError("preWrite"), IsCancelled},
		{NewSynchronizationFailedError("Buildings", "b1", 10, nil), IsSynchronizationFailed},
		{NewRecordNotFoundError("Buildings", "b1"), IsRecordNotFound},
		{NewTransactionConflictError("conflict"), IsTransactionConflict},
	}
	for _, tc := range cases {
		assert.True(t, tc.check(tc.err), tc.err.Error())
	}

	assert.False(t, IsPermissionDenied(NewValidationError("", "x")))
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.False(t, IsRecordNotFound(nil))
}

func TestErrorCheckersUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewPermissionDeniedError("Buildings", "nope"))
	assert.True(t, IsPermissionDenied(wrapped))
}

func TestValidationErrorMessagePrefix(t *testing.T) {
	err := NewValidationError("Name", "value is required")
	assert.Contains(t, err.Error(), ErrCodeValidationFailed)

	err = NewUniqueValueTakenError("Buildings", "Code", "HQ")
	assert.Contains(t, err.Error(), ErrCodeValidationFailed)
	assert.Equal(t, ErrCodeUniqueValueTaken, err.Code)
	assert.Equal(t, "HQ", err.Details["value"])
}

func TestErrorStringShapes(t *testing.T) {
	withField := NewSystemFieldViolationError("Created_At")
	assert.Contains(t, withField.Error(), "field 'Created_At'")

	withDoc := NewRecordNotFoundError("Buildings", "b1")
	assert.Contains(t, withDoc.Error(), "Buildings/b1")

	withCollection := NewPermissionDeniedError("Buildings", "nope")
	assert.Contains(t, withCollection.Error(), "Buildings: nope")

	bare := NewTransactionConflictError("conflict")
	assert.Contains(t, bare.Error(), "conflict")
}

func TestErrorBuilders(t *testing.T) {
	cause := errors.New("root cause")
	err := NewCancelledError("preOperation").
		WithDocID("b1").
		WithCause(cause).
		WithDetail("stage", "create")

	assert.Equal(t, "b1", err.DocID)
	assert.Equal(t, "create", err.Details["stage"])
	require.ErrorIs(t, err, cause)

	err = NewValidationError("", "bad shape").WithField("Owner")
	assert.Equal(t, "Owner", err.Field)
}

func TestInternalErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewInternalError("read failed", cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeInternalError, err.Code)
}
