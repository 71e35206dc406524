package stoker

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypePermission      ErrorType = "permission"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeSystemField     ErrorType = "system_field"
	ErrorTypeCancelled       ErrorType = "cancelled"
	ErrorTypeRollback        ErrorType = "rollback"
	ErrorTypeSynchronization ErrorType = "synchronization"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
)

// Error codes
const (
	ErrCodePermissionDenied      = "PERMISSION_DENIED"
	ErrCodeValidationFailed      = "VALIDATION_ERROR"
	ErrCodeSystemFieldViolation  = "SYSTEM_FIELD_VIOLATION"
	ErrCodeOperationCancelled    = "OPERATION_CANCELLED"
	ErrCodeRollbackFailed        = "ROLLBACK_FAILED"
	ErrCodeSynchronizationFailed = "SYNCHRONIZATION_FAILED"
	ErrCodeRecordNotFound        = "RECORD_NOT_FOUND"
	ErrCodeCollectionNotFound    = "COLLECTION_NOT_FOUND"
	ErrCodeUniqueValueTaken      = "UNIQUE_VALUE_TAKEN"
	ErrCodeTransactionConflict   = "TRANSACTION_CONFLICT"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// StokerError is the unified error type surfaced by the engine. Validation
// errors carry the VALIDATION_ERROR code as a message prefix so callers can
// tell schema violations apart from infrastructure failures.
type StokerError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Collection string         `json:"collection,omitempty"`
	DocID      string         `json:"docId,omitempty"`
	Field      string         `json:"field,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *StokerError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, e.Message)
	case e.Collection != "" && e.DocID != "":
		return fmt.Sprintf("[%s:%s] %s/%s: %s", e.Type, e.Code, e.Collection, e.DocID, e.Message)
	case e.Collection != "":
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Collection, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *StokerError) Unwrap() error {
	return e.Cause
}

// WithCause attaches the underlying error.
func (e *StokerError) WithCause(cause error) *StokerError {
	e.Cause = cause
	return e
}

// WithField attaches field context.
func (e *StokerError) WithField(field string) *StokerError {
	e.Field = field
	return e
}

// WithDocID attaches document context.
func (e *StokerError) WithDocID(docID string) *StokerError {
	e.DocID = docID
	return e
}

// WithDetail adds a single detail entry.
func (e *StokerError) WithDetail(key string, value any) *StokerError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewPermissionDeniedError creates a fail-closed access error.
func NewPermissionDeniedError(collection, message string) *StokerError {
	return &StokerError{
		Type:       ErrorTypePermission,
		Code:       ErrCodePermissionDenied,
		Message:    message,
		Collection: collection,
	}
}

// NewValidationError creates a schema/business-rule violation error. The
// surfaced message carries the VALIDATION_ERROR prefix.
func NewValidationError(field, message string) *StokerError {
	return &StokerError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: ErrCodeValidationFailed + ": " + message,
		Field:   field,
	}
}

// NewSystemFieldViolationError reports a hook attempting to alter a protected
// system field. Always fatal to the operation.
func NewSystemFieldViolationError(field string) *StokerError {
	return &StokerError{
		Type:    ErrorTypeSystemField,
		Code:    ErrCodeSystemFieldViolation,
		Message: "hooks may not modify system field",
		Field:   field,
	}
}

// NewCancelledError reports a hook explicitly vetoing the operation.
func NewCancelledError(hook string) *StokerError {
	return &StokerError{
		Type:    ErrorTypeCancelled,
		Code:    ErrCodeOperationCancelled,
		Message: fmt.Sprintf("operation cancelled by %s hook", hook),
	}
}

// NewRollbackFailedError reports a partially applied multi-step write whose
// compensating cleanup failed. Never silently swallowed.
func NewRollbackFailedError(collection, docID string, cause error) *StokerError {
	return &StokerError{
		Type:       ErrorTypeRollback,
		Code:       ErrCodeRollbackFailed,
		Message:    "compensating cleanup failed after partial write",
		Collection: collection,
		DocID:      docID,
		Cause:      cause,
	}
}

// NewSynchronizationFailedError reports a shadow/unique-index transaction that
// exhausted its retry bound. Logged by the caller, never propagated as failure
// of the primary write.
func NewSynchronizationFailedError(collection, docID string, attempts int, cause error) *StokerError {
	return &StokerError{
		Type:       ErrorTypeSynchronization,
		Code:       ErrCodeSynchronizationFailed,
		Message:    fmt.Sprintf("synchronization gave up after %d attempts", attempts),
		Collection: collection,
		DocID:      docID,
		Cause:      cause,
		Details:    map[string]any{"attempts": attempts},
	}
}

// NewRecordNotFoundError creates a record lookup failure.
func NewRecordNotFoundError(collection, docID string) *StokerError {
	return &StokerError{
		Type:       ErrorTypeNotFound,
		Code:       ErrCodeRecordNotFound,
		Message:    "record not found",
		Collection: collection,
		DocID:      docID,
	}
}

// NewCollectionNotFoundError reports an unknown collection name.
func NewCollectionNotFoundError(name string) *StokerError {
	return &StokerError{
		Type:       ErrorTypeNotFound,
		Code:       ErrCodeCollectionNotFound,
		Message:    fmt.Sprintf("collection '%s' is not defined in the schema", name),
		Collection: name,
	}
}

// NewUniqueValueTakenError reports a unique-field value already claimed by a
// different document.
func NewUniqueValueTakenError(collection, field string, value any) *StokerError {
	return &StokerError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeUniqueValueTaken,
		Message:    ErrCodeValidationFailed + ": value is already in use",
		Collection: collection,
		Field:      field,
		Details:    map[string]any{"value": value},
	}
}

// NewTransactionConflictError reports a detected conflicting concurrent
// transaction. The maintainers treat it as retryable.
func NewTransactionConflictError(message string) *StokerError {
	return &StokerError{
		Type:    ErrorTypeConflict,
		Code:    ErrCodeTransactionConflict,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *StokerError {
	return &StokerError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

func isErrorType(err error, t ErrorType) bool {
	var se *StokerError
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}

// IsPermissionDenied checks for an access-check failure.
func IsPermissionDenied(err error) bool {
	return isErrorType(err, ErrorTypePermission)
}

// IsValidationError checks for a schema/business-rule violation.
func IsValidationError(err error) bool {
	return isErrorType(err, ErrorTypeValidation)
}

// IsSystemFieldViolation checks for a hook touching protected fields.
func IsSystemFieldViolation(err error) bool {
	return isErrorType(err, ErrorTypeSystemField)
}

// IsCancelled checks for a hook veto.
func IsCancelled(err error) bool {
	return isErrorType(err, ErrorTypeCancelled)
}

// IsSynchronizationFailed checks for an exhausted shadow/unique-index retry.
func IsSynchronizationFailed(err error) bool {
	return isErrorType(err, ErrorTypeSynchronization)
}

// IsRecordNotFound checks for a missing record.
func IsRecordNotFound(err error) bool {
	var se *StokerError
	if errors.As(err, &se) {
		return se.Code == ErrCodeRecordNotFound
	}
	return false
}

// IsTransactionConflict checks for a retryable optimistic-transaction abort.
func IsTransactionConflict(err error) bool {
	var se *StokerError
	if errors.As(err, &se) {
		return se.Code == ErrCodeTransactionConflict
	}
	return false
}
