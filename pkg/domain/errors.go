package domain

import (
	"fmt"
	"strings"
)

// ErrorType tells API clients whether resubmitting the entity can succeed.
type ErrorType string

// Error types attached to entity errors.
const (
	Recoverable    ErrorType = "RECOVERABLE"
	NonRecoverable ErrorType = "NON_RECOVERABLE"
)

// Stable error codes surfaced to API clients.
const (
	CodeNullID                      = "NULL_ID"
	CodeNonExistentEntity           = "NON_EXISTENT_ENTITY"
	CodeUniqueEntity                = "UNIQUE_ENTITY"
	CodeRowVersionMismatch          = "ROW_VERSION_MISMATCH"
	CodeIsDeleted                   = "IS_DELETED"
	CodeNonExistentRelatedEntity    = "NON_EXISTENT_RELATED_ENTITY"
	CodeInvalidRelatedEntityID      = "INVALID_RELATED_ENTITY_ID"
	CodeNetworkError                = "NETWORK_ERROR"
	CodeSenderReceiverIDEquals      = "SENDER_RECEIVER_ID_EQUALS"
	CodeStockDispatchExceedsReceipt = "STOCK_DISPATCH_EXCEEDS_RECEIPT"
	CodeNoProjectFacilityMapping    = "NO_PROJECT_FACILITY_MAPPING_EXISTS"
	CodeHouseholdAlreadyHasHead     = "HOUSEHOLD_ALREADY_HAS_HEAD"
	CodeIndividualAlreadyAdded      = "INDIVIDUAL_ALREADY_ADDED"
	CodeInvalidDate                 = "INVALID_DATE"
	CodeInternalServerError         = "INTERNAL_SERVER_ERROR"
)

// Error is a single validation failure attached to one entity.
type Error struct {
	Code    string    `json:"errorCode"`
	Message string    `json:"errorMessage"`
	Type    ErrorType `json:"type"`
	Cause   error     `json:"-"`
}

func (e Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e Error) Unwrap() error { return e.Cause }

// NewError builds a recoverable entity error.
func NewError(code, message string) Error {
	return Error{Code: code, Message: message, Type: Recoverable}
}

// NullIDError reports an update or delete without an id.
func NullIDError() Error {
	return NewError(CodeNullID, "Id cannot be null")
}

// NonExistentEntityError reports ids that are not present in the store.
func NonExistentEntityError(ids ...string) Error {
	return NewError(CodeNonExistentEntity, fmt.Sprintf("Entity does not exist in db for ids %s", formatIDs(ids)))
}

// UniqueEntityError reports a duplicate within the batch or store.
func UniqueEntityError(id string) Error {
	return NewError(CodeUniqueEntity, fmt.Sprintf("Duplicate entity %s", id))
}

// RowVersionMismatchError reports a stale optimistic concurrency token.
func RowVersionMismatchError(supplied, stored int) Error {
	return NewError(CodeRowVersionMismatch, fmt.Sprintf("Row version mismatch: supplied %d, stored %d", supplied, stored))
}

// IsDeletedError reports an attempt to mutate a soft-deleted entity.
func IsDeletedError() Error {
	return NewError(CodeIsDeleted, "Entity is already deleted")
}

// NonExistentRelatedEntityError reports references that do not resolve.
func NonExistentRelatedEntityError(ids ...string) Error {
	return NewError(CodeNonExistentRelatedEntity, fmt.Sprintf("Related entity does not exist for ids %s", formatIDs(ids)))
}

// InvalidRelatedEntityIDError reports a malformed or self-referencing relation.
func InvalidRelatedEntityIDError() Error {
	return NewError(CodeInvalidRelatedEntityID, "Invalid related entity id")
}

// NetworkError wraps a failed batched lookup.
func NetworkError(cause error) Error {
	msg := "Exception while calling an external service"
	if cause != nil {
		msg = cause.Error()
	}
	return Error{Code: CodeNetworkError, Message: msg, Type: Recoverable, Cause: cause}
}

// InternalServerError wraps a persistence failure for an entity that had
// already passed validation.
func InternalServerError(cause error) Error {
	msg := "Internal server error"
	if cause != nil {
		msg = cause.Error()
	}
	return Error{Code: CodeInternalServerError, Message: msg, Type: NonRecoverable, Cause: cause}
}

func formatIDs(ids []string) string {
	return "[" + strings.Join(ids, ", ") + "]"
}

// CustomError terminates a whole request. It is used for request-shape
// failures and for upstream records that must exist.
type CustomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCustomError constructs a CustomError.
func NewCustomError(code, message string) *CustomError {
	return &CustomError{Code: code, Message: message}
}

// ErrNotFound indicates a requested entity does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
