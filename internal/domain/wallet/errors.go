package wallet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Common errors
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidKind       = errors.New("transaction kind must be credit or debit")
	ErrEmptyUserID       = errors.New("user id cannot be empty")
	ErrReservedReference = errors.New("reference is reserved for system transactions")
	ErrNotReversible     = errors.New("system transactions cannot be reversed")
)

// ErrInsufficientBalance indicates the user's spendable balance cannot cover
// the requested debit
type ErrInsufficientBalance struct {
	UserID    uuid.UUID
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: requested %s, available %s",
		e.UserID, e.Requested, e.Available)
}

// Is implements the errors.Is interface for ErrInsufficientBalance
func (e ErrInsufficientBalance) Is(target error) bool {
	t, ok := target.(ErrInsufficientBalance)
	if !ok {
		return false
	}
	// If the target UserID is empty, consider it a match for any ErrInsufficientBalance
	if t.UserID == uuid.Nil {
		return true
	}
	return e.UserID == t.UserID
}

// ErrTransactionNotFound indicates a missing ledger transaction
type ErrTransactionNotFound struct {
	ID uuid.UUID
}

func (e ErrTransactionNotFound) Error() string {
	return "transaction not found: " + e.ID.String()
}

// Is implements the errors.Is interface for ErrTransactionNotFound
func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	// If the target ID is empty, consider it a match for any ErrTransactionNotFound
	if t.ID == uuid.Nil {
		return true
	}
	return e.ID == t.ID
}

// ErrDuplicateOperation indicates a reference key was already used for the
// same user and kind. Callers normally never see it: the service replays the
// original transaction instead. The store raises it when a concurrent insert
// slips past the replay lookup and hits the unique reference constraint.
type ErrDuplicateOperation struct {
	UserID    uuid.UUID
	Kind      Kind
	Reference string
}

func (e ErrDuplicateOperation) Error() string {
	return fmt.Sprintf("duplicate %s operation for user %s: reference %q already used",
		e.Kind, e.UserID, e.Reference)
}

// Is implements the errors.Is interface for ErrDuplicateOperation
func (e ErrDuplicateOperation) Is(target error) bool {
	t, ok := target.(ErrDuplicateOperation)
	if !ok {
		return false
	}
	if t.UserID == uuid.Nil {
		return true
	}
	return e.UserID == t.UserID && e.Kind == t.Kind && e.Reference == t.Reference
}

// StorageError wraps a driver failure so callers can tell infrastructure
// trouble apart from domain rejections
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements the errors.Is interface for StorageError
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	// A target with no Op matches any StorageError
	return t.Op == "" || t.Op == e.Op
}
