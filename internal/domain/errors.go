package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sentinel errors for the caller-recoverable failure classes.
// Everything except IntegrityError is returned synchronously to the caller;
// the core never retries on its own.
var (
	// ErrInvalidAmount is returned when a transfer amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSamePool is returned when a transfer names the same pool twice.
	ErrSamePool = errors.New("from and to pools must differ")

	// ErrPoolNotFound is returned when a referenced pool does not exist.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolFrozen is returned when the source pool rejects outgoing transfers.
	ErrPoolFrozen = errors.New("pool is frozen")

	// ErrPoolQuarantined is returned when a pool has failed an integrity check
	// and is halted pending operator intervention.
	ErrPoolQuarantined = errors.New("pool is quarantined")

	// ErrInsufficientFunds is detected under lock at commit time, even if a
	// preview said funds were sufficient. Callers should re-preview, not
	// resubmit blindly.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBudgetNotFound is returned when a referenced budget does not exist.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrBudgetState is returned when a budget is not in a status that
	// permits the requested operation.
	ErrBudgetState = errors.New("budget status does not permit this operation")

	// ErrAllocationExceedsBudget is returned when raising a department
	// allocation would push the allocated sum past the budget total.
	ErrAllocationExceedsBudget = errors.New("allocation exceeds budget total")

	// ErrMonthlyCapExceeded is returned when a distribution would push a
	// department past its monthly cap.
	ErrMonthlyCapExceeded = errors.New("monthly cap exceeded")

	// ErrStaleRecipients is returned when the eligible recipient set changed
	// between preview and commit. The caller must re-resolve recipients;
	// retrying with the same snapshot will fail again.
	ErrStaleRecipients = errors.New("recipient set changed since preview")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with different arguments than the originally committed call.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different arguments")

	// ErrTransferNotFound is returned by transfer lookups that match nothing.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrFanOutTooLarge is returned when a fan-out exceeds the configured
	// recipient cap (bounds lock hold time).
	ErrFanOutTooLarge = errors.New("fan-out recipient count exceeds configured maximum")
)

// ValidationError marks a caller-correctable input problem, rejected before
// any lock is taken.
type ValidationError struct {
	msg string
}

// NewValidationError creates a validation error with the given message
func NewValidationError(msg string) *ValidationError {
	return &ValidationError{msg: msg}
}

func (e *ValidationError) Error() string {
	return e.msg
}

// IsValidation reports whether err is a caller-correctable validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSamePool) ||
		errors.Is(err, ErrFanOutTooLarge)
}

// IntegrityError reports that a pool's projected balance disagrees with the
// transfer log replay. This is never recoverable by a caller: the pool is
// quarantined and an operator must intervene.
type IntegrityError struct {
	PoolID    uuid.UUID
	Projected decimal.Decimal
	Replayed  decimal.Decimal
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation on pool %s: projected balance %s, log replay %s",
		e.PoolID, e.Projected, e.Replayed)
}
