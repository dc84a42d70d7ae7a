package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExternalPoolID is the reserved "outside world" endpoint. A transfer from
// this ID represents external funding entering the economy through the
// platform pool; a transfer to it represents an external recall. It never
// has a balance of its own, so conservation holds across all real pools.
var ExternalPoolID = uuid.Nil

// Transfer represents one immutable ledger entry: a single atomic movement
// of value between two pools. Transfers are only ever appended, never
// mutated or deleted; a reversal is a new, opposite transfer referencing
// the original via its workflow ref.
type Transfer struct {
	ID         uuid.UUID
	FromPoolID uuid.UUID
	ToPoolID   uuid.UUID
	Amount     decimal.Decimal // always positive, in tenant base points

	// CurrencyRateApplied is the tenant conversion rate in force when the
	// transfer crossed the platform/tenant currency boundary, recorded for
	// audit. Amounts are always ledgered in tenant base points, so the rate
	// never participates in conservation arithmetic. 1 when no boundary was
	// crossed.
	CurrencyRateApplied decimal.Decimal

	// Post-commit balance snapshots, so an idempotent replay can return the
	// originally committed result without recomputing.
	FromBalanceAfter decimal.Decimal
	ToBalanceAfter   decimal.Decimal

	IdempotencyKey *string // unique when set
	WorkflowRef    string  // groups the transfers of one logical workflow invocation
	CreatedAt      time.Time
}

// Validate ensures the transfer adheres to domain rules
// Returns an error if validation fails
func (t *Transfer) Validate() error {
	if t.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if t.FromPoolID == t.ToPoolID {
		return ErrSamePool
	}

	// The external endpoint may appear on either side but not both
	// (from==to is already rejected above), and real entries need real pools.
	if t.ToPoolID == ExternalPoolID && t.FromPoolID == ExternalPoolID {
		return ErrSamePool
	}

	if t.CurrencyRateApplied.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("currency rate applied must be positive")
	}

	return nil
}

// IsExternalFunding reports whether this entry records value entering the
// economy from outside.
func (t *Transfer) IsExternalFunding() bool {
	return t.FromPoolID == ExternalPoolID
}

// IsExternalRecall reports whether this entry records value leaving the
// economy.
func (t *Transfer) IsExternalRecall() bool {
	return t.ToPoolID == ExternalPoolID
}

// Reversal builds the opposite transfer referencing this one. The reversal
// is a brand new ledger entry; the original is never touched.
func (t *Transfer) Reversal(idempotencyKey string) *Transfer {
	key := idempotencyKey
	return &Transfer{
		ID:                  uuid.New(),
		FromPoolID:          t.ToPoolID,
		ToPoolID:            t.FromPoolID,
		Amount:              t.Amount,
		CurrencyRateApplied: t.CurrencyRateApplied,
		IdempotencyKey:      &key,
		WorkflowRef:         "reversal:" + t.ID.String(),
		CreatedAt:           time.Now(),
	}
}

// TransferResult is what the engine returns for a committed (or replayed)
// transfer.
type TransferResult struct {
	Transfer Transfer
	// Replayed is true when the call was an idempotent retry and the
	// recorded result was returned without re-applying the movement.
	Replayed bool
}

// FanOutResult is what the engine returns for a committed (or replayed)
// fan-out batch.
type FanOutResult struct {
	WorkflowRef        string
	CreditedCount      int
	TotalAmount        decimal.Decimal
	ParentBalanceAfter decimal.Decimal
	Replayed           bool
}
