package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SelectorKind represents the scope a recipient selector resolves over
type SelectorKind string

const (
	// SelectorKindDepartment resolves to the employee wallets of one department.
	SelectorKindDepartment SelectorKind = "DEPARTMENT"
	// SelectorKindTenant resolves to the employee wallets of a whole tenant.
	SelectorKindTenant SelectorKind = "TENANT"
)

// RecipientSelector names a set of recipient wallets without enumerating
// them. Resolution is owned by the directory collaborator; this core treats
// the resolved list as read-only input.
type RecipientSelector struct {
	Kind       SelectorKind
	TargetID   uuid.UUID
	OnlyActive bool
}

// Validate ensures the selector adheres to domain rules
func (s RecipientSelector) Validate() error {
	if s.Kind != SelectorKindDepartment && s.Kind != SelectorKindTenant {
		return NewValidationError("selector kind must be DEPARTMENT or TENANT")
	}
	if s.TargetID == uuid.Nil {
		return NewValidationError("selector target ID cannot be empty")
	}
	return nil
}

// RecallKind represents how a recall amount is expressed
type RecallKind string

const (
	RecallKindAmount  RecallKind = "AMOUNT"
	RecallKindPercent RecallKind = "PERCENT"
	RecallKindAll     RecallKind = "ALL"
)

// RecallSpec expresses a recall as an exact amount, a percentage of the
// child balance, or "recall all". All three resolve to a concrete amount
// before the transfer engine is invoked, so recall shares the exact-amount
// contract of Allocate.
type RecallSpec struct {
	Kind    RecallKind
	Amount  decimal.Decimal // used when Kind == AMOUNT
	Percent decimal.Decimal // 0-100, used when Kind == PERCENT
}

// Resolve converts the spec into a concrete amount against the given child
// balance. The resolved amount is validated against the balance by the
// engine under lock; this only does the arithmetic.
func (r RecallSpec) Resolve(childBalance decimal.Decimal) (decimal.Decimal, error) {
	switch r.Kind {
	case RecallKindAmount:
		if r.Amount.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, ErrInvalidAmount
		}
		return r.Amount, nil
	case RecallKindPercent:
		if r.Percent.LessThanOrEqual(decimal.Zero) || r.Percent.GreaterThan(decimal.NewFromInt(100)) {
			return decimal.Zero, NewValidationError("recall percent must be between 0 and 100")
		}
		// Quantized to the ledger's four decimal places, so the stored
		// amount and the projection arithmetic agree exactly.
		return childBalance.Mul(r.Percent).Div(decimal.NewFromInt(100)).Round(4), nil
	case RecallKindAll:
		if childBalance.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, ErrInvalidAmount
		}
		return childBalance, nil
	default:
		return decimal.Zero, NewValidationError("unknown recall kind")
	}
}
