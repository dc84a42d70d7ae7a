package preview

import (
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// Result is the outcome a workflow would produce for the same inputs.
// The transfer engine computes its committed balances through the same
// functions, so for an unchanged pool a preview and the following commit
// agree bit for bit.
type Result struct {
	TotalAmount        decimal.Decimal
	PerRecipientAmount decimal.Decimal
	RecipientCount     int
	PoolBalanceAfter   decimal.Decimal
	SufficientFunds    bool
}

// Allocate computes the outcome of moving amount out of a pool with the
// given balance. Pure: no locking, no side effects.
func Allocate(poolBalance, amount decimal.Decimal) (Result, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Result{}, domain.ErrInvalidAmount
	}

	return Result{
		TotalAmount:        amount,
		PerRecipientAmount: amount,
		RecipientCount:     1,
		PoolBalanceAfter:   poolBalance.Sub(amount),
		SufficientFunds:    poolBalance.GreaterThanOrEqual(amount),
	}, nil
}

// FanOut computes the outcome of crediting recipientCount recipients at
// perRecipient each from a pool with the given balance. The total is
// perRecipient * count exactly; there is no rounding because every
// recipient receives the same fixed amount.
func FanOut(poolBalance, perRecipient decimal.Decimal, recipientCount int) (Result, error) {
	if perRecipient.LessThanOrEqual(decimal.Zero) {
		return Result{}, domain.ErrInvalidAmount
	}
	if recipientCount <= 0 {
		return Result{}, domain.NewValidationError("recipient count must be positive")
	}

	total := perRecipient.Mul(decimal.NewFromInt(int64(recipientCount)))

	return Result{
		TotalAmount:        total,
		PerRecipientAmount: perRecipient,
		RecipientCount:     recipientCount,
		PoolBalanceAfter:   poolBalance.Sub(total),
		SufficientFunds:    poolBalance.GreaterThanOrEqual(total),
	}, nil
}

// Recall computes the outcome of recalling from a child pool back to its
// parent. The spec (exact amount, percent, or all) resolves to a concrete
// amount against the child balance first, so recall shares the exact-amount
// contract of Allocate.
func Recall(childBalance decimal.Decimal, spec domain.RecallSpec) (Result, error) {
	amount, err := spec.Resolve(childBalance)
	if err != nil {
		return Result{}, err
	}

	return Result{
		TotalAmount:        amount,
		PerRecipientAmount: amount,
		RecipientCount:     1,
		PoolBalanceAfter:   childBalance.Sub(amount),
		SufficientFunds:    childBalance.GreaterThanOrEqual(amount),
	}, nil
}
