package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BudgetStatus represents the lifecycle state of a budget envelope
type BudgetStatus string

const (
	BudgetStatusDraft  BudgetStatus = "DRAFT"
	BudgetStatusActive BudgetStatus = "ACTIVE"
	BudgetStatusClosed BudgetStatus = "CLOSED"
)

// Budget represents a tenant-scoped, time-boxed envelope of allocatable
// points. Transitions are one-directional: DRAFT -> ACTIVE -> CLOSED.
// TotalPoints is fixed once the budget leaves DRAFT.
type Budget struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Name          string
	FiscalYear    int
	FiscalQuarter *int // NULL for annual budgets
	TotalPoints   decimal.Decimal
	Status        BudgetStatus
	ExpiryDate    time.Time
	CreatedAt     time.Time
}

// Validate ensures the budget adheres to domain rules
// Returns an error if validation fails
func (b *Budget) Validate() error {
	if b.Name == "" {
		return NewValidationError("budget name cannot be empty")
	}

	if b.TenantID == uuid.Nil {
		return NewValidationError("budget must belong to a tenant")
	}

	if b.FiscalYear < 2000 || b.FiscalYear > 2200 {
		return NewValidationError("budget fiscal year is out of range")
	}

	if b.FiscalQuarter != nil && (*b.FiscalQuarter < 1 || *b.FiscalQuarter > 4) {
		return NewValidationError("budget fiscal quarter must be between 1 and 4")
	}

	if b.TotalPoints.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("budget total points must be positive")
	}

	if b.ExpiryDate.IsZero() {
		return NewValidationError("budget must have an expiry date")
	}

	switch b.Status {
	case BudgetStatusDraft, BudgetStatusActive, BudgetStatusClosed:
	default:
		return NewValidationError("unknown budget status")
	}

	return nil
}

// Activate transitions the budget from DRAFT to ACTIVE. Activation is the
// point after which TotalPoints becomes immutable. A budget with nothing
// allocated has nothing to activate, so at least one allocation is required.
func (b *Budget) Activate(hasAllocations bool) error {
	if b.Status != BudgetStatusDraft {
		return ErrBudgetState
	}
	if !hasAllocations {
		return NewValidationError("budget must have at least one allocation before activation")
	}
	b.Status = BudgetStatusActive
	return nil
}

// Close transitions the budget from ACTIVE to CLOSED (terminal). Closed
// budgets reject all further allocation and distribution; historical data
// stays queryable.
func (b *Budget) Close() error {
	if b.Status != BudgetStatusActive {
		return ErrBudgetState
	}
	b.Status = BudgetStatusClosed
	return nil
}

// Expired reports whether the budget is past its expiry date at the given
// instant.
func (b *Budget) Expired(now time.Time) bool {
	return now.After(b.ExpiryDate)
}

// AllowsAllocation reports whether new tenant-to-department allocation is
// legal against this budget.
func (b *Budget) AllowsAllocation(now time.Time) error {
	if b.Status != BudgetStatusActive {
		return ErrBudgetState
	}
	if b.Expired(now) {
		return ErrBudgetState
	}
	return nil
}

// BudgetAllocation represents a department's share under a budget.
// Invariants: the allocated sum across a budget never exceeds TotalPoints,
// and SpentPoints never exceeds AllocatedPoints.
type BudgetAllocation struct {
	BudgetID         uuid.UUID
	DepartmentPoolID uuid.UUID
	AllocatedPoints  decimal.Decimal
	SpentPoints      decimal.Decimal
	MonthlyCap       *decimal.Decimal // NULL means uncapped
}

// Validate ensures the allocation adheres to domain rules
func (a *BudgetAllocation) Validate() error {
	if a.AllocatedPoints.IsNegative() {
		return NewValidationError("allocated points cannot be negative")
	}

	if a.SpentPoints.IsNegative() {
		return NewValidationError("spent points cannot be negative")
	}

	if a.SpentPoints.GreaterThan(a.AllocatedPoints) {
		return NewValidationError("spent points cannot exceed allocated points")
	}

	if a.MonthlyCap != nil && a.MonthlyCap.LessThanOrEqual(decimal.Zero) {
		return NewValidationError("monthly cap must be positive when set")
	}

	return nil
}

// ValidateAllocations checks the cross-row invariant: the allocated sum
// across all of a budget's allocations must not exceed its total.
func (b *Budget) ValidateAllocations(allocations []BudgetAllocation) error {
	total := decimal.Zero
	for i := range allocations {
		if err := allocations[i].Validate(); err != nil {
			return err
		}
		total = total.Add(allocations[i].AllocatedPoints)
	}

	if total.GreaterThan(b.TotalPoints) {
		return ErrAllocationExceedsBudget
	}

	return nil
}
