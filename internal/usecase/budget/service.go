package budget

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brightperks/points-backend/internal/domain"
)

// Service manages the budget lifecycle: DRAFT -> ACTIVE -> CLOSED.
// Drafts are freely editable plans; activation freezes the total and opens
// the budget for allocation; closing is terminal and stops all further
// allocation while keeping history queryable.
type Service struct {
	Budgets domain.BudgetRepository
	Pools   domain.PoolRepository
	Log     *logrus.Logger
}

// NewService creates a new budget Service instance
func NewService(budgets domain.BudgetRepository, pools domain.PoolRepository, log *logrus.Logger) *Service {
	return &Service{
		Budgets: budgets,
		Pools:   pools,
		Log:     log,
	}
}

// CreateDraftInput represents the input for creating a draft budget
type CreateDraftInput struct {
	TenantID      uuid.UUID
	Name          string
	FiscalYear    int
	FiscalQuarter *int
	TotalPoints   decimal.Decimal
	ExpiryDate    time.Time
}

// UpdateDraftInput represents the editable fields of a draft budget
type UpdateDraftInput struct {
	Name          string
	FiscalYear    int
	FiscalQuarter *int
	TotalPoints   decimal.Decimal
	ExpiryDate    time.Time
}

// CreateDraft creates a new draft budget for a tenant. A tenant may hold any
// number of drafts; only activation is exclusive.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (*domain.Budget, error) {
	budget := &domain.Budget{
		ID:            uuid.New(),
		TenantID:      input.TenantID,
		Name:          input.Name,
		FiscalYear:    input.FiscalYear,
		FiscalQuarter: input.FiscalQuarter,
		TotalPoints:   input.TotalPoints,
		Status:        domain.BudgetStatusDraft,
		ExpiryDate:    input.ExpiryDate,
		CreatedAt:     time.Now(),
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}

	if err := s.Budgets.Create(ctx, budget); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"module":    "budget",
		"budget_id": budget.ID,
		"tenant_id": budget.TenantID,
	}).Info("draft budget created")

	return budget, nil
}

// UpdateDraft edits a budget that is still in DRAFT. Once a budget leaves
// DRAFT its total and period are immutable.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, input UpdateDraftInput) (*domain.Budget, error) {
	budget, err := s.Budgets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if budget.Status != domain.BudgetStatusDraft {
		return nil, domain.ErrBudgetState
	}

	budget.Name = input.Name
	budget.FiscalYear = input.FiscalYear
	budget.FiscalQuarter = input.FiscalQuarter
	budget.TotalPoints = input.TotalPoints
	budget.ExpiryDate = input.ExpiryDate
	if err := budget.Validate(); err != nil {
		return nil, err
	}

	if err := s.Budgets.Update(ctx, budget); err != nil {
		return nil, err
	}
	return budget, nil
}

// DiscardDraft deletes a budget that never activated. Drafts carry no
// ledger history, so deletion is safe; any other status is rejected.
func (s *Service) DiscardDraft(ctx context.Context, id uuid.UUID) error {
	budget, err := s.Budgets.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if budget.Status != domain.BudgetStatusDraft {
		return domain.ErrBudgetState
	}
	return s.Budgets.Delete(ctx, id)
}

// RegisterDepartment adds a department to a draft budget's allocation plan
// with a zeroed allocation row and an optional monthly distribution cap.
// Logic:
//  1. The budget must still be in DRAFT
//  2. The pool must be a department pool of the same tenant
//  3. Allocated/spent points start at zero and only move through transfers
func (s *Service) RegisterDepartment(ctx context.Context, budgetID, departmentPoolID uuid.UUID, monthlyCap *decimal.Decimal) (*domain.BudgetAllocation, error) {
	budget, err := s.Budgets.GetByID(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	if budget.Status != domain.BudgetStatusDraft {
		return nil, domain.ErrBudgetState
	}

	pool, err := s.Pools.GetByID(ctx, departmentPoolID)
	if err != nil {
		return nil, err
	}
	if pool.PoolType != domain.PoolTypeDepartment {
		return nil, domain.NewValidationError("budget allocations target department pools")
	}
	if pool.TenantID == nil || *pool.TenantID != budget.TenantID {
		return nil, domain.NewValidationError("department must belong to the budget's tenant")
	}

	allocation := &domain.BudgetAllocation{
		BudgetID:         budgetID,
		DepartmentPoolID: departmentPoolID,
		AllocatedPoints:  decimal.Zero,
		SpentPoints:      decimal.Zero,
		MonthlyCap:       monthlyCap,
	}
	if err := allocation.Validate(); err != nil {
		return nil, err
	}
	if err := s.Budgets.CreateAllocation(ctx, allocation); err != nil {
		return nil, err
	}
	return allocation, nil
}

// SetMonthlyCap sets or clears the monthly distribution cap of a registered
// department. Caps are advisory pacing and may change at any lifecycle stage.
func (s *Service) SetMonthlyCap(ctx context.Context, budgetID, departmentPoolID uuid.UUID, cap *decimal.Decimal) error {
	if cap != nil && cap.LessThanOrEqual(decimal.Zero) {
		return domain.NewValidationError("monthly cap must be positive when set")
	}
	return s.Budgets.SetAllocationCap(ctx, budgetID, departmentPoolID, cap)
}

// Activate transitions a draft budget to ACTIVE.
// Logic:
//  1. The tenant must not already have an active budget
//  2. The draft must have at least one registered department
//  3. From here on TotalPoints is immutable
func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	budget, err := s.Budgets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if existing, err := s.Budgets.GetActiveForTenant(ctx, budget.TenantID); err == nil && existing.ID != id {
		return nil, domain.ErrBudgetState
	} else if err != nil && !errors.Is(err, domain.ErrBudgetNotFound) {
		return nil, err
	}

	allocations, err := s.Budgets.ListAllocations(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := budget.Activate(len(allocations) > 0); err != nil {
		return nil, err
	}
	if err := s.Budgets.Update(ctx, budget); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"module":    "budget",
		"budget_id": budget.ID,
		"tenant_id": budget.TenantID,
		"total":     budget.TotalPoints,
	}).Info("budget activated")

	return budget, nil
}

// Close transitions an active budget to CLOSED (terminal). Unallocated
// points simply stay in the tenant master pool; recall remains available to
// pull distributed value back up.
func (s *Service) Close(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	budget, err := s.Budgets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := budget.Close(); err != nil {
		return nil, err
	}
	if err := s.Budgets.Update(ctx, budget); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"module":    "budget",
		"budget_id": budget.ID,
		"tenant_id": budget.TenantID,
	}).Info("budget closed")

	return budget, nil
}

// Get retrieves a budget by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	return s.Budgets.GetByID(ctx, id)
}

// ListAllocations retrieves all allocation rows under a budget
func (s *Service) ListAllocations(ctx context.Context, id uuid.UUID) ([]*domain.BudgetAllocation, error) {
	if _, err := s.Budgets.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.Budgets.ListAllocations(ctx, id)
}

// SweepExpired closes every active budget whose expiry date has passed.
// Runs periodically from the server loop; each sweep is idempotent because
// closed budgets never match again.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.Budgets.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, budget := range expired {
		if err := budget.Close(); err != nil {
			continue
		}
		if err := s.Budgets.Update(ctx, budget); err != nil {
			return closed, err
		}
		closed++

		s.Log.WithFields(logrus.Fields{
			"module":    "budget",
			"budget_id": budget.ID,
			"tenant_id": budget.TenantID,
			"expired":   budget.ExpiryDate,
		}).Info("expired budget closed by sweep")
	}

	return closed, nil
}
