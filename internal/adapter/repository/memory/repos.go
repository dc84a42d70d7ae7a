package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// The Store itself satisfies domain.PoolRepository and domain.LedgerStore.
// Transfers and budgets get thin views because their interfaces share
// method names with the pool repository.

// TransferRepo adapts Store to domain.TransferRepository
type TransferRepo struct {
	store *Store
}

// NewTransferRepo creates a transfer repository view over the store
func NewTransferRepo(store *Store) domain.TransferRepository {
	return &TransferRepo{store: store}
}

func (r *TransferRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	return r.store.GetTransferByID(ctx, id)
}

func (r *TransferRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	return r.store.GetByIdempotencyKey(ctx, key)
}

func (r *TransferRepo) ListByWorkflowRef(ctx context.Context, ref string) ([]*domain.Transfer, error) {
	return r.store.ListByWorkflowRef(ctx, ref)
}

func (r *TransferRepo) ListForPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*domain.Transfer, error) {
	return r.store.ListForPool(ctx, poolID, limit, offset)
}

func (r *TransferRepo) CountForPool(ctx context.Context, poolID uuid.UUID) (int, error) {
	return r.store.CountForPool(ctx, poolID)
}

func (r *TransferRepo) SumForPool(ctx context.Context, poolID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	return r.store.SumForPool(ctx, poolID)
}

func (r *TransferRepo) SumFromPoolSince(ctx context.Context, poolID uuid.UUID, since time.Time, kinds ...string) (decimal.Decimal, error) {
	return r.store.SumFromPoolSince(ctx, poolID, since, kinds...)
}

// BudgetRepo adapts Store to domain.BudgetRepository
type BudgetRepo struct {
	store *Store
}

// NewBudgetRepo creates a budget repository view over the store
func NewBudgetRepo(store *Store) domain.BudgetRepository {
	return &BudgetRepo{store: store}
}

func (r *BudgetRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	return r.store.GetBudgetByID(ctx, id)
}

func (r *BudgetRepo) GetActiveForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Budget, error) {
	return r.store.GetActiveForTenant(ctx, tenantID)
}

func (r *BudgetRepo) Create(ctx context.Context, budget *domain.Budget) error {
	return r.store.CreateBudget(ctx, budget)
}

func (r *BudgetRepo) Update(ctx context.Context, budget *domain.Budget) error {
	return r.store.UpdateBudget(ctx, budget)
}

func (r *BudgetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteBudget(ctx, id)
}

func (r *BudgetRepo) ListExpired(ctx context.Context, asOf time.Time) ([]*domain.Budget, error) {
	return r.store.ListExpired(ctx, asOf)
}

func (r *BudgetRepo) GetAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID) (*domain.BudgetAllocation, error) {
	return r.store.GetAllocation(ctx, budgetID, departmentPoolID)
}

func (r *BudgetRepo) CreateAllocation(ctx context.Context, allocation *domain.BudgetAllocation) error {
	return r.store.CreateAllocation(ctx, allocation)
}

func (r *BudgetRepo) SetAllocationCap(ctx context.Context, budgetID, departmentPoolID uuid.UUID, cap *decimal.Decimal) error {
	return r.store.SetAllocationCap(ctx, budgetID, departmentPoolID, cap)
}

func (r *BudgetRepo) ListAllocations(ctx context.Context, budgetID uuid.UUID) ([]*domain.BudgetAllocation, error) {
	return r.store.ListAllocations(ctx, budgetID)
}
