// Package memory provides an in-memory implementation of the ledger ports.
// It mirrors the postgres adapter's semantics (including transactional
// all-or-nothing commits) and backs dev mode and the hermetic test suites.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

type allocationKey struct {
	budgetID         uuid.UUID
	departmentPoolID uuid.UUID
}

// Store holds all ledger state behind one RW mutex. Atomically stages its
// writes and applies them only when the callback succeeds, so a failed
// transaction leaves no partial state.
type Store struct {
	mu             sync.RWMutex
	pools          map[uuid.UUID]domain.Pool
	transfers      []domain.Transfer
	transfersByKey map[string]int // idempotency key -> index into transfers
	budgets        map[uuid.UUID]domain.Budget
	allocations    map[allocationKey]domain.BudgetAllocation
}

var (
	_ domain.PoolRepository = (*Store)(nil)
	_ domain.LedgerStore    = (*Store)(nil)
	_ domain.LedgerTx       = (*memTx)(nil)
)

// NewStore creates a new empty Store
func NewStore() *Store {
	return &Store{
		pools:          make(map[uuid.UUID]domain.Pool),
		transfersByKey: make(map[string]int),
		budgets:        make(map[uuid.UUID]domain.Budget),
		allocations:    make(map[allocationKey]domain.BudgetAllocation),
	}
}

// ---- domain.LedgerStore ----

// Atomically runs fn against a staged view of the store. Staged writes are
// applied only if fn returns nil.
func (s *Store) Atomically(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		balances:    make(map[uuid.UUID]decimal.Decimal),
		allocations: make(map[allocationKey]domain.BudgetAllocation),
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged state
	for id, balance := range tx.balances {
		pool := s.pools[id]
		pool.Balance = balance
		s.pools[id] = pool
	}
	for _, transfer := range tx.appended {
		s.transfers = append(s.transfers, transfer)
		if transfer.IdempotencyKey != nil {
			s.transfersByKey[*transfer.IdempotencyKey] = len(s.transfers) - 1
		}
	}
	for key, allocation := range tx.allocations {
		s.allocations[key] = allocation
	}

	return nil
}

// memTx is the staged view handed to Atomically callbacks.
type memTx struct {
	store       *Store
	balances    map[uuid.UUID]decimal.Decimal
	appended    []domain.Transfer
	allocations map[allocationKey]domain.BudgetAllocation
}

func (t *memTx) GetPoolForUpdate(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	pool, ok := t.store.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	if balance, staged := t.balances[id]; staged {
		pool.Balance = balance
	}
	return &pool, nil
}

func (t *memTx) SetPoolBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if _, ok := t.store.pools[id]; !ok {
		return domain.ErrPoolNotFound
	}
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	t.balances[id] = balance
	return nil
}

func (t *memTx) AppendTransfer(ctx context.Context, transfer *domain.Transfer) error {
	if err := transfer.Validate(); err != nil {
		return err
	}
	if transfer.IdempotencyKey != nil {
		// Unique constraint on the idempotency key
		if _, exists := t.store.transfersByKey[*transfer.IdempotencyKey]; exists {
			return domain.ErrIdempotencyConflict
		}
		for _, staged := range t.appended {
			if staged.IdempotencyKey != nil && *staged.IdempotencyKey == *transfer.IdempotencyKey {
				return domain.ErrIdempotencyConflict
			}
		}
	}
	t.appended = append(t.appended, *transfer)
	return nil
}

func (t *memTx) GetTransferByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	for i := range t.appended {
		if t.appended[i].IdempotencyKey != nil && *t.appended[i].IdempotencyKey == key {
			transfer := t.appended[i]
			return &transfer, nil
		}
	}
	if idx, ok := t.store.transfersByKey[key]; ok {
		transfer := t.store.transfers[idx]
		return &transfer, nil
	}
	return nil, domain.ErrTransferNotFound
}

func (t *memTx) allocation(key allocationKey) (domain.BudgetAllocation, bool) {
	if allocation, ok := t.allocations[key]; ok {
		return allocation, true
	}
	allocation, ok := t.store.allocations[key]
	return allocation, ok
}

func (t *memTx) AdjustAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error {
	budget, ok := t.store.budgets[budgetID]
	if !ok {
		return domain.ErrBudgetNotFound
	}

	key := allocationKey{budgetID: budgetID, departmentPoolID: departmentPoolID}
	allocation, exists := t.allocation(key)
	if !exists {
		allocation = domain.BudgetAllocation{
			BudgetID:         budgetID,
			DepartmentPoolID: departmentPoolID,
			AllocatedPoints:  decimal.Zero,
			SpentPoints:      decimal.Zero,
		}
	}

	next := allocation.AllocatedPoints.Add(delta)
	if next.IsNegative() {
		return domain.NewValidationError("allocated points cannot go negative")
	}
	if next.LessThan(allocation.SpentPoints) {
		return domain.ErrBudgetState
	}

	// Cross-row invariant: allocated sum never exceeds the budget total
	sum := next
	for k, a := range t.store.allocations {
		if k.budgetID == budgetID && k != key {
			if staged, ok := t.allocations[k]; ok {
				a = staged
			}
			sum = sum.Add(a.AllocatedPoints)
		}
	}
	for k, a := range t.allocations {
		if k.budgetID == budgetID && k != key {
			if _, inBase := t.store.allocations[k]; !inBase {
				sum = sum.Add(a.AllocatedPoints)
			}
		}
	}
	if sum.GreaterThan(budget.TotalPoints) {
		return domain.ErrAllocationExceedsBudget
	}

	allocation.AllocatedPoints = next
	t.allocations[key] = allocation
	return nil
}

func (t *memTx) AdjustSpent(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error {
	key := allocationKey{budgetID: budgetID, departmentPoolID: departmentPoolID}
	allocation, exists := t.allocation(key)
	if !exists {
		return domain.ErrBudgetNotFound
	}

	next := allocation.SpentPoints.Add(delta)
	if next.IsNegative() {
		return domain.NewValidationError("spent points cannot go negative")
	}
	if next.GreaterThan(allocation.AllocatedPoints) {
		return domain.ErrAllocationExceedsBudget
	}

	allocation.SpentPoints = next
	t.allocations[key] = allocation
	return nil
}

// ---- domain.PoolRepository ----

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[id]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	return &pool, nil
}

func (s *Store) GetPlatformPool(ctx context.Context) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pool := range s.pools {
		if pool.PoolType == domain.PoolTypePlatform {
			found := pool
			return &found, nil
		}
	}
	return nil, domain.ErrPoolNotFound
}

func (s *Store) Create(ctx context.Context, pool *domain.Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[pool.ID]; exists {
		return domain.NewValidationError("pool already exists")
	}
	s.pools[pool.ID] = *pool
	return nil
}

func (s *Store) List(ctx context.Context, typeFilter domain.PoolType) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0)
	for _, pool := range s.pools {
		if typeFilter != "" && pool.PoolType != typeFilter {
			continue
		}
		found := pool
		result = append(result, &found)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Pool, 0)
	for _, pool := range s.pools {
		if pool.TenantID != nil && *pool.TenantID == tenantID {
			found := pool
			result = append(result, &found)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status domain.PoolStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool, ok := s.pools[id]
	if !ok {
		return domain.ErrPoolNotFound
	}
	pool.Status = status
	s.pools[id] = pool
	return nil
}

// ---- domain.TransferRepository ----

func (s *Store) GetTransferByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.transfers {
		if s.transfers[i].ID == id {
			transfer := s.transfers[i]
			return &transfer, nil
		}
	}
	return nil, domain.ErrTransferNotFound
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.transfersByKey[key]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	transfer := s.transfers[idx]
	return &transfer, nil
}

func (s *Store) ListByWorkflowRef(ctx context.Context, ref string) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Transfer, 0)
	for i := range s.transfers {
		if s.transfers[i].WorkflowRef == ref {
			transfer := s.transfers[i]
			result = append(result, &transfer)
		}
	}
	return result, nil
}

func (s *Store) ListForPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*domain.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	touching := make([]domain.Transfer, 0)
	for i := len(s.transfers) - 1; i >= 0; i-- { // newest first
		if s.transfers[i].FromPoolID == poolID || s.transfers[i].ToPoolID == poolID {
			touching = append(touching, s.transfers[i])
		}
	}

	if offset >= len(touching) {
		return []*domain.Transfer{}, nil
	}
	end := offset + limit
	if end > len(touching) {
		end = len(touching)
	}

	result := make([]*domain.Transfer, 0, end-offset)
	for i := offset; i < end; i++ {
		transfer := touching[i]
		result = append(result, &transfer)
	}
	return result, nil
}

func (s *Store) CountForPool(ctx context.Context, poolID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := range s.transfers {
		if s.transfers[i].FromPoolID == poolID || s.transfers[i].ToPoolID == poolID {
			count++
		}
	}
	return count, nil
}

func (s *Store) SumForPool(ctx context.Context, poolID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, out := decimal.Zero, decimal.Zero
	for i := range s.transfers {
		if s.transfers[i].ToPoolID == poolID {
			in = in.Add(s.transfers[i].Amount)
		}
		if s.transfers[i].FromPoolID == poolID {
			out = out.Add(s.transfers[i].Amount)
		}
	}
	return in, out, nil
}

func (s *Store) SumFromPoolSince(ctx context.Context, poolID uuid.UUID, since time.Time, kinds ...string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for i := range s.transfers {
		if s.transfers[i].FromPoolID != poolID || s.transfers[i].CreatedAt.Before(since) {
			continue
		}
		if !matchesWorkflowKind(s.transfers[i].WorkflowRef, kinds) {
			continue
		}
		sum = sum.Add(s.transfers[i].Amount)
	}
	return sum, nil
}

// matchesWorkflowKind reports whether a workflow ref carries one of the kind
// prefixes. An empty kinds list matches everything.
func matchesWorkflowKind(ref string, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, kind := range kinds {
		if strings.HasPrefix(ref, kind+":") {
			return true
		}
	}
	return false
}

// ---- domain.BudgetRepository ----

func (s *Store) GetBudgetByID(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	budget, ok := s.budgets[id]
	if !ok {
		return nil, domain.ErrBudgetNotFound
	}
	return &budget, nil
}

func (s *Store) GetActiveForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, budget := range s.budgets {
		if budget.TenantID == tenantID && budget.Status == domain.BudgetStatusActive {
			found := budget
			return &found, nil
		}
	}
	return nil, domain.ErrBudgetNotFound
}

func (s *Store) CreateBudget(ctx context.Context, budget *domain.Budget) error {
	if err := budget.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.budgets[budget.ID]; exists {
		return domain.NewValidationError("budget already exists")
	}
	s.budgets[budget.ID] = *budget
	return nil
}

func (s *Store) UpdateBudget(ctx context.Context, budget *domain.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[budget.ID]; !ok {
		return domain.ErrBudgetNotFound
	}
	s.budgets[budget.ID] = *budget
	return nil
}

func (s *Store) DeleteBudget(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[id]; !ok {
		return domain.ErrBudgetNotFound
	}
	delete(s.budgets, id)
	for key := range s.allocations {
		if key.budgetID == id {
			delete(s.allocations, key)
		}
	}
	return nil
}

func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]*domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Budget, 0)
	for _, budget := range s.budgets {
		if budget.Status == domain.BudgetStatusActive && budget.Expired(asOf) {
			found := budget
			result = append(result, &found)
		}
	}
	return result, nil
}

func (s *Store) GetAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID) (*domain.BudgetAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allocation, ok := s.allocations[allocationKey{budgetID: budgetID, departmentPoolID: departmentPoolID}]
	if !ok {
		return nil, domain.ErrBudgetNotFound
	}
	return &allocation, nil
}

func (s *Store) CreateAllocation(ctx context.Context, allocation *domain.BudgetAllocation) error {
	if err := allocation.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[allocation.BudgetID]; !ok {
		return domain.ErrBudgetNotFound
	}
	key := allocationKey{budgetID: allocation.BudgetID, departmentPoolID: allocation.DepartmentPoolID}
	if _, exists := s.allocations[key]; exists {
		return domain.NewValidationError("department is already registered under this budget")
	}
	s.allocations[key] = *allocation
	return nil
}

func (s *Store) SetAllocationCap(ctx context.Context, budgetID, departmentPoolID uuid.UUID, cap *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := allocationKey{budgetID: budgetID, departmentPoolID: departmentPoolID}
	allocation, ok := s.allocations[key]
	if !ok {
		return domain.ErrBudgetNotFound
	}
	if cap != nil && cap.LessThanOrEqual(decimal.Zero) {
		return domain.NewValidationError("monthly cap must be positive when set")
	}
	allocation.MonthlyCap = cap
	s.allocations[key] = allocation
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, budgetID uuid.UUID) ([]*domain.BudgetAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.BudgetAllocation, 0)
	for key, allocation := range s.allocations {
		if key.budgetID == budgetID {
			found := allocation
			result = append(result, &found)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DepartmentPoolID.String() < result[j].DepartmentPoolID.String()
	})
	return result, nil
}
