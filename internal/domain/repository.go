package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolRepository defines the interface for pool persistence operations
type PoolRepository interface {
	// GetByID retrieves a pool by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Pool, error)

	// GetPlatformPool retrieves the singleton platform pool
	GetPlatformPool(ctx context.Context) (*Pool, error)

	// Create creates a new pool
	Create(ctx context.Context, pool *Pool) error

	// List retrieves pools, optionally filtered by type.
	// If typeFilter is empty, returns all pools.
	List(ctx context.Context, typeFilter PoolType) ([]*Pool, error)

	// ListByTenant retrieves every pool belonging to a tenant
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*Pool, error)

	// SetStatus updates a pool's lifecycle status
	SetStatus(ctx context.Context, id uuid.UUID, status PoolStatus) error
}

// TransferRepository defines the read interface over the append-only
// transfer log. Appends happen only through a LedgerTx so they commit
// atomically with the balance projection.
type TransferRepository interface {
	// GetByID retrieves a transfer by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)

	// GetByIdempotencyKey retrieves the committed transfer recorded under
	// the given idempotency key, or ErrTransferNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*Transfer, error)

	// ListByWorkflowRef retrieves every transfer appended by one logical
	// workflow invocation. Row order is store-specific; batch rows carry
	// their position in their idempotency key.
	ListByWorkflowRef(ctx context.Context, ref string) ([]*Transfer, error)

	// ListForPool retrieves a paginated list of transfers touching a pool,
	// newest first.
	ListForPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*Transfer, error)

	// CountForPool returns the total number of transfers touching a pool
	CountForPool(ctx context.Context, poolID uuid.UUID) (int, error)

	// SumForPool replays the log for one pool and returns the total credited
	// to it and the total debited from it.
	SumForPool(ctx context.Context, poolID uuid.UUID) (in, out decimal.Decimal, err error)

	// SumFromPoolSince returns the total debited from a pool for entries
	// created at or after the given instant (monthly cap checks). When kinds
	// are given only entries whose workflow ref carries one of those kind
	// prefixes are counted.
	SumFromPoolSince(ctx context.Context, poolID uuid.UUID, since time.Time, kinds ...string) (decimal.Decimal, error)
}

// BudgetRepository defines the interface for budget persistence operations
type BudgetRepository interface {
	// GetByID retrieves a budget by its ID
	GetByID(ctx context.Context, id uuid.UUID) (*Budget, error)

	// GetActiveForTenant retrieves the tenant's currently active budget,
	// or ErrBudgetNotFound when the tenant has none.
	GetActiveForTenant(ctx context.Context, tenantID uuid.UUID) (*Budget, error)

	// Create creates a new budget
	Create(ctx context.Context, budget *Budget) error

	// Update persists budget field changes (draft edits, status transitions)
	Update(ctx context.Context, budget *Budget) error

	// Delete removes a budget. Only draft budgets are ever deleted; they
	// carry no ledger history.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListExpired retrieves active budgets whose expiry date is past
	ListExpired(ctx context.Context, asOf time.Time) ([]*Budget, error)

	// GetAllocation retrieves the allocation row for a department under a
	// budget, or ErrBudgetNotFound when none exists.
	GetAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID) (*BudgetAllocation, error)

	// CreateAllocation registers a department under a budget with a zeroed
	// allocation row. Allocated and spent points only ever move through a
	// LedgerTx afterwards.
	CreateAllocation(ctx context.Context, allocation *BudgetAllocation) error

	// SetAllocationCap sets or clears (nil) the monthly distribution cap on
	// an existing allocation row.
	SetAllocationCap(ctx context.Context, budgetID, departmentPoolID uuid.UUID, cap *decimal.Decimal) error

	// ListAllocations retrieves all allocation rows under a budget
	ListAllocations(ctx context.Context, budgetID uuid.UUID) ([]*BudgetAllocation, error)
}

// LedgerTx exposes the mutations that must commit as one atomic unit:
// balance projection updates, transfer log appends, and budget allocation
// adjustments. Implementations guarantee all-or-nothing.
type LedgerTx interface {
	// GetPoolForUpdate reads a pool with an exclusive row claim for the
	// remainder of the transaction.
	GetPoolForUpdate(ctx context.Context, id uuid.UUID) (*Pool, error)

	// SetPoolBalance updates the balance projection of a pool
	SetPoolBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	// AppendTransfer appends one immutable entry to the transfer log
	AppendTransfer(ctx context.Context, transfer *Transfer) error

	// GetTransferByIdempotencyKey re-checks the idempotency key inside the
	// transaction, closing the race between the engine's fast-path check
	// and commit.
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*Transfer, error)

	// AdjustAllocation moves a department's allocated points by delta
	// (positive on allocate, negative on recall), enforcing the budget
	// total invariant. Returns ErrAllocationExceedsBudget when the sum
	// would pass the budget total, ErrBudgetState when allocated would
	// drop below spent.
	AdjustAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error

	// AdjustSpent moves a department allocation's spent points by delta
	// (positive on distribution, negative on wallet recall), enforcing
	// spent <= allocated.
	AdjustSpent(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error
}

// LedgerStore runs a function inside one durable transaction. If fn returns
// an error the transaction rolls back and no partial state survives.
type LedgerStore interface {
	Atomically(ctx context.Context, fn func(tx LedgerTx) error) error
}

// RecipientResolver resolves a selector to an ordered, deduplicated list of
// recipient wallet pool IDs. Owned by the directory collaborator; this core
// never second-guesses membership or status facts.
type RecipientResolver interface {
	Resolve(ctx context.Context, selector RecipientSelector) ([]uuid.UUID, error)
}

// RateProvider supplies the tenant conversion rate in force when a transfer
// crosses the platform/tenant currency boundary. Owned by the FX settings
// collaborator.
type RateProvider interface {
	RateFor(ctx context.Context, tenantID uuid.UUID) (decimal.Decimal, error)
}
