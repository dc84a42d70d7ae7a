package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// uniqueViolation is the postgres error code raised when the transfers
// idempotency key unique constraint fires.
const uniqueViolation = "23505"

// LedgerStore implements domain.LedgerStore on a postgres transaction with
// SELECT ... FOR UPDATE row claims.
type LedgerStore struct {
	db *DB
}

// NewLedgerStore creates a new postgres-backed ledger store
func NewLedgerStore(db *DB) *LedgerStore {
	return &LedgerStore{db: db}
}

var _ domain.LedgerStore = (*LedgerStore)(nil)

// Atomically runs fn inside one database transaction. Any error rolls the
// transaction back; no partial state survives.
func (s *LedgerStore) Atomically(ctx context.Context, fn func(tx domain.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed after %w: %v", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ledgerTx implements domain.LedgerTx over one *sql.Tx
type ledgerTx struct {
	tx *sql.Tx
}

// GetPoolForUpdate reads a pool holding an exclusive row lock until commit
func (t *ledgerTx) GetPoolForUpdate(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM pools
		WHERE id = $1
		FOR UPDATE
	`

	pool, err := scanPool(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool for update: %w", err)
	}
	return pool, nil
}

// SetPoolBalance updates the balance projection of a pool
func (t *ledgerTx) SetPoolBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return domain.ErrInsufficientFunds
	}

	result, err := t.tx.ExecContext(ctx, `UPDATE pools SET balance = $2 WHERE id = $1`, id, balance.String())
	if err != nil {
		return fmt.Errorf("failed to set pool balance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrPoolNotFound
	}

	return nil
}

// AppendTransfer appends one immutable entry to the transfer log
func (t *ledgerTx) AppendTransfer(ctx context.Context, transfer *domain.Transfer) error {
	if err := transfer.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO transfers (id, from_pool_id, to_pool_id, amount, currency_rate_applied, from_balance_after, to_balance_after, idempotency_key, workflow_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var key interface{}
	if transfer.IdempotencyKey != nil {
		key = *transfer.IdempotencyKey
	}

	_, err := t.tx.ExecContext(ctx, query,
		transfer.ID,
		transfer.FromPoolID,
		transfer.ToPoolID,
		transfer.Amount.String(),
		transfer.CurrencyRateApplied.String(),
		transfer.FromBalanceAfter.String(),
		transfer.ToBalanceAfter.String(),
		key,
		transfer.WorkflowRef,
		transfer.CreatedAt,
	)
	if err != nil {
		// A concurrent retry of the same key hit the unique constraint
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrIdempotencyConflict
		}
		return fmt.Errorf("failed to append transfer: %w", err)
	}

	return nil
}

// GetTransferByIdempotencyKey re-checks the idempotency key inside the
// transaction
func (t *ledgerTx) GetTransferByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE idempotency_key = $1
	`

	transfer, err := scanTransfer(t.tx.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer by idempotency key: %w", err)
	}
	return transfer, nil
}

// AdjustAllocation moves a department's allocated points by delta, enforcing
// the budget total invariant.
// Logic:
//  1. Lock the budget row so the cross-row sum cannot race
//  2. Upsert the allocation row with the new allocated value
//  3. Re-check allocated >= spent and sum(allocated) <= total
func (t *ledgerTx) AdjustAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error {
	var totalStr string
	err := t.tx.QueryRowContext(ctx,
		`SELECT total_points FROM budgets WHERE id = $1 FOR UPDATE`, budgetID).Scan(&totalStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBudgetNotFound
		}
		return fmt.Errorf("failed to lock budget: %w", err)
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return fmt.Errorf("failed to parse total_points: %w", err)
	}

	upsert := `
		INSERT INTO budget_allocations (budget_id, department_pool_id, allocated_points, spent_points)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (budget_id, department_pool_id)
		DO UPDATE SET allocated_points = budget_allocations.allocated_points + $3
		RETURNING allocated_points, spent_points
	`

	var allocatedStr, spentStr string
	if err := t.tx.QueryRowContext(ctx, upsert, budgetID, departmentPoolID, delta.String()).Scan(&allocatedStr, &spentStr); err != nil {
		return fmt.Errorf("failed to adjust allocation: %w", err)
	}

	allocated, err := decimal.NewFromString(allocatedStr)
	if err != nil {
		return fmt.Errorf("failed to parse allocated_points: %w", err)
	}
	spent, err := decimal.NewFromString(spentStr)
	if err != nil {
		return fmt.Errorf("failed to parse spent_points: %w", err)
	}

	if allocated.IsNegative() {
		return domain.NewValidationError("allocated points cannot go negative")
	}
	if allocated.LessThan(spent) {
		return domain.ErrBudgetState
	}

	var sumStr string
	err = t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(allocated_points), 0) FROM budget_allocations WHERE budget_id = $1`, budgetID).Scan(&sumStr)
	if err != nil {
		return fmt.Errorf("failed to sum allocations: %w", err)
	}
	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return fmt.Errorf("failed to parse allocation sum: %w", err)
	}
	if sum.GreaterThan(total) {
		return domain.ErrAllocationExceedsBudget
	}

	return nil
}

// AdjustSpent moves a department allocation's spent points by delta,
// enforcing spent <= allocated
func (t *ledgerTx) AdjustSpent(ctx context.Context, budgetID, departmentPoolID uuid.UUID, delta decimal.Decimal) error {
	query := `
		UPDATE budget_allocations
		SET spent_points = spent_points + $3
		WHERE budget_id = $1 AND department_pool_id = $2
		RETURNING allocated_points, spent_points
	`

	var allocatedStr, spentStr string
	err := t.tx.QueryRowContext(ctx, query, budgetID, departmentPoolID, delta.String()).Scan(&allocatedStr, &spentStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrBudgetNotFound
		}
		return fmt.Errorf("failed to adjust spent points: %w", err)
	}

	allocated, err := decimal.NewFromString(allocatedStr)
	if err != nil {
		return fmt.Errorf("failed to parse allocated_points: %w", err)
	}
	spent, err := decimal.NewFromString(spentStr)
	if err != nil {
		return fmt.Errorf("failed to parse spent_points: %w", err)
	}

	if spent.IsNegative() {
		return domain.NewValidationError("spent points cannot go negative")
	}
	if spent.GreaterThan(allocated) {
		return domain.ErrAllocationExceedsBudget
	}

	return nil
}
