package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// transferRepository implements the read side of domain.TransferRepository.
// Appends go through the ledger store so they commit atomically with the
// balance projection.
type transferRepository struct {
	db *DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *DB) domain.TransferRepository {
	return &transferRepository{db: db}
}

const transferColumns = "id, from_pool_id, to_pool_id, amount, currency_rate_applied, from_balance_after, to_balance_after, idempotency_key, workflow_ref, created_at"

// scanTransfer parses one transfer row; shared by every transfer query
func scanTransfer(row interface{ Scan(dest ...any) error }) (*domain.Transfer, error) {
	var transfer domain.Transfer
	var amountStr, rateStr, fromAfterStr, toAfterStr string
	var idempotencyKey sql.NullString

	err := row.Scan(
		&transfer.ID,
		&transfer.FromPoolID,
		&transfer.ToPoolID,
		&amountStr,
		&rateStr,
		&fromAfterStr,
		&toAfterStr,
		&idempotencyKey,
		&transfer.WorkflowRef,
		&transfer.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if idempotencyKey.Valid {
		key := idempotencyKey.String
		transfer.IdempotencyKey = &key
	}

	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
		name string
	}{
		{amountStr, &transfer.Amount, "amount"},
		{rateStr, &transfer.CurrencyRateApplied, "currency_rate_applied"},
		{fromAfterStr, &transfer.FromBalanceAfter, "from_balance_after"},
		{toAfterStr, &transfer.ToBalanceAfter, "to_balance_after"},
	} {
		value, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field.name, err)
		}
		*field.dest = value
	}

	return &transfer, nil
}

// GetByID retrieves a transfer by its ID
func (r *transferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE id = $1
	`

	transfer, err := scanTransfer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer by ID: %w", err)
	}
	return transfer, nil
}

// GetByIdempotencyKey retrieves the committed transfer recorded under a key
func (r *transferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE idempotency_key = $1
	`

	transfer, err := scanTransfer(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("failed to get transfer by idempotency key: %w", err)
	}
	return transfer, nil
}

// ListByWorkflowRef retrieves every transfer of one workflow invocation.
// Batch rows share one created_at, so callers needing batch positions read
// them from the row keys.
func (r *transferRepository) ListByWorkflowRef(ctx context.Context, ref string) ([]*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE workflow_ref = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers by workflow ref: %w", err)
	}
	defer rows.Close()

	return collectTransfers(rows)
}

// ListForPool retrieves a paginated list of transfers touching a pool,
// newest first
func (r *transferRepository) ListForPool(ctx context.Context, poolID uuid.UUID, limit, offset int) ([]*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE from_pool_id = $1 OR to_pool_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, poolID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers for pool: %w", err)
	}
	defer rows.Close()

	return collectTransfers(rows)
}

// CountForPool returns the total number of transfers touching a pool
func (r *transferRepository) CountForPool(ctx context.Context, poolID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transfers
		WHERE from_pool_id = $1 OR to_pool_id = $1
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, poolID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transfers for pool: %w", err)
	}
	return count, nil
}

// SumForPool replays the log for one pool: total credited in, total debited
// out
func (r *transferRepository) SumForPool(ctx context.Context, poolID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE to_pool_id = $1), 0),
			COALESCE(SUM(amount) FILTER (WHERE from_pool_id = $1), 0)
		FROM transfers
		WHERE from_pool_id = $1 OR to_pool_id = $1
	`

	var inStr, outStr string
	if err := r.db.QueryRowContext(ctx, query, poolID).Scan(&inStr, &outStr); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("failed to sum transfers for pool: %w", err)
	}

	in, err := decimal.NewFromString(inStr)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("failed to parse credited sum: %w", err)
	}
	out, err := decimal.NewFromString(outStr)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("failed to parse debited sum: %w", err)
	}

	return in, out, nil
}

// SumFromPoolSince returns the total debited from a pool since an instant,
// optionally restricted to workflow kinds
func (r *transferRepository) SumFromPoolSince(ctx context.Context, poolID uuid.UUID, since time.Time, kinds ...string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transfers
		WHERE from_pool_id = $1 AND created_at >= $2
	`
	args := []interface{}{poolID, since}
	if len(kinds) > 0 {
		query += " AND split_part(workflow_ref, ':', 1) = ANY($3)"
		args = append(args, pq.Array(kinds))
	}

	var sumStr string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&sumStr); err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to sum outgoing transfers: %w", err)
	}

	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse outgoing sum: %w", err)
	}
	return sum, nil
}

func collectTransfers(rows *sql.Rows) ([]*domain.Transfer, error) {
	transfers := make([]*domain.Transfer, 0)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfers: %w", err)
	}
	return transfers, nil
}
