package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// poolRepository implements domain.PoolRepository
type poolRepository struct {
	db *DB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *DB) domain.PoolRepository {
	return &poolRepository{db: db}
}

const poolColumns = "id, tenant_id, name, pool_type, status, balance, created_at"

// scanPool parses one pool row; shared by every pool query
func scanPool(row interface{ Scan(dest ...any) error }) (*domain.Pool, error) {
	var pool domain.Pool
	var tenantID sql.NullString
	var balanceStr string

	err := row.Scan(
		&pool.ID,
		&tenantID,
		&pool.Name,
		&pool.PoolType,
		&pool.Status,
		&balanceStr,
		&pool.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse tenant_id (nullable, NULL for the platform pool)
	if tenantID.Valid {
		tenantUUID, err := uuid.Parse(tenantID.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tenant_id: %w", err)
		}
		pool.TenantID = &tenantUUID
	}

	// Parse balance (DECIMAL)
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	pool.Balance = balance

	return &pool, nil
}

// GetByID retrieves a pool by its ID
func (r *poolRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM pools
		WHERE id = $1
	`

	pool, err := scanPool(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool by ID: %w", err)
	}
	return pool, nil
}

// GetPlatformPool retrieves the singleton platform pool
func (r *poolRepository) GetPlatformPool(ctx context.Context) (*domain.Pool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM pools
		WHERE pool_type = $1
	`

	pool, err := scanPool(r.db.QueryRowContext(ctx, query, string(domain.PoolTypePlatform)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get platform pool: %w", err)
	}
	return pool, nil
}

// Create creates a new pool
func (r *poolRepository) Create(ctx context.Context, pool *domain.Pool) error {
	query := `
		INSERT INTO pools (id, tenant_id, name, pool_type, status, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var tenantID interface{}
	if pool.TenantID != nil {
		tenantID = pool.TenantID
	}

	_, err := r.db.ExecContext(ctx, query,
		pool.ID,
		tenantID,
		pool.Name,
		string(pool.PoolType),
		string(pool.Status),
		pool.Balance.String(),
		pool.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	return nil
}

// List retrieves pools, optionally filtered by type
func (r *poolRepository) List(ctx context.Context, typeFilter domain.PoolType) ([]*domain.Pool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM pools
	`
	args := []interface{}{}
	if typeFilter != "" {
		query += " WHERE pool_type = $1"
		args = append(args, string(typeFilter))
	}
	query += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}
	defer rows.Close()

	pools := make([]*domain.Pool, 0)
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pools: %w", err)
	}

	return pools, nil
}

// ListByTenant retrieves every pool belonging to a tenant
func (r *poolRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*domain.Pool, error) {
	query := `
		SELECT ` + poolColumns + `
		FROM pools
		WHERE tenant_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant pools: %w", err)
	}
	defer rows.Close()

	pools := make([]*domain.Pool, 0)
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pools: %w", err)
	}

	return pools, nil
}

// SetStatus updates a pool's lifecycle status
func (r *poolRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.PoolStatus) error {
	query := `
		UPDATE pools
		SET status = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set pool status: %w", err)
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
