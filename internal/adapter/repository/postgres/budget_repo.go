package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// budgetRepository implements domain.BudgetRepository
type budgetRepository struct {
	db *DB
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *DB) domain.BudgetRepository {
	return &budgetRepository{db: db}
}

const budgetColumns = "id, tenant_id, name, fiscal_year, fiscal_quarter, total_points, status, expiry_date, created_at"

// scanBudget parses one budget row; shared by every budget query
func scanBudget(row interface{ Scan(dest ...any) error }) (*domain.Budget, error) {
	var budget domain.Budget
	var quarter sql.NullInt64
	var totalStr string

	err := row.Scan(
		&budget.ID,
		&budget.TenantID,
		&budget.Name,
		&budget.FiscalYear,
		&quarter,
		&totalStr,
		&budget.Status,
		&budget.ExpiryDate,
		&budget.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Parse fiscal_quarter (nullable, NULL for annual budgets)
	if quarter.Valid {
		q := int(quarter.Int64)
		budget.FiscalQuarter = &q
	}

	// Parse total_points (DECIMAL)
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse total_points: %w", err)
	}
	budget.TotalPoints = total

	return &budget, nil
}

// GetByID retrieves a budget by its ID
func (r *budgetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE id = $1
	`

	budget, err := scanBudget(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget by ID: %w", err)
	}
	return budget, nil
}

// GetActiveForTenant retrieves the tenant's currently active budget
func (r *budgetRepository) GetActiveForTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE tenant_id = $1 AND status = $2
	`

	budget, err := scanBudget(r.db.QueryRowContext(ctx, query, tenantID, string(domain.BudgetStatusActive)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get active budget: %w", err)
	}
	return budget, nil
}

// Create creates a new budget
func (r *budgetRepository) Create(ctx context.Context, budget *domain.Budget) error {
	query := `
		INSERT INTO budgets (id, tenant_id, name, fiscal_year, fiscal_quarter, total_points, status, expiry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var quarter interface{}
	if budget.FiscalQuarter != nil {
		quarter = *budget.FiscalQuarter
	}

	_, err := r.db.ExecContext(ctx, query,
		budget.ID,
		budget.TenantID,
		budget.Name,
		budget.FiscalYear,
		quarter,
		budget.TotalPoints.String(),
		string(budget.Status),
		budget.ExpiryDate,
		budget.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}

	return nil
}

// Update persists budget field changes (draft edits, status transitions)
func (r *budgetRepository) Update(ctx context.Context, budget *domain.Budget) error {
	query := `
		UPDATE budgets
		SET name = $2, fiscal_year = $3, fiscal_quarter = $4, total_points = $5, status = $6, expiry_date = $7
		WHERE id = $1
	`

	var quarter interface{}
	if budget.FiscalQuarter != nil {
		quarter = *budget.FiscalQuarter
	}

	result, err := r.db.ExecContext(ctx, query,
		budget.ID,
		budget.Name,
		budget.FiscalYear,
		quarter,
		budget.TotalPoints.String(),
		string(budget.Status),
		budget.ExpiryDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrBudgetNotFound
	}

	return nil
}

// Delete removes a budget and its allocation rows. Only draft budgets are
// ever deleted; they carry no ledger history.
func (r *budgetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM budget_allocations WHERE budget_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete budget allocations: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrBudgetNotFound
	}

	return nil
}

// ListExpired retrieves active budgets whose expiry date is past
func (r *budgetRepository) ListExpired(ctx context.Context, asOf time.Time) ([]*domain.Budget, error) {
	query := `
		SELECT ` + budgetColumns + `
		FROM budgets
		WHERE status = $1 AND expiry_date < $2
	`

	rows, err := r.db.QueryContext(ctx, query, string(domain.BudgetStatusActive), asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired budgets: %w", err)
	}
	defer rows.Close()

	budgets := make([]*domain.Budget, 0)
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, budget)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate budgets: %w", err)
	}

	return budgets, nil
}

const allocationColumns = "budget_id, department_pool_id, allocated_points, spent_points, monthly_cap"

// scanAllocation parses one allocation row
func scanAllocation(row interface{ Scan(dest ...any) error }) (*domain.BudgetAllocation, error) {
	var allocation domain.BudgetAllocation
	var allocatedStr, spentStr string
	var capStr sql.NullString

	err := row.Scan(
		&allocation.BudgetID,
		&allocation.DepartmentPoolID,
		&allocatedStr,
		&spentStr,
		&capStr,
	)
	if err != nil {
		return nil, err
	}

	allocated, err := decimal.NewFromString(allocatedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse allocated_points: %w", err)
	}
	allocation.AllocatedPoints = allocated

	spent, err := decimal.NewFromString(spentStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse spent_points: %w", err)
	}
	allocation.SpentPoints = spent

	if capStr.Valid {
		cap, err := decimal.NewFromString(capStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse monthly_cap: %w", err)
		}
		allocation.MonthlyCap = &cap
	}

	return &allocation, nil
}

// GetAllocation retrieves the allocation row for a department under a budget
func (r *budgetRepository) GetAllocation(ctx context.Context, budgetID, departmentPoolID uuid.UUID) (*domain.BudgetAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM budget_allocations
		WHERE budget_id = $1 AND department_pool_id = $2
	`

	allocation, err := scanAllocation(r.db.QueryRowContext(ctx, query, budgetID, departmentPoolID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget allocation: %w", err)
	}
	return allocation, nil
}

// CreateAllocation registers a department under a budget with a zeroed
// allocation row
func (r *budgetRepository) CreateAllocation(ctx context.Context, allocation *domain.BudgetAllocation) error {
	query := `
		INSERT INTO budget_allocations (budget_id, department_pool_id, allocated_points, spent_points, monthly_cap)
		VALUES ($1, $2, $3, $4, $5)
	`

	var cap interface{}
	if allocation.MonthlyCap != nil {
		cap = allocation.MonthlyCap.String()
	}

	_, err := r.db.ExecContext(ctx, query,
		allocation.BudgetID,
		allocation.DepartmentPoolID,
		allocation.AllocatedPoints.String(),
		allocation.SpentPoints.String(),
		cap,
	)
	if err != nil {
		return fmt.Errorf("failed to create budget allocation: %w", err)
	}

	return nil
}

// SetAllocationCap sets or clears the monthly distribution cap
func (r *budgetRepository) SetAllocationCap(ctx context.Context, budgetID, departmentPoolID uuid.UUID, cap *decimal.Decimal) error {
	query := `
		UPDATE budget_allocations
		SET monthly_cap = $3
		WHERE budget_id = $1 AND department_pool_id = $2
	`

	var capValue interface{}
	if cap != nil {
		capValue = cap.String()
	}

	result, err := r.db.ExecContext(ctx, query, budgetID, departmentPoolID, capValue)
	if err != nil {
		return fmt.Errorf("failed to set monthly cap: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return domain.ErrBudgetNotFound
	}

	return nil
}

// ListAllocations retrieves all allocation rows under a budget
func (r *budgetRepository) ListAllocations(ctx context.Context, budgetID uuid.UUID) ([]*domain.BudgetAllocation, error) {
	query := `
		SELECT ` + allocationColumns + `
		FROM budget_allocations
		WHERE budget_id = $1
		ORDER BY department_pool_id
	`

	rows, err := r.db.QueryContext(ctx, query, budgetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budget allocations: %w", err)
	}
	defer rows.Close()

	allocations := make([]*domain.BudgetAllocation, 0)
	for rows.Next() {
		allocation, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget allocation: %w", err)
		}
		allocations = append(allocations, allocation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate budget allocations: %w", err)
	}

	return allocations, nil
}
