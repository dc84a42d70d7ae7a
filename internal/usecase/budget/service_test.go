package budget

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightperks/points-backend/internal/adapter/repository/memory"
	"github.com/brightperks/points-backend/internal/domain"
)

type fixture struct {
	store    *memory.Store
	svc      *Service
	tenantID uuid.UUID
	dept     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewStore()
	svc := NewService(memory.NewBudgetRepo(store), store, log)

	f := &fixture{
		store:    store,
		svc:      svc,
		tenantID: uuid.New(),
		dept:     uuid.New(),
	}

	require.NoError(t, store.Create(context.Background(), &domain.Pool{
		ID:        f.dept,
		TenantID:  &f.tenantID,
		Name:      "engineering",
		PoolType:  domain.PoolTypeDepartment,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}))

	return f
}

func (f *fixture) draftInput() CreateDraftInput {
	return CreateDraftInput{
		TenantID:    f.tenantID,
		Name:        "FY2026",
		FiscalYear:  2026,
		TotalPoints: decimal.NewFromInt(50000),
		ExpiryDate:  time.Now().Add(365 * 24 * time.Hour),
	}
}

func TestCreateDraft_StartsInDraftStatus(t *testing.T) {
	f := newFixture(t)

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())

	require.NoError(t, err)
	assert.Equal(t, domain.BudgetStatusDraft, budget.Status)
	assert.True(t, budget.TotalPoints.Equal(decimal.NewFromInt(50000)))
}

func TestCreateDraft_RejectsNonPositiveTotal(t *testing.T) {
	f := newFixture(t)

	input := f.draftInput()
	input.TotalPoints = decimal.Zero

	_, err := f.svc.CreateDraft(context.Background(), input)
	assert.True(t, domain.IsValidation(err))
}

func TestUpdateDraft_EditsDraftFields(t *testing.T) {
	f := newFixture(t)

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)

	quarter := 3
	updated, err := f.svc.UpdateDraft(context.Background(), budget.ID, UpdateDraftInput{
		Name:          "FY2026 Q3",
		FiscalYear:    2026,
		FiscalQuarter: &quarter,
		TotalPoints:   decimal.NewFromInt(20000),
		ExpiryDate:    budget.ExpiryDate,
	})

	require.NoError(t, err)
	assert.Equal(t, "FY2026 Q3", updated.Name)
	assert.True(t, updated.TotalPoints.Equal(decimal.NewFromInt(20000)))
}

func TestUpdateDraft_RejectedOnceActive(t *testing.T) {
	f := newFixture(t)
	budget := f.activatedBudget(t)

	_, err := f.svc.UpdateDraft(context.Background(), budget.ID, UpdateDraftInput{
		Name:        "late edit",
		FiscalYear:  2026,
		TotalPoints: decimal.NewFromInt(99999),
		ExpiryDate:  budget.ExpiryDate,
	})

	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestDiscardDraft_DeletesOnlyDrafts(t *testing.T) {
	f := newFixture(t)

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)

	require.NoError(t, f.svc.DiscardDraft(context.Background(), budget.ID))

	_, err = f.svc.Get(context.Background(), budget.ID)
	assert.ErrorIs(t, err, domain.ErrBudgetNotFound)
}

func TestDiscardDraft_RejectedForActiveBudget(t *testing.T) {
	f := newFixture(t)
	budget := f.activatedBudget(t)

	err := f.svc.DiscardDraft(context.Background(), budget.ID)
	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestRegisterDepartment_CreatesZeroedAllocation(t *testing.T) {
	f := newFixture(t)

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)

	cap := decimal.NewFromInt(1000)
	allocation, err := f.svc.RegisterDepartment(context.Background(), budget.ID, f.dept, &cap)

	require.NoError(t, err)
	assert.True(t, allocation.AllocatedPoints.IsZero())
	assert.True(t, allocation.SpentPoints.IsZero())
	require.NotNil(t, allocation.MonthlyCap)
	assert.True(t, allocation.MonthlyCap.Equal(cap))
}

func TestRegisterDepartment_RejectsForeignDepartment(t *testing.T) {
	f := newFixture(t)

	otherTenant := uuid.New()
	foreignDept := uuid.New()
	require.NoError(t, f.store.Create(context.Background(), &domain.Pool{
		ID:        foreignDept,
		TenantID:  &otherTenant,
		Name:      "foreign",
		PoolType:  domain.PoolTypeDepartment,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}))

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)

	_, err = f.svc.RegisterDepartment(context.Background(), budget.ID, foreignDept, nil)
	assert.True(t, domain.IsValidation(err))
}

func TestActivate_RequiresRegisteredDepartment(t *testing.T) {
	f := newFixture(t)

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)

	_, err = f.svc.Activate(context.Background(), budget.ID)
	assert.True(t, domain.IsValidation(err))
}

func TestActivate_OnlyOneActiveBudgetPerTenant(t *testing.T) {
	f := newFixture(t)
	f.activatedBudget(t)

	second, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)
	_, err = f.svc.RegisterDepartment(context.Background(), second.ID, f.dept, nil)
	require.NoError(t, err)

	_, err = f.svc.Activate(context.Background(), second.ID)
	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestClose_IsTerminal(t *testing.T) {
	f := newFixture(t)
	budget := f.activatedBudget(t)

	closed, err := f.svc.Close(context.Background(), budget.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetStatusClosed, closed.Status)

	// No transition out of CLOSED
	_, err = f.svc.Close(context.Background(), budget.ID)
	assert.ErrorIs(t, err, domain.ErrBudgetState)
	_, err = f.svc.Activate(context.Background(), budget.ID)
	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestSweepExpired_ClosesOnlyPastExpiry(t *testing.T) {
	f := newFixture(t)
	budget := f.activatedBudget(t)

	// Nothing expired yet
	closed, err := f.svc.SweepExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	closed, err = f.svc.SweepExpired(context.Background(), budget.ExpiryDate.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	swept, err := f.svc.Get(context.Background(), budget.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BudgetStatusClosed, swept.Status)

	// Second sweep finds nothing to do
	closed, err = f.svc.SweepExpired(context.Background(), budget.ExpiryDate.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}

// activatedBudget creates, registers and activates a budget for the fixture
// tenant.
func (f *fixture) activatedBudget(t *testing.T) *domain.Budget {
	t.Helper()

	budget, err := f.svc.CreateDraft(context.Background(), f.draftInput())
	require.NoError(t, err)
	_, err = f.svc.RegisterDepartment(context.Background(), budget.ID, f.dept, nil)
	require.NoError(t, err)
	active, err := f.svc.Activate(context.Background(), budget.ID)
	require.NoError(t, err)
	return active
}
