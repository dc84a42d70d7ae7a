package workflow

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

	"github.com/brightperks/points-backend/internal/adapter/directory"
	"github.com/brightperks/points-backend/internal/adapter/fx"
	"github.com/brightperks/points-backend/internal/adapter/repository/memory"
	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
	"github.com/brightperks/points-backend/internal/metrics"
	"github.com/brightperks/points-backend/internal/usecase/engine"
)

type fixture struct {
	store    *memory.Store
	svc      *Service
	resolver *directory.StaticResolver

	tenantID uuid.UUID
	platform uuid.UUID
	master   uuid.UUID
	dept     uuid.UUID
	budget   *domain.Budget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewStore()
	transfers := memory.NewTransferRepo(store)
	budgets := memory.NewBudgetRepo(store)
	resolver := directory.NewStaticResolver()

	eng := engine.NewEngine(store, transfers, store, lock.NewMutexManager(), fx.NewStaticRateProvider(), metrics.New(), log)
	svc := NewService(eng, store, budgets, transfers, resolver, 500, log)

	f := &fixture{
		store:    store,
		svc:      svc,
		resolver: resolver,
		tenantID: uuid.New(),
		platform: uuid.New(),
		master:   uuid.New(),
		dept:     uuid.New(),
	}

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &domain.Pool{
		ID:        f.platform,
		Name:      "platform",
		PoolType:  domain.PoolTypePlatform,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.NewFromInt(1000000),
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Create(ctx, &domain.Pool{
		ID:        f.master,
		TenantID:  &f.tenantID,
		Name:      "acme master",
		PoolType:  domain.PoolTypeTenantMaster,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.NewFromInt(50000),
		CreatedAt: time.Now(),
	}))
	require.NoError(t, store.Create(ctx, &domain.Pool{
		ID:        f.dept,
		TenantID:  &f.tenantID,
		Name:      "engineering",
		PoolType:  domain.PoolTypeDepartment,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.NewFromInt(10000),
		CreatedAt: time.Now(),
	}))

	f.budget = &domain.Budget{
		ID:          uuid.New(),
		TenantID:    f.tenantID,
		Name:        "FY2026",
		FiscalYear:  2026,
		TotalPoints: decimal.NewFromInt(40000),
		Status:      domain.BudgetStatusActive,
		ExpiryDate:  time.Now().Add(90 * 24 * time.Hour),
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateBudget(ctx, f.budget))

	// The department already holds 10000, so give it a matching
	// allocation row.
	require.NoError(t, store.Atomically(ctx, func(tx domain.LedgerTx) error {
		return tx.AdjustAllocation(ctx, f.budget.ID, f.dept, decimal.NewFromInt(10000))
	}))

	return f
}

// addWallet registers an employee wallet pool and its directory membership.
func (f *fixture) addWallet(t *testing.T, active bool) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, f.store.Create(context.Background(), &domain.Pool{
		ID:        id,
		TenantID:  &f.tenantID,
		Name:      "wallet " + id.String()[:8],
		PoolType:  domain.PoolTypeEmployeeWallet,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}))
	f.resolver.Upsert(directory.Membership{
		WalletPoolID: id,
		DepartmentID: f.dept,
		TenantID:     f.tenantID,
		Active:       active,
	})
	return id
}

func (f *fixture) balance(t *testing.T, poolID uuid.UUID) decimal.Decimal {
	t.Helper()
	pool, err := f.store.GetByID(context.Background(), poolID)
	require.NoError(t, err)
	return pool.Balance
}

func TestAllocate_PlatformToTenantNeedsNoBudget(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.platform,
		ChildPoolID:    f.master,
		Amount:         decimal.NewFromInt(5000),
		IdempotencyKey: "fund-acme-1",
		ActorRole:      "platform_admin",
	})

	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.True(t, f.balance(t, f.master).Equal(decimal.NewFromInt(55000)))
}

func TestAllocate_TenantToDepartmentAdjustsAllocation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(2000),
		IdempotencyKey: "alloc-eng-1",
		ActorRole:      "tenant_admin",
	})

	require.NoError(t, err)
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(12000)))

	allocation, err := f.store.GetAllocation(context.Background(), f.budget.ID, f.dept)
	require.NoError(t, err)
	assert.True(t, allocation.AllocatedPoints.Equal(decimal.NewFromInt(12000)))
}

func TestAllocate_RejectedWhenAllocationWouldExceedBudgetTotal(t *testing.T) {
	f := newFixture(t)

	// 10000 already allocated against a 40000 budget
	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(30001),
		IdempotencyKey: "alloc-too-big",
	})

	assert.ErrorIs(t, err, domain.ErrAllocationExceedsBudget)
	// The transfer rolled back with the allocation adjustment
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(10000)))
	assert.True(t, f.balance(t, f.master).Equal(decimal.NewFromInt(50000)))
}

func TestAllocate_RejectedWithoutActiveBudget(t *testing.T) {
	f := newFixture(t)

	f.budget.Status = domain.BudgetStatusClosed
	require.NoError(t, f.store.UpdateBudget(context.Background(), f.budget))

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "alloc-no-budget",
	})

	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestAllocate_RejectedAgainstExpiredBudget(t *testing.T) {
	f := newFixture(t)

	f.budget.ExpiryDate = time.Now().Add(-time.Hour)
	require.NoError(t, f.store.UpdateBudget(context.Background(), f.budget))

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "alloc-expired",
	})

	assert.ErrorIs(t, err, domain.ErrBudgetState)
}

func TestAllocate_DepartmentToWalletTracksSpend(t *testing.T) {
	f := newFixture(t)
	wallet := f.addWallet(t, true)

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(400),
		IdempotencyKey: "spend-1",
		ActorRole:      "dept_manager",
	})

	require.NoError(t, err)
	assert.True(t, f.balance(t, wallet).Equal(decimal.NewFromInt(400)))

	allocation, err := f.store.GetAllocation(context.Background(), f.budget.ID, f.dept)
	require.NoError(t, err)
	assert.True(t, allocation.SpentPoints.Equal(decimal.NewFromInt(400)))
}

func TestAllocate_RejectsHierarchySkips(t *testing.T) {
	f := newFixture(t)
	wallet := f.addWallet(t, true)

	// Tenant master crediting a wallet directly skips the department level
	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "skip-level",
	})

	assert.True(t, domain.IsValidation(err))
}

func TestAllocate_RejectsCrossTenantPairs(t *testing.T) {
	f := newFixture(t)

	otherTenant := uuid.New()
	foreignDept := uuid.New()
	require.NoError(t, f.store.Create(context.Background(), &domain.Pool{
		ID:        foreignDept,
		TenantID:  &otherTenant,
		Name:      "foreign dept",
		PoolType:  domain.PoolTypeDepartment,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}))

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    foreignDept,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "cross-tenant",
	})

	assert.True(t, domain.IsValidation(err))
}

func TestAllocate_ReplayReturnsRecordedResult(t *testing.T) {
	f := newFixture(t)

	input := AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "alloc-retry",
	}

	first, err := f.svc.Allocate(context.Background(), input)
	require.NoError(t, err)

	second, err := f.svc.Allocate(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	// Exactly one balance change despite two calls
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(11000)))
}

func TestFanOutDistribute_CreditsEveryWalletAtomically(t *testing.T) {
	f := newFixture(t)
	wallets := make([]uuid.UUID, 0, 20)
	for i := 0; i < 20; i++ {
		wallets = append(wallets, f.addWallet(t, true))
	}

	result, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(400),
		IdempotencyKey:     "q3-bonus",
		ActorRole:          "dept_manager",
	})

	require.NoError(t, err)
	assert.Equal(t, 20, result.CreditedCount)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(8000)))
	assert.True(t, result.ParentBalanceAfter.Equal(decimal.NewFromInt(2000)))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(2000)))
	for _, w := range wallets {
		assert.True(t, f.balance(t, w).Equal(decimal.NewFromInt(400)))
	}

	allocation, err := f.store.GetAllocation(context.Background(), f.budget.ID, f.dept)
	require.NoError(t, err)
	assert.True(t, allocation.SpentPoints.Equal(decimal.NewFromInt(8000)))
}

func TestFanOutDistribute_SkipsInactiveMembers(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, true)
	f.addWallet(t, true)
	inactive := f.addWallet(t, false)

	result, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "active-only",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.CreditedCount)
	assert.True(t, f.balance(t, inactive).Equal(decimal.Zero))
}

func TestFanOutDistribute_InsufficientFundsLeavesNothingCredited(t *testing.T) {
	f := newFixture(t)
	wallets := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		wallets = append(wallets, f.addWallet(t, true))
	}

	// 3 x 4000 = 12000 against a 10000 department balance
	_, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(4000),
		IdempotencyKey:     "over-fanout",
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(10000)))
	for _, w := range wallets {
		assert.True(t, f.balance(t, w).Equal(decimal.Zero))
	}
}

func TestFanOutDistribute_StaleSnapshotFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.addWallet(t, true)
	snapshot := []uuid.UUID{uuid.New()} // previewed set no longer matches

	_, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "stale-snapshot",
		SnapshotRecipients: snapshot,
	})

	assert.ErrorIs(t, err, domain.ErrStaleRecipients)
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(10000)))
}

func TestFanOutDistribute_QuarantinedRecipientFailsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ok1 := f.addWallet(t, true)
	quarantined := f.addWallet(t, true)
	require.NoError(t, f.store.SetStatus(context.Background(), quarantined, domain.PoolStatusQuarantined))

	_, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "frozen-member",
	})

	assert.ErrorIs(t, err, domain.ErrStaleRecipients)
	assert.True(t, f.balance(t, ok1).Equal(decimal.Zero))
}

func TestFanOutDistribute_RejectsOversizedBatch(t *testing.T) {
	f := newFixture(t)
	f.svc.MaxFanOutRecipients = 2
	for i := 0; i < 3; i++ {
		f.addWallet(t, true)
	}

	_, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(1),
		IdempotencyKey:     "too-many",
	})

	assert.ErrorIs(t, err, domain.ErrFanOutTooLarge)
}

func TestFanOutDistribute_RejectsEmptySelection(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FanOutDistribute(context.Background(), FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "nobody-home",
	})

	assert.True(t, domain.IsValidation(err))
}

func TestFanOutDistribute_ReplayReportsOriginalOutcome(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.addWallet(t, true)
	}

	input := FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(250),
		IdempotencyKey:     "fanout-retry",
	}

	first, err := f.svc.FanOutDistribute(context.Background(), input)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := f.svc.FanOutDistribute(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.CreditedCount, second.CreditedCount)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(9000)))
}

func TestRecall_AmountFromWalletReducesSpend(t *testing.T) {
	f := newFixture(t)
	wallet := f.addWallet(t, true)

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(500),
		IdempotencyKey: "spend-for-recall",
	})
	require.NoError(t, err)

	_, err = f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    wallet,
		ParentPoolID:   f.dept,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindAmount, Amount: decimal.NewFromInt(200)},
		IdempotencyKey: "recall-200",
	})
	require.NoError(t, err)

	assert.True(t, f.balance(t, wallet).Equal(decimal.NewFromInt(300)))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(9700)))

	allocation, err := f.store.GetAllocation(context.Background(), f.budget.ID, f.dept)
	require.NoError(t, err)
	assert.True(t, allocation.SpentPoints.Equal(decimal.NewFromInt(300)))
}

func TestRecall_AllDrainsChildPool(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.master,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindAll},
		IdempotencyKey: "recall-all-eng",
	})

	require.NoError(t, err)
	assert.True(t, result.Transfer.Amount.Equal(decimal.NewFromInt(10000)))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.Zero))
	assert.True(t, f.balance(t, f.master).Equal(decimal.NewFromInt(60000)))

	allocation, err := f.store.GetAllocation(context.Background(), f.budget.ID, f.dept)
	require.NoError(t, err)
	assert.True(t, allocation.AllocatedPoints.Equal(decimal.Zero))
}

func TestRecall_PercentResolvesAgainstChildBalance(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.master,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindPercent, Percent: decimal.NewFromInt(25)},
		IdempotencyKey: "recall-quarter",
	})

	require.NoError(t, err)
	assert.True(t, result.Transfer.Amount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(7500)))
}

func TestRecall_AllowedAfterBudgetCloses(t *testing.T) {
	f := newFixture(t)

	f.budget.Status = domain.BudgetStatusClosed
	require.NoError(t, f.store.UpdateBudget(context.Background(), f.budget))

	// Closed budgets block new allocation but never trap value
	_, err := f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.master,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindAmount, Amount: decimal.NewFromInt(1000)},
		IdempotencyKey: "recall-after-close",
	})

	require.NoError(t, err)
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(9000)))
}

func TestRecall_RejectsNonAdjacentLevels(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.platform,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindAll},
		IdempotencyKey: "recall-skip",
	})

	assert.True(t, domain.IsValidation(err))
}

func TestAllocate_RetryAfterBudgetCloseReplaysRecordedResult(t *testing.T) {
	f := newFixture(t)

	input := AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "alloc-then-close",
	}
	first, err := f.svc.Allocate(context.Background(), input)
	require.NoError(t, err)

	// The budget closing between attempts must not veto the retry
	f.budget.Status = domain.BudgetStatusClosed
	require.NoError(t, f.store.UpdateBudget(context.Background(), f.budget))

	second, err := f.svc.Allocate(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(11000)))
}

func TestFanOutDistribute_RetryAfterMembershipDriftReplays(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addWallet(t, true)
	}

	snapshot, err := f.resolver.Resolve(context.Background(),
		domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true})
	require.NoError(t, err)

	input := FanOutInput{
		ParentPoolID:       f.dept,
		Selector:           domain.RecipientSelector{Kind: domain.SelectorKindDepartment, TargetID: f.dept, OnlyActive: true},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "fanout-then-drift",
		SnapshotRecipients: snapshot,
	}
	first, err := f.svc.FanOutDistribute(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, 3, first.CreditedCount)

	// A new member joining between attempts must not fail the retry stale
	joined := f.addWallet(t, true)

	second, err := f.svc.FanOutDistribute(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, 3, second.CreditedCount)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.True(t, f.balance(t, joined).Equal(decimal.Zero))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(9700)))
}

func TestRecall_PercentRetryReplaysOriginalAmount(t *testing.T) {
	f := newFixture(t)

	input := RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.master,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindPercent, Percent: decimal.NewFromInt(25)},
		IdempotencyKey: "recall-then-retry",
	}
	first, err := f.svc.Recall(context.Background(), input)
	require.NoError(t, err)
	require.True(t, first.Transfer.Amount.Equal(decimal.NewFromInt(2500)))

	// The department balance moves between attempts; the retry must return
	// the committed amount, not 25% of the new balance.
	_, err = f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.master,
		ChildPoolID:    f.dept,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "refill-after-recall",
	})
	require.NoError(t, err)

	second, err := f.svc.Recall(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	assert.True(t, second.Transfer.Amount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, f.balance(t, f.dept).Equal(decimal.NewFromInt(8500)))
}

func TestRecall_DoesNotConsumeMonthlyCap(t *testing.T) {
	f := newFixture(t)
	wallet := f.addWallet(t, true)

	cap := decimal.NewFromInt(600)
	require.NoError(t, f.store.SetAllocationCap(context.Background(), f.budget.ID, f.dept, &cap))

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(500),
		IdempotencyKey: "cap-spend-1",
	})
	require.NoError(t, err)

	// A large recall back to the tenant master is not a distribution
	_, err = f.svc.Recall(context.Background(), RecallInput{
		ChildPoolID:    f.dept,
		ParentPoolID:   f.master,
		Spec:           domain.RecallSpec{Kind: domain.RecallKindAmount, Amount: decimal.NewFromInt(5000)},
		IdempotencyKey: "cap-recall",
	})
	require.NoError(t, err)

	// 500 + 100 = 600 stays within the cap despite the 5000 recall
	_, err = f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "cap-spend-2",
	})
	require.NoError(t, err)

	// The cap itself still binds distributions
	_, err = f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(1),
		IdempotencyKey: "cap-spend-3",
	})
	assert.ErrorIs(t, err, domain.ErrMonthlyCapExceeded)
}

func TestAllocate_MonthlyCapBlocksDistribution(t *testing.T) {
	f := newFixture(t)
	wallet := f.addWallet(t, true)

	cap := decimal.NewFromInt(600)
	require.NoError(t, f.store.SetAllocationCap(context.Background(), f.budget.ID, f.dept, &cap))

	_, err := f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(500),
		IdempotencyKey: "cap-first",
	})
	require.NoError(t, err)

	_, err = f.svc.Allocate(context.Background(), AllocateInput{
		ParentPoolID:   f.dept,
		ChildPoolID:    wallet,
		Amount:         decimal.NewFromInt(200),
		IdempotencyKey: "cap-second",
	})
	assert.ErrorIs(t, err, domain.ErrMonthlyCapExceeded)
}
