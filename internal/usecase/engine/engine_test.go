package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightperks/points-backend/internal/adapter/fx"
	"github.com/brightperks/points-backend/internal/adapter/repository/memory"
	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
	"github.com/brightperks/points-backend/internal/metrics"
)

type harness struct {
	store *memory.Store
	rates *fx.StaticRateProvider
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := memory.NewStore()
	rates := fx.NewStaticRateProvider()
	eng := NewEngine(store, memory.NewTransferRepo(store), store, lock.NewMutexManager(), rates, metrics.New(), log)

	return &harness{store: store, rates: rates, eng: eng}
}

func (h *harness) addPool(t *testing.T, poolType domain.PoolType, tenantID *uuid.UUID, balance int64) uuid.UUID {
	t.Helper()

	id := uuid.New()
	require.NoError(t, h.store.Create(context.Background(), &domain.Pool{
		ID:        id,
		TenantID:  tenantID,
		Name:      string(poolType) + " " + id.String()[:8],
		PoolType:  poolType,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: time.Now(),
	}))
	return id
}

func (h *harness) balance(t *testing.T, poolID uuid.UUID) decimal.Decimal {
	t.Helper()
	pool, err := h.store.GetByID(context.Background(), poolID)
	require.NoError(t, err)
	return pool.Balance
}

// replayBalance recomputes a pool balance purely from the transfer log.
func (h *harness) replayBalance(t *testing.T, poolID uuid.UUID) decimal.Decimal {
	t.Helper()
	in, out, err := h.store.SumForPool(context.Background(), poolID)
	require.NoError(t, err)
	return in.Sub(out)
}

func tenantPair(t *testing.T, h *harness, fromBalance int64) (uuid.UUID, uuid.UUID) {
	t.Helper()
	tenantID := uuid.New()
	from := h.addPool(t, domain.PoolTypeDepartment, &tenantID, fromBalance)
	to := h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0)
	return from, to
}

func TestTransfer_MovesExactAmountAndAppendsOneRow(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	result, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID:     from,
		ToPoolID:       to,
		Amount:         decimal.NewFromInt(400),
		IdempotencyKey: "t-1",
		WorkflowRef:    "allocate:t-1",
	})

	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.True(t, h.balance(t, from).Equal(decimal.NewFromInt(600)))
	assert.True(t, h.balance(t, to).Equal(decimal.NewFromInt(400)))
	assert.True(t, result.Transfer.FromBalanceAfter.Equal(decimal.NewFromInt(600)))
	assert.True(t, result.Transfer.ToBalanceAfter.Equal(decimal.NewFromInt(400)))

	rows, err := h.store.ListByWorkflowRef(context.Background(), "allocate:t-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTransfer_ExactBalanceSucceedsOneCentOverFails(t *testing.T) {
	h := newHarness(t)

	// Draining the pool to exactly zero is legal
	from, to := tenantPair(t, h, 1000)
	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID:     from,
		ToPoolID:       to,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "exact",
		WorkflowRef:    "allocate:exact",
	})
	require.NoError(t, err)
	assert.True(t, h.balance(t, from).IsZero())

	// One hundredth over is not
	from2, to2 := tenantPair(t, h, 1000)
	_, err = h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID:     from2,
		ToPoolID:       to2,
		Amount:         decimal.RequireFromString("1000.01"),
		IdempotencyKey: "over",
		WorkflowRef:    "allocate:over",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, h.balance(t, from2).Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.balance(t, to2).IsZero())
}

func TestTransfer_RejectsNonPositiveAmountAndSamePool(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.Zero,
		IdempotencyKey: "zero",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: from,
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "same",
	})
	assert.ErrorIs(t, err, domain.ErrSamePool)
}

func TestTransfer_FrozenPoolCanReceiveButNotSend(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)
	require.NoError(t, h.store.SetStatus(context.Background(), to, domain.PoolStatusFrozen))

	// Frozen destination still receives
	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "into-frozen",
		WorkflowRef:    "allocate:into-frozen",
	})
	require.NoError(t, err)

	// Frozen source cannot send
	_, err = h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: to, ToPoolID: from,
		Amount:         decimal.NewFromInt(50),
		IdempotencyKey: "out-of-frozen",
		WorkflowRef:    "recall:out-of-frozen",
	})
	assert.ErrorIs(t, err, domain.ErrPoolFrozen)
}

func TestTransfer_IdempotentReplayChangesNothing(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	input := TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(250),
		IdempotencyKey: "retry-me",
		WorkflowRef:    "allocate:retry-me",
	}

	first, err := h.eng.Transfer(context.Background(), input)
	require.NoError(t, err)

	second, err := h.eng.Transfer(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transfer.ID, second.Transfer.ID)
	// Exactly one ledger row and one balance change
	count, err := h.store.CountForPool(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, h.balance(t, from).Equal(decimal.NewFromInt(750)))
}

func TestTransfer_KeyReuseWithDifferentArgumentsConflicts(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "shared-key",
		WorkflowRef:    "allocate:shared-key",
	})
	require.NoError(t, err)

	_, err = h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(999), // different amount, same key
		IdempotencyKey: "shared-key",
		WorkflowRef:    "allocate:shared-key",
	})
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestTransfer_FailingHookRollsBackBalances(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	boom := fmt.Errorf("allocation bookkeeping failed")
	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(100),
		IdempotencyKey: "hook-fail",
		WorkflowRef:    "allocate:hook-fail",
		TxHook: func(tx domain.LedgerTx) error {
			return boom
		},
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, h.balance(t, from).Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.balance(t, to).IsZero())
	count, err := h.store.CountForPool(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTransfer_ConcurrentDebitsLoseNoUpdates(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 100)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.Transfer(context.Background(), TransferInput{
				FromPoolID: from, ToPoolID: to,
				Amount:         decimal.NewFromInt(1),
				IdempotencyKey: fmt.Sprintf("concurrent-%d", i),
				WorkflowRef:    fmt.Sprintf("allocate:concurrent-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.True(t, h.balance(t, from).IsZero())
	assert.True(t, h.balance(t, to).Equal(decimal.NewFromInt(100)))
	assert.True(t, h.replayBalance(t, to).Equal(decimal.NewFromInt(100)))
}

func TestTransfer_OpposingDirectionsDoNotDeadlock(t *testing.T) {
	h := newHarness(t)
	a, b := tenantPair(t, h, 500)
	// Give b funds to send back
	_, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: a, ToPoolID: b,
		Amount:         decimal.NewFromInt(250),
		IdempotencyKey: "seed-b",
		WorkflowRef:    "allocate:seed-b",
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.Transfer(context.Background(), TransferInput{
				FromPoolID: a, ToPoolID: b,
				Amount:         decimal.NewFromInt(1),
				IdempotencyKey: fmt.Sprintf("ab-%d", i),
				WorkflowRef:    fmt.Sprintf("allocate:ab-%d", i),
			})
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := h.eng.Transfer(context.Background(), TransferInput{
				FromPoolID: b, ToPoolID: a,
				Amount:         decimal.NewFromInt(1),
				IdempotencyKey: fmt.Sprintf("ba-%d", i),
				WorkflowRef:    fmt.Sprintf("recall:ba-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Equal counts in both directions cancel out
	assert.True(t, h.balance(t, a).Equal(decimal.NewFromInt(250)))
	assert.True(t, h.balance(t, b).Equal(decimal.NewFromInt(250)))
}

func TestTransfer_RecordsTenantConversionRate(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	platform := h.addPool(t, domain.PoolTypePlatform, nil, 10000)
	master := h.addPool(t, domain.PoolTypeTenantMaster, &tenantID, 0)
	h.rates.SetRate(tenantID, decimal.RequireFromString("2.5"))

	result, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: platform, ToPoolID: master,
		Amount:         decimal.NewFromInt(1000),
		IdempotencyKey: "fx-alloc",
		WorkflowRef:    "allocate:fx-alloc",
	})

	require.NoError(t, err)
	// The rate is metadata; the ledgered amount stays in base points
	assert.True(t, result.Transfer.CurrencyRateApplied.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, result.Transfer.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.balance(t, master).Equal(decimal.NewFromInt(1000)))
}

func TestTransferBatch_AppendsOneRowPerRecipient(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 10000)
	recipients := make([]uuid.UUID, 0, 20)
	for i := 0; i < 20; i++ {
		recipients = append(recipients, h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0))
	}

	result, err := h.eng.TransferBatch(context.Background(), BatchInput{
		FromPoolID:         parent,
		Recipients:         recipients,
		PerRecipientAmount: decimal.NewFromInt(400),
		IdempotencyKey:     "batch-20",
		WorkflowRef:        "fanout:batch-20",
	})

	require.NoError(t, err)
	assert.Equal(t, 20, result.CreditedCount)
	assert.True(t, result.TotalAmount.Equal(decimal.NewFromInt(8000)))
	assert.True(t, result.ParentBalanceAfter.Equal(decimal.NewFromInt(2000)))
	assert.True(t, h.balance(t, parent).Equal(decimal.NewFromInt(2000)))

	rows, err := h.store.ListByWorkflowRef(context.Background(), "fanout:batch-20")
	require.NoError(t, err)
	require.Len(t, rows, 20)
	for i, row := range rows {
		assert.Equal(t, parent, row.FromPoolID)
		assert.Equal(t, recipients[i], row.ToPoolID)
		assert.True(t, row.Amount.Equal(decimal.NewFromInt(400)))
	}
}

func TestTransferBatch_VanishedRecipientFailsWholeBatch(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 10000)
	ok1 := h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0)
	ghost := uuid.New() // never created

	_, err := h.eng.TransferBatch(context.Background(), BatchInput{
		FromPoolID:         parent,
		Recipients:         []uuid.UUID{ok1, ghost},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "batch-ghost",
		WorkflowRef:        "fanout:batch-ghost",
	})

	assert.ErrorIs(t, err, domain.ErrStaleRecipients)
	assert.True(t, h.balance(t, parent).Equal(decimal.NewFromInt(10000)))
	assert.True(t, h.balance(t, ok1).IsZero())
}

func TestTransferBatch_FailingHookRollsBackEveryCredit(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 10000)
	recipients := []uuid.UUID{
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
	}

	boom := fmt.Errorf("spend bookkeeping failed")
	_, err := h.eng.TransferBatch(context.Background(), BatchInput{
		FromPoolID:         parent,
		Recipients:         recipients,
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "batch-hook-fail",
		WorkflowRef:        "fanout:batch-hook-fail",
		TxHook: func(tx domain.LedgerTx) error {
			return boom
		},
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, h.balance(t, parent).Equal(decimal.NewFromInt(10000)))
	for _, r := range recipients {
		assert.True(t, h.balance(t, r).IsZero())
	}
	rows, err := h.store.ListByWorkflowRef(context.Background(), "fanout:batch-hook-fail")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestTransferBatch_ReplayRebuildsOriginalResult(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 1000)
	recipients := []uuid.UUID{
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
	}

	input := BatchInput{
		FromPoolID:         parent,
		Recipients:         recipients,
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "batch-retry",
		WorkflowRef:        "fanout:batch-retry",
	}

	first, err := h.eng.TransferBatch(context.Background(), input)
	require.NoError(t, err)

	second, err := h.eng.TransferBatch(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.CreditedCount, second.CreditedCount)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.True(t, first.ParentBalanceAfter.Equal(second.ParentBalanceAfter))
	// Still exactly one row per recipient
	rows, err := h.store.ListByWorkflowRef(context.Background(), "fanout:batch-retry")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, h.balance(t, parent).Equal(decimal.NewFromInt(800)))
}

// scrambledLog returns workflow rows in reversed order; batch rows share one
// created_at, so a SQL store may hand them back in any order.
type scrambledLog struct {
	domain.TransferRepository
}

func (l scrambledLog) ListByWorkflowRef(ctx context.Context, ref string) ([]*domain.Transfer, error) {
	rows, err := l.TransferRepository.ListByWorkflowRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func TestTransferBatch_ReplaySurvivesUnorderedLogReads(t *testing.T) {
	h := newHarness(t)
	h.eng.Transfers = scrambledLog{h.eng.Transfers}
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 1000)
	recipients := []uuid.UUID{
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
		h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0),
	}

	input := BatchInput{
		FromPoolID:         parent,
		Recipients:         recipients,
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "batch-unordered",
		WorkflowRef:        "fanout:batch-unordered",
	}

	first, err := h.eng.TransferBatch(context.Background(), input)
	require.NoError(t, err)

	second, err := h.eng.TransferBatch(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.CreditedCount, second.CreditedCount)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	// The last debit, not whichever row the store listed last
	assert.True(t, second.ParentBalanceAfter.Equal(decimal.NewFromInt(700)))
	assert.True(t, h.balance(t, parent).Equal(decimal.NewFromInt(700)))
}

func TestTransferBatch_ReplayWithDifferentRecipientsConflicts(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	parent := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 1000)
	r1 := h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0)
	r2 := h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0)

	input := BatchInput{
		FromPoolID:         parent,
		Recipients:         []uuid.UUID{r1},
		PerRecipientAmount: decimal.NewFromInt(100),
		IdempotencyKey:     "batch-mutate",
		WorkflowRef:        "fanout:batch-mutate",
	}
	_, err := h.eng.TransferBatch(context.Background(), input)
	require.NoError(t, err)

	input.Recipients = []uuid.UUID{r2}
	_, err = h.eng.TransferBatch(context.Background(), input)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
}

func TestFundPlatform_LedgersExternalEntry(t *testing.T) {
	h := newHarness(t)
	platform := h.addPool(t, domain.PoolTypePlatform, nil, 0)

	result, err := h.eng.FundPlatform(context.Background(), decimal.NewFromInt(50000), "fund-1")

	require.NoError(t, err)
	assert.Equal(t, domain.ExternalPoolID, result.Transfer.FromPoolID)
	assert.True(t, h.balance(t, platform).Equal(decimal.NewFromInt(50000)))
	// The funding row makes log replay agree with the projection
	assert.True(t, h.replayBalance(t, platform).Equal(decimal.NewFromInt(50000)))

	replay, err := h.eng.FundPlatform(context.Background(), decimal.NewFromInt(50000), "fund-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.True(t, h.balance(t, platform).Equal(decimal.NewFromInt(50000)))
}

func TestReverse_AppendsOppositeEntry(t *testing.T) {
	h := newHarness(t)
	from, to := tenantPair(t, h, 1000)

	original, err := h.eng.Transfer(context.Background(), TransferInput{
		FromPoolID: from, ToPoolID: to,
		Amount:         decimal.NewFromInt(300),
		IdempotencyKey: "orig",
		WorkflowRef:    "allocate:orig",
	})
	require.NoError(t, err)

	reversal, err := h.eng.Reverse(context.Background(), original.Transfer.ID, "undo-orig")
	require.NoError(t, err)

	assert.Equal(t, to, reversal.Transfer.FromPoolID)
	assert.Equal(t, from, reversal.Transfer.ToPoolID)
	assert.True(t, reversal.Transfer.Amount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "reversal:"+original.Transfer.ID.String(), reversal.Transfer.WorkflowRef)
	// Both rows stay in the log; balances are back where they started
	assert.True(t, h.balance(t, from).Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.balance(t, to).IsZero())
	count, err := h.store.CountForPool(context.Background(), from)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConservation_TotalBalanceEqualsExternalFunding(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	platform := h.addPool(t, domain.PoolTypePlatform, nil, 0)
	master := h.addPool(t, domain.PoolTypeTenantMaster, &tenantID, 0)
	dept := h.addPool(t, domain.PoolTypeDepartment, &tenantID, 0)
	wallet := h.addPool(t, domain.PoolTypeEmployeeWallet, &tenantID, 0)

	_, err := h.eng.FundPlatform(context.Background(), decimal.NewFromInt(100000), "seed")
	require.NoError(t, err)

	steps := []struct {
		from, to uuid.UUID
		amount   int64
		key      string
	}{
		{platform, master, 40000, "c1"},
		{master, dept, 15000, "c2"},
		{dept, wallet, 2000, "c3"},
		{wallet, dept, 500, "c4"},  // recall
		{dept, master, 3000, "c5"}, // recall
	}
	for _, step := range steps {
		_, err := h.eng.Transfer(context.Background(), TransferInput{
			FromPoolID: step.from, ToPoolID: step.to,
			Amount:         decimal.NewFromInt(step.amount),
			IdempotencyKey: step.key,
			WorkflowRef:    "allocate:" + step.key,
		})
		require.NoError(t, err)
	}

	// Internal movements never create or destroy value
	total := decimal.Zero
	for _, id := range []uuid.UUID{platform, master, dept, wallet} {
		total = total.Add(h.balance(t, id))
		// And every projection agrees with its log replay
		assert.True(t, h.replayBalance(t, id).Equal(h.balance(t, id)))
	}
	assert.True(t, total.Equal(decimal.NewFromInt(100000)))
}
