package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
	"github.com/brightperks/points-backend/internal/metrics"
	"github.com/brightperks/points-backend/internal/usecase/preview"
)

// Engine executes single value movements between pools as atomic units.
// It is the primitive every allocation workflow composes from.
type Engine struct {
	Store     domain.LedgerStore
	Transfers domain.TransferRepository
	Pools     domain.PoolRepository
	Locks     lock.Manager
	Rates     domain.RateProvider
	Metrics   *metrics.Metrics
	Log       *logrus.Logger
}

// NewEngine creates a new Engine instance
func NewEngine(
	store domain.LedgerStore,
	transfers domain.TransferRepository,
	pools domain.PoolRepository,
	locks lock.Manager,
	rates domain.RateProvider,
	m *metrics.Metrics,
	log *logrus.Logger,
) *Engine {
	return &Engine{
		Store:     store,
		Transfers: transfers,
		Pools:     pools,
		Locks:     locks,
		Rates:     rates,
		Metrics:   m,
		Log:       log,
	}
}

// TransferInput represents the input for a single pool-to-pool movement
type TransferInput struct {
	FromPoolID     uuid.UUID
	ToPoolID       uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	WorkflowRef    string

	// TxHook, when set, runs inside the same store transaction after the
	// balance movement. Workflows use it to adjust budget allocation rows
	// atomically with the transfer. A hook error rolls everything back.
	TxHook func(tx domain.LedgerTx) error
}

// BatchInput represents the input for an atomic fan-out batch: one parent
// debit and N recipient credits that commit or roll back together.
type BatchInput struct {
	FromPoolID         uuid.UUID
	Recipients         []uuid.UUID // ordered, deduplicated by the caller
	PerRecipientAmount decimal.Decimal
	IdempotencyKey     string
	WorkflowRef        string // must be unique per logical invocation
	TxHook             func(tx domain.LedgerTx) error
}

// Transfer executes one atomic movement between two pools.
// Logic:
//  1. Validate inputs before any lock is taken
//  2. Idempotency fast path: a retried key returns the recorded result
//  3. Resolve the currency rate (external I/O, so before locking)
//  4. Lock both pools in ascending id order
//  5. Inside one store transaction: re-check idempotency, re-read both
//     pools, re-check frozen state and balance, move value, append exactly
//     one transfer row
func (e *Engine) Transfer(ctx context.Context, input TransferInput) (*domain.TransferResult, error) {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		e.Metrics.IncrRejected("invalid_amount")
		return nil, domain.ErrInvalidAmount
	}
	if input.FromPoolID == input.ToPoolID {
		e.Metrics.IncrRejected("same_pool")
		return nil, domain.ErrSamePool
	}
	if input.IdempotencyKey == "" {
		e.Metrics.IncrRejected("missing_key")
		return nil, domain.NewValidationError("idempotency key is required")
	}

	// 2. Fast path: the key may already be committed from an earlier attempt
	if result, err := e.replaySingle(ctx, input); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	// 3. Rate resolution happens before lock acquisition; it is I/O to the
	// FX collaborator.
	rate, err := e.resolveRate(ctx, input.FromPoolID, input.ToPoolID)
	if err != nil {
		return nil, err
	}

	// 4. Ordered locks prevent deadlock with overlapping operations
	release, err := e.Locks.LockPools(ctx, input.FromPoolID, input.ToPoolID)
	if err != nil {
		return nil, err
	}
	defer release()

	var committed *domain.Transfer
	var replayed *domain.Transfer

	err = e.Store.Atomically(ctx, func(tx domain.LedgerTx) error {
		// Second idempotency check under the transaction closes the race
		// between the fast path and a concurrent retry.
		if prior, err := tx.GetTransferByIdempotencyKey(ctx, input.IdempotencyKey); err == nil {
			if err := matchesSingle(prior, input); err != nil {
				return err
			}
			replayed = prior
			return nil
		} else if !errors.Is(err, domain.ErrTransferNotFound) {
			return err
		}

		from, err := tx.GetPoolForUpdate(ctx, input.FromPoolID)
		if err != nil {
			return err
		}
		to, err := tx.GetPoolForUpdate(ctx, input.ToPoolID)
		if err != nil {
			return err
		}

		if err := from.CanSend(); err != nil {
			return err
		}
		if err := to.CanReceive(); err != nil {
			return err
		}

		// Same arithmetic as the preview calculator: the committed balance
		// must equal what a preview over the same inputs promised.
		outcome, err := preview.Allocate(from.Balance, input.Amount)
		if err != nil {
			return err
		}
		if !outcome.SufficientFunds {
			return domain.ErrInsufficientFunds
		}

		key := input.IdempotencyKey
		transfer := &domain.Transfer{
			ID:                  uuid.New(),
			FromPoolID:          from.ID,
			ToPoolID:            to.ID,
			Amount:              input.Amount,
			CurrencyRateApplied: rate,
			FromBalanceAfter:    outcome.PoolBalanceAfter,
			ToBalanceAfter:      to.Balance.Add(input.Amount),
			IdempotencyKey:      &key,
			WorkflowRef:         input.WorkflowRef,
			CreatedAt:           time.Now(),
		}
		if err := transfer.Validate(); err != nil {
			return err
		}

		if err := tx.SetPoolBalance(ctx, from.ID, transfer.FromBalanceAfter); err != nil {
			return err
		}
		if err := tx.SetPoolBalance(ctx, to.ID, transfer.ToBalanceAfter); err != nil {
			return err
		}
		if err := tx.AppendTransfer(ctx, transfer); err != nil {
			return err
		}

		if input.TxHook != nil {
			if err := input.TxHook(tx); err != nil {
				return err
			}
		}

		committed = transfer
		return nil
	})
	if err != nil {
		e.Metrics.IncrRejected(rejectionReason(err))
		return nil, err
	}

	if replayed != nil {
		e.Metrics.IncrReplay()
		return &domain.TransferResult{Transfer: *replayed, Replayed: true}, nil
	}

	e.Metrics.IncrTransfersCommitted(workflowKind(input.WorkflowRef), 1)
	e.Log.WithFields(logrus.Fields{
		"module":       "engine",
		"transfer_id":  committed.ID,
		"from_pool":    committed.FromPoolID,
		"to_pool":      committed.ToPoolID,
		"amount":       committed.Amount,
		"workflow_ref": committed.WorkflowRef,
	}).Info("transfer committed")

	return &domain.TransferResult{Transfer: *committed}, nil
}

// TransferBatch executes a fan-out as one atomic unit: the parent is
// debited by per x count and every recipient credited, or nothing happens.
// One transfer row is appended per recipient to preserve per-recipient
// auditability; all rows share the batch workflow ref.
//
// Recipient resolution happened before this call; under the lock each
// recipient is re-validated against the store, and any recipient that has
// vanished or stopped accepting credits fails the whole batch closed with
// ErrStaleRecipients.
func (e *Engine) TransferBatch(ctx context.Context, input BatchInput) (*domain.FanOutResult, error) {
	if input.PerRecipientAmount.LessThanOrEqual(decimal.Zero) {
		e.Metrics.IncrRejected("invalid_amount")
		return nil, domain.ErrInvalidAmount
	}
	if len(input.Recipients) == 0 {
		e.Metrics.IncrRejected("no_recipients")
		return nil, domain.NewValidationError("fan-out requires at least one recipient")
	}
	if input.IdempotencyKey == "" {
		e.Metrics.IncrRejected("missing_key")
		return nil, domain.NewValidationError("idempotency key is required")
	}
	for _, id := range input.Recipients {
		if id == input.FromPoolID {
			e.Metrics.IncrRejected("same_pool")
			return nil, domain.ErrSamePool
		}
	}

	// Fast-path replay check against the batch's first row key
	if result, err := e.replayBatch(ctx, input); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	locked := append([]uuid.UUID{input.FromPoolID}, input.Recipients...)
	release, err := e.Locks.LockPools(ctx, locked...)
	if err != nil {
		return nil, err
	}
	defer release()

	var outcome preview.Result
	var replay *domain.FanOutResult

	err = e.Store.Atomically(ctx, func(tx domain.LedgerTx) error {
		if _, err := tx.GetTransferByIdempotencyKey(ctx, batchRowKey(input.IdempotencyKey, 0)); err == nil {
			r, err := e.rebuildBatchResult(ctx, input)
			if err != nil {
				return err
			}
			replay = r
			return nil
		} else if !errors.Is(err, domain.ErrTransferNotFound) {
			return err
		}

		parent, err := tx.GetPoolForUpdate(ctx, input.FromPoolID)
		if err != nil {
			return err
		}
		if err := parent.CanSend(); err != nil {
			return err
		}

		// Pre-validate the whole batch before crediting anyone
		outcome, err = preview.FanOut(parent.Balance, input.PerRecipientAmount, len(input.Recipients))
		if err != nil {
			return err
		}
		if !outcome.SufficientFunds {
			return domain.ErrInsufficientFunds
		}

		now := time.Now()
		running := parent.Balance
		for i, recipientID := range input.Recipients {
			recipient, err := tx.GetPoolForUpdate(ctx, recipientID)
			if err != nil {
				if errors.Is(err, domain.ErrPoolNotFound) {
					return fmt.Errorf("%w: pool %s no longer exists", domain.ErrStaleRecipients, recipientID)
				}
				return err
			}
			if err := recipient.CanReceive(); err != nil {
				return fmt.Errorf("%w: pool %s: %v", domain.ErrStaleRecipients, recipientID, err)
			}

			running = running.Sub(input.PerRecipientAmount)
			key := batchRowKey(input.IdempotencyKey, i)
			transfer := &domain.Transfer{
				ID:                  uuid.New(),
				FromPoolID:          parent.ID,
				ToPoolID:            recipient.ID,
				Amount:              input.PerRecipientAmount,
				CurrencyRateApplied: decimal.NewFromInt(1),
				FromBalanceAfter:    running,
				ToBalanceAfter:      recipient.Balance.Add(input.PerRecipientAmount),
				IdempotencyKey:      &key,
				WorkflowRef:         input.WorkflowRef,
				CreatedAt:           now,
			}
			if err := transfer.Validate(); err != nil {
				return err
			}

			if err := tx.SetPoolBalance(ctx, recipient.ID, transfer.ToBalanceAfter); err != nil {
				return err
			}
			if err := tx.AppendTransfer(ctx, transfer); err != nil {
				return err
			}
		}

		if err := tx.SetPoolBalance(ctx, parent.ID, outcome.PoolBalanceAfter); err != nil {
			return err
		}

		if input.TxHook != nil {
			if err := input.TxHook(tx); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		e.Metrics.IncrRejected(rejectionReason(err))
		return nil, err
	}

	if replay != nil {
		e.Metrics.IncrReplay()
		return replay, nil
	}

	e.Metrics.IncrTransfersCommitted(workflowKind(input.WorkflowRef), len(input.Recipients))
	e.Metrics.ObserveFanOut(len(input.Recipients))
	e.Log.WithFields(logrus.Fields{
		"module":       "engine",
		"from_pool":    input.FromPoolID,
		"recipients":   len(input.Recipients),
		"total":        outcome.TotalAmount,
		"workflow_ref": input.WorkflowRef,
	}).Info("fan-out batch committed")

	return &domain.FanOutResult{
		WorkflowRef:        input.WorkflowRef,
		CreditedCount:      len(input.Recipients),
		TotalAmount:        outcome.TotalAmount,
		ParentBalanceAfter: outcome.PoolBalanceAfter,
	}, nil
}

// FundPlatform records external value entering the economy through the
// platform pool. The debit side is the reserved external endpoint, so
// conservation across real pools accounts for it as explicit funding.
func (e *Engine) FundPlatform(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (*domain.TransferResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if idempotencyKey == "" {
		return nil, domain.NewValidationError("idempotency key is required")
	}

	if prior, err := e.Transfers.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
		if !prior.IsExternalFunding() || !prior.Amount.Equal(amount) {
			return nil, domain.ErrIdempotencyConflict
		}
		e.Metrics.IncrReplay()
		return &domain.TransferResult{Transfer: *prior, Replayed: true}, nil
	} else if !errors.Is(err, domain.ErrTransferNotFound) {
		return nil, err
	}

	platform, err := e.Pools.GetPlatformPool(ctx)
	if err != nil {
		return nil, err
	}

	release, err := e.Locks.LockPools(ctx, platform.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var committed *domain.Transfer
	err = e.Store.Atomically(ctx, func(tx domain.LedgerTx) error {
		if prior, err := tx.GetTransferByIdempotencyKey(ctx, idempotencyKey); err == nil {
			committed = prior
			return nil
		} else if !errors.Is(err, domain.ErrTransferNotFound) {
			return err
		}

		pool, err := tx.GetPoolForUpdate(ctx, platform.ID)
		if err != nil {
			return err
		}
		if err := pool.CanReceive(); err != nil {
			return err
		}

		key := idempotencyKey
		transfer := &domain.Transfer{
			ID:                  uuid.New(),
			FromPoolID:          domain.ExternalPoolID,
			ToPoolID:            pool.ID,
			Amount:              amount,
			CurrencyRateApplied: decimal.NewFromInt(1),
			FromBalanceAfter:    decimal.Zero, // external endpoint carries no balance
			ToBalanceAfter:      pool.Balance.Add(amount),
			IdempotencyKey:      &key,
			WorkflowRef:         "funding",
			CreatedAt:           time.Now(),
		}
		if err := transfer.Validate(); err != nil {
			return err
		}

		if err := tx.SetPoolBalance(ctx, pool.ID, transfer.ToBalanceAfter); err != nil {
			return err
		}
		if err := tx.AppendTransfer(ctx, transfer); err != nil {
			return err
		}

		committed = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Metrics.IncrTransfersCommitted("funding", 1)
	return &domain.TransferResult{Transfer: *committed}, nil
}

// Reverse appends the opposite transfer of a committed entry. The original
// row is never touched; the reversal references it through its workflow ref.
func (e *Engine) Reverse(ctx context.Context, originalID uuid.UUID, idempotencyKey string) (*domain.TransferResult, error) {
	original, err := e.Transfers.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}

	return e.Transfer(ctx, TransferInput{
		FromPoolID:     original.ToPoolID,
		ToPoolID:       original.FromPoolID,
		Amount:         original.Amount,
		IdempotencyKey: idempotencyKey,
		WorkflowRef:    "reversal:" + original.ID.String(),
	})
}

// replaySingle answers a retried Transfer call from the recorded result.
// Returns (nil, nil) when the key is unknown.
func (e *Engine) replaySingle(ctx context.Context, input TransferInput) (*domain.TransferResult, error) {
	prior, err := e.Transfers.GetByIdempotencyKey(ctx, input.IdempotencyKey)
	if errors.Is(err, domain.ErrTransferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := matchesSingle(prior, input); err != nil {
		e.Metrics.IncrRejected("idempotency_conflict")
		return nil, err
	}

	e.Metrics.IncrReplay()
	return &domain.TransferResult{Transfer: *prior, Replayed: true}, nil
}

// replayBatch answers a retried TransferBatch call from the recorded rows.
// Returns (nil, nil) when the batch was never committed.
func (e *Engine) replayBatch(ctx context.Context, input BatchInput) (*domain.FanOutResult, error) {
	_, err := e.Transfers.GetByIdempotencyKey(ctx, batchRowKey(input.IdempotencyKey, 0))
	if errors.Is(err, domain.ErrTransferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := e.rebuildBatchResult(ctx, input)
	if err != nil {
		e.Metrics.IncrRejected("idempotency_conflict")
		return nil, err
	}

	e.Metrics.IncrReplay()
	return result, nil
}

// rebuildBatchResult reconstructs the originally committed FanOutResult
// from the ledger rows sharing the batch workflow ref, verifying that the
// retried arguments match what was committed.
func (e *Engine) rebuildBatchResult(ctx context.Context, input BatchInput) (*domain.FanOutResult, error) {
	rows, err := e.Transfers.ListByWorkflowRef(ctx, input.WorkflowRef)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(input.Recipients) {
		return nil, domain.ErrIdempotencyConflict
	}
	ordered, err := orderBatchRows(input.IdempotencyKey, rows)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for i, row := range ordered {
		if row.FromPoolID != input.FromPoolID ||
			row.ToPoolID != input.Recipients[i] ||
			!row.Amount.Equal(input.PerRecipientAmount) {
			return nil, domain.ErrIdempotencyConflict
		}
		total = total.Add(row.Amount)
	}

	return &domain.FanOutResult{
		WorkflowRef:        input.WorkflowRef,
		CreditedCount:      len(ordered),
		TotalAmount:        total,
		ParentBalanceAfter: ordered[len(ordered)-1].FromBalanceAfter,
		Replayed:           true,
	}, nil
}

// ReplayFanOut answers a retried fan-out call from the recorded rows without
// re-deriving the recipient set; the committed rows are the authority on who
// was credited. Workflows call this before re-running gating, since budget
// state or directory membership may have drifted after the original commit.
// Returns (nil, nil) when the batch key was never committed.
func (e *Engine) ReplayFanOut(ctx context.Context, batchKey, workflowRef string, fromPoolID uuid.UUID, perRecipient decimal.Decimal) (*domain.FanOutResult, error) {
	if batchKey == "" {
		return nil, nil
	}
	if _, err := e.Transfers.GetByIdempotencyKey(ctx, batchRowKey(batchKey, 0)); err != nil {
		if errors.Is(err, domain.ErrTransferNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := e.Transfers.ListByWorkflowRef(ctx, workflowRef)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// The marker exists under a different workflow ref: the key was
		// reused with different arguments.
		e.Metrics.IncrRejected("idempotency_conflict")
		return nil, domain.ErrIdempotencyConflict
	}
	ordered, err := orderBatchRows(batchKey, rows)
	if err != nil {
		e.Metrics.IncrRejected("idempotency_conflict")
		return nil, err
	}

	total := decimal.Zero
	for _, row := range ordered {
		if row.FromPoolID != fromPoolID || !row.Amount.Equal(perRecipient) {
			e.Metrics.IncrRejected("idempotency_conflict")
			return nil, domain.ErrIdempotencyConflict
		}
		total = total.Add(row.Amount)
	}

	e.Metrics.IncrReplay()
	return &domain.FanOutResult{
		WorkflowRef:        workflowRef,
		CreditedCount:      len(ordered),
		TotalAmount:        total,
		ParentBalanceAfter: ordered[len(ordered)-1].FromBalanceAfter,
		Replayed:           true,
	}, nil
}

// orderBatchRows arranges committed batch rows by the position recorded in
// their row key. Rows of one batch share a single created_at, so stores
// cannot promise a stable row order; the key suffix is the authority.
func orderBatchRows(batchKey string, rows []*domain.Transfer) ([]*domain.Transfer, error) {
	ordered := make([]*domain.Transfer, len(rows))
	for _, row := range rows {
		if row.IdempotencyKey == nil {
			return nil, domain.ErrIdempotencyConflict
		}
		suffix, ok := strings.CutPrefix(*row.IdempotencyKey, batchKey+"/")
		if !ok {
			return nil, domain.ErrIdempotencyConflict
		}
		i, err := strconv.Atoi(suffix)
		if err != nil || i < 0 || i >= len(ordered) || ordered[i] != nil {
			return nil, domain.ErrIdempotencyConflict
		}
		ordered[i] = row
	}
	return ordered, nil
}

// resolveRate returns the tenant conversion rate when the movement crosses
// the platform/tenant boundary, 1 otherwise. Amounts stay ledgered in
// tenant base points either way.
func (e *Engine) resolveRate(ctx context.Context, fromPoolID, toPoolID uuid.UUID) (decimal.Decimal, error) {
	from, err := e.Pools.GetByID(ctx, fromPoolID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if from.PoolType != domain.PoolTypePlatform {
		return decimal.NewFromInt(1), nil
	}

	to, err := e.Pools.GetByID(ctx, toPoolID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if to.TenantID == nil {
		return decimal.NewFromInt(1), nil
	}

	rate, err := e.Rates.RateFor(ctx, *to.TenantID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to resolve conversion rate: %w", err)
	}
	return rate, nil
}

// matchesSingle verifies that a retried call carries the same arguments as
// the committed transfer recorded under its key.
func matchesSingle(prior *domain.Transfer, input TransferInput) error {
	if prior.FromPoolID != input.FromPoolID ||
		prior.ToPoolID != input.ToPoolID ||
		!prior.Amount.Equal(input.Amount) {
		return domain.ErrIdempotencyConflict
	}
	return nil
}

// batchRowKey derives the per-row idempotency key for a batch entry. Row 0
// doubles as the batch's replay marker.
func batchRowKey(batchKey string, index int) string {
	return fmt.Sprintf("%s/%d", batchKey, index)
}

// rejectionReason maps an error to a bounded metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrPoolFrozen):
		return "pool_frozen"
	case errors.Is(err, domain.ErrPoolQuarantined):
		return "pool_quarantined"
	case errors.Is(err, domain.ErrPoolNotFound):
		return "pool_not_found"
	case errors.Is(err, domain.ErrStaleRecipients):
		return "stale_recipients"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return "idempotency_conflict"
	default:
		return "other"
	}
}

// workflowKind maps a workflow ref ("kind:key;actor=role") to a bounded
// metrics label.
func workflowKind(ref string) string {
	if i := strings.IndexByte(ref, ':'); i > 0 {
		return ref[:i]
	}
	return "unknown"
}
