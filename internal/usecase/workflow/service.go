package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/usecase/engine"
)

// Service implements the three allocation workflows on top of the transfer
// engine: Allocate (parent -> child), FanOutDistribute (parent -> N
// recipients) and Recall (child -> parent). Budget gating and allocation
// bookkeeping happen here; the engine owns locking and atomicity.
type Service struct {
	Engine       *engine.Engine
	PoolRepo     domain.PoolRepository
	BudgetRepo   domain.BudgetRepository
	TransferRepo domain.TransferRepository
	Resolver     domain.RecipientResolver

	// MaxFanOutRecipients bounds how long a single batch holds its locks.
	// Larger distributions are split by the caller into separate
	// idempotent operations.
	MaxFanOutRecipients int

	Log *logrus.Logger
}

// NewService creates a new workflow Service instance
func NewService(
	eng *engine.Engine,
	poolRepo domain.PoolRepository,
	budgetRepo domain.BudgetRepository,
	transferRepo domain.TransferRepository,
	resolver domain.RecipientResolver,
	maxFanOut int,
	log *logrus.Logger,
) *Service {
	return &Service{
		Engine:              eng,
		PoolRepo:            poolRepo,
		BudgetRepo:          budgetRepo,
		TransferRepo:        transferRepo,
		Resolver:            resolver,
		MaxFanOutRecipients: maxFanOut,
		Log:                 log,
	}
}

// AllocateInput represents the input for a single parent-to-child allocation
type AllocateInput struct {
	ParentPoolID   uuid.UUID
	ChildPoolID    uuid.UUID
	Amount         decimal.Decimal
	IdempotencyKey string
	// ActorRole is supplied by the auth collaborator and recorded for
	// audit; this core never second-guesses it.
	ActorRole string
}

// FanOutInput represents the input for an atomic fan-out distribution
type FanOutInput struct {
	ParentPoolID       uuid.UUID
	Selector           domain.RecipientSelector
	PerRecipientAmount decimal.Decimal
	IdempotencyKey     string
	ActorRole          string

	// SnapshotRecipients, when set, is the recipient list the caller
	// previewed. If the live resolution differs the commit fails closed
	// with ErrStaleRecipients instead of silently distributing to a
	// changed set.
	SnapshotRecipients []uuid.UUID
}

// RecallInput represents the input for recalling value from a child pool
type RecallInput struct {
	ChildPoolID    uuid.UUID
	ParentPoolID   uuid.UUID
	Spec           domain.RecallSpec
	IdempotencyKey string
	ActorRole      string
}

// Allocate moves value one level down the pool hierarchy.
// Logic:
//  1. Replay a committed key before gating re-runs; a retry is answered from
//     the recorded result even if the budget has since closed
//  2. Fetch both pools and check they form a legal parent/child pair
//  3. Apply budget gating for tenant-scoped allocations
//  4. Invoke the engine with a hook that adjusts the department's
//     allocation row inside the same transaction
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (*domain.TransferResult, error) {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	if prior, err := s.replayCommitted(ctx, input.IdempotencyKey, input.ParentPoolID, input.ChildPoolID); err != nil {
		return nil, err
	} else if prior != nil {
		if !prior.Transfer.Amount.Equal(input.Amount) {
			return nil, domain.ErrIdempotencyConflict
		}
		return prior, nil
	}

	parent, err := s.PoolRepo.GetByID(ctx, input.ParentPoolID)
	if err != nil {
		return nil, err
	}
	child, err := s.PoolRepo.GetByID(ctx, input.ChildPoolID)
	if err != nil {
		return nil, err
	}

	hook, err := s.allocationHook(ctx, parent, child, input.Amount)
	if err != nil {
		return nil, err
	}

	return s.Engine.Transfer(ctx, engine.TransferInput{
		FromPoolID:     parent.ID,
		ToPoolID:       child.ID,
		Amount:         input.Amount,
		IdempotencyKey: input.IdempotencyKey,
		WorkflowRef:    workflowRef("allocate", input.IdempotencyKey, input.ActorRole),
		TxHook:         hook,
	})
}

// allocationHook validates the parent/child relationship, applies budget
// gating, and returns the in-transaction bookkeeping for the pair.
func (s *Service) allocationHook(ctx context.Context, parent, child *domain.Pool, amount decimal.Decimal) (func(domain.LedgerTx) error, error) {
	now := time.Now()

	switch {
	case parent.PoolType == domain.PoolTypePlatform && child.PoolType == domain.PoolTypeTenantMaster:
		// Platform funding of a tenant master is not budget-gated; the
		// budget envelope governs what the tenant does with it.
		return nil, nil

	case parent.PoolType == domain.PoolTypeTenantMaster && child.PoolType == domain.PoolTypeDepartment:
		if err := requireSameTenant(parent, child); err != nil {
			return nil, err
		}
		budget, err := s.BudgetRepo.GetActiveForTenant(ctx, *parent.TenantID)
		if err != nil {
			if errors.Is(err, domain.ErrBudgetNotFound) {
				return nil, domain.ErrBudgetState
			}
			return nil, err
		}
		if err := budget.AllowsAllocation(now); err != nil {
			return nil, err
		}
		budgetID := budget.ID
		childID := child.ID
		return func(tx domain.LedgerTx) error {
			return tx.AdjustAllocation(ctx, budgetID, childID, amount)
		}, nil

	case parent.PoolType == domain.PoolTypeDepartment && child.PoolType == domain.PoolTypeEmployeeWallet:
		if err := requireSameTenant(parent, child); err != nil {
			return nil, err
		}
		budget, err := s.BudgetRepo.GetActiveForTenant(ctx, *parent.TenantID)
		if err != nil {
			if errors.Is(err, domain.ErrBudgetNotFound) {
				return nil, domain.ErrBudgetState
			}
			return nil, err
		}
		if err := budget.AllowsAllocation(now); err != nil {
			return nil, err
		}
		if err := s.checkMonthlyCap(ctx, budget, parent.ID, amount); err != nil {
			return nil, err
		}
		budgetID := budget.ID
		parentID := parent.ID
		return func(tx domain.LedgerTx) error {
			return tx.AdjustSpent(ctx, budgetID, parentID, amount)
		}, nil

	default:
		return nil, domain.NewValidationError("allocation must move one level down the pool hierarchy")
	}
}

// FanOutDistribute credits every resolved recipient from the parent pool as
// one atomic unit: either all recipients are credited and the parent
// debited by per x count, or nothing happens.
// Logic:
//  1. Replay a committed batch before anything re-runs; membership or budget
//     drift since the original commit must not veto a retry
//  2. Resolve the selector through the directory (before any lock)
//  3. Compare against the caller's preview snapshot; fail closed on drift
//  4. Apply budget gating and the fan-out size cap
//  5. Invoke the engine batch, which re-validates every recipient under lock
func (s *Service) FanOutDistribute(ctx context.Context, input FanOutInput) (*domain.FanOutResult, error) {
	if input.PerRecipientAmount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}
	if err := input.Selector.Validate(); err != nil {
		return nil, err
	}

	if result, err := s.Engine.ReplayFanOut(ctx, input.IdempotencyKey,
		workflowRef("fanout", input.IdempotencyKey, input.ActorRole),
		input.ParentPoolID, input.PerRecipientAmount); err != nil {
		return nil, err
	} else if result != nil {
		return result, nil
	}

	parent, err := s.PoolRepo.GetByID(ctx, input.ParentPoolID)
	if err != nil {
		return nil, err
	}
	if parent.PoolType != domain.PoolTypeTenantMaster && parent.PoolType != domain.PoolTypeDepartment {
		return nil, domain.NewValidationError("fan-out parent must be a tenant master or department pool")
	}

	recipients, err := s.Resolver.Resolve(ctx, input.Selector)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, domain.NewValidationError("selector resolved to no recipients")
	}
	if s.MaxFanOutRecipients > 0 && len(recipients) > s.MaxFanOutRecipients {
		return nil, domain.ErrFanOutTooLarge
	}

	if input.SnapshotRecipients != nil && !sameRecipients(input.SnapshotRecipients, recipients) {
		return nil, domain.ErrStaleRecipients
	}

	budget, err := s.BudgetRepo.GetActiveForTenant(ctx, *parent.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrBudgetNotFound) {
			return nil, domain.ErrBudgetState
		}
		return nil, err
	}
	if err := budget.AllowsAllocation(time.Now()); err != nil {
		return nil, err
	}

	total := input.PerRecipientAmount.Mul(decimal.NewFromInt(int64(len(recipients))))

	var hook func(domain.LedgerTx) error
	if parent.PoolType == domain.PoolTypeDepartment {
		if err := s.checkMonthlyCap(ctx, budget, parent.ID, total); err != nil {
			return nil, err
		}
		budgetID := budget.ID
		parentID := parent.ID
		hook = func(tx domain.LedgerTx) error {
			return tx.AdjustSpent(ctx, budgetID, parentID, total)
		}
	}

	result, err := s.Engine.TransferBatch(ctx, engine.BatchInput{
		FromPoolID:         parent.ID,
		Recipients:         recipients,
		PerRecipientAmount: input.PerRecipientAmount,
		IdempotencyKey:     input.IdempotencyKey,
		WorkflowRef:        workflowRef("fanout", input.IdempotencyKey, input.ActorRole),
		TxHook:             hook,
	})
	if err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"module":     "workflow",
		"parent":     parent.ID,
		"recipients": result.CreditedCount,
		"total":      result.TotalAmount,
		"actor_role": input.ActorRole,
	}).Info("fan-out distribution committed")

	return result, nil
}

// Recall moves value back up the hierarchy. Percentage and recall-all
// specs resolve to a concrete amount against the child balance before the
// engine is invoked, so recall shares the exact-amount contract of
// Allocate; the engine re-checks the balance under lock.
func (s *Service) Recall(ctx context.Context, input RecallInput) (*domain.TransferResult, error) {
	// Percent and recall-all specs resolve against the live balance, so a
	// retry cannot re-derive the committed amount; the recorded row answers.
	if prior, err := s.replayCommitted(ctx, input.IdempotencyKey, input.ChildPoolID, input.ParentPoolID); err != nil {
		return nil, err
	} else if prior != nil {
		return prior, nil
	}

	child, err := s.PoolRepo.GetByID(ctx, input.ChildPoolID)
	if err != nil {
		return nil, err
	}
	parent, err := s.PoolRepo.GetByID(ctx, input.ParentPoolID)
	if err != nil {
		return nil, err
	}

	if !isRecallPair(child, parent) {
		return nil, domain.NewValidationError("recall must move one level up the pool hierarchy")
	}
	if child.PoolType != domain.PoolTypeTenantMaster {
		if err := requireSameTenant(child, parent); err != nil {
			return nil, err
		}
	}

	amount, err := input.Spec.Resolve(child.Balance)
	if err != nil {
		return nil, err
	}

	hook := s.recallHook(ctx, child, parent, amount)

	return s.Engine.Transfer(ctx, engine.TransferInput{
		FromPoolID:     child.ID,
		ToPoolID:       parent.ID,
		Amount:         amount,
		IdempotencyKey: input.IdempotencyKey,
		WorkflowRef:    workflowRef("recall", input.IdempotencyKey, input.ActorRole),
		TxHook:         hook,
	})
}

// recallHook returns the allocation bookkeeping for a recall, or nil when
// the tenant has no active budget (recall of historical balances is always
// legal; only the bookkeeping row requires a live budget).
func (s *Service) recallHook(ctx context.Context, child, parent *domain.Pool, amount decimal.Decimal) func(domain.LedgerTx) error {
	if child.TenantID == nil {
		return nil
	}

	budget, err := s.BudgetRepo.GetActiveForTenant(ctx, *child.TenantID)
	if err != nil {
		return nil
	}

	switch {
	case child.PoolType == domain.PoolTypeDepartment && parent.PoolType == domain.PoolTypeTenantMaster:
		if _, err := s.BudgetRepo.GetAllocation(ctx, budget.ID, child.ID); err != nil {
			return nil
		}
		budgetID := budget.ID
		childID := child.ID
		return func(tx domain.LedgerTx) error {
			return tx.AdjustAllocation(ctx, budgetID, childID, amount.Neg())
		}
	case child.PoolType == domain.PoolTypeEmployeeWallet && parent.PoolType == domain.PoolTypeDepartment:
		if _, err := s.BudgetRepo.GetAllocation(ctx, budget.ID, parent.ID); err != nil {
			return nil
		}
		budgetID := budget.ID
		parentID := parent.ID
		return func(tx domain.LedgerTx) error {
			return tx.AdjustSpent(ctx, budgetID, parentID, amount.Neg())
		}
	default:
		return nil
	}
}

// checkMonthlyCap enforces a department's monthly distribution cap when one
// is configured. Best-effort pre-validation: the cap is advisory pacing,
// not a conservation invariant, so it is checked outside the lock.
func (s *Service) checkMonthlyCap(ctx context.Context, budget *domain.Budget, departmentPoolID uuid.UUID, amount decimal.Decimal) error {
	allocation, err := s.BudgetRepo.GetAllocation(ctx, budget.ID, departmentPoolID)
	if err != nil || allocation.MonthlyCap == nil {
		return nil
	}

	// Only distribution workflows pace against the cap; recalls move value
	// back up and must not consume it.
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	distributed, err := s.TransferRepo.SumFromPoolSince(ctx, departmentPoolID, monthStart, "allocate", "fanout")
	if err != nil {
		return err
	}

	if distributed.Add(amount).GreaterThan(*allocation.MonthlyCap) {
		return domain.ErrMonthlyCapExceeded
	}
	return nil
}

// replayCommitted returns the transfer already recorded under a key, so a
// retry of a committed call bypasses gating that validated the original
// attempt. Returns (nil, nil) when the key is unknown.
func (s *Service) replayCommitted(ctx context.Context, key string, fromPoolID, toPoolID uuid.UUID) (*domain.TransferResult, error) {
	if key == "" {
		return nil, nil
	}
	prior, err := s.TransferRepo.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrTransferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prior.FromPoolID != fromPoolID || prior.ToPoolID != toPoolID {
		return nil, domain.ErrIdempotencyConflict
	}
	s.Engine.Metrics.IncrReplay()
	return &domain.TransferResult{Transfer: *prior, Replayed: true}, nil
}

func requireSameTenant(a, b *domain.Pool) error {
	if a.TenantID == nil || b.TenantID == nil || *a.TenantID != *b.TenantID {
		return domain.NewValidationError("pools must belong to the same tenant")
	}
	return nil
}

func isRecallPair(child, parent *domain.Pool) bool {
	switch {
	case child.PoolType == domain.PoolTypeEmployeeWallet && parent.PoolType == domain.PoolTypeDepartment:
		return true
	case child.PoolType == domain.PoolTypeDepartment && parent.PoolType == domain.PoolTypeTenantMaster:
		return true
	case child.PoolType == domain.PoolTypeTenantMaster && parent.PoolType == domain.PoolTypePlatform:
		return true
	default:
		return false
	}
}

// sameRecipients compares two resolved recipient lists element for element.
// Both sides are produced by the same resolver, so they share ordering.
func sameRecipients(snapshot, live []uuid.UUID) bool {
	if len(snapshot) != len(live) {
		return false
	}
	for i := range snapshot {
		if snapshot[i] != live[i] {
			return false
		}
	}
	return true
}

// workflowRef builds the audit string grouping all transfer rows of one
// logical workflow invocation.
func workflowRef(kind, idempotencyKey, actorRole string) string {
	if actorRole == "" {
		return kind + ":" + idempotencyKey
	}
	return kind + ":" + idempotencyKey + ";actor=" + actorRole
}
