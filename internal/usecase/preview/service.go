package preview

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// Service serves read-only previews against live balances. It takes no
// locks: a preview is advice, and the engine re-validates everything under
// lock at commit time anyway.
type Service struct {
	PoolRepo domain.PoolRepository
	Resolver domain.RecipientResolver
}

// NewService creates a new preview Service instance
func NewService(poolRepo domain.PoolRepository, resolver domain.RecipientResolver) *Service {
	return &Service{
		PoolRepo: poolRepo,
		Resolver: resolver,
	}
}

// PreviewAllocate computes the outcome of a single parent-to-child allocation
func (s *Service) PreviewAllocate(ctx context.Context, parentPoolID, childPoolID uuid.UUID, amount decimal.Decimal) (*Result, error) {
	if parentPoolID == childPoolID {
		return nil, domain.ErrSamePool
	}

	parent, err := s.PoolRepo.GetByID(ctx, parentPoolID)
	if err != nil {
		return nil, err
	}

	// The child must exist for the preview to be meaningful
	if _, err := s.PoolRepo.GetByID(ctx, childPoolID); err != nil {
		return nil, err
	}

	result, err := Allocate(parent.Balance, amount)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// PreviewFanOut computes the outcome of a fan-out distribution, resolving
// the recipient selector through the directory collaborator. The resolved
// recipient list is returned alongside the arithmetic so the caller can
// submit it as the snapshot for the commit.
func (s *Service) PreviewFanOut(ctx context.Context, parentPoolID uuid.UUID, selector domain.RecipientSelector, perRecipient decimal.Decimal) (*Result, []uuid.UUID, error) {
	if err := selector.Validate(); err != nil {
		return nil, nil, err
	}

	parent, err := s.PoolRepo.GetByID(ctx, parentPoolID)
	if err != nil {
		return nil, nil, err
	}

	recipients, err := s.Resolver.Resolve(ctx, selector)
	if err != nil {
		return nil, nil, err
	}
	if len(recipients) == 0 {
		return nil, nil, domain.NewValidationError("selector resolved to no recipients")
	}

	result, err := FanOut(parent.Balance, perRecipient, len(recipients))
	if err != nil {
		return nil, nil, err
	}

	return &result, recipients, nil
}

// PreviewRecall computes the outcome of recalling from a child pool
func (s *Service) PreviewRecall(ctx context.Context, childPoolID uuid.UUID, spec domain.RecallSpec) (*Result, error) {
	child, err := s.PoolRepo.GetByID(ctx, childPoolID)
	if err != nil {
		return nil, err
	}

	result, err := Recall(child.Balance, spec)
	if err != nil {
		return nil, err
	}

	return &result, nil
}
