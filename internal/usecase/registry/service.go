package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/brightperks/points-backend/internal/domain"
)

// Service manages pool registration and lifecycle status. Balances are
// never touched here; value only moves through the transfer engine.
type Service struct {
	Pools domain.PoolRepository
	Log   *logrus.Logger
}

// NewService creates a new registry Service instance
func NewService(pools domain.PoolRepository, log *logrus.Logger) *Service {
	return &Service{Pools: pools, Log: log}
}

// CreatePoolInput represents the input for registering a pool
type CreatePoolInput struct {
	TenantID *uuid.UUID
	Name     string
	PoolType domain.PoolType
}

// CreatePool registers a new pool with a zero balance. The platform pool is
// seeded at startup, so only tenant-scoped pool types are accepted here.
func (s *Service) CreatePool(ctx context.Context, input CreatePoolInput) (*domain.Pool, error) {
	if input.PoolType == domain.PoolTypePlatform {
		return nil, domain.NewValidationError("the platform pool is a seeded singleton")
	}

	pool := &domain.Pool{
		ID:        uuid.New(),
		TenantID:  input.TenantID,
		Name:      input.Name,
		PoolType:  input.PoolType,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}
	if err := pool.Validate(); err != nil {
		return nil, err
	}

	if err := s.Pools.Create(ctx, pool); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"module":    "registry",
		"pool_id":   pool.ID,
		"pool_type": pool.PoolType,
	}).Info("pool registered")

	return pool, nil
}

// Get retrieves a pool by ID
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Pool, error) {
	return s.Pools.GetByID(ctx, id)
}

// List retrieves pools, optionally filtered by type
func (s *Service) List(ctx context.Context, typeFilter domain.PoolType) ([]*domain.Pool, error) {
	return s.Pools.List(ctx, typeFilter)
}

// Freeze suspends outgoing transfers from a pool. Quarantined pools stay
// quarantined; only an operator repair path clears that state.
func (s *Service) Freeze(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.PoolStatusActive, domain.PoolStatusFrozen)
}

// Unfreeze restores a frozen pool to active
func (s *Service) Unfreeze(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, domain.PoolStatusFrozen, domain.PoolStatusActive)
}

// FreezeTenant freezes every pool of a tenant (tenant suspension). Wallets
// keep their balances and keep accepting credits; nothing leaves them until
// the tenant is unfrozen.
func (s *Service) FreezeTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.transitionTenant(ctx, tenantID, domain.PoolStatusActive, domain.PoolStatusFrozen)
}

// UnfreezeTenant restores a suspended tenant's pools to active
func (s *Service) UnfreezeTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.transitionTenant(ctx, tenantID, domain.PoolStatusFrozen, domain.PoolStatusActive)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to domain.PoolStatus) error {
	pool, err := s.Pools.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if pool.Status == domain.PoolStatusQuarantined {
		return domain.ErrPoolQuarantined
	}
	if pool.Status != from {
		return domain.NewValidationError("pool is not in a state that permits this transition")
	}
	return s.Pools.SetStatus(ctx, id, to)
}

func (s *Service) transitionTenant(ctx context.Context, tenantID uuid.UUID, from, to domain.PoolStatus) (int, error) {
	pools, err := s.Pools.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, pool := range pools {
		if pool.Status != from {
			continue
		}
		if err := s.Pools.SetStatus(ctx, pool.ID, to); err != nil {
			return changed, err
		}
		changed++
	}

	s.Log.WithFields(logrus.Fields{
		"module":    "registry",
		"tenant_id": tenantID,
		"status":    to,
		"pools":     changed,
	}).Info("tenant pool status changed")

	return changed, nil
}
