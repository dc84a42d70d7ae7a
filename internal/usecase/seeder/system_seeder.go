package seeder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightperks/points-backend/internal/domain"
)

// Fixed UUID for the singleton platform pool so every environment agrees on
// its identity.
var PLATFORM_POOL_ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SystemSeeder ensures the system pools exist before the server starts
// serving.
type SystemSeeder struct {
	repo domain.PoolRepository
}

// NewSystemSeeder creates a new SystemSeeder instance
func NewSystemSeeder(repo domain.PoolRepository) *SystemSeeder {
	return &SystemSeeder{
		repo: repo,
	}
}

// Seed ensures the platform pool exists in the database
// If it doesn't exist, it creates it with a zero balance; value only ever
// enters through explicit funding entries so log replay starts from zero.
func (s *SystemSeeder) Seed(ctx context.Context) error {
	_, err := s.repo.GetByID(ctx, PLATFORM_POOL_ID)
	if err == nil {
		// Pool exists, no action needed
		return nil
	}

	pool := &domain.Pool{
		ID:        PLATFORM_POOL_ID,
		Name:      "Platform Pool",
		PoolType:  domain.PoolTypePlatform,
		Status:    domain.PoolStatusActive,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
	}

	// Validate before creating
	if err := pool.Validate(); err != nil {
		return err
	}

	return s.repo.Create(ctx, pool)
}
