// Package integrity verifies the conservation invariant: every pool's
// projected balance must equal the replay of its transfer log. A mismatch
// means ledger corruption, so the pool is quarantined and surfaced to an
// operator instead of being served.
package integrity

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
)

// verifyConcurrency bounds how many pools are replayed in parallel during a
// full sweep.
const verifyConcurrency = 8

// Checker replays the transfer log against the balance projection.
type Checker struct {
	Pools     domain.PoolRepository
	Transfers domain.TransferRepository
	Locks     lock.Manager
	Log       *logrus.Logger
}

// NewChecker creates a new integrity Checker instance
func NewChecker(pools domain.PoolRepository, transfers domain.TransferRepository, locks lock.Manager, log *logrus.Logger) *Checker {
	return &Checker{
		Pools:     pools,
		Transfers: transfers,
		Locks:     locks,
		Log:       log,
	}
}

// VerifyPool replays the full transfer log for one pool and compares the
// result against the projected balance.
// Logic:
//  1. Take the pool's lock, so no transfer touching it can commit between
//     the projection read and the log replay; the two reads form one
//     consistent snapshot
//  2. Sum all credits to and debits from the pool (external funding rows
//     count like any other entry, so the replay starts from zero)
//  3. On mismatch, quarantine the pool and return an IntegrityError
func (c *Checker) VerifyPool(ctx context.Context, poolID uuid.UUID) error {
	release, err := c.Locks.LockPools(ctx, poolID)
	if err != nil {
		return err
	}
	defer release()

	pool, err := c.Pools.GetByID(ctx, poolID)
	if err != nil {
		return err
	}

	in, out, err := c.Transfers.SumForPool(ctx, poolID)
	if err != nil {
		return err
	}

	replayed := in.Sub(out)
	if replayed.Equal(pool.Balance) {
		return nil
	}

	violation := &domain.IntegrityError{
		PoolID:    pool.ID,
		Projected: pool.Balance,
		Replayed:  replayed,
	}

	c.Log.WithFields(logrus.Fields{
		"module":    "integrity",
		"pool_id":   pool.ID,
		"projected": pool.Balance,
		"replayed":  replayed,
	}).Error("ledger integrity violation, quarantining pool")

	if err := c.Pools.SetStatus(ctx, pool.ID, domain.PoolStatusQuarantined); err != nil {
		c.Log.WithError(err).WithField("pool_id", pool.ID).Error("failed to quarantine pool")
	}

	return violation
}

// VerifyAll replays every pool in the ledger and returns all violations
// found. Pools that fail verification are quarantined as a side effect; a
// non-empty violation list with a nil error means the sweep itself ran
// cleanly.
func (c *Checker) VerifyAll(ctx context.Context) ([]*domain.IntegrityError, error) {
	pools, err := c.Pools.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	violations := make([]*domain.IntegrityError, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for _, pool := range pools {
		poolID := pool.ID
		g.Go(func() error {
			err := c.VerifyPool(gctx, poolID)
			if err == nil {
				return nil
			}
			var violation *domain.IntegrityError
			if errors.As(err, &violation) {
				mu.Lock()
				violations = append(violations, violation)
				mu.Unlock()
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return violations, err
	}
	return violations, nil
}
