// Package lock provides per-pool mutual exclusion for the transfer engine.
//
// Locks are always acquired in ascending pool-id order so two operations
// touching overlapping pool sets can never deadlock, and are held only for
// the balance-check-and-update window, never across directory I/O.
package lock

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Manager acquires exclusive locks over a set of pools.
type Manager interface {
	// LockPools locks every listed pool and returns a release function.
	// The input may contain duplicates and be in any order; acquisition is
	// always deduplicated and sorted ascending by pool id.
	LockPools(ctx context.Context, poolIDs ...uuid.UUID) (release func(), err error)
}

// SortPoolIDs returns a deduplicated copy of ids sorted ascending by byte
// order. Exposed so every Manager implementation agrees on the global
// acquisition order.
func SortPoolIDs(ids []uuid.UUID) []uuid.UUID {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}

	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	return sorted
}

// MutexManager is the in-process Manager used by single-instance
// deployments, dev mode, and tests.
type MutexManager struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewMutexManager creates a new MutexManager instance
func NewMutexManager() *MutexManager {
	return &MutexManager{
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MutexManager) poolMutex(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// LockPools locks every listed pool in ascending id order
func (m *MutexManager) LockPools(ctx context.Context, poolIDs ...uuid.UUID) (func(), error) {
	sorted := SortPoolIDs(poolIDs)

	held := make([]*sync.Mutex, 0, len(sorted))
	releaseHeld := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}

	for _, id := range sorted {
		if err := ctx.Err(); err != nil {
			releaseHeld()
			return nil, err
		}
		lock := m.poolMutex(id)
		lock.Lock()
		held = append(held, lock)
	}

	return releaseHeld, nil
}
