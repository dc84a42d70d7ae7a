// Package directory provides recipient resolution adapters. The real
// directory service owns tenants, departments and users; this core only
// consumes the resolved wallet lists.
package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/brightperks/points-backend/internal/domain"
	"github.com/brightperks/points-backend/internal/lock"
)

// Membership describes one employee wallet as the directory sees it.
type Membership struct {
	WalletPoolID uuid.UUID
	DepartmentID uuid.UUID
	TenantID     uuid.UUID
	Active       bool
}

// StaticResolver resolves selectors from an in-process membership table.
// Used by dev mode and tests; production wires a client for the directory
// service behind the same interface.
type StaticResolver struct {
	mu      sync.RWMutex
	members []Membership
}

// NewStaticResolver creates a new StaticResolver instance
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{}
}

// Upsert adds or replaces a membership entry by wallet pool ID
func (r *StaticResolver) Upsert(m Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.members {
		if r.members[i].WalletPoolID == m.WalletPoolID {
			r.members[i] = m
			return
		}
	}
	r.members = append(r.members, m)
}

// Resolve returns the ordered, deduplicated wallet pool IDs matching the
// selector.
func (r *StaticResolver) Resolve(ctx context.Context, selector domain.RecipientSelector) ([]uuid.UUID, error) {
	if err := selector.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]uuid.UUID, 0)
	for _, m := range r.members {
		if selector.OnlyActive && !m.Active {
			continue
		}
		switch selector.Kind {
		case domain.SelectorKindDepartment:
			if m.DepartmentID == selector.TargetID {
				matched = append(matched, m.WalletPoolID)
			}
		case domain.SelectorKindTenant:
			if m.TenantID == selector.TargetID {
				matched = append(matched, m.WalletPoolID)
			}
		}
	}

	// Stable order so a preview snapshot and a commit resolution compare
	// element for element.
	return lock.SortPoolIDs(matched), nil
}
