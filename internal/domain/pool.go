package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PoolType represents the kind of pool in the allocation hierarchy
type PoolType string

const (
	PoolTypePlatform       PoolType = "PLATFORM"
	PoolTypeTenantMaster   PoolType = "TENANT_MASTER"
	PoolTypeDepartment     PoolType = "DEPARTMENT"
	PoolTypeEmployeeWallet PoolType = "EMPLOYEE_WALLET"
)

// PoolStatus represents the lifecycle state of a pool
type PoolStatus string

const (
	// PoolStatusActive allows the pool to send and receive transfers.
	PoolStatusActive PoolStatus = "ACTIVE"
	// PoolStatusFrozen rejects outgoing transfers (e.g. suspended tenant).
	// The pool can still receive.
	PoolStatusFrozen PoolStatus = "FROZEN"
	// PoolStatusQuarantined rejects all movement. Set when the ledger replay
	// disagrees with the projected balance; cleared only by an operator.
	PoolStatusQuarantined PoolStatus = "QUARANTINED"
)

// Pool represents an account holding a non-negative points balance.
// Balance is a projection over the transfer log; the log is the source of
// truth and the projection must be rebuildable from it.
type Pool struct {
	ID         uuid.UUID
	TenantID   *uuid.UUID // NULL for the platform pool. NOT NULL otherwise.
	Name       string
	PoolType   PoolType
	Status     PoolStatus
	Balance    decimal.Decimal
	CreatedAt  time.Time
}

// Validate ensures the pool adheres to domain rules
// Returns an error if validation fails
func (p *Pool) Validate() error {
	if p.Name == "" {
		return NewValidationError("pool name cannot be empty")
	}

	switch p.PoolType {
	case PoolTypePlatform:
		if p.TenantID != nil {
			return NewValidationError("platform pool must not belong to a tenant")
		}
	case PoolTypeTenantMaster, PoolTypeDepartment, PoolTypeEmployeeWallet:
		if p.TenantID == nil {
			return NewValidationError("tenant-scoped pool must have a tenant ID")
		}
	default:
		return NewValidationError("unknown pool type")
	}

	if p.Balance.IsNegative() {
		return NewValidationError("pool balance cannot be negative")
	}

	return nil
}

// CanSend reports whether the pool may be debited.
// Frozen pools reject outgoing transfers; quarantined pools reject everything.
func (p *Pool) CanSend() error {
	switch p.Status {
	case PoolStatusActive:
		return nil
	case PoolStatusFrozen:
		return ErrPoolFrozen
	case PoolStatusQuarantined:
		return ErrPoolQuarantined
	default:
		return NewValidationError("unknown pool status")
	}
}

// CanReceive reports whether the pool may be credited.
// A frozen pool can still receive (its value is not lost, only locked in).
func (p *Pool) CanReceive() error {
	if p.Status == PoolStatusQuarantined {
		return ErrPoolQuarantined
	}
	return nil
}
