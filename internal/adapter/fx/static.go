// Package fx provides conversion-rate adapters. The FX settings
// collaborator owns per-tenant rates; this core only records the rate in
// force when a transfer crosses the platform/tenant boundary.
package fx

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StaticRateProvider serves per-tenant rates from an in-process table,
// defaulting to 1. Used by dev mode and tests.
type StaticRateProvider struct {
	mu    sync.RWMutex
	rates map[uuid.UUID]decimal.Decimal
}

// NewStaticRateProvider creates a new StaticRateProvider instance
func NewStaticRateProvider() *StaticRateProvider {
	return &StaticRateProvider{
		rates: make(map[uuid.UUID]decimal.Decimal),
	}
}

// SetRate sets the conversion rate for a tenant
func (p *StaticRateProvider) SetRate(tenantID uuid.UUID, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[tenantID] = rate
}

// RateFor returns the tenant's conversion rate, or 1 when none is set
func (p *StaticRateProvider) RateFor(ctx context.Context, tenantID uuid.UUID) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[tenantID]; ok {
		return rate, nil
	}
	return decimal.NewFromInt(1), nil
}
