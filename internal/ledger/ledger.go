// Package ledger owns the per-region inventory counters. It is the only
// component that mutates ResourcePool rows; allocation and sales logic
// go through it.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aulnovauk/fieldops/internal/audit"
	"github.com/aulnovauk/fieldops/internal/domain"
	"github.com/aulnovauk/fieldops/internal/postgres"
	"github.com/aulnovauk/fieldops/pkg/telemetry"
)

// Ledger performs pool accounting. Mutations are serialized per
// (region, resource type) by an in-process keyed mutex; the repository
// additionally issues conditional updates so concurrent processes
// cannot over-commit either.
type Ledger struct {
	repo  postgres.PoolRepository
	sink  audit.Sink
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Ledger over the given pool repository.
func New(repo postgres.PoolRepository, sink audit.Sink) *Ledger {
	if sink == nil {
		sink = audit.Nop()
	}
	return &Ledger{
		repo:  repo,
		sink:  sink,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lock(region string, rt domain.ResourceType) func() {
	key := region + "/" + string(rt)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get returns the current pool counters.
func (l *Ledger) Get(ctx context.Context, region string, rt domain.ResourceType) (*domain.ResourcePool, error) {
	return l.repo.Get(ctx, region, rt)
}

// SetTotal changes the pool total, recomputing remaining. Rejects totals
// below the quantity already allocated with InvalidCapacity.
func (l *Ledger) SetTotal(ctx context.Context, region string, rt domain.ResourceType, newTotal int, performedBy string) error {
	if newTotal < 0 {
		return &domain.InvalidCapacityError{Region: region, Type: rt, NewTotal: newTotal}
	}
	defer l.lock(region, rt)()

	ok, err := l.repo.SetTotal(ctx, region, rt, newTotal)
	if err != nil {
		return fmt.Errorf("set total: %w", err)
	}
	if !ok {
		pool, gerr := l.repo.Get(ctx, region, rt)
		allocated := 0
		if gerr == nil {
			allocated = pool.Allocated
		}
		return &domain.InvalidCapacityError{Region: region, Type: rt, NewTotal: newTotal, Allocated: allocated}
	}

	l.sink.Record(ctx, domain.AuditEntry{
		Action:      "pool.set_total",
		EntityType:  "resource_pool",
		EntityID:    region + "/" + string(rt),
		PerformedBy: performedBy,
		Details:     map[string]string{"total": strconv.Itoa(newTotal)},
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// Reserve atomically moves qty from remaining to allocated. Fails with
// InsufficientResource carrying the available quantity.
func (l *Ledger) Reserve(ctx context.Context, region string, rt domain.ResourceType, qty int, performedBy string) error {
	if qty <= 0 {
		return nil
	}
	defer l.lock(region, rt)()

	ok, err := l.repo.Reserve(ctx, region, rt, qty)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	if !ok {
		telemetry.AllocationRejections.WithLabelValues(string(rt)).Inc()
		pool, gerr := l.repo.Get(ctx, region, rt)
		if gerr != nil {
			return gerr
		}
		return &domain.InsufficientResourceError{
			Region: region, Type: rt, Requested: qty, Available: pool.Remaining,
		}
	}

	l.sink.Record(ctx, domain.AuditEntry{
		Action:      "pool.reserve",
		EntityType:  "resource_pool",
		EntityID:    region + "/" + string(rt),
		PerformedBy: performedBy,
		Details:     map[string]string{"qty": strconv.Itoa(qty)},
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// Release moves qty from allocated back to remaining, used when a
// task's allocation shrinks.
func (l *Ledger) Release(ctx context.Context, region string, rt domain.ResourceType, qty int, performedBy string) error {
	if qty <= 0 {
		return nil
	}
	defer l.lock(region, rt)()

	ok, err := l.repo.Release(ctx, region, rt, qty)
	if err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if !ok {
		pool, gerr := l.repo.Get(ctx, region, rt)
		allocated := 0
		if gerr == nil {
			allocated = pool.Allocated
		}
		return fmt.Errorf("release %d %s in %s: only %d allocated", qty, rt, region, allocated)
	}

	l.sink.Record(ctx, domain.AuditEntry{
		Action:      "pool.release",
		EntityType:  "resource_pool",
		EntityID:    region + "/" + string(rt),
		PerformedBy: performedBy,
		Details:     map[string]string{"qty": strconv.Itoa(qty)},
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// RecordUsage increments the used counter only, never touching
// allocated or remaining. Called when a member records a sale.
func (l *Ledger) RecordUsage(ctx context.Context, region string, rt domain.ResourceType, qty int) error {
	if qty <= 0 {
		return nil
	}
	defer l.lock(region, rt)()

	ok, err := l.repo.RecordUsage(ctx, region, rt, qty)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	if !ok {
		telemetry.AllocationRejections.WithLabelValues(string(rt)).Inc()
		return fmt.Errorf("usage of %d %s in %s exceeds allocated quantity", qty, rt, region)
	}
	return nil
}
