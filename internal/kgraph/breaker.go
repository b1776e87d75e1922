package kgraph

import (
	"context"

	"github.com/trirank/trirank/internal/errors"
)

// BreakerSource wraps a Source with a circuit breaker so a dead store
// answers queries with a fast failure instead of a fresh timeout each time.
// The scorer converts the open-circuit error into its degraded-mode signal.
type BreakerSource struct {
	inner   Source
	breaker *errors.CircuitBreaker
}

var _ Source = (*BreakerSource)(nil)

// NewBreakerSource wraps inner. Options tune failure threshold and reset
// timeout; the defaults suit per-query store calls.
func NewBreakerSource(inner Source, opts ...errors.CircuitBreakerOption) *BreakerSource {
	return &BreakerSource{
		inner:   inner,
		breaker: errors.NewCircuitBreaker("graph-source", opts...),
	}
}

// State exposes the breaker state for health reporting.
func (b *BreakerSource) State() errors.State {
	return b.breaker.State()
}

// Inner returns the wrapped source.
func (b *BreakerSource) Inner() Source {
	return b.inner
}

func (b *BreakerSource) LookupEntities(ctx context.Context, term string, limit int) ([]*Entity, error) {
	return runThrough(b.breaker, ctx, func() ([]*Entity, error) {
		return b.inner.LookupEntities(ctx, term, limit)
	})
}

func (b *BreakerSource) Neighbors(ctx context.Context, entityIDs []string) ([]string, error) {
	return runThrough(b.breaker, ctx, func() ([]string, error) {
		return b.inner.Neighbors(ctx, entityIDs)
	})
}

func (b *BreakerSource) ChunksMentioning(ctx context.Context, entityIDs []string) (map[string][]string, error) {
	return runThrough(b.breaker, ctx, func() (map[string][]string, error) {
		return b.inner.ChunksMentioning(ctx, entityIDs)
	})
}

func (b *BreakerSource) Stats(ctx context.Context) (*Stats, error) {
	return runThrough(b.breaker, ctx, func() (*Stats, error) {
		return b.inner.Stats(ctx)
	})
}

// runThrough routes one call through the breaker. A failure caused by the
// caller's own context being done is surfaced to the caller but never
// recorded: cancellation says nothing about store health, so it must not
// move the circuit in either direction.
func runThrough[T any](cb *errors.CircuitBreaker, ctx context.Context, op func() (T, error)) (T, error) {
	var zero T
	if !cb.Allow() {
		return zero, errors.ErrCircuitOpen
	}

	result, err := op()
	if err != nil {
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		return zero, err
	}

	cb.RecordSuccess()
	return result, nil
}
