package search

import (
	"context"
	"fmt"
)

// lookuper is implemented by searchers that can answer from a local cache without
// touching the upstream API.
type lookuper interface {
	Lookup(query string, max int) ([]Result, bool)
}

// Guarded acquires the quota before every upstream search. Cache hits from Next
// do not count against the quota.
type Guarded struct {
	Next  Searcher
	Quota *Quota
	// OnAcquire, when set, receives the counter state after each acquisition so the
	// owner can persist it.
	OnAcquire func(Metrics) error
}

func (g *Guarded) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if l, ok := g.Next.(lookuper); ok {
		if res, hit := l.Lookup(query, max); hit {
			return res, nil
		}
	}
	if err := g.Quota.Acquire(ctx); err != nil {
		return nil, err
	}
	if g.OnAcquire != nil {
		if err := g.OnAcquire(g.Quota.Snapshot()); err != nil {
			return nil, fmt.Errorf("persist search metrics: %w", err)
		}
	}
	return g.Next.Search(ctx, query, max)
}
