package search

import (
	"context"
	"sync"
	"time"
)

// BucketLayout formats the UTC minute a request is counted against.
const BucketLayout = "2006-01-02T15:04"

// DefaultPerMinute is the quota applied when none is configured.
const DefaultPerMinute = 100

// keep buckets this long so snapshots stay small.
const bucketRetention = time.Hour

// Clock abstracts wall time so the guard can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics is the persisted form of the rate-limit counter.
type Metrics struct {
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	RequestsMade       map[string]int `json:"search_requests_made"`
	AvailableNow       int            `json:"available_searches_now_per_minute"`
}

// Quota counts requests per UTC minute and blocks callers once the minute is used up.
// It is safe for concurrent use.
type Quota struct {
	clock     Clock
	perMinute int

	mu        sync.Mutex
	made      map[string]int
	available int
}

func NewQuota(perMinute int, clock Clock) *Quota {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Quota{
		clock:     clock,
		perMinute: perMinute,
		made:      make(map[string]int),
		available: perMinute,
	}
}

// Acquire counts one request against the current minute. At quota it sleeps until
// just past the next minute boundary and checks again.
func (q *Quota) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.mu.Lock()
		now := q.clock.Now().UTC()
		bucket := now.Format(BucketLayout)
		made := q.made[bucket]
		if made < q.perMinute {
			q.made[bucket] = made + 1
			q.available = q.perMinute - made - 1
			q.prune(now)
			q.mu.Unlock()
			return nil
		}
		q.available = 0
		q.mu.Unlock()

		wait := time.Duration(60-now.Second())*time.Second + 100*time.Millisecond
		if err := q.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Available is how many requests the current minute still allows, as of the last Acquire.
func (q *Quota) Available() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.available
}

// Snapshot copies the counter state.
func (q *Quota) Snapshot() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	made := make(map[string]int, len(q.made))
	for k, v := range q.made {
		made[k] = v
	}
	return Metrics{
		RateLimitPerMinute: q.perMinute,
		RequestsMade:       made,
		AvailableNow:       q.available,
	}
}

// Restore seeds the counter from persisted metrics, e.g. after a restart of the
// owning agent within the same minute.
func (q *Quota) Restore(m Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, v := range m.RequestsMade {
		if v > q.made[k] {
			q.made[k] = v
		}
	}
	now := q.clock.Now().UTC()
	q.available = max(q.perMinute-q.made[now.Format(BucketLayout)], 0)
	q.prune(now)
}

func (q *Quota) prune(now time.Time) {
	cutoff := now.Add(-bucketRetention)
	for k := range q.made {
		t, err := time.Parse(BucketLayout, k)
		if err != nil || t.Before(cutoff) {
			delete(q.made, k)
		}
	}
}
