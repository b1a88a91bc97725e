package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/enrich"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

type tracedEnricher struct {
	next           enrich.Enricher
	logger         *zap.Logger
	maxRetries     int
	requestTimeout time.Duration

	mu       sync.Mutex
	attempts map[string]int
}

func newTracedEnricher(next enrich.Enricher, logger *zap.Logger, opts enrich.Options) *tracedEnricher {
	return &tracedEnricher{
		next:           next,
		logger:         logger,
		maxRetries:     opts.MaxRetries,
		requestTimeout: opts.RequestTimeout,
		attempts:       make(map[string]int),
	}
}

func (t *tracedEnricher) Enrich(ctx context.Context, q enrich.Query) (enrich.Profile, error) {
	key := q.String()
	attempt := t.nextAttempt(key)

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Debug("enrich request",
		zap.String("person", key),
		zap.Int("attempt", attempt),
		zap.Duration("timeout", t.requestTimeout),
		zap.String("deadlineIn", deadlineIn),
	)

	start := time.Now()
	out, err := t.next.Enrich(ctx, q)
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		maxRetries := core.RetryBudget(t.maxRetries, err)
		retryable := core.IsTransient(err)
		t.logger.Warn("enrich response",
			zap.String("person", key),
			zap.Int("attempt", attempt),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.Bool("retryable", retryable),
			zap.Bool("willRetry", retryable && attempt <= maxRetries),
			zap.Int("maxExtraRetries", maxRetries),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}

	t.logger.Debug("enrich response",
		zap.String("person", key),
		zap.Int("attempt", attempt),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.String("backend", out.Backend),
		zap.Bool("found", !out.Empty()),
	)
	return out, nil
}

func (t *tracedEnricher) nextAttempt(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}
