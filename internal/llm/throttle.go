package llm

import (
	"context"

	"golang.org/x/time/rate"
)

type throttled struct {
	next    Generator
	limiter *rate.Limiter
}

// Throttle limits calls to next to rps requests per second across all callers.
// rps <= 0 returns next unchanged.
func Throttle(next Generator, rps float64, burst int) Generator {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &throttled{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (t *throttled) Generate(ctx context.Context, req Request) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Generate(ctx, req)
}
