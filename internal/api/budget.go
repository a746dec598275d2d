package api

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Budget is the shared per-call spacing limiter. All handlers issue API calls
// through the same instance so the global ~30 requests/min ceiling holds no
// matter how many processes look concurrent.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget creates a budget admitting one call per interval.
func NewBudget(perCall time.Duration) *Budget {
	if perCall <= 0 {
		perCall = 2 * time.Second
	}
	return &Budget{limiter: rate.NewLimiter(rate.Every(perCall), 1)}
}

// Wait blocks until the next call is admitted or the context is cancelled.
func (b *Budget) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
