package ingest

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"github.com/david/bid-finder/internal/models"
)

// RetryPolicy wraps an adapter call with exponential backoff. MaxRetries of
// zero means a single attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration // Default: 500ms
}

// WithTimeout gives every call to adapter its own deadline.
func WithTimeout(adapter Adapter, d time.Duration) Adapter {
	if d <= 0 {
		return adapter
	}
	return AdapterFunc(func(ctx context.Context, f models.SearchFilters) ([]models.PlatformSolicitation, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return adapter.Search(ctx, f)
	})
}

// WithRetry re-invokes adapter when it fails. Cancellation of the caller's
// context is final and never retried.
func WithRetry(adapter Adapter, policy RetryPolicy) Adapter {
	if policy.MaxRetries <= 0 {
		return adapter
	}
	base := policy.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	return AdapterFunc(func(ctx context.Context, f models.SearchFilters) ([]models.PlatformSolicitation, error) {
		var lastErr error
		for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
			if attempt > 0 {
				// Exponential backoff: base, 2*base, 4*base + jitter
				backoff := base * time.Duration(1<<uint(attempt-1))
				jitter := time.Duration(rand.Int63n(int64(base/5) + 1))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff + jitter):
				}
			}

			items, err := adapter.Search(ctx, f)
			if err == nil {
				return items, nil
			}
			lastErr = err
			if !shouldRetry(ctx, err) {
				return nil, err
			}
			log.Printf("[Retry] attempt %d/%d failed: %v", attempt+1, policy.MaxRetries+1, err)
		}
		return nil, lastErr
	})
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
