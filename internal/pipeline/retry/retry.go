// Package retry executes a delivery attempt with exponential backoff,
// honoring upstream retry hints and cutting off permanent failures early.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/crmsync/leadrelay/internal/pipeline/classify"
)

// ErrPermanent marks a failure not worth retrying at any layer.
var ErrPermanent = errors.New("permanent delivery failure")

// ErrExhausted marks a retryable failure that outlived the attempt budget.
var ErrExhausted = errors.New("delivery attempts exhausted")

// Config defines backoff behavior for one delivery.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // absolute cap, also bounds upstream hints
	Jitter      time.Duration
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    5 * time.Minute,
	Jitter:      time.Second,
}

// Do runs attempt until it succeeds, fails permanently, or the budget runs
// out. Failures must be pre-classified (*classify.Error); an unclassified
// error is treated as retryable per the default-retry bias. Do never touches
// storage; queue and dead-letter bookkeeping belong to the caller.
func Do(ctx context.Context, cfg Config, attempt func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	var lastErr error
	for i := 0; i < cfg.MaxAttempts; i++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var cerr *classify.Error
		if errors.As(err, &cerr) && !cerr.Retryable {
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}

		if i == cfg.MaxAttempts-1 {
			break
		}

		delay := backoff(i, cfg)
		if cerr != nil && cerr.RetryAfter > 0 && cerr.RetryAfter <= cfg.MaxDelay {
			delay = cerr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, cfg.MaxAttempts, lastErr)
}

func backoff(attempt int, cfg Config) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	d := time.Duration(delay)
	if cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(cfg.Jitter)))
	}
	return d
}
