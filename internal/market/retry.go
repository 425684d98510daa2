package market

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryingProvider wraps a Provider with a request rate limit and bounded
// exponential backoff. Exhausted retries surface as *ProviderError.
type RetryingProvider struct {
	next        Provider
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	log         *zap.Logger
}

// RetryOptions tunes RetryingProvider. Zero values pick defaults.
type RetryOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	RatePerSec  float64
	Burst       int
}

// NewRetryingProvider decorates next.
func NewRetryingProvider(next Provider, opts RetryOptions, log *zap.Logger) *RetryingProvider {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryingProvider{
		next:        next,
		limiter:     rate.NewLimiter(limit, opts.Burst),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		maxBackoff:  opts.MaxBackoff,
		log:         log.With(zap.String("component", "market-provider")),
	}
}

// GetBars implements Provider.
func (p *RetryingProvider) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error) {
	var lastErr error
	delay := p.backoff

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Symbol: symbol, Attempts: attempt - 1, Err: errors.Join(err, lastErr)}
		}

		bars, err := p.next.GetBars(ctx, symbol, timeframe, limit)
		if err == nil {
			return bars, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == p.maxAttempts {
			return nil, &ProviderError{Symbol: symbol, Attempts: attempt, Err: err}
		}

		p.log.Warn("get bars failed, retrying",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &ProviderError{Symbol: symbol, Attempts: attempt, Err: err}
		case <-timer.C:
		}

		delay *= 2
		if delay > p.maxBackoff {
			delay = p.maxBackoff
		}
	}
	return nil, &ProviderError{Symbol: symbol, Attempts: p.maxAttempts, Err: lastErr}
}
