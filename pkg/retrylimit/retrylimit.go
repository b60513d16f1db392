// Package retrylimit combines an adaptive rate limiter with retry and
// exponential backoff for outbound HTTP clients.
//
//	lim := retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5)
//	err := retrylimit.WithRetryMax(ctx, func() error { return call() }, lim, 3)
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter raises its rate after successes and cuts it after
// failures.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter takes the starting rate, its bounds, the additive step
// on success and the multiplier on failure (0.5 halves it).
func NewAdaptiveLimiter(initial, min, max, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	initial = clamp(initial, 1, max)
	if min < 1 {
		min = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burst(initial)),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate unless a failure happened in the last 10 seconds.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit is the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(l rate.Limit) {
	l = clamp(l, a.minLimit, a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burst(l))
	}
}

func clamp(l, lo, hi rate.Limit) rate.Limit {
	return max(lo, min(l, hi))
}

func burst(l rate.Limit) int { return max(1, int(l)) }

// StatusError is an HTTP failure carrying its response code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// HTTPError is any error that knows its HTTP status.
type HTTPError interface {
	error
	StatusCode() int
}

// FatalError stops retrying immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Fatal wraps err so WithRetry gives up on it.
func Fatal(err error) error { return &FatalError{Err: err} }

// ErrorClassifier reports whether err should slow the limiter down.
type ErrorClassifier func(error) bool

// DefaultClassifier slows down on 429 and 5xx.
func DefaultClassifier(err error) bool {
	return IsRateLimited(err) || isServerError(err)
}

type RetryConfig struct {
	MaxAttempts     int // 0 means 100
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	RateLimitDelay  time.Duration
	Multiplier      float64
	Jitter          bool
	ErrorClassifier ErrorClassifier
	OnRetry         func(attempt int, err error)
	Logger          zerolog.Logger
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     100,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		RateLimitDelay:  100 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          true,
		ErrorClassifier: DefaultClassifier,
		Logger:          zerolog.Nop(),
	}
}

func WithRetry(ctx context.Context, fn func() error, lim *AdaptiveLimiter) error {
	return WithRetryConfig(ctx, fn, lim, DefaultRetryConfig())
}

func WithRetryMax(ctx context.Context, fn func() error, lim *AdaptiveLimiter, maxAttempts int) error {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	return WithRetryConfig(ctx, fn, lim, cfg)
}

// WithRetryConfig calls fn until it succeeds, returns a FatalError, ctx ends
// or the attempts run out. The last error is wrapped in the exhaustion error.
func WithRetryConfig(ctx context.Context, fn func() error, lim *AdaptiveLimiter, cfg RetryConfig) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 100
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultClassifier
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	delay := cfg.InitialDelay
	var last error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				cfg.Logger.Debug().Int("attempt", attempt).Msg("succeeded after retry")
			}
			return nil
		}
		last = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := delay
		if IsRateLimited(err) {
			wait = cfg.RateLimitDelay
		} else if cfg.Jitter {
			wait = addJitter(delay)
		}
		if cfg.ErrorClassifier(err) && lim != nil {
			lim.RateLimited()
		}
		cfg.Logger.Warn().Err(err).Int("attempt", attempt).Dur("sleep", wait).Msg("request failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if !IsRateLimited(err) {
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, last)
}

func addJitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d/4)))
}

// IsRateLimited reports a 429 anywhere in err's chain.
func IsRateLimited(err error) bool {
	var h HTTPError
	return errors.As(err, &h) && h.StatusCode() == http.StatusTooManyRequests
}

func isServerError(err error) bool {
	var h HTTPError
	return errors.As(err, &h) && h.StatusCode() >= 500 && h.StatusCode() < 600
}
