// Package retry provides bounded retries with exponential backoff for
// the outbound API clients. Only errors classified as transient are
// retried; everything else fails fast so a bad credential or a
// malformed request never burns the backoff budget.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"
)

// Config controls the retry loop.
type Config struct {
	// Attempts is the total number of tries including the first one.
	Attempts int

	// Base is the delay before the first retry.
	Base time.Duration

	// Max caps the backoff delay.
	Max time.Duration

	// Multiplier scales the delay after each attempt.
	Multiplier float64

	// Jitter randomizes each delay by up to this fraction.
	Jitter float64

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultConfig suits short API calls made inside a slot run.
func DefaultConfig() Config {
	return Config{
		Attempts:   3,
		Base:       500 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.Base <= 0 {
		c.Base = d.Base
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Multiplier <= 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// Do runs fn until it succeeds, fails with a non-transient error, the
// attempt budget runs out or ctx is canceled.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value.
func DoVal[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsTransient(err) || attempt >= cfg.Attempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func backoff(attempt int, cfg Config) time.Duration {
	d := float64(cfg.Base) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.Max) {
		d = float64(cfg.Max)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// TransientError marks an error as safe to retry, optionally carrying
// the HTTP status that produced it.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout, or a connection-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// TransientStatus reports whether an HTTP status indicates a
// server-side hiccup that a retry may get past.
func TransientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
