// Package executor performs remote operations with bounded retry and
// exponential backoff. It is the only path from the core to the backend.
package executor

import (
	"context"
	"fmt"
	"time"

	"devicesync/internal/logger"
	"devicesync/internal/remote"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1000 * time.Millisecond
)

// Operation is one attempt of a remote call.
type Operation func(ctx context.Context) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	log         *logger.Logger
}

type Option func(*Executor)

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

func New(cfg Config, log *logger.Logger, opts ...Option) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &Executor{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		sleep:       sleepContext,
		log:         log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op until it succeeds, fails with a client error, or the
// attempt budget is exhausted. The wait before retry n (1-based) is
// baseDelay * 2^(n-1); there is no wait before the first attempt.
func (e *Executor) Execute(ctx context.Context, name string, op Operation) error {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := e.Delay(attempt - 1)
			e.log.Warnw("executor_retry",
				"op", name,
				"attempt", attempt,
				"max_attempts", e.maxAttempts,
				"delay_ms", delay.Milliseconds(),
				"err", lastErr,
			)
			if err := e.sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s: retry aborted after %d attempts: %w", name, attempt-1, lastErr)
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if remote.IsClientError(err) {
			e.log.Infow("executor_client_error", "op", name, "attempt", attempt, "err", err)
			return err
		}
	}
	e.log.Errorw("executor_exhausted", "op", name, "attempts", e.maxAttempts, "err", lastErr)
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, e.maxAttempts, lastErr)
}

// Delay returns the backoff before the retry that follows failed attempt n.
func (e *Executor) Delay(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return e.baseDelay << (n - 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
