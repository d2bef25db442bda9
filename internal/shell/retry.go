package shell

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Retrier re-runs failing operations a bounded number of times with a
// constant delay between attempts.
type Retrier struct {
	runner   Runner
	attempts int
	delay    time.Duration
	logger   *slog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier. Non-positive attempts or a negative delay
// fall back to the defaults.
func NewRetrier(runner Runner, attempts int, delay time.Duration, logger *slog.Logger) *Retrier {
	if runner == nil {
		runner = ExecRunner{}
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		runner:   runner,
		attempts: attempts,
		delay:    delay,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Attempts returns the configured number of attempts.
func (r *Retrier) Attempts() int {
	return r.attempts
}

// WithDelay returns a copy of r that waits d between attempts.
func (r *Retrier) WithDelay(d time.Duration) *Retrier {
	cp := *r
	cp.delay = d
	return &cp
}

// Run executes cmd until it succeeds or the attempts are used up. The last
// failure is returned as a *CommandError.
func (r *Retrier) Run(ctx context.Context, cmd Command) (Result, error) {
	var res Result
	err := r.retry(ctx, cmd.String(), func() error {
		var runErr error
		res, runErr = r.runner.Run(ctx, cmd)
		return runErr
	})
	return res, err
}

// Do applies the retry policy to an in-process operation such as a
// recursive removal.
func (r *Retrier) Do(ctx context.Context, op string, fn func() error) error {
	return r.retry(ctx, op, fn)
}

func (r *Retrier) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == r.attempts {
			break
		}

		r.logger.Warn("attempt failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", r.attempts,
			"delay", r.delay,
			"error", lastErr)

		if err := r.sleep(ctx, r.delay); err != nil {
			return &CommandError{Command: op, Attempts: attempt, Err: err}
		}
	}

	r.logger.Error("all attempts failed", "op", op, "attempts", r.attempts, "error", lastErr)

	cmdErr := &CommandError{Command: op, Attempts: r.attempts, Err: lastErr}
	var inner *CommandError
	if errors.As(lastErr, &inner) {
		cmdErr.Stderr = inner.Stderr
		cmdErr.Err = inner.Err
	}
	return cmdErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
