// Package retry provides the timeout-and-retry executor wrapped around every
// remote call in the ingestion pipeline.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/cast-indexer/internal/errors"
	"github.com/cast-indexer/internal/logging"
)

// ErrTimeout marks an attempt that did not settle before its deadline
var ErrTimeout = errors.New("operation timed out")

// Config configures the executor. Attempts run strictly sequentially with a
// fixed delay between them; there is no exponential backoff.
type Config struct {
	// Timeout is the per-attempt deadline. Zero disables the deadline.
	Timeout time.Duration
	// MaxAttempts is the total attempt budget, including the first try.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
}

// Func is an operation executed under the per-attempt context
type Func func(ctx context.Context) error

// Do executes fn under cfg. Each attempt gets its own deadline; an attempt
// exceeding it fails with an error wrapping ErrTimeout. After the final failed
// attempt the last error is returned. Every failed attempt emits one warn-level
// log line. The inter-attempt sleep honors ctx so a cancelled job leaves no
// orphaned delayed retries.
func Do(ctx context.Context, cfg Config, name string, fn Func) error {
	logger := logging.FromContext(ctx)

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = runAttempt(ctx, cfg.Timeout, name, fn)
		if lastErr == nil {
			return nil
		}

		logger.WithFields(map[string]interface{}{
			"operation":   name,
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"error":       lastErr.Error(),
		}).Warn("Operation attempt failed")

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, cfg.Delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, maxAttempts, lastErr)
}

// DoValue executes fn under cfg and returns its value on success. Semantics
// are identical to Do.
func DoValue[T any](ctx context.Context, cfg Config, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, name, func(ctx context.Context) error {
		value, err := fn(ctx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// runAttempt runs one attempt under its own deadline. The operation itself is
// responsible for observing the attempt context; the executor only stops
// awaiting it, so remote side effects may still land and must be absorbed by
// the sink's idempotent insert.
func runAttempt(ctx context.Context, timeout time.Duration, name string, fn Func) error {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(attemptCtx)
	if err != nil && timeout > 0 && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return apperrors.NewTimeoutError(name, timeout, fmt.Errorf("%w (%v)", ErrTimeout, err))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTimeout reports whether err came from an attempt deadline
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
