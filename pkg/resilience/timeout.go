package resilience

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds a single call, such as one model-provider attempt, to
// timeout. fn receives a context that is cancelled at the deadline. If fn has
// not returned by then, the error wraps context.DeadlineExceeded and fn's
// late result is dropped; a cancelled parent is reported as such. A
// non-positive timeout runs fn under ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(attemptCtx) }()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: cancelled by caller: %w", name, err)
	}
	return fmt.Errorf("%s: attempt exceeded %v: %w", name, timeout, context.DeadlineExceeded)
}
