package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
)

// TimeoutError reports an operation that outlived its limit. It matches
// apperrors.ErrTimeout and context.DeadlineExceeded.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %v", e.Op, e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == apperrors.ErrTimeout || target == context.DeadlineExceeded
}

// WithTimeout runs fn with a context cancelled after limit and returns as soon
// as either finishes. fn is not waited for after the limit passes; it sees its
// context cancelled with a *TimeoutError cause. A limit <= 0 runs fn directly.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	cause := &TimeoutError{Op: op, Limit: limit}
	tctx, cancel := context.WithTimeoutCause(ctx, limit, cause)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	var err error
	select {
	case err = <-done:
		if err == nil || tctx.Err() == nil {
			return err
		}
	case <-tctx.Done():
	}
	if perr := ctx.Err(); perr != nil {
		return fmt.Errorf("%s: %w", op, perr)
	}
	return cause
}
