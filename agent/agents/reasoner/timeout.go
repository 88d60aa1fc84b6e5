package reasoner

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
)

// callWithTimeout runs fn in its own goroutine so a callee that ignores ctx
// cannot hold the turn past d. A panic in fn is returned as an error.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w: %w", contractx.ErrReasoningTimeout, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, contractx.ErrReasoningTimeout) || errors.Is(err, context.DeadlineExceeded)
}
