package transport

import (
	"context"
	"errors"
	"io"
	"time"

	pgerr "pgdial/internal/errors"
)

// WithTimeout runs op under an optional time bound.  With d == 0 op
// runs unbounded.  Otherwise op gets a context that expires after d;
// if the deadline fires first, op's context is cancelled and a
// *errors.TimeoutError is returned.  A result op still produces after
// that point is closed if it is an io.Closer, so an attempt that loses
// the race never leaks its connection.
func WithTimeout[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(ctx)
		done <- outcome[T]{v, err}
	}()

	select {
	case r := <-done:
		cancel()
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return r.val, &pgerr.TimeoutError{After: d, Err: r.err}
		}
		return r.val, r.err
	case <-ctx.Done():
		cause := ctx.Err()
		cancel()
		go discard[T](done)

		var zero T
		if errors.Is(cause, context.DeadlineExceeded) {
			return zero, &pgerr.TimeoutError{After: d, Err: cause}
		}
		return zero, cause
	}
}

type outcome[T any] struct {
	val T
	err error
}

// discard waits for an abandoned op and closes whatever it produced.
func discard[T any](done <-chan outcome[T]) {
	r := <-done
	if r.err != nil {
		return
	}
	if c, ok := any(r.val).(io.Closer); ok {
		c.Close()
	}
}
