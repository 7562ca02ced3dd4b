package ranker

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError is returned by WithTimeout when the deadline wins the race.
type TimeoutError struct {
	Msg   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s (after %s)", e.Msg, e.After)
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// WithTimeout races op against d. If op finishes first its result and error
// are returned unchanged. Otherwise a *TimeoutError carrying msg is returned
// and op is abandoned: its context is cancelled but nothing waits for it.
// d <= 0 counts as already expired and op is never started.
func WithTimeout[T any](ctx context.Context, d time.Duration, msg string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return zero, &TimeoutError{Msg: msg, After: 0}
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1) // buffered so an abandoned op can still exit
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("operation panicked: %v", p)}
			}
		}()
		v, err := op(opCtx)
		done <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.val, o.err
	case <-timer.C:
		return zero, &TimeoutError{Msg: msg, After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
