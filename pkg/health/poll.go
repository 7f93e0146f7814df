package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned by PollUntil when the condition never held
var ErrTimeout = errors.New("timed out waiting for condition")

// ConditionFunc reports whether the awaited condition holds. A non-nil
// error stops polling immediately.
type ConditionFunc func(ctx context.Context) (done bool, err error)

// PollUntil runs fn every interval until it reports done, fails, or the
// timeout elapses. The first check runs immediately so an already-true
// condition never waits.
func PollUntil(ctx context.Context, interval, timeout time.Duration, fn ConditionFunc) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("condition not met after %s: %w", timeout, ErrTimeout)
		case <-ticker.C:
		}
	}
}

// Hold blocks for the given duration or until the context is cancelled
func Hold(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
