// Package testutil provides polling helpers for tests that wait on
// scheduler workers, ticking loops, and other asynchronous state.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// Poll checks condition every interval until it returns true, timeout
// elapses, or ctx ends.
func Poll(ctx context.Context, condition func() bool, timeout, interval time.Duration) error {
	_, err := WaitForState(ctx, condition, func(ok bool) bool { return ok }, timeout, interval)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	return nil
}

// WaitForState calls getter every interval until predicate accepts its
// result, returning that result.
//
//	status, err := WaitForState(ctx, func() scheduler.Status { s, _ := sch.Peek(id); return s },
//		func(s scheduler.Status) bool { return s.Terminal() },
//		AsyncTimeout, PollingInterval)
func WaitForState[T any](ctx context.Context, getter func() T, predicate func(T) bool, timeout, interval time.Duration) (T, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		state := getter()
		if predicate(state) {
			return state, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-deadline.C:
			var zero T
			return zero, fmt.Errorf("timeout after %v waiting for %T state", timeout, zero)
		case <-ticker.C:
		}
	}
}

// Eventually fails the test if condition does not hold within AsyncTimeout.
func Eventually(t testing.TB, condition func() bool, msg string) {
	t.Helper()
	if err := Poll(context.Background(), condition, AsyncTimeout, PollingInterval); err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}
