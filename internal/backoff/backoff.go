// Package backoff holds the wait helpers shared by the retry loops of the
// lifecycle manager, the feature modules and the HTTP client.
package backoff

import (
	"context"
	"time"
)

// Linear returns the delay before retry n (1-based): base*n.
func Linear(base time.Duration, n int) time.Duration {
	if base <= 0 || n <= 0 {
		return 0
	}
	return base * time.Duration(n)
}

// Sleep waits for wait or until ctx is done, returning ctx.Err() in the
// latter case. A non-positive wait only reports ctx.Err().
func Sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
