package executor

import (
	"context"
	"time"
)

// sleepBackoff waits base * 2^(attempt-1) or until the context is done.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
