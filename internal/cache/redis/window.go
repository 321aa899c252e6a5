package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/cyclearb/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RequestWindow implements domain.RequestWindow with a sliding window over
// Redis sorted sets and an atomic Lua script. Because the counter lives in
// Redis, every instance sharing a relay endpoint draws from the same budget.
type RequestWindow struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRequestWindow creates a RequestWindow backed by the given Client.
func NewRequestWindow(c *Client) *RequestWindow {
	return &RequestWindow{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func windowKey(key string) string {
	return "window:" + key
}

// Allow reports whether a request for key fits in the sliding window, and
// counts it when it does.
func (rw *RequestWindow) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	result, err := rw.slidingWindow.Run(
		ctx,
		rw.rdb,
		[]string{windowKey(key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: request window %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: request window %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Compile-time interface check.
var _ domain.RequestWindow = (*RequestWindow)(nil)
