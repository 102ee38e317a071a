package internal

import (
	"context"
	"time"
)

// WithTimeout bounds startup and operator calls. Non-positive durations fall
// back to 5 seconds.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
