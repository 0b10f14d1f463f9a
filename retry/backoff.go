// Package retry holds the reconnect/refetch backoff shared by the kafka relay and the
// websocket push client.
package retry

import (
	"context"
	"time"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

// Backoff grows d by BackoffMultiplier, starting from BackoffMinInterval. Once it would
// exceed BackoffMaxInterval it wraps back to the minimum.
func Backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMinInterval
		}
	}
}

// Sleep backs off d and waits for it. It returns false when ctx is done first.
func Sleep(ctx context.Context, d *time.Duration) bool {
	Backoff(d)
	select {
	case <-time.After(*d):
		return true
	case <-ctx.Done():
		return false
	}
}
