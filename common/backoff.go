package common

import (
	"context"
	"fmt"
	"time"
)

// Backoff implements retry backoff on failure.
type Backoff struct {
	initialTimeout time.Duration
	currentTimeout time.Duration
	maximumTimeout time.Duration
}

// NewBackoff returns a new backoff.
func NewBackoff(initialTimeout time.Duration, maximumTimeout time.Duration) (*Backoff, error) {
	if initialTimeout <= 0 {
		return nil, fmt.Errorf("initial timeout %s must be positive", initialTimeout)
	}
	if maximumTimeout < initialTimeout {
		return nil, fmt.Errorf("maximum timeout %s less than initial timeout %s", maximumTimeout, initialTimeout)
	}
	return &Backoff{initialTimeout, initialTimeout, maximumTimeout}, nil
}

// Wait waits for the current backoff interval, then doubles it up to the
// maximum. It returns early with ctx's error once ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	select {
	case <-time.After(b.currentTimeout):
	case <-ctx.Done():
		return ctx.Err()
	}
	b.currentTimeout *= 2
	if b.currentTimeout > b.maximumTimeout {
		b.currentTimeout = b.maximumTimeout
	}
	return nil
}

// Reset resets the backoff.
func (b *Backoff) Reset() {
	b.currentTimeout = b.initialTimeout
}

// Timeout returns the backoff timeout.
func (b *Backoff) Timeout() time.Duration {
	return b.currentTimeout
}
