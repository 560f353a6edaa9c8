package queue

import (
	"context"
	"time"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// backoff doubles from minBackoff up to maxBackoff. The zero value is ready.
type backoff struct {
	next time.Duration
}

func (b *backoff) peek() time.Duration {
	if b.next <= 0 {
		return minBackoff
	}
	return b.next
}

func (b *backoff) reset() { b.next = 0 }

// wait sleeps for the current step and advances to the next one.
func (b *backoff) wait(ctx context.Context) error {
	d := b.peek()
	b.next = min(d*2, maxBackoff)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
