package mq

import (
	"context"
	"time"
)

const (
	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
)

// backoff yields exponentially growing delays capped at maxBackoff.
type backoff struct {
	delay time.Duration
}

func newBackoff() *backoff {
	return &backoff{delay: initialBackoff}
}

func (b *backoff) next() time.Duration {
	d := b.delay
	b.delay *= backoffMultiplier
	if b.delay > maxBackoff {
		b.delay = maxBackoff
	}
	return d
}

// wait sleeps for d unless ctx is done or the client is closed first.
func (b *backoff) wait(ctx context.Context, done <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	case <-t.C:
		return nil
	}
}
