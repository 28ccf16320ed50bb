package stream

import "time"

const (
	DefaultRetryFloor   = 2 * time.Second
	DefaultRetryCeiling = 30 * time.Second
)

// backoff yields floor, 2*floor, 4*floor, ... capped at ceiling. It is owned
// by the subscription goroutine.
type backoff struct {
	floor   time.Duration
	ceiling time.Duration
	delay   time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	if floor <= 0 {
		floor = DefaultRetryFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &backoff{floor: floor, ceiling: ceiling, delay: floor}
}

// Current is the delay the next failure will wait.
func (b *backoff) Current() time.Duration { return b.delay }

// Next returns the delay to wait now and doubles the following one.
func (b *backoff) Next() time.Duration {
	d := b.delay
	next := b.delay * 2
	if next > b.ceiling || next <= 0 {
		next = b.ceiling
	}
	b.delay = next
	return d
}

func (b *backoff) Reset() { b.delay = b.floor }
