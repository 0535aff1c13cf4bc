package relay

import (
	"errors"
	"time"

	"healthpay-gateway/internal/conf"
)

// ErrBackoffExhausted is returned once the attempt budget is spent.
var ErrBackoffExhausted = errors.New("reconnect attempts exhausted")

// Backoff is an exponential delay sequence with a cap and a hard attempt
// limit. It is not safe for concurrent use; each consumer owns its own.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	limit    int
	attempts int
}

// NewBackoff creates a backoff sequence from the reconnect policy.
func NewBackoff(c *conf.Reconnect) *Backoff {
	return &Backoff{base: c.Base, max: c.Max, limit: c.MaxAttempts}
}

// Next returns the delay before the next attempt, doubling each call up
// to the cap. It returns ErrBackoffExhausted once the limit is reached.
func (b *Backoff) Next() (time.Duration, error) {
	if b.attempts >= b.limit {
		return 0, ErrBackoffExhausted
	}
	d := b.base << b.attempts
	if d > b.max || d < b.base {
		d = b.max
	}
	b.attempts++
	return d, nil
}

// Reset restarts the sequence after a successful connection.
func (b *Backoff) Reset() {
	b.attempts = 0
}
