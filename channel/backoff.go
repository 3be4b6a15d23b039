package channel

import "time"

// Backoff delay bounds for reconnect attempts.
const (
	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second
)

// Backoff produces the reconnect delay sequence 1s, 2s, 4s, ... capped at
// 30s. Reset returns it to the initial delay; the channel calls it on every
// successfully received frame.
type Backoff struct {
	next time.Duration
}

// NewBackoff creates a Backoff at the initial delay.
func NewBackoff() *Backoff {
	return &Backoff{next: backoffInitial}
}

// Next returns the current delay and doubles the next one.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > backoffCap {
		b.next = backoffCap
	}
	return d
}

// Reset returns the delay sequence to its start.
func (b *Backoff) Reset() {
	b.next = backoffInitial
}
