package pipeline

import (
	"context"
	"time"
)

// Policy is an exponential backoff retry policy. Delay for attempt n
// (zero-based) is BaseDelay*2^n capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the provider call budget: three attempts, five
// second base, thirty second cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the backoff before retrying after the given zero-based
// attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Sleep waits out the backoff for attempt, returning early with the
// context error if ctx is done first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
