package syncqueue

import (
	"math/rand"
	"time"
)

// BackoffConfig controls the retry schedule for transient sync failures
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool
}

// DefaultBackoff returns the standard retry schedule
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
		Jitter:    true,
	}
}

// Delay computes the backoff delay for a 1-based attempt number:
// base * 2^(attempt-1), capped, with up to 25% jitter to avoid
// synchronized retries across devices.
func (b BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			delay = b.MaxDelay
			break
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}

	if b.Jitter {
		jitterRange := float64(delay) * 0.25
		delay += time.Duration((rand.Float64()*2 - 1) * jitterRange)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}
