package channel

import "time"

const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 10 * time.Second
	defaultMaxAttempts = 20
)

// Policy decides how long to wait before each reconnect and how many
// consecutive reconnects are allowed before the connection gives up.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy returns 1s doubling up to 10s, for at most 20 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
		MaxAttempts: defaultMaxAttempts,
	}
}

// NextDelay returns min(BaseDelay * 2^attempt, MaxDelay). Attempt is
// zero-based; negative values are treated as zero.
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	return p
}
