package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_NextDelay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
		{1000, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_NextDelayMatchesFormula(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 0; attempt <= 30; attempt++ {
		want := time.Duration(1<<uint(attempt)) * time.Second
		if attempt >= 4 || want > 10*time.Second {
			want = 10 * time.Second
		}
		assert.Equal(t, want, p.NextDelay(attempt), "attempt %d", attempt)
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	assert.Equal(t, DefaultPolicy(), p)

	p = Policy{BaseDelay: 5 * time.Second, MaxDelay: time.Second, MaxAttempts: 3}.withDefaults()
	assert.Equal(t, 5*time.Second, p.MaxDelay)
	assert.Equal(t, 3, p.MaxAttempts)
}
