package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestComputeExpiry(t *testing.T) {
	assert.Equal(t, t0.Add(12*time.Hour), ComputeExpiry(t0, DefaultTTL))
	assert.Equal(t, t0.Add(12*time.Hour), ComputeExpiry(t0, 0), "zero ttl falls back to default")
	assert.Equal(t, t0.Add(time.Hour), ComputeExpiry(t0, time.Hour))
}

func TestRemainingHours(t *testing.T) {
	exp := ComputeExpiry(t0, DefaultTTL)

	assert.InDelta(t, 12.0, RemainingHours(exp, t0), 1e-9)
	assert.InDelta(t, 1.5, RemainingHours(exp, t0.Add(10*time.Hour+30*time.Minute)), 1e-9)
	assert.InDelta(t, -1.0, RemainingHours(exp, t0.Add(13*time.Hour)), 1e-9)
}

func TestIsExpired_Boundary(t *testing.T) {
	exp := ComputeExpiry(t0, DefaultTTL)

	assert.False(t, IsExpired(exp, exp.Add(-time.Nanosecond)))
	assert.True(t, IsExpired(exp, exp), "expired exactly at the expiry instant")
	assert.True(t, IsExpired(exp, exp.Add(time.Second)))
}

func TestIsExpired_MatchesRemainingHours(t *testing.T) {
	exp := ComputeExpiry(t0, DefaultTTL)
	for _, offset := range []time.Duration{0, time.Hour, 11 * time.Hour, 12 * time.Hour, 13 * time.Hour, 48 * time.Hour} {
		now := t0.Add(offset)
		assert.Equal(t, RemainingHours(exp, now) <= 0, IsExpired(exp, now), "offset %s", offset)
	}
}

func TestIsExpiringSoon(t *testing.T) {
	exp := ComputeExpiry(t0, DefaultTTL)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"fresh", t0, false},
		{"exactly two hours left", exp.Add(-2 * time.Hour), false},
		{"just under two hours", exp.Add(-2*time.Hour + time.Second), true},
		{"one minute left", exp.Add(-time.Minute), true},
		{"expired", exp, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpiringSoon(exp, tt.now, DefaultWarningThreshold))
		})
	}
}

func TestPolicySummarize(t *testing.T) {
	p := DefaultPolicy()

	s := p.Summarize(t0, t0.Add(11*time.Hour))
	assert.Equal(t, t0.Add(12*time.Hour), s.ExpiresAt)
	assert.InDelta(t, 1.0, s.RemainingHours, 1e-9)
	assert.False(t, s.Expired)
	assert.True(t, s.ExpiringSoon)

	s = p.Summarize(t0, t0.Add(12*time.Hour))
	assert.True(t, s.Expired)
	assert.False(t, s.ExpiringSoon)

	custom := Policy{TTL: time.Hour, WarningThreshold: 30 * time.Minute}
	assert.True(t, custom.Expired(t0, t0.Add(time.Hour)))
	assert.False(t, custom.Expired(t0, t0.Add(59*time.Minute)))
}
