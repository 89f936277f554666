package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate_ThrottleExactness(t *testing.T) {
	gate := NewGate(ThrottleConfig{
		MaxRequestsPerSecond:  5,
		MaxConcurrentRequests: 100,
		BurstLimit:            100,
	})

	for i := 0; i < 5; i++ {
		assert.Equal(t, Admitted, gate.Allow(), "check %d should be admitted", i+1)
	}
	assert.Equal(t, Throttled, gate.Allow(), "6th check in the same window must be throttled")

	throttled, rejected := gate.Counters()
	assert.Equal(t, int64(1), throttled)
	assert.Equal(t, int64(0), rejected)
	assert.Equal(t, int64(5), gate.ActiveRequests())
}

func TestGate_ConcurrencyCap(t *testing.T) {
	gate := NewGate(ThrottleConfig{
		MaxRequestsPerSecond:  100,
		MaxConcurrentRequests: 2,
		BurstLimit:            100,
	})

	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Rejected, gate.Allow())

	_, rejected := gate.Counters()
	assert.Equal(t, int64(1), rejected)

	gate.Release()
	assert.Equal(t, Admitted, gate.Allow())
}

func TestGate_WindowEviction(t *testing.T) {
	gate := NewGate(ThrottleConfig{
		MaxRequestsPerSecond:  2,
		MaxConcurrentRequests: 100,
		BurstLimit:            100,
	})

	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Throttled, gate.Allow())

	time.Sleep(1100 * time.Millisecond)

	assert.Equal(t, Admitted, gate.Allow(), "window entries older than 1s must be evicted")
}

func TestGate_BurstLimit(t *testing.T) {
	gate := NewGate(ThrottleConfig{
		MaxRequestsPerSecond:  100,
		MaxConcurrentRequests: 100,
		BurstLimit:            3,
	})

	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Admitted, gate.Allow())
	assert.Equal(t, Throttled, gate.Allow(), "burst cap reached within the short window")
}

func TestGate_ReleaseNeverGoesNegative(t *testing.T) {
	gate := NewGate(ThrottleConfig{})

	gate.Release()
	assert.Equal(t, int64(0), gate.ActiveRequests())

	assert.Equal(t, Admitted, gate.Allow())
	gate.Release()
	gate.Release()
	assert.Equal(t, int64(0), gate.ActiveRequests())
}

func TestGate_Defaults(t *testing.T) {
	gate := NewGate(ThrottleConfig{})
	assert.Equal(t, DefaultThrottleConfig().CooldownPeriod, gate.Cooldown())
}

func TestDecision_String(t *testing.T) {
	tests := []struct {
		decision Decision
		want     string
	}{
		{Admitted, "admitted"},
		{Throttled, "throttled"},
		{Rejected, "rejected"},
		{Decision(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.decision.String())
	}
}
