package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// feed pushes samples through the optimizer at a quiet memory level and
// returns whether the final sample flagged a leak.
func feed(o *Optimizer, samplesMB []float64) bool {
	leak := false
	for _, s := range samplesMB {
		leak = o.Observe(s, 10)
	}
	return leak
}

func TestOptimizer_LeakDetection(t *testing.T) {
	tests := []struct {
		name      string
		samplesMB []float64
		wantLeak  bool
	}{
		{
			name:      "monotonic growth over threshold",
			samplesMB: []float64{100, 120, 145, 170, 210},
			wantLeak:  true,
		},
		{
			name:      "large range but not monotonic",
			samplesMB: []float64{100, 110, 90, 95, 80},
			wantLeak:  false,
		},
		{
			name:      "monotonic but under threshold",
			samplesMB: []float64{100, 110, 120, 130, 140},
			wantLeak:  false,
		},
		{
			name:      "growth exactly at threshold is not a leak",
			samplesMB: []float64{100, 125, 150, 175, 200},
			wantLeak:  false,
		},
		{
			name:      "too few samples",
			samplesMB: []float64{100, 150, 200, 250},
			wantLeak:  false,
		},
		{
			name:      "plateau breaks the pattern",
			samplesMB: []float64{100, 150, 150, 200, 250},
			wantLeak:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptimizer(Config{}, nil)
			assert.Equal(t, tt.wantLeak, feed(o, tt.samplesMB))
		})
	}
}

func TestOptimizer_LeakUsesMostRecentWindow(t *testing.T) {
	o := NewOptimizer(Config{}, nil)

	// noise first, then a clean growth pattern on top of it
	leak := feed(o, []float64{500, 200, 100, 120, 145, 170, 210})
	assert.True(t, leak, "older samples outside the window must not mask the pattern")

	stats := o.GetStats()
	assert.Equal(t, int64(1), stats.LeaksDetected)
}

func TestOptimizer_HistoryBounded(t *testing.T) {
	o := NewOptimizer(Config{}, nil)

	for i := 0; i < 25; i++ {
		o.Observe(float64(100+i%3), 10)
	}

	assert.Equal(t, DefaultConfig().HistorySize, o.GetStats().Samples)
}

func TestOptimizer_GCPressureResponse(t *testing.T) {
	o := NewOptimizer(Config{}, nil)

	// above the force threshold: collect immediately and go aggressive
	o.Observe(100, 85)
	stats := o.GetStats()
	assert.Equal(t, int64(1), stats.ForcedGCRuns)
	assert.True(t, stats.AggressiveGC)

	// between thresholds: aggressive stays on, no extra forced run
	o.Observe(100, 75)
	stats = o.GetStats()
	assert.Equal(t, int64(1), stats.ForcedGCRuns)
	assert.True(t, stats.AggressiveGC)

	// back under: defaults restored
	o.Observe(100, 50)
	stats = o.GetStats()
	assert.False(t, stats.AggressiveGC)
}

func TestOptimizer_GCCollectionsMonotonic(t *testing.T) {
	o := NewOptimizer(Config{}, nil)

	before := o.GCCollections()
	o.Observe(100, 85) // forces a collection
	after := o.GCCollections()

	assert.GreaterOrEqual(t, after, before+1)
}
