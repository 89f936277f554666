package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/loadgate/pkg/types"
)

type stubSampler struct {
	sample Sample
	err    error
}

func (s *stubSampler) Sample() (Sample, error) {
	if s.err != nil {
		return Sample{}, s.err
	}
	return s.sample, nil
}

func TestManager_Classify(t *testing.T) {
	m := NewManager(ManagerConfig{}, &stubSampler{}, nil, nil, nil)

	tests := []struct {
		name string
		cpu  float64
		mem  float64
		want types.ResourceLevel
	}{
		{"idle system", 10, 20, types.ResourceLevelLow},
		{"typical load", 40, 50, types.ResourceLevelNormal},
		{"cpu at high watermark", 75, 30, types.ResourceLevelHigh},
		{"memory at high watermark", 30, 75, types.ResourceLevelHigh},
		{"cpu critical", 90, 30, types.ResourceLevelCritical},
		{"memory critical", 30, 95, types.ResourceLevelCritical},
		{"low cpu but elevated memory", 10, 45, types.ResourceLevelNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.classify(types.ResourceMetrics{CPUPercent: tt.cpu, MemoryPercent: tt.mem})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_CollectStoresSnapshot(t *testing.T) {
	sampler := &stubSampler{sample: Sample{
		CPUPercent:        42,
		MemoryPercent:     55,
		MemoryUsedMB:      2048,
		MemoryAvailableMB: 1024,
		DiskUsagePercent:  30,
	}}
	m := NewManager(ManagerConfig{}, sampler, nil, nil, nil)

	_, ok := m.Latest()
	require.False(t, ok, "no snapshot before the first collection")
	assert.Equal(t, 0.0, m.CurrentLoad())

	m.Collect()

	metrics, ok := m.Latest()
	require.True(t, ok)
	assert.Equal(t, 42.0, metrics.CPUPercent)
	assert.Equal(t, 2048.0, metrics.MemoryUsedMB)
	assert.Equal(t, 0.55, m.CurrentLoad(), "load is the dominant dimension over 100")
	assert.Len(t, m.History(), 1)
}

func TestManager_SampleFailureKeepsLastKnownGood(t *testing.T) {
	sampler := &stubSampler{sample: Sample{CPUPercent: 42, MemoryPercent: 20}}
	m := NewManager(ManagerConfig{}, sampler, nil, nil, nil)

	m.Collect()
	sampler.err = assert.AnError
	m.Collect()

	metrics, ok := m.Latest()
	require.True(t, ok, "the last good snapshot survives a failed sample")
	assert.Equal(t, 42.0, metrics.CPUPercent)

	status := m.GetResourceStatus()
	assert.Equal(t, "unavailable", status.Status)
	assert.Equal(t, types.ResourceLevelUnknown, status.ResourceLevel)
	assert.Equal(t, 42.0, status.CPUPercent, "stale readings stay visible while degraded")

	// recovery clears the degraded flag
	sampler.err = nil
	m.Collect()
	assert.Equal(t, "healthy", m.GetResourceStatus().Status)
}

func TestManager_StatusWithNoData(t *testing.T) {
	m := NewManager(ManagerConfig{}, &stubSampler{err: assert.AnError}, nil, nil, nil)
	m.Collect()

	status := m.GetResourceStatus()
	assert.Equal(t, "unknown", status.Status)
	assert.Equal(t, types.ResourceLevelUnknown, status.ResourceLevel)
}

func TestManager_AlertsOnLevelTransitionsOnly(t *testing.T) {
	sampler := &stubSampler{sample: Sample{CPUPercent: 40, MemoryPercent: 40}}
	m := NewManager(ManagerConfig{}, sampler, nil, nil, nil)

	m.Collect()
	assert.Empty(t, m.GetResourceStatus().RecentAlerts)

	sampler.sample.CPUPercent = 80
	m.Collect()
	m.Collect()
	alerts := m.GetResourceStatus().RecentAlerts
	require.Len(t, alerts, 1, "a sustained level raises a single alert")
	assert.Equal(t, types.AlertLevelWarning, alerts[0].Level)

	sampler.sample.CPUPercent = 95
	m.Collect()
	alerts = m.GetResourceStatus().RecentAlerts
	require.Len(t, alerts, 2)
	assert.Equal(t, types.AlertLevelCritical, alerts[1].Level)

	// dropping back to normal and spiking again re-alerts
	sampler.sample.CPUPercent = 40
	m.Collect()
	sampler.sample.CPUPercent = 80
	m.Collect()
	assert.Len(t, m.GetResourceStatus().RecentAlerts, 3)
}

func TestManager_HistoryBounded(t *testing.T) {
	sampler := &stubSampler{sample: Sample{CPUPercent: 30, MemoryPercent: 50}}
	m := NewManager(ManagerConfig{HistorySize: 3}, sampler, nil, nil, nil)

	for i := 0; i < 10; i++ {
		m.Collect()
	}

	assert.Len(t, m.History(), 3)
}

func TestManager_DefaultsApplied(t *testing.T) {
	m := NewManager(ManagerConfig{}, &stubSampler{}, nil, nil, nil)

	defaults := DefaultManagerConfig()
	assert.Equal(t, defaults.SampleInterval, m.config.SampleInterval)
	assert.Equal(t, defaults.HighCPUPercent, m.config.HighCPUPercent)
	assert.Equal(t, defaults.CriticalMemoryPercent, m.config.CriticalMemoryPercent)
}
