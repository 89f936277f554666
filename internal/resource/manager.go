package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/loadgate/internal/admission"
	"github.com/yairfalse/loadgate/internal/logger"
	"github.com/yairfalse/loadgate/internal/memory"
	"github.com/yairfalse/loadgate/pkg/types"
)

// ManagerConfig tunes the resource monitor loop.
type ManagerConfig struct {
	SampleInterval time.Duration `yaml:"sample_interval"`
	HistorySize    int           `yaml:"history_size"`
	AlertHistory   int           `yaml:"alert_history"`

	HighCPUPercent        float64 `yaml:"high_cpu_percent"`
	HighMemoryPercent     float64 `yaml:"high_memory_percent"`
	CriticalCPUPercent    float64 `yaml:"critical_cpu_percent"`
	CriticalMemoryPercent float64 `yaml:"critical_memory_percent"`
}

// DefaultManagerConfig returns the default monitor configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SampleInterval:        5 * time.Second,
		HistorySize:           1000,
		AlertHistory:          50,
		HighCPUPercent:        75,
		HighMemoryPercent:     75,
		CriticalCPUPercent:    90,
		CriticalMemoryPercent: 90,
	}
}

// Manager runs the resource monitoring loop. Each tick it samples the
// system, feeds the memory optimizer, classifies pressure, and retains
// the snapshot in a bounded ring for trend analysis. A failed sample
// degrades the reported status instead of raising; consumers keep using
// the last-known-good snapshot.
type Manager struct {
	config    ManagerConfig
	sampler   SystemSampler
	gate      *admission.Gate
	optimizer *memory.Optimizer
	log       logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running int32

	mu        sync.RWMutex
	history   []types.ResourceMetrics
	alerts    []types.Alert
	lastGood  *types.ResourceMetrics
	lastLevel types.ResourceLevel
	degraded  bool
}

// NewManager creates a resource manager. Zero config fields take defaults.
func NewManager(config ManagerConfig, sampler SystemSampler, gate *admission.Gate, optimizer *memory.Optimizer, log logger.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if config.SampleInterval <= 0 {
		config.SampleInterval = defaults.SampleInterval
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.AlertHistory <= 0 {
		config.AlertHistory = defaults.AlertHistory
	}
	if config.HighCPUPercent <= 0 {
		config.HighCPUPercent = defaults.HighCPUPercent
	}
	if config.HighMemoryPercent <= 0 {
		config.HighMemoryPercent = defaults.HighMemoryPercent
	}
	if config.CriticalCPUPercent <= 0 {
		config.CriticalCPUPercent = defaults.CriticalCPUPercent
	}
	if config.CriticalMemoryPercent <= 0 {
		config.CriticalMemoryPercent = defaults.CriticalMemoryPercent
	}
	if sampler == nil {
		sampler = NewProcSampler()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Manager{
		config:    config,
		sampler:   sampler,
		gate:      gate,
		optimizer: optimizer,
		log:       log.WithField("component", "resource-manager"),
		history:   make([]types.ResourceMetrics, 0, config.HistorySize),
		lastLevel: types.ResourceLevelNormal,
	}
}

// Start begins the monitoring loop. Idempotent.
func (m *Manager) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.Collect()

	go func() {
		ticker := time.NewTicker(m.config.SampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Collect()
			}
		}
	}()

	return nil
}

// Stop halts the monitoring loop. Idempotent.
func (m *Manager) Stop() {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return
	}
	m.cancel()
}

// Collect takes one sample immediately. It is the body of the monitor
// tick and is exported so callers can force a refresh.
func (m *Manager) Collect() {
	sample, err := m.sampler.Sample()
	if err != nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		m.log.Error("system sampling failed, keeping last-known-good snapshot", err)
		return
	}

	leak := 0
	var gcCount int64
	if m.optimizer != nil {
		if m.optimizer.Observe(sample.MemoryUsedMB, sample.MemoryPercent) {
			leak = 1
		}
		gcCount = m.optimizer.GCCollections()
	}

	var active int64
	if m.gate != nil {
		active = m.gate.ActiveRequests()
	}

	metrics := types.ResourceMetrics{
		Timestamp:           time.Now(),
		CPUPercent:          sample.CPUPercent,
		MemoryPercent:       sample.MemoryPercent,
		MemoryUsedMB:        sample.MemoryUsedMB,
		MemoryAvailableMB:   sample.MemoryAvailableMB,
		DiskUsagePercent:    sample.DiskUsagePercent,
		ActiveConnections:   int(active),
		GCCollections:       gcCount,
		MemoryLeaksDetected: leak,
	}

	level := m.classify(metrics)

	m.mu.Lock()
	m.degraded = false
	m.lastGood = &metrics
	m.history = append(m.history, metrics)
	if len(m.history) > m.config.HistorySize {
		m.history = m.history[len(m.history)-m.config.HistorySize:]
	}
	if level != m.lastLevel && (level == types.ResourceLevelHigh || level == types.ResourceLevelCritical) {
		m.recordAlert(level, metrics)
	}
	m.lastLevel = level
	m.mu.Unlock()
}

// classify maps a snapshot to a coarse resource level.
func (m *Manager) classify(metrics types.ResourceMetrics) types.ResourceLevel {
	switch {
	case metrics.CPUPercent >= m.config.CriticalCPUPercent || metrics.MemoryPercent >= m.config.CriticalMemoryPercent:
		return types.ResourceLevelCritical
	case metrics.CPUPercent >= m.config.HighCPUPercent || metrics.MemoryPercent >= m.config.HighMemoryPercent:
		return types.ResourceLevelHigh
	case metrics.CPUPercent < 25 && metrics.MemoryPercent < 40:
		return types.ResourceLevelLow
	default:
		return types.ResourceLevelNormal
	}
}

// recordAlert appends a bounded alert entry. Caller holds mu.
func (m *Manager) recordAlert(level types.ResourceLevel, metrics types.ResourceMetrics) {
	alertLevel := types.AlertLevelWarning
	if level == types.ResourceLevelCritical {
		alertLevel = types.AlertLevelCritical
	}

	m.alerts = append(m.alerts, types.Alert{
		Timestamp: metrics.Timestamp,
		Level:     alertLevel,
		Message:   fmt.Sprintf("resource level %s: cpu %.1f%%, memory %.1f%%", level, metrics.CPUPercent, metrics.MemoryPercent),
	})
	if len(m.alerts) > m.config.AlertHistory {
		m.alerts = m.alerts[len(m.alerts)-m.config.AlertHistory:]
	}
}

// Latest returns the most recent successful snapshot, if any.
func (m *Manager) Latest() (types.ResourceMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastGood == nil {
		return types.ResourceMetrics{}, false
	}
	return *m.lastGood, true
}

// CurrentLoad returns max(cpu, memory)/100 from the last-known-good
// snapshot, or zero when nothing has been sampled yet.
func (m *Manager) CurrentLoad() float64 {
	metrics, ok := m.Latest()
	if !ok {
		return 0
	}
	load := metrics.CPUPercent
	if metrics.MemoryPercent > load {
		load = metrics.MemoryPercent
	}
	return load / 100
}

// History returns a copy of the retained snapshots, oldest first.
func (m *Manager) History() []types.ResourceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ResourceMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// GetResourceStatus assembles the external observability payload.
func (m *Manager) GetResourceStatus() types.ResourceStatus {
	m.mu.RLock()
	degraded := m.degraded
	lastGood := m.lastGood
	level := m.lastLevel
	alerts := make([]types.Alert, len(m.alerts))
	copy(alerts, m.alerts)
	m.mu.RUnlock()

	status := types.ResourceStatus{
		Status:        "healthy",
		ResourceLevel: level,
		RecentAlerts:  alerts,
	}

	if m.gate != nil {
		status.ActiveRequests = m.gate.ActiveRequests()
		status.ThrottledRequests, status.RejectedRequests = m.gate.Counters()
	}

	if lastGood == nil {
		status.Status = "unknown"
		status.ResourceLevel = types.ResourceLevelUnknown
		return status
	}

	status.CPUPercent = lastGood.CPUPercent
	status.MemoryPercent = lastGood.MemoryPercent
	status.MemoryUsedMB = lastGood.MemoryUsedMB
	status.MemoryAvailableMB = lastGood.MemoryAvailableMB
	status.DiskUsagePercent = lastGood.DiskUsagePercent

	if degraded {
		status.Status = "unavailable"
		status.ResourceLevel = types.ResourceLevelUnknown
	}

	return status
}
