package memory

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/yairfalse/loadgate/internal/logger"
)

// Config tunes the leak heuristics and GC pressure response.
type Config struct {
	HistorySize     int     `yaml:"history_size"`
	LeakWindow      int     `yaml:"leak_window"`
	LeakGrowthMB    float64 `yaml:"leak_growth_mb"`
	ForceGCPercent  float64 `yaml:"force_gc_percent"`
	AggressivePoint float64 `yaml:"aggressive_gc_percent"`
}

// DefaultConfig returns the default memory optimization configuration.
func DefaultConfig() Config {
	return Config{
		HistorySize:     10,
		LeakWindow:      5,
		LeakGrowthMB:    100,
		ForceGCPercent:  80,
		AggressivePoint: 70,
	}
}

// Stats reports the optimizer's cumulative activity.
type Stats struct {
	Samples       int       `json:"samples"`
	ForcedGCRuns  int64     `json:"forced_gc_runs"`
	AggressiveGC  bool      `json:"aggressive_gc"`
	LeaksDetected int64     `json:"leaks_detected"`
	LastGC        time.Time `json:"last_gc"`
}

// Optimizer keeps a bounded history of memory-usage samples, flags
// sustained growth, and adapts garbage collection to memory pressure.
// The leak heuristic and the GC triggers are independent; either or both
// may fire on the same sample.
type Optimizer struct {
	config Config
	log    logger.Logger

	mu               sync.Mutex
	samplesMB        []float64
	defaultGCPercent int
	aggressive       bool
	forcedGCRuns     int64
	leaksDetected    int64
	lastGC           time.Time
}

// NewOptimizer creates a memory optimizer. Zero config fields take defaults.
func NewOptimizer(config Config, log logger.Logger) *Optimizer {
	defaults := DefaultConfig()
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.LeakWindow <= 0 {
		config.LeakWindow = defaults.LeakWindow
	}
	if config.LeakGrowthMB <= 0 {
		config.LeakGrowthMB = defaults.LeakGrowthMB
	}
	if config.ForceGCPercent <= 0 {
		config.ForceGCPercent = defaults.ForceGCPercent
	}
	if config.AggressivePoint <= 0 {
		config.AggressivePoint = defaults.AggressivePoint
	}
	if log == nil {
		log = logger.NewNop()
	}

	// Read the ambient GOGC without changing it.
	current := debug.SetGCPercent(100)
	debug.SetGCPercent(current)

	return &Optimizer{
		config:           config,
		log:              log,
		samplesMB:        make([]float64, 0, config.HistorySize),
		defaultGCPercent: current,
	}
}

// Observe records one memory sample and applies the leak heuristic and
// GC tuning. It returns true when this sample completes a leak pattern.
func (o *Optimizer) Observe(memUsedMB, memPercent float64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.samplesMB = append(o.samplesMB, memUsedMB)
	if len(o.samplesMB) > o.config.HistorySize {
		o.samplesMB = o.samplesMB[len(o.samplesMB)-o.config.HistorySize:]
	}

	leak := o.leakDetected()
	if leak {
		o.leaksDetected++
		o.logLeak(memUsedMB)
	}

	o.tuneGC(memPercent)

	return leak
}

// leakDetected checks the most recent samples for sustained growth.
// Caller holds mu.
func (o *Optimizer) leakDetected() bool {
	n := o.config.LeakWindow
	if len(o.samplesMB) < n {
		return false
	}

	recent := o.samplesMB[len(o.samplesMB)-n:]
	for i := 1; i < n; i++ {
		if recent[i] <= recent[i-1] {
			return false
		}
	}

	return recent[n-1]-recent[0] > o.config.LeakGrowthMB
}

// tuneGC applies the pressure-driven GC policy. Forced collection and
// threshold halving are independent triggers. Caller holds mu.
func (o *Optimizer) tuneGC(memPercent float64) {
	if memPercent > o.config.ForceGCPercent {
		runtime.GC()
		o.forcedGCRuns++
		o.lastGC = time.Now()
	}

	if memPercent > o.config.AggressivePoint {
		if !o.aggressive {
			debug.SetGCPercent(o.defaultGCPercent / 2)
			o.aggressive = true
			o.log.WithField("gc_percent", o.defaultGCPercent/2).Info("memory pressure high, collecting more aggressively")
		}
	} else if o.aggressive {
		debug.SetGCPercent(o.defaultGCPercent)
		o.aggressive = false
		o.log.WithField("gc_percent", o.defaultGCPercent).Info("memory pressure normal, restored GC thresholds")
	}
}

// logLeak reports a flagged leak with current heap detail. Caller holds mu.
func (o *Optimizer) logLeak(memUsedMB float64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	recent := o.samplesMB[len(o.samplesMB)-o.config.LeakWindow:]
	o.log.WithFields(map[string]interface{}{
		"memory_used_mb": fmt.Sprintf("%.1f", memUsedMB),
		"growth_mb":      fmt.Sprintf("%.1f", recent[len(recent)-1]-recent[0]),
		"heap_objects":   m.HeapObjects,
		"heap_alloc_mb":  m.HeapAlloc / (1024 * 1024),
		"goroutines":     runtime.NumGoroutine(),
	}).Warn("sustained memory growth detected, possible leak")
}

// GCCollections returns the cumulative GC count for the process.
func (o *Optimizer) GCCollections() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.NumGC)
}

// GetStats returns a copy of the optimizer's counters.
func (o *Optimizer) GetStats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Samples:       len(o.samplesMB),
		ForcedGCRuns:  o.forcedGCRuns,
		AggressiveGC:  o.aggressive,
		LeaksDetected: o.leaksDetected,
		LastGC:        o.lastGC,
	}
}
