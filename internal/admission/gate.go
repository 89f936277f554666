package admission

import (
	"sync"
	"time"
)

// ThrottleConfig is the static admission policy. It is supplied at
// construction and immutable afterwards.
type ThrottleConfig struct {
	MaxRequestsPerSecond  int           `yaml:"max_requests_per_second"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	BurstLimit            int           `yaml:"burst_limit"`
	CooldownPeriod        time.Duration `yaml:"cooldown_period"`
}

// DefaultThrottleConfig returns the default admission policy.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		MaxRequestsPerSecond:  100,
		MaxConcurrentRequests: 50,
		BurstLimit:            20,
		CooldownPeriod:        60 * time.Second,
	}
}

// Decision is the outcome of an admission check. Throttled and Rejected
// both mean "try again later" for the caller; they are distinguished for
// observability only.
type Decision int

const (
	Admitted Decision = iota
	Throttled
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Throttled:
		return "throttled"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

const (
	rateWindow  = time.Second
	burstWindow = 100 * time.Millisecond
)

// Gate is the sliding-window rate limiter plus concurrency cap guarding
// entry into the system. Allow is O(1) amortized: each timestamp enters
// and leaves the window exactly once.
type Gate struct {
	config ThrottleConfig

	mu             sync.Mutex
	window         []time.Time
	activeRequests int64
	throttledCount int64
	rejectedCount  int64
}

// NewGate creates an admission gate. Zero config fields take defaults.
func NewGate(config ThrottleConfig) *Gate {
	defaults := DefaultThrottleConfig()
	if config.MaxRequestsPerSecond <= 0 {
		config.MaxRequestsPerSecond = defaults.MaxRequestsPerSecond
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = defaults.MaxConcurrentRequests
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = defaults.BurstLimit
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = defaults.CooldownPeriod
	}

	return &Gate{
		config: config,
		window: make([]time.Time, 0, config.MaxRequestsPerSecond),
	}
}

// Allow decides whether a new request may enter the system now. An
// Admitted decision counts against the concurrency cap until the caller
// invokes Release; failing to release is a caller bug, the gate does not
// time admissions out because it never tracks request identity.
func (g *Gate) Allow() Decision {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evict(now)

	if len(g.window) >= g.config.MaxRequestsPerSecond {
		g.throttledCount++
		return Throttled
	}

	if g.burstCount(now) >= g.config.BurstLimit {
		g.throttledCount++
		return Throttled
	}

	if g.activeRequests >= int64(g.config.MaxConcurrentRequests) {
		g.rejectedCount++
		return Rejected
	}

	g.window = append(g.window, now)
	g.activeRequests++
	return Admitted
}

// Release returns one unit of admitted concurrency. Must be called
// exactly once per Admitted decision, after the request completes.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeRequests > 0 {
		g.activeRequests--
	}
}

// evict drops window entries older than the rate window. Caller holds mu.
func (g *Gate) evict(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(g.window) && !g.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.window = append(g.window[:0], g.window[i:]...)
	}
}

// burstCount counts admissions within the short burst window. Caller holds mu.
func (g *Gate) burstCount(now time.Time) int {
	cutoff := now.Add(-burstWindow)
	n := 0
	for i := len(g.window) - 1; i >= 0; i-- {
		if !g.window[i].After(cutoff) {
			break
		}
		n++
	}
	return n
}

// ActiveRequests returns the number of currently admitted requests.
func (g *Gate) ActiveRequests() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeRequests
}

// Counters returns the cumulative throttled and rejected counts.
func (g *Gate) Counters() (throttled, rejected int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.throttledCount, g.rejectedCount
}

// Cooldown returns the advisory retry delay for refused requests.
func (g *Gate) Cooldown() time.Duration {
	return g.config.CooldownPeriod
}
