package pool

import "time"

// WorkerStatus represents the state of a worker
type WorkerStatus int

const (
	StatusIdle WorkerStatus = iota
	StatusBusy
	StatusOverloaded
	StatusUnhealthy
	StatusShuttingDown
)

func (s WorkerStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusOverloaded:
		return "overloaded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusShuttingDown:
		return "shutting_down"
	}
	return "unknown"
}

// overloadThreshold is the usage fraction above which a worker is
// considered overloaded and excluded from selection.
const overloadThreshold = 0.9

// ProbeFunc reports a worker's current cpu and memory usage as fractions
// in [0, 1]. A probe failure leaves the worker's last health check stale,
// which is the path to the unhealthy state.
type ProbeFunc func() (cpu, mem float64, err error)

// Worker is one logical execution slot. All fields are owned by the Pool
// and mutated only under the pool lock.
type Worker struct {
	id              string
	status          WorkerStatus
	cpuUsage        float64
	memoryUsage     float64
	activeRequests  int
	maxRequests     int
	lastHealthCheck time.Time
	responseTimeAvg time.Duration
	errorRate       float64
	createdAt       time.Time
	probe           ProbeFunc
}

// score ranks a worker for selection; lower is better. Load share plus
// half-weighted cpu and memory usage.
func (w *Worker) score() float64 {
	return float64(w.activeRequests)/float64(w.maxRequests) + 0.5*w.cpuUsage + 0.5*w.memoryUsage
}

// eligible reports whether the worker may accept another request.
func (w *Worker) eligible() bool {
	if w.status != StatusIdle && w.status != StatusBusy {
		return false
	}
	return w.activeRequests < w.maxRequests
}

// refreshStatus recomputes the worker's state from its usage and load.
// Terminal and administrative states are sticky.
func (w *Worker) refreshStatus() {
	if w.status == StatusUnhealthy || w.status == StatusShuttingDown {
		return
	}
	switch {
	case w.cpuUsage > overloadThreshold || w.memoryUsage > overloadThreshold:
		w.status = StatusOverloaded
	case w.activeRequests > 0:
		w.status = StatusBusy
	default:
		w.status = StatusIdle
	}
}

// WorkerInfo is a read-only snapshot of a worker for observability.
type WorkerInfo struct {
	ID              string        `json:"id"`
	Status          string        `json:"status"`
	CPUUsage        float64       `json:"cpu_usage"`
	MemoryUsage     float64       `json:"memory_usage"`
	ActiveRequests  int           `json:"active_requests"`
	MaxRequests     int           `json:"max_requests"`
	LastHealthCheck time.Time     `json:"last_health_check"`
	ResponseTimeAvg time.Duration `json:"response_time_avg"`
	ErrorRate       float64       `json:"error_rate"`
	CreatedAt       time.Time     `json:"created_at"`
}

func (w *Worker) info() WorkerInfo {
	return WorkerInfo{
		ID:              w.id,
		Status:          w.status.String(),
		CPUUsage:        w.cpuUsage,
		MemoryUsage:     w.memoryUsage,
		ActiveRequests:  w.activeRequests,
		MaxRequests:     w.maxRequests,
		LastHealthCheck: w.lastHealthCheck,
		ResponseTimeAvg: w.responseTimeAvg,
		ErrorRate:       w.errorRate,
		CreatedAt:       w.createdAt,
	}
}
