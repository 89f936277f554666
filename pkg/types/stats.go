package types

import "time"

// WorkerStats breaks down the pool by worker status.
type WorkerStats struct {
	Total      int `json:"total"`
	Idle       int `json:"idle"`
	Busy       int `json:"busy"`
	Overloaded int `json:"overloaded"`
	Unhealthy  int `json:"unhealthy"`
}

// RequestStats aggregates request lifecycle counters.
type RequestStats struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Queued      int     `json:"queued"`
	SuccessRate float64 `json:"success_rate"`
}

// PerformanceStats aggregates pool-wide performance indicators.
type PerformanceStats struct {
	AvgResponseTime time.Duration `json:"avg_response_time"`
	CurrentLoad     float64       `json:"current_load"`
	ScalingEvents   int64         `json:"scaling_events"`
	Uptime          time.Duration `json:"uptime"`
}

// Stats is the full observability payload returned by the load balancer.
type Stats struct {
	Workers     WorkerStats      `json:"workers"`
	Requests    RequestStats     `json:"requests"`
	Performance PerformanceStats `json:"performance"`
}

// ScalingAction identifies the direction of a scaling event.
type ScalingAction string

const (
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
)

// ScalingEvent records a single pool resize decision.
type ScalingEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Action    ScalingAction `json:"action"`
	OldCount  int           `json:"old_count"`
	NewCount  int           `json:"new_count"`
	Reason    string        `json:"reason"`
}
