package types

import "time"

// ResourceMetrics is a point-in-time snapshot of system resource usage.
// Snapshots are immutable once produced and retained in a bounded ring
// buffer for trend analysis.
type ResourceMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryPercent       float64   `json:"memory_percent"`
	MemoryUsedMB        float64   `json:"memory_used_mb"`
	MemoryAvailableMB   float64   `json:"memory_available_mb"`
	DiskUsagePercent    float64   `json:"disk_usage_percent"`
	ActiveConnections   int       `json:"active_connections"`
	GCCollections       int64     `json:"gc_collections"`
	MemoryLeaksDetected int       `json:"memory_leaks_detected"`
}

// ResourceLevel is a coarse classification of system pressure derived
// from CPU and memory thresholds.
type ResourceLevel string

const (
	ResourceLevelLow      ResourceLevel = "low"
	ResourceLevelNormal   ResourceLevel = "normal"
	ResourceLevelHigh     ResourceLevel = "high"
	ResourceLevelCritical ResourceLevel = "critical"
	ResourceLevelUnknown  ResourceLevel = "unknown"
)

// AlertLevel indicates the severity of a resource alert.
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert records a resource pressure event observed by the monitor loop.
type Alert struct {
	Timestamp time.Time  `json:"timestamp"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
}

// ResourceStatus is the externally visible view of the resource manager.
type ResourceStatus struct {
	Status            string        `json:"status"`
	CPUPercent        float64       `json:"cpu_percent"`
	MemoryPercent     float64       `json:"memory_percent"`
	MemoryUsedMB      float64       `json:"memory_used_mb"`
	MemoryAvailableMB float64       `json:"memory_available_mb"`
	DiskUsagePercent  float64       `json:"disk_usage_percent"`
	ActiveRequests    int64         `json:"active_requests"`
	ThrottledRequests int64         `json:"throttled_requests"`
	RejectedRequests  int64         `json:"rejected_requests"`
	RecentAlerts      []Alert       `json:"recent_alerts"`
	ResourceLevel     ResourceLevel `json:"resource_level"`
}
