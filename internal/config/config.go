package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yairfalse/loadgate/internal/admission"
	"github.com/yairfalse/loadgate/internal/balancer"
	"github.com/yairfalse/loadgate/internal/memory"
	"github.com/yairfalse/loadgate/internal/pool"
	"github.com/yairfalse/loadgate/internal/resource"
)

// Config is the file/env representation of every tunable. Values map
// onto the component configs via ToBalancerConfig.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Scaling  ScalingConfig  `mapstructure:"scaling"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Resource ResourceConfig `mapstructure:"resource"`
	Memory   MemoryConfig   `mapstructure:"memory"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// PoolConfig holds worker pool bounds and queue limits
type PoolConfig struct {
	MinWorkers          int           `mapstructure:"min_workers"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	WorkerCapacity      int           `mapstructure:"worker_capacity"`
	MaxQueueSize        int           `mapstructure:"max_queue_size"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
}

// ScalingConfig holds autoscaler thresholds and timing
type ScalingConfig struct {
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	Interval           time.Duration `mapstructure:"interval"`
	HistorySize        int           `mapstructure:"history_size"`
}

// ThrottleConfig holds the admission gate policy
type ThrottleConfig struct {
	MaxRequestsPerSecond  int           `mapstructure:"max_requests_per_second"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	BurstLimit            int           `mapstructure:"burst_limit"`
	CooldownPeriod        time.Duration `mapstructure:"cooldown_period"`
}

// ResourceConfig holds the resource monitor settings
type ResourceConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	HistorySize    int           `mapstructure:"history_size"`
}

// MemoryConfig holds leak detection and GC tuning settings
type MemoryConfig struct {
	HistorySize         int     `mapstructure:"history_size"`
	LeakWindow          int     `mapstructure:"leak_window"`
	LeakGrowthMB        float64 `mapstructure:"leak_growth_mb"`
	ForceGCPercent      float64 `mapstructure:"force_gc_percent"`
	AggressiveGCPercent float64 `mapstructure:"aggressive_gc_percent"`
}

// Load reads configuration from an optional file plus LOADGATE_*
// environment variables, applying defaults for everything unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("LOADGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("loadgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.loadgate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("pool.min_workers", 1)
	v.SetDefault("pool.max_workers", 10)
	v.SetDefault("pool.worker_capacity", 10)
	v.SetDefault("pool.max_queue_size", 1000)
	v.SetDefault("pool.health_check_interval", "30s")

	v.SetDefault("scaling.scale_up_threshold", 0.8)
	v.SetDefault("scaling.scale_down_threshold", 0.3)
	v.SetDefault("scaling.interval", "60s")
	v.SetDefault("scaling.history_size", 100)

	v.SetDefault("throttle.max_requests_per_second", 100)
	v.SetDefault("throttle.max_concurrent_requests", 50)
	v.SetDefault("throttle.burst_limit", 20)
	v.SetDefault("throttle.cooldown_period", "60s")

	v.SetDefault("resource.sample_interval", "5s")
	v.SetDefault("resource.history_size", 1000)

	v.SetDefault("memory.history_size", 10)
	v.SetDefault("memory.leak_window", 5)
	v.SetDefault("memory.leak_growth_mb", 100)
	v.SetDefault("memory.force_gc_percent", 80)
	v.SetDefault("memory.aggressive_gc_percent", 70)
}

// ToBalancerConfig converts the file representation into the component
// configs consumed by balancer.New.
func (c *Config) ToBalancerConfig() balancer.Config {
	return balancer.Config{
		Pool: pool.Config{
			MinWorkers:          c.Pool.MinWorkers,
			MaxWorkers:          c.Pool.MaxWorkers,
			WorkerCapacity:      c.Pool.WorkerCapacity,
			MaxQueueSize:        c.Pool.MaxQueueSize,
			HealthCheckInterval: c.Pool.HealthCheckInterval,
		},
		Throttle: admission.ThrottleConfig{
			MaxRequestsPerSecond:  c.Throttle.MaxRequestsPerSecond,
			MaxConcurrentRequests: c.Throttle.MaxConcurrentRequests,
			BurstLimit:            c.Throttle.BurstLimit,
			CooldownPeriod:        c.Throttle.CooldownPeriod,
		},
		Resource: resource.ManagerConfig{
			SampleInterval: c.Resource.SampleInterval,
			HistorySize:    c.Resource.HistorySize,
		},
		Memory: memory.Config{
			HistorySize:     c.Memory.HistorySize,
			LeakWindow:      c.Memory.LeakWindow,
			LeakGrowthMB:    c.Memory.LeakGrowthMB,
			ForceGCPercent:  c.Memory.ForceGCPercent,
			AggressivePoint: c.Memory.AggressiveGCPercent,
		},
		ScaleUpThreshold:   c.Scaling.ScaleUpThreshold,
		ScaleDownThreshold: c.Scaling.ScaleDownThreshold,
		ScaleInterval:      c.Scaling.Interval,
		ScalingHistorySize: c.Scaling.HistorySize,
	}
}
