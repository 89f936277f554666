package balancer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/loadgate/internal/admission"
	"github.com/yairfalse/loadgate/internal/errors"
	"github.com/yairfalse/loadgate/internal/logger"
	"github.com/yairfalse/loadgate/internal/memory"
	"github.com/yairfalse/loadgate/internal/pool"
	"github.com/yairfalse/loadgate/internal/resource"
	"github.com/yairfalse/loadgate/pkg/types"
)

// Config assembles the tunables for the whole subsystem. Component
// sections apply their own defaults; zero top-level fields take the
// defaults below.
type Config struct {
	Pool     pool.Config              `yaml:"pool"`
	Throttle admission.ThrottleConfig `yaml:"throttle"`
	Resource resource.ManagerConfig   `yaml:"resource"`
	Memory   memory.Config            `yaml:"memory"`

	ScaleUpThreshold   float64       `yaml:"scale_up_threshold"`
	ScaleDownThreshold float64       `yaml:"scale_down_threshold"`
	ScaleInterval      time.Duration `yaml:"scale_interval"`
	DispatchIdleSleep  time.Duration `yaml:"dispatch_idle_sleep"`
	DispatchBackoff    time.Duration `yaml:"dispatch_backoff"`
	ScalingHistorySize int           `yaml:"scaling_history_size"`
}

// DefaultConfig returns the default balancer configuration.
func DefaultConfig() Config {
	return Config{
		Pool:               pool.DefaultConfig(),
		Throttle:           admission.DefaultThrottleConfig(),
		Resource:           resource.DefaultManagerConfig(),
		Memory:             memory.DefaultConfig(),
		ScaleUpThreshold:   0.8,
		ScaleDownThreshold: 0.3,
		ScaleInterval:      60 * time.Second,
		DispatchIdleSleep:  100 * time.Millisecond,
		DispatchBackoff:    time.Second,
		ScalingHistorySize: 100,
	}
}

// scaleStep caps how many workers a single scale-up tick may add.
const scaleStep = 2

// LoadBalancer owns the worker pool, the dispatcher, and the two control
// loops that reshape the pool from observed load. One instance is
// constructed at process start and threaded through to consumers; there
// is no package-level singleton.
type LoadBalancer struct {
	config    Config
	pool      *pool.Pool
	dispatch  *pool.Dispatcher
	gate      *admission.Gate
	optimizer *memory.Optimizer
	resources *resource.Manager
	log       logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running int32
	wg      sync.WaitGroup

	historyMu      sync.Mutex
	startTime      time.Time
	scalingEvents  int64
	scalingHistory []types.ScalingEvent
}

// New wires up a load balancer. The handler executes each dispatched
// request; sampler may be nil to use the real /proc-backed one.
func New(config Config, handler pool.Handler, sampler resource.SystemSampler, log logger.Logger) *LoadBalancer {
	defaults := DefaultConfig()
	if config.ScaleUpThreshold <= 0 {
		config.ScaleUpThreshold = defaults.ScaleUpThreshold
	}
	if config.ScaleDownThreshold <= 0 {
		config.ScaleDownThreshold = defaults.ScaleDownThreshold
	}
	if config.ScaleInterval <= 0 {
		config.ScaleInterval = defaults.ScaleInterval
	}
	if config.DispatchIdleSleep <= 0 {
		config.DispatchIdleSleep = defaults.DispatchIdleSleep
	}
	if config.DispatchBackoff <= 0 {
		config.DispatchBackoff = defaults.DispatchBackoff
	}
	if config.ScalingHistorySize <= 0 {
		config.ScalingHistorySize = defaults.ScalingHistorySize
	}
	if log == nil {
		log = logger.NewNop()
	}

	lb := &LoadBalancer{
		config: config,
		log:    log.WithField("component", "load-balancer"),
	}

	lb.gate = admission.NewGate(config.Throttle)
	lb.optimizer = memory.NewOptimizer(config.Memory, log)
	lb.resources = resource.NewManager(config.Resource, sampler, lb.gate, lb.optimizer, log)

	// Workers see process-level pressure: the default probe reads the
	// shared sampler's last-known-good snapshot.
	probe := func() (float64, float64, error) {
		metrics, ok := lb.resources.Latest()
		if !ok {
			return 0, 0, fmt.Errorf("no resource snapshot available")
		}
		return metrics.CPUPercent / 100, metrics.MemoryPercent / 100, nil
	}

	lb.pool = pool.NewPool(config.Pool, probe, log)
	lb.dispatch = pool.NewDispatcher(lb.pool, lb.wrapHandler(handler), config.DispatchIdleSleep, config.DispatchBackoff, log)

	return lb
}

// wrapHandler ties request completion back to the admission gate. Every
// admitted request holds one unit of gate concurrency until it finishes.
func (lb *LoadBalancer) wrapHandler(handler pool.Handler) pool.Handler {
	return func(ctx context.Context, req *pool.Request) error {
		defer lb.gate.Release()
		if handler == nil {
			return nil
		}
		return handler(ctx, req)
	}
}

// Start bootstraps the minimum worker set and launches the dispatcher,
// the autoscaler loop, and the health monitor loop. Idempotent.
func (lb *LoadBalancer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&lb.running, 0, 1) {
		return nil
	}

	lb.ctx, lb.cancel = context.WithCancel(ctx)
	lb.historyMu.Lock()
	lb.startTime = time.Now()
	lb.historyMu.Unlock()

	if err := lb.resources.Start(lb.ctx); err != nil {
		return err
	}

	for i := 0; i < lb.config.Pool.MinWorkers; i++ {
		if _, err := lb.pool.CreateWorker(); err != nil {
			return errors.Wrap(errors.ErrorTypeLifecycle, "bootstrap worker creation failed", err)
		}
	}

	lb.wg.Add(3)
	go func() {
		defer lb.wg.Done()
		lb.dispatch.Run(lb.ctx)
	}()
	go func() {
		defer lb.wg.Done()
		lb.runLoop(lb.config.ScaleInterval, lb.autoscaleTick)
	}()
	go func() {
		defer lb.wg.Done()
		lb.runLoop(lb.config.Pool.HealthCheckInterval, lb.healthTick)
	}()

	lb.log.WithFields(map[string]interface{}{
		"min_workers": lb.config.Pool.MinWorkers,
		"max_workers": lb.config.Pool.MaxWorkers,
	}).Info("load balancer started")
	return nil
}

// Stop drains and shuts down. New submissions are refused immediately;
// queued and in-flight requests run to completion before the workers are
// removed. The drain wait is unbounded: a stuck request blocks shutdown
// until an operator intervenes. Idempotent.
func (lb *LoadBalancer) Stop() error {
	if !atomic.CompareAndSwapInt32(&lb.running, 1, 0) {
		return nil
	}

	lb.log.Info("load balancer stopping, draining queues")
	lb.pool.WaitDrained()

	lb.cancel()
	lb.wg.Wait()
	lb.resources.Stop()
	lb.pool.RemoveAll()

	lb.log.Info("load balancer stopped")
	return nil
}

// runLoop invokes tick on a fixed timer until shutdown.
func (lb *LoadBalancer) runLoop(interval time.Duration, tick func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lb.ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// SubmitOption customizes a submitted request.
type SubmitOption func(*pool.Request)

// WithPriority sets the request priority; values above the threshold
// route to the priority queue.
func WithPriority(priority int) SubmitOption {
	return func(r *pool.Request) { r.Priority = priority }
}

// WithEstimatedDuration records the caller's duration hint.
func WithEstimatedDuration(d time.Duration) SubmitOption {
	return func(r *pool.Request) { r.EstimatedDuration = d }
}

// WithCallback registers a completion callback invoked with the
// request's outcome.
func WithCallback(fn func(err error)) SubmitOption {
	return func(r *pool.Request) { r.Callback = fn }
}

// SubmitRequest admits, queues, and eventually dispatches one unit of
// work, returning its id. It fails synchronously when the gate refuses
// entry or the queue is full; refused work is never queued.
func (lb *LoadBalancer) SubmitRequest(payload interface{}, opts ...SubmitOption) (string, error) {
	if atomic.LoadInt32(&lb.running) != 1 {
		return "", errors.New(errors.ErrorTypeLifecycle, "load balancer is not running")
	}

	switch decision := lb.gate.Allow(); decision {
	case admission.Throttled:
		return "", errors.Newf(errors.ErrorTypeCapacity, "request throttled, retry after %s", lb.gate.Cooldown())
	case admission.Rejected:
		return "", errors.New(errors.ErrorTypeCapacity, "concurrent request limit reached")
	}

	req := pool.NewRequest(payload, 1, 30*time.Second)
	for _, opt := range opts {
		opt(req)
	}

	if err := lb.pool.Enqueue(req); err != nil {
		lb.gate.Release()
		return "", err
	}
	return req.ID, nil
}

// autoscaleTick applies the scaling policy once. At most one scaling
// action fires per tick.
func (lb *LoadBalancer) autoscaleTick() {
	load := lb.resources.CurrentLoad()
	prio, fifo := lb.pool.QueueLengths()
	queueLength := prio + fifo
	count := lb.pool.WorkerCount()

	switch {
	case (load > lb.config.ScaleUpThreshold || queueLength > count*5) && count < lb.config.Pool.MaxWorkers:
		want := scaleStep
		if remaining := lb.config.Pool.MaxWorkers - count; remaining < want {
			want = remaining
		}
		added := lb.addWorkers(want)
		if added > 0 {
			lb.recordScaling(types.ScaleUp, count, count+added,
				fmt.Sprintf("load %.2f, queue %d", load, queueLength))
		}

	case load < lb.config.ScaleDownThreshold && queueLength < count*2 && count > lb.config.Pool.MinWorkers:
		id, ok := lb.pool.OldestIdleWorkerID()
		if !ok {
			return
		}
		if err := lb.pool.RemoveWorker(id); err != nil {
			lb.log.Error("scale-down removal failed", err)
			return
		}
		lb.recordScaling(types.ScaleDown, count, count-1,
			fmt.Sprintf("load %.2f, queue %d", load, queueLength))
	}
}

// healthTick recomputes worker health and replaces capacity lost to
// unhealthy removals so the pool never sits below its minimum.
func (lb *LoadBalancer) healthTick() {
	removed := lb.pool.HealthCheck(time.Now())
	for _, id := range removed {
		lb.log.WithField("worker_id", id).Warn("unhealthy worker removed")
	}

	for lb.pool.WorkerCount() < lb.config.Pool.MinWorkers {
		if _, err := lb.pool.CreateWorker(); err != nil {
			lb.log.Error("failed to replace unhealthy worker", err)
			return
		}
	}
}

// addWorkers creates up to n workers, returning how many were created.
func (lb *LoadBalancer) addWorkers(n int) int {
	added := 0
	for i := 0; i < n; i++ {
		if _, err := lb.pool.CreateWorker(); err != nil {
			lb.log.Error("worker creation failed", err)
			break
		}
		added++
	}
	return added
}

// recordScaling appends a bounded scaling history entry.
func (lb *LoadBalancer) recordScaling(action types.ScalingAction, oldCount, newCount int, reason string) {
	lb.historyMu.Lock()
	defer lb.historyMu.Unlock()

	lb.scalingEvents++
	lb.scalingHistory = append(lb.scalingHistory, types.ScalingEvent{
		Timestamp: time.Now(),
		Action:    action,
		OldCount:  oldCount,
		NewCount:  newCount,
		Reason:    reason,
	})
	if len(lb.scalingHistory) > lb.config.ScalingHistorySize {
		lb.scalingHistory = lb.scalingHistory[len(lb.scalingHistory)-lb.config.ScalingHistorySize:]
	}

	lb.log.WithFields(map[string]interface{}{
		"action":  string(action),
		"workers": newCount,
		"reason":  reason,
	}).Info("pool scaled")
}

// Scale is the operator escape hatch for adjusting the pool outside the
// control loop. Bounds still apply.
func (lb *LoadBalancer) Scale(action types.ScalingAction, count int) error {
	if count <= 0 {
		return errors.New(errors.ErrorTypeValidation, "scale count must be positive")
	}

	current := lb.pool.WorkerCount()
	switch action {
	case types.ScaleUp:
		if remaining := lb.config.Pool.MaxWorkers - current; count > remaining {
			count = remaining
		}
		if count <= 0 {
			return errors.Newf(errors.ErrorTypeCapacity, "pool already at max (%d workers)", lb.config.Pool.MaxWorkers)
		}
		added := lb.addWorkers(count)
		lb.recordScaling(types.ScaleUp, current, current+added, "manual scale")
		return nil

	case types.ScaleDown:
		removed := 0
		for i := 0; i < count; i++ {
			if lb.pool.WorkerCount() <= lb.config.Pool.MinWorkers {
				break
			}
			id, ok := lb.pool.OldestIdleWorkerID()
			if !ok {
				break
			}
			if err := lb.pool.RemoveWorker(id); err != nil {
				return err
			}
			removed++
		}
		if removed == 0 {
			return errors.New(errors.ErrorTypeCapacity, "no idle workers available to remove")
		}
		lb.recordScaling(types.ScaleDown, current, current-removed, "manual scale")
		return nil

	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown scale action %q", action)
	}
}

// GetStats assembles the pool observability payload.
func (lb *LoadBalancer) GetStats() types.Stats {
	total, completed, failed := lb.pool.RequestCounters()
	prio, fifo := lb.pool.QueueLengths()

	successRate := 1.0
	if finished := completed + failed; finished > 0 {
		successRate = float64(completed) / float64(finished)
	}

	lb.historyMu.Lock()
	startTime := lb.startTime
	scalingEvents := lb.scalingEvents
	lb.historyMu.Unlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime)
	}

	return types.Stats{
		Workers: lb.pool.WorkerBreakdown(),
		Requests: types.RequestStats{
			Total:       total,
			Completed:   completed,
			Failed:      failed,
			Queued:      prio + fifo,
			SuccessRate: successRate,
		},
		Performance: types.PerformanceStats{
			AvgResponseTime: lb.pool.AvgResponseTime(),
			CurrentLoad:     lb.resources.CurrentLoad(),
			ScalingEvents:   scalingEvents,
			Uptime:          uptime,
		},
	}
}

// GetResourceStatus exposes the resource manager's view.
func (lb *LoadBalancer) GetResourceStatus() types.ResourceStatus {
	return lb.resources.GetResourceStatus()
}

// ScalingHistory returns a copy of the recorded scaling events.
func (lb *LoadBalancer) ScalingHistory() []types.ScalingEvent {
	lb.historyMu.Lock()
	defer lb.historyMu.Unlock()
	out := make([]types.ScalingEvent, len(lb.scalingHistory))
	copy(out, lb.scalingHistory)
	return out
}

// Workers returns read-only worker snapshots.
func (lb *LoadBalancer) Workers() []pool.WorkerInfo {
	return lb.pool.Workers()
}

// IsRunning reports whether the balancer has been started and not stopped.
func (lb *LoadBalancer) IsRunning() bool {
	return atomic.LoadInt32(&lb.running) == 1
}
