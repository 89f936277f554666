package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yairfalse/loadgate/internal/errors"
	"github.com/yairfalse/loadgate/internal/logger"
	"github.com/yairfalse/loadgate/pkg/types"
)

// Config bounds the pool and its queues.
type Config struct {
	MinWorkers          int           `yaml:"min_workers"`
	MaxWorkers          int           `yaml:"max_workers"`
	WorkerCapacity      int           `yaml:"worker_capacity"`
	MaxQueueSize        int           `yaml:"max_queue_size"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	DrainPollInterval   time.Duration `yaml:"drain_poll_interval"`
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MinWorkers:          1,
		MaxWorkers:          10,
		WorkerCapacity:      10,
		MaxQueueSize:        1000,
		HealthCheckInterval: 30 * time.Second,
		DrainPollInterval:   50 * time.Millisecond,
	}
}

// Pool is the authoritative registry of workers and both request queues.
// One coarse mutex guards every structural mutation: worker create and
// remove, enqueue and dequeue, and status transitions. Contention is low
// here and the single lock keeps the dispatcher and the two monitor
// loops from losing updates to each other.
type Pool struct {
	config       Config
	defaultProbe ProbeFunc
	log          logger.Logger

	mu            sync.Mutex
	workers       map[string]*Worker
	priorityQueue []*Request
	fifoQueue     []*Request

	totalRequests     int64
	completedRequests int64
	failedRequests    int64
}

// NewPool creates an empty pool. Zero config fields take defaults.
func NewPool(config Config, defaultProbe ProbeFunc, log logger.Logger) *Pool {
	defaults := DefaultConfig()
	if config.MinWorkers <= 0 {
		config.MinWorkers = defaults.MinWorkers
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = defaults.MaxWorkers
	}
	if config.MaxWorkers < config.MinWorkers {
		config.MaxWorkers = config.MinWorkers
	}
	if config.WorkerCapacity <= 0 {
		config.WorkerCapacity = defaults.WorkerCapacity
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = defaults.MaxQueueSize
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if config.DrainPollInterval <= 0 {
		config.DrainPollInterval = defaults.DrainPollInterval
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Pool{
		config:       config,
		defaultProbe: defaultProbe,
		log:          log.WithField("component", "pool"),
		workers:      make(map[string]*Worker),
	}
}

// CreateWorker registers a new idle worker and returns its id.
func (p *Pool) CreateWorker() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) >= p.config.MaxWorkers {
		return "", errors.Newf(errors.ErrorTypeCapacity, "pool is at max capacity (%d workers)", p.config.MaxWorkers)
	}

	now := time.Now()
	w := &Worker{
		id:              uuid.New().String(),
		status:          StatusIdle,
		maxRequests:     p.config.WorkerCapacity,
		lastHealthCheck: now,
		createdAt:       now,
		probe:           p.defaultProbe,
	}
	p.workers[w.id] = w

	p.log.WithField("worker_id", w.id).Debug("worker created")
	return w.id, nil
}

// RemoveWorker transitions a worker to shutting down, blocks until its
// in-flight requests drain, then deletes it. The wait is unbounded: a
// stuck request holds the removal open.
func (p *Pool) RemoveWorker(id string) error {
	p.mu.Lock()
	w, ok := p.workers[id]
	if !ok {
		p.mu.Unlock()
		return errors.Newf(errors.ErrorTypeValidation, "unknown worker %s", id)
	}
	w.status = StatusShuttingDown
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if w.activeRequests == 0 {
			delete(p.workers, id)
			p.mu.Unlock()
			p.log.WithField("worker_id", id).Debug("worker drained and removed")
			return nil
		}
		p.mu.Unlock()
		time.Sleep(p.config.DrainPollInterval)
	}
}

// Enqueue places a request on the priority or FIFO queue. The combined
// queue depth is capped by MaxQueueSize.
func (p *Pool) Enqueue(req *Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	queued := len(p.priorityQueue) + len(p.fifoQueue)
	if queued >= p.config.MaxQueueSize {
		return errors.QueueFull(queued, p.config.MaxQueueSize)
	}

	if req.Priority > PriorityThreshold {
		p.priorityQueue = append(p.priorityQueue, req)
	} else {
		p.fifoQueue = append(p.fifoQueue, req)
	}
	p.totalRequests++
	return nil
}

// DispatchStatus is the outcome of a DispatchNext attempt.
type DispatchStatus int

const (
	// DispatchIdle means both queues were empty.
	DispatchIdle DispatchStatus = iota
	// DispatchWaiting means a request is queued but no worker can take it.
	DispatchWaiting
	// DispatchAssigned means the request was handed to the returned worker.
	DispatchAssigned
)

// DispatchNext atomically hands the head request to the best available
// worker. The priority queue is always drained before the FIFO queue is
// consulted. When no worker is eligible the request stays at the head of
// its queue, so it remains visible to Drained and shutdown can never race
// the dispatcher out of a pending request.
func (p *Pool) DispatchNext() (*Request, string, DispatchStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	queue := &p.priorityQueue
	if len(*queue) == 0 {
		queue = &p.fifoQueue
	}
	if len(*queue) == 0 {
		return nil, "", DispatchIdle
	}
	req := (*queue)[0]

	best := p.bestWorkerLocked()
	if best == nil {
		return req, "", DispatchWaiting
	}

	*queue = (*queue)[1:]
	best.activeRequests++
	best.lastHealthCheck = time.Now()
	best.refreshStatus()
	return req, best.id, DispatchAssigned
}

// Assign books a slot on the best available worker for a request already
// held by the caller. Selection is the lowest score among idle or busy
// workers with spare capacity; ties break toward the earliest created
// worker.
func (p *Pool) Assign(req *Request) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := p.bestWorkerLocked()
	if best == nil {
		return "", false
	}

	best.activeRequests++
	best.lastHealthCheck = time.Now()
	best.refreshStatus()
	return best.id, true
}

// bestWorkerLocked returns the eligible worker with the lowest score,
// ties broken by earliest creation, or nil. Caller holds mu.
func (p *Pool) bestWorkerLocked() *Worker {
	var best *Worker
	for _, w := range p.workers {
		if !w.eligible() {
			continue
		}
		if best == nil {
			best = w
			continue
		}
		ws, bs := w.score(), best.score()
		if ws < bs || (ws == bs && w.createdAt.Before(best.createdAt)) {
			best = w
		}
	}
	return best
}

// Complete records the outcome of an executed request: slot returned,
// moving averages updated, status recomputed, pool counters bumped.
func (p *Pool) Complete(workerID string, duration time.Duration, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if failed {
		p.failedRequests++
	} else {
		p.completedRequests++
	}

	w, ok := p.workers[workerID]
	if !ok {
		return
	}

	if w.activeRequests > 0 {
		w.activeRequests--
	}
	w.responseTimeAvg = (w.responseTimeAvg + duration) / 2
	if failed {
		w.errorRate = (w.errorRate + 1) / 2
	} else {
		w.errorRate = w.errorRate / 2
	}
	w.lastHealthCheck = time.Now()
	w.refreshStatus()
}

// HealthCheck re-probes every worker, recomputes statuses, and removes
// workers that have gone unhealthy. Unhealthy workers are deleted
// without draining: they are presumed unresponsive and may never reach
// zero active requests on their own. Returns the removed worker ids.
func (p *Pool) HealthCheck(now time.Time) []string {
	staleAfter := 2 * p.config.HealthCheckInterval

	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []string
	for id, w := range p.workers {
		if w.probe != nil {
			if cpu, mem, err := w.probe(); err == nil {
				w.cpuUsage = cpu
				w.memoryUsage = mem
				w.lastHealthCheck = now
				w.refreshStatus()
			}
		}

		if now.Sub(w.lastHealthCheck) > staleAfter {
			w.status = StatusUnhealthy
		}
		if w.status == StatusUnhealthy {
			delete(p.workers, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// OldestIdleWorkerID picks the scale-down victim: the oldest idle worker
// with no in-flight requests.
func (p *Pool) OldestIdleWorkerID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var oldest *Worker
	for _, w := range p.workers {
		if w.status != StatusIdle || w.activeRequests != 0 {
			continue
		}
		if oldest == nil || w.createdAt.Before(oldest.createdAt) {
			oldest = w
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.id, true
}

// WorkerCount returns the current number of registered workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// QueueLengths returns the depth of each queue.
func (p *Pool) QueueLengths() (priority, fifo int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.priorityQueue), len(p.fifoQueue)
}

// WorkerBreakdown counts workers by status for stats reporting.
func (p *Pool) WorkerBreakdown() types.WorkerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := types.WorkerStats{Total: len(p.workers)}
	for _, w := range p.workers {
		switch w.status {
		case StatusIdle:
			stats.Idle++
		case StatusBusy:
			stats.Busy++
		case StatusOverloaded:
			stats.Overloaded++
		case StatusUnhealthy:
			stats.Unhealthy++
		}
	}
	return stats
}

// RequestCounters returns the cumulative request counters.
func (p *Pool) RequestCounters() (total, completed, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalRequests, p.completedRequests, p.failedRequests
}

// AvgResponseTime averages the per-worker response time EMAs.
func (p *Pool) AvgResponseTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.workers) == 0 {
		return 0
	}
	var sum time.Duration
	for _, w := range p.workers {
		sum += w.responseTimeAvg
	}
	return sum / time.Duration(len(p.workers))
}

// Workers returns read-only snapshots sorted by creation time.
func (p *Pool) Workers() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		infos = append(infos, w.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Drained reports whether both queues are empty and no worker holds an
// in-flight request.
func (p *Pool) Drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.priorityQueue) > 0 || len(p.fifoQueue) > 0 {
		return false
	}
	for _, w := range p.workers {
		if w.activeRequests > 0 {
			return false
		}
	}
	return true
}

// WaitDrained blocks until the pool is fully drained. A request that
// never completes holds this open indefinitely; that is a documented
// limitation of cooperative shutdown, not something the pool papers over.
func (p *Pool) WaitDrained() {
	for !p.Drained() {
		time.Sleep(p.config.DrainPollInterval)
	}
}

// RemoveAll deletes every worker. Intended for shutdown after WaitDrained.
func (p *Pool) RemoveAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.workers {
		delete(p.workers, id)
	}
}
