package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yairfalse/loadgate/internal/logger"
)

// Handler executes one dispatched request. It is supplied by the caller
// of the load balancer; a non-nil error marks the request failed.
type Handler func(ctx context.Context, req *Request) error

// Dispatcher continuously drains the pool's queues into workers. When no
// worker can take the head request it stays queued and the dispatcher
// backs off, so requests wait in place rather than being dropped.
type Dispatcher struct {
	pool      *Pool
	handler   Handler
	log       logger.Logger
	idleSleep time.Duration
	backoff   time.Duration

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher for the pool. Zero intervals take
// the defaults of 100ms idle sleep and 1s assignment backoff.
func NewDispatcher(p *Pool, handler Handler, idleSleep, backoff time.Duration, log logger.Logger) *Dispatcher {
	if idleSleep <= 0 {
		idleSleep = 100 * time.Millisecond
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		pool:      p,
		handler:   handler,
		log:       log.WithField("component", "dispatcher"),
		idleSleep: idleSleep,
		backoff:   backoff,
	}
}

// Run drives the dispatch loop until ctx is cancelled, then waits for
// in-flight executions to return.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.wg.Wait()

	for {
		if ctx.Err() != nil {
			return
		}

		req, workerID, status := d.pool.DispatchNext()
		switch status {
		case DispatchIdle:
			if !sleepCtx(ctx, d.idleSleep) {
				return
			}
		case DispatchWaiting:
			d.log.WithField("request_id", req.ID).Debug("no worker available, waiting")
			if !sleepCtx(ctx, d.backoff) {
				return
			}
		case DispatchAssigned:
			d.wg.Add(1)
			go d.execute(ctx, workerID, req)
		}
	}
}

// execute runs the handler for one request and records the outcome.
// Handler panics are caught and counted as failures; they never take the
// dispatcher down.
func (d *Dispatcher) execute(ctx context.Context, workerID string, req *Request) {
	defer d.wg.Done()

	start := time.Now()
	err := d.invoke(ctx, req)
	d.pool.Complete(workerID, time.Since(start), err != nil)

	if err != nil {
		d.log.WithFields(map[string]interface{}{
			"request_id": req.ID,
			"worker_id":  workerID,
		}).Error("request execution failed", err)
	}

	if req.Callback != nil {
		req.Callback(err)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, req *Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	if d.handler == nil {
		return nil
	}
	return d.handler(ctx, req)
}

// sleepCtx sleeps for d or until ctx is done. Returns false when the
// context ended the sleep.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
