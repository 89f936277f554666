package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/loadgate/internal/admission"
	"github.com/yairfalse/loadgate/internal/balancer"
	"github.com/yairfalse/loadgate/internal/pool"
	"github.com/yairfalse/loadgate/internal/resource"
)

type staticSampler struct{}

func (staticSampler) Sample() (resource.Sample, error) {
	return resource.Sample{
		CPUPercent:        10,
		MemoryPercent:     10,
		MemoryUsedMB:      512,
		MemoryAvailableMB: 4096,
	}, nil
}

func TestSubmitWithRetry_KeepsOptionsOnRetry(t *testing.T) {
	config := balancer.DefaultConfig()
	config.DispatchIdleSleep = 2 * time.Millisecond
	config.Throttle = admission.ThrottleConfig{
		MaxRequestsPerSecond:  1000,
		MaxConcurrentRequests: 1,
		BurstLimit:            1000,
	}

	block := make(chan struct{})
	handler := func(ctx context.Context, req *pool.Request) error {
		<-block
		return nil
	}

	lb := balancer.New(config, handler, staticSampler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, lb.Start(ctx))

	// occupy the single concurrency slot so the first attempt is refused
	_, err := lb.SubmitRequest("blocker")
	require.NoError(t, err)

	// free the slot while the retry is waiting
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(block)
	}()

	executed := make(chan error, 1)
	err = submitWithRetry(lb, "retried",
		balancer.WithPriority(pool.PriorityThreshold+1),
		balancer.WithCallback(func(err error) { executed <- err }),
	)
	require.NoError(t, err, "retry must succeed once the slot frees up")

	// the callback only fires if the retry resubmitted with its options
	select {
	case cbErr := <-executed:
		assert.NoError(t, cbErr)
	case <-time.After(2 * time.Second):
		t.Fatal("callback from the resubmitted request never fired")
	}

	require.NoError(t, lb.Stop())
}

func TestSubmitWithRetry_NonCapacityErrorsPassThrough(t *testing.T) {
	lb := balancer.New(balancer.DefaultConfig(), nil, staticSampler{}, nil)

	// never started, so submission fails with a lifecycle error and no retry
	start := time.Now()
	err := submitWithRetry(lb, "payload")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "lifecycle errors are not retried")
}
