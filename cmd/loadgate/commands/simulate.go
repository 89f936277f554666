package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/loadgate/internal/balancer"
	"github.com/yairfalse/loadgate/internal/errors"
	"github.com/yairfalse/loadgate/internal/logger"
	"github.com/yairfalse/loadgate/internal/pool"
	"github.com/yairfalse/loadgate/pkg/types"
)

func newSimulateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Push a synthetic workload through the pool and report",
		Long: `Simulate submits a batch of synthetic requests, waits for the pool to
drain, and prints the resulting stats. Useful for sizing throttle and
scaling settings before embedding the balancer.`,
		Example: `  # 500 requests, a fifth of them high priority
  loadgate simulate --requests 500 --priority-percent 20

  # machine-readable report
  loadgate simulate --requests 100 --output yaml`,
		RunE: runSimulate,
	}

	cmd.Flags().Int("requests", 100, "number of requests to submit")
	cmd.Flags().Int("priority-percent", 10, "share of requests routed to the priority queue")
	cmd.Flags().Duration("work-duration", 10*time.Millisecond, "simulated execution time per request")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	total, _ := cmd.Flags().GetInt("requests")
	priorityPercent, _ := cmd.Flags().GetInt("priority-percent")
	workDuration, _ := cmd.Flags().GetDuration("work-duration")
	output, _ := cmd.Flags().GetString("output")

	log := logger.NewLogrusWithLevel(logLevel(cmd))

	handler := func(ctx context.Context, req *pool.Request) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(workDuration):
			return nil
		}
	}

	lb := balancer.New(cfg.ToBalancerConfig(), handler, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lb.Start(ctx); err != nil {
		return fmt.Errorf("failed to start load balancer: %w", err)
	}

	start := time.Now()
	submitted := 0
	refused := 0
	for i := 0; i < total; i++ {
		priority := 1
		if priorityPercent > 0 && i%100 < priorityPercent {
			priority = pool.PriorityThreshold + 1
		}

		err := submitWithRetry(lb, fmt.Sprintf("request-%d", i),
			balancer.WithPriority(priority),
			balancer.WithEstimatedDuration(workDuration),
		)
		if err != nil {
			refused++
			continue
		}
		submitted++
	}

	// wait for the pool to work through the batch
	for {
		stats := lb.GetStats()
		if stats.Requests.Completed+stats.Requests.Failed >= int64(submitted) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	elapsed := time.Since(start)

	stats := lb.GetStats()
	status := lb.GetResourceStatus()
	if err := lb.Stop(); err != nil {
		return err
	}

	if output == "yaml" {
		return printYAML(stats, status, submitted, refused, elapsed)
	}
	printTable(stats, status, submitted, refused, elapsed)
	return nil
}

// submitWithRetry retries once after a capacity refusal, resubmitting
// with the same options so retried requests keep their priority and
// duration hint.
func submitWithRetry(lb *balancer.LoadBalancer, payload interface{}, opts ...balancer.SubmitOption) error {
	_, err := lb.SubmitRequest(payload, opts...)
	if err == nil || !errors.IsCapacity(err) {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	_, err = lb.SubmitRequest(payload, opts...)
	return err
}

func printYAML(stats types.Stats, status types.ResourceStatus, submitted, refused int, elapsed time.Duration) error {
	report := map[string]interface{}{
		"submitted": submitted,
		"refused":   refused,
		"elapsed":   elapsed.String(),
		"stats":     stats,
		"resources": status,
	}
	out, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func printTable(stats types.Stats, status types.ResourceStatus, submitted, refused int, elapsed time.Duration) {
	header := color.New(color.FgCyan, color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	header.Println("Simulation")
	fmt.Printf("  submitted: %d   refused: %d   elapsed: %s\n\n", submitted, refused, elapsed.Round(time.Millisecond))

	header.Println("Requests")
	good.Printf("  completed: %d\n", stats.Requests.Completed)
	if stats.Requests.Failed > 0 {
		bad.Printf("  failed:    %d\n", stats.Requests.Failed)
	} else {
		fmt.Printf("  failed:    %d\n", stats.Requests.Failed)
	}
	fmt.Printf("  success:   %.1f%%\n\n", stats.Requests.SuccessRate*100)

	header.Println("Workers")
	fmt.Printf("  total: %d  idle: %d  busy: %d  overloaded: %d\n\n",
		stats.Workers.Total, stats.Workers.Idle, stats.Workers.Busy, stats.Workers.Overloaded)

	header.Println("Performance")
	fmt.Printf("  avg response:   %s\n", stats.Performance.AvgResponseTime.Round(time.Microsecond))
	fmt.Printf("  scaling events: %d\n", stats.Performance.ScalingEvents)
	fmt.Printf("  resource level: %s (cpu %.1f%%, mem %.1f%%)\n",
		status.ResourceLevel, status.CPUPercent, status.MemoryPercent)
	fmt.Printf("  throttled: %d  rejected: %d\n", status.ThrottledRequests, status.RejectedRequests)
}
