package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/loadgate/internal/balancer"
	"github.com/yairfalse/loadgate/internal/logger"
	"github.com/yairfalse/loadgate/internal/pool"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker pool as a daemon",
		Long: `Run starts the load balancer with its autoscaler, health monitor, and
resource monitor, then waits for SIGINT/SIGTERM. Requests are executed by
a demo handler that sleeps for the request's estimated duration; embed the
balancer package directly to supply a real handler.`,
		RunE: runRun,
	}

	cmd.Flags().Duration("stats-interval", 30*time.Second, "how often to log pool stats")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	statsInterval, _ := cmd.Flags().GetDuration("stats-interval")
	log := logger.NewLogrusWithLevel(logLevel(cmd))

	handler := func(ctx context.Context, req *pool.Request) error {
		d := req.EstimatedDuration
		if d <= 0 || d > time.Second {
			d = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}

	lb := balancer.New(cfg.ToBalancerConfig(), handler, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lb.Start(ctx); err != nil {
		return fmt.Errorf("failed to start load balancer: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := lb.GetStats()
			log.WithFields(map[string]interface{}{
				"workers":   stats.Workers.Total,
				"queued":    stats.Requests.Queued,
				"completed": stats.Requests.Completed,
				"failed":    stats.Requests.Failed,
				"load":      fmt.Sprintf("%.2f", stats.Performance.CurrentLoad),
			}).Info("pool stats")
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Info("shutting down")
			return lb.Stop()
		}
	}
}
