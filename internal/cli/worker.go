package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recondeck/recondeck/internal/collab"
	"github.com/recondeck/recondeck/internal/dispatch"
)

type workerConfig struct {
	ProjectID    string
	JobsSub      string
	ResultsTopic string
	DialTimeout  time.Duration
	Concurrency  int
	Outstanding  int
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the port-scan job consumer",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func loadWorkerConfig() workerConfig {
	return workerConfig{
		ProjectID:    getEnv("PUBSUB_PROJECT_ID", "recondeck"),
		JobsSub:      getEnv("PUBSUB_JOBS_SUBSCRIPTION", "portscan-jobs-sub"),
		ResultsTopic: getEnv("PUBSUB_RESULTS_TOPIC", "portscan-results"),
		DialTimeout:  getEnvDuration("RECONDECK_SCAN_DIAL_TIMEOUT", 2*time.Second),
		Concurrency:  getEnvInt("RECONDECK_SCAN_CONCURRENCY", 10),
		Outstanding:  getEnvInt("WORKER_MAX_OUTSTANDING", runtime.NumCPU()*2),
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetInt("verbose")
	logger := setupLogger(verbose)
	cfg := loadWorkerConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, err := dispatch.Connect(ctx, cfg.ProjectID, logger)
	if err != nil {
		return fmt.Errorf("connecting job broker: %w", err)
	}
	defer bus.Close()

	sub := bus.Subscription(cfg.JobsSub)
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.Outstanding

	scanner := collab.NewTCPPortScanner(cfg.DialTimeout, collab.WithScanConcurrency(cfg.Concurrency))
	worker := dispatch.NewWorker(
		dispatch.NewSubscription(sub),
		dispatch.NewTopic(bus.Topic(cfg.ResultsTopic)),
		scanner,
		logger.With("component", "worker"),
	)

	logger.Info("worker started", "project", cfg.ProjectID, "subscription", cfg.JobsSub)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
