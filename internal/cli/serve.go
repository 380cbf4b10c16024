package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recondeck/recondeck/internal/cache"
	"github.com/recondeck/recondeck/internal/collab"
	"github.com/recondeck/recondeck/internal/dirbust"
	"github.com/recondeck/recondeck/internal/dispatch"
	"github.com/recondeck/recondeck/internal/pipeline"
	"github.com/recondeck/recondeck/internal/record"
	"github.com/recondeck/recondeck/internal/server"
	"github.com/recondeck/recondeck/internal/stream"
	"github.com/recondeck/recondeck/internal/transport"
)

type serveConfig struct {
	Addr            string
	DBPath          string
	ArtifactsDir    string
	WordlistPath    string
	IPIntelURL      string
	ProjectID       string
	JobsTopic       string
	ResultsSub      string
	EnumTimeout     time.Duration
	RequestTimeout  time.Duration
	ScreenshotPause time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket push channel",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides RECONDECK_ADDR)")
	serveCmd.Flags().String("db", "", "SQLite database path (overrides RECONDECK_DB)")
}

func loadServeConfig(cmd *cobra.Command) serveConfig {
	cfg := serveConfig{
		Addr:            getEnv("RECONDECK_ADDR", ":8080"),
		DBPath:          getEnv("RECONDECK_DB", "recondeck.db"),
		ArtifactsDir:    getEnv("RECONDECK_ARTIFACTS", "artifacts"),
		WordlistPath:    getEnv("RECONDECK_WORDLIST", ""),
		IPIntelURL:      getEnv("RECONDECK_IPINTEL_URL", ""),
		ProjectID:       getEnv("PUBSUB_PROJECT_ID", "recondeck"),
		JobsTopic:       getEnv("PUBSUB_JOBS_TOPIC", "portscan-jobs"),
		ResultsSub:      getEnv("PUBSUB_RESULTS_SUBSCRIPTION", "portscan-results-sub"),
		EnumTimeout:     getEnvDuration("RECONDECK_ENUM_TIMEOUT", server.DefaultEnumTimeout),
		RequestTimeout:  getEnvDuration("RECONDECK_HTTP_TIMEOUT", 15*time.Second),
		ScreenshotPause: getEnvDuration("RECONDECK_SCREENSHOT_TIMEOUT", 30*time.Second),
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DBPath = db
	}
	return cfg
}

func runServe(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetInt("verbose")
	logger := setupLogger(verbose)
	cfg := loadServeConfig(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("creating artifacts dir: %w", err)
	}

	store, err := record.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening scan store: %w", err)
	}
	defer store.Close()

	client := transport.NewClient(transport.ClientOptions{
		Timeout:            cfg.RequestTimeout,
		FollowRedirects:    true,
		InsecureSkipVerify: true,
		UserAgent:          "recondeck/" + version,
	})

	intel := collab.NewIPIntelClient(client, cfg.IPIntelURL)
	resolver := collab.NewDNSResolver(nil)
	pipe := pipeline.New(store, cache.New(), pipeline.Collaborators{
		Resolver:      resolver,
		GeoLocator:    intel,
		ASNLocator:    intel,
		TechDetector:  collab.NewTechDetector(client),
		Screenshotter: collab.NewChromeScreenshotter(cfg.ArtifactsDir, collab.WithScreenshotTimeout(cfg.ScreenshotPause)),
		HeaderFetcher: collab.NewHeaderFetcher(client),
		HeaderAuditor: collab.NewHeaderAuditor(client),
		CertChecker:   collab.NewTLSCertChecker(cfg.RequestTimeout),
	}, pipeline.WithLogger(logger.With("component", "pipeline")))

	enum, err := dirbust.New(client, cfg.WordlistPath, dirbust.WithLogger(logger.With("component", "dirbust")))
	if err != nil {
		return fmt.Errorf("building enumerator: %w", err)
	}
	jobs := stream.NewManager(enum, stream.WithLogger(logger.With("component", "stream")))
	hub := server.NewHub(
		server.WithHubLogger(logger.With("component", "hub")),
		server.WithDisconnectCallback(func(clientID string) {
			if err := jobs.Abort(clientID); err == nil {
				logger.Info("enumeration aborted by disconnect", "client_id", clientID)
			}
		}),
	)

	bus, err := dispatch.Connect(ctx, cfg.ProjectID, logger.With("component", "dispatch"))
	if err != nil {
		return fmt.Errorf("connecting job broker: %w", err)
	}
	defer bus.Close()

	dispatcher := dispatch.NewDispatcher(dispatch.NewTopic(bus.Topic(cfg.JobsTopic)), store, logger.With("component", "dispatch"))
	consumer := dispatch.NewResultConsumer(
		dispatch.NewSubscription(bus.Subscription(cfg.ResultsSub)),
		store,
		logger.With("component", "dispatch"),
	)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("result consumer stopped", "error", err)
			stop()
		}
	}()

	srv := server.New(server.Config{
		Store:       store,
		Pipeline:    pipe,
		Dispatcher:  dispatcher,
		Jobs:        jobs,
		Hub:         hub,
		Resolver:    resolver,
		ProbeClient: client,
		Artifacts:   cfg.ArtifactsDir,
		EnumTimeout: cfg.EnumTimeout,
		Logger:      logger.With("component", "server"),
	})

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", cfg.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
