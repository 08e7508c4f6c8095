package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/dcpguard/internal/jobs"
	"github.com/dativo-io/dcpguard/internal/jobstore"
	"github.com/dativo-io/dcpguard/internal/retention"
	"github.com/dativo-io/dcpguard/internal/server"
)

var (
	serveAddr      string
	serveNoPersist bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with the job worker pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveNoPersist, "no-persist", false, "keep jobs in memory only")
	rootCmd.AddCommand(serveCmd)
}

//nolint:gocyclo // orchestration flow is inherently branched
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp()
	if err != nil {
		return err
	}
	cfg := a.cfg
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	var store *jobstore.Store
	queueOpts := []jobs.QueueOption{}
	if !serveNoPersist {
		store, err = jobstore.NewStore(cfg.JobsDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("initializing job store: %w", err)
		}
		defer store.Close()
		queueOpts = append(queueOpts, jobs.WithPersister(store))
	}
	svc := jobs.NewService(jobs.NewQueue(queueOpts...),
		jobs.WithConcurrency(cfg.Workers),
		jobs.WithQueueSize(cfg.QueueSize),
	)

	if len(cfg.PreloadDetectors) > 0 {
		status := a.runner.Registry().Warmup(ctx, cfg.PreloadDetectors)
		log.Info().Interface("status", status).Msg("detectors_warmed_up")
	}

	var purger retention.RecordPurger
	if store != nil {
		purger = store
	}
	ret := retention.New(svc.Queue, purger, cfg.JobRetention)
	if err := ret.Schedule(cfg.RetentionSchedule); err != nil {
		return err
	}
	ret.Start()
	defer ret.Stop()

	if len(cfg.APIKeys) == 0 {
		log.Warn().Msg("DCP_API_KEYS not set; API endpoints are unauthenticated")
	}
	opts := []server.Option{
		server.WithAPIKeys(cfg.APIKeys),
		server.WithDefaults(server.Defaults{
			Language:  cfg.DefaultLanguage,
			Detectors: cfg.DefaultDetectors,
			MinScore:  cfg.DefaultMinScore,
		}),
		server.WithVersion(resolvedVersion()),
	}
	if cfg.RateLimitRPM > 0 {
		opts = append(opts, server.WithRateLimiter(server.NewRateLimiter(0, cfg.RateLimitRPM)))
	}
	if store != nil {
		opts = append(opts, server.WithStore(store))
	}
	srv := server.NewServer(a.runner, a.anonymizer, svc, a.scanner, opts...)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Int("workers", cfg.Workers).
		Int("queue_size", cfg.QueueSize).
		Strs("detectors", a.runner.Registry().ListAvailable()).
		Bool("persist", store != nil).
		Msg("dcpguard_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("job_worker_drain_incomplete")
	}
	log.Info().Msg("server_stopped")
	return nil
}
