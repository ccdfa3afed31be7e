package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agencyops/ledger-archive/api"
	"github.com/agencyops/ledger-archive/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the job scheduler",
	Long: `Serve the HTTP API and, unless SCHEDULER_ENABLED=false, evaluate every
job once per local day in the background.

On SIGINT/SIGTERM the scheduler finishes its in-flight check, then the
server drains active requests for up to 30s before the database closes.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "HTTP server port (overrides HTTP_PORT)")
}

func serve(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("server")

	port := cfg.HTTPPort
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	d, err := openDeps(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	handler := api.NewHandler(d.runner, d.store, d.store, logger.WithComponent("api"))

	scheduler := api.NewJobScheduler(d.runner, logger.WithComponent("scheduler"))
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	handler.Scheduler = scheduler

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(handler, cfg.CORSAllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
