package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/repohub/pkg/config"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/spf13/cobra"
)

var serveWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API. By default the process also runs job workers; pass
--workers=false when separate "repohub worker" processes share a Redis or
PostgreSQL job store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWorkers, "workers", true, "run job workers in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !serveWorkers && cfg.Jobx.Store == config.StoreMemory {
		logx.Warn("Workers disabled with the memory store: submitted jobs will never run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Cleanup()

	workersDone := make(chan error, 1)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if serveWorkers {
		go func() { workersDone <- container.Dispatcher.Run(workerCtx) }()
	} else {
		close(workersDone)
	}

	app := newApp(container)
	listenErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logx.Infof("Server listening on %s", addr)
		listenErr <- app.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		stopWorkers()
		<-workersDone
		return err
	case <-ctx.Done():
	}

	logx.Info("Shutting down gracefully...")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}
	stopWorkers()
	if err := <-workersDone; err != nil {
		logx.WithError(err).Warn("Workers stopped with error")
	}
	logx.Info("Server exited")
	return nil
}
