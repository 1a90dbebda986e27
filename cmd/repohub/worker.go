package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abraxas-365/repohub/pkg/config"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run job workers without the HTTP API",
	Long: `Run job workers that drain the shared queue. Needs JOBX_STORE=redis or
JOBX_STORE=postgres, since the memory store is private to one process, and a
table sink every worker writes to (TABLES_SINK=postgres).`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if cfg.Jobx.Store == config.StoreMemory {
		return fmt.Errorf("worker needs a shared job store, JOBX_STORE is %q", cfg.Jobx.Store)
	}
	if cfg.Tables.Sink == config.SinkMemory {
		return fmt.Errorf("worker needs a shared table sink, TABLES_SINK is %q", cfg.Tables.Sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Cleanup()

	return container.Dispatcher.Run(ctx)
}
