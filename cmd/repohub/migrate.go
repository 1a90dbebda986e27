package main

import (
	"context"
	"time"

	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/spf13/cobra"
)

var migrateTimeout time.Duration

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL job and table schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
		defer cancel()

		container, err := NewContainer(ctx, cfg)
		if err != nil {
			return err
		}
		defer container.Cleanup()

		if err := container.Migrate(ctx); err != nil {
			return err
		}
		logx.Info("Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().DurationVar(&migrateTimeout, "timeout", time.Minute, "overall migration timeout")
}
