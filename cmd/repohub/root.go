package main

import (
	"os"

	"github.com/Abraxas-365/repohub/pkg/config"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "repohub",
	Short: "repohub runs the asynchronous table job API and its workers",
	Long: `repohub accepts table jobs over HTTP, runs them on background workers and
serves their results to pollers.

Common workflows:

  Run the API with in-process workers:
    repohub serve

  Run workers only, sharing a Redis or PostgreSQL job store with the API:
    JOBX_STORE=redis repohub worker

  Create the PostgreSQL tables:
    JOBX_STORE=postgres repohub migrate

  Issue a development token and submit a job:
    repohub token --tenant acme --user alice --scope tables:editor
    repohub submit --token <jwt> --file upload.json --wait

Configuration is read from environment variables and an optional YAML file
(--config or REPOHUB_CONFIG).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := os.Setenv(config.FileEnv, cfgFile); err != nil {
				return err
			}
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Logging)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $"+config.FileEnv+")")
}

func setupLogging(c config.LoggingConfig) {
	lc := logx.DefaultConfig()
	lc.Level = logx.ParseLevel(c.Level)
	if c.Format == "json" {
		lc.Format = logx.FormatJSON
	}
	logx.SetDefaultLogger(logx.NewLogger(lc))
}
