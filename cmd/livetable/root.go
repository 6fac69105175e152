package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/internal/config"
	"github.com/zoravur/postgres-live-table/internal/logutil"
)

var (
	// set during PersistentPreRunE
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "livetable",
	Short: "Live filtered views of PostgreSQL tables",
	Long: `livetable - live filtered views of PostgreSQL tables

Clients subscribe to rows of one or more tables through a filter. They receive
the matching rows once, then every insert, update and delete that touches a
matching row, delivered through LISTEN/NOTIFY.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, configPath, err = config.Load(cfgFile)
		if err != nil {
			return configError("loading configuration", err)
		}
		logger, err = logutil.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return configError("building logger", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover livetable.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		exitWithError(err)
	}
}
