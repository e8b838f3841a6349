package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/config"
	"github.com/loiht2/ml-platform-assistant/backend/logging"
)

var rootCmd = &cobra.Command{
	Use:   "ml-platform-assistant",
	Short: "Dataset training and question answering backend",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

// setup reads the configuration and installs the global logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.InitLog(logging.ParseLevel(cfg.Server.LogLevel))
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
