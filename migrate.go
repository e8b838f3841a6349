package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loiht2/ml-platform-assistant/backend/config"
	"github.com/loiht2/ml-platform-assistant/backend/repository"
	"github.com/loiht2/ml-platform-assistant/backend/vectorindex"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the job history and vector schemas",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		db, err := config.InitDB(cfg)
		if err != nil {
			return err
		}
		if err := repository.NewRepository(db).Migrate(); err != nil {
			return fmt.Errorf("migrating job history: %w", err)
		}
		zap.S().Info("job history migrated")

		if cfg.Vector.Backend != config.VectorPGVector {
			return nil
		}
		pool, err := config.InitVectorPool(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		embedder := vectorindex.NewVoyageEmbedder(cfg.Vector.VoyageAPIKey, cfg.Vector.VoyageModel, cfg.Vector.Dimensions)
		if err := vectorindex.NewPGVectorStore(pool, embedder).EnsureSchema(cmd.Context()); err != nil {
			return fmt.Errorf("migrating vector schema: %w", err)
		}
		zap.S().Info("vector schema migrated")
		return nil
	},
}
