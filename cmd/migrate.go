package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/geo"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply candidate store migrations",
	Long:  "Creates the contractors and discovery_selections tables, plus geo.zip_centroids when the postgres driver is used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		env := &discoveryEnv{}
		defer env.Close()

		backend, pool, err := openBackend(ctx, env)
		if err != nil {
			return err
		}
		if err := backend.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if pool != nil {
			if err := geo.Migrate(ctx, pool); err != nil {
				return eris.Wrap(err, "migrate geo")
			}
		}

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
