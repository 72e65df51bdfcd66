package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/discovery"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import contractors from CSV into the candidate store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrapf(err, "open csv %s", importCSVPath)
		}
		defer f.Close() //nolint:errcheck

		records, err := discovery.ReadRecordsCSV(f)
		if err != nil {
			return err
		}

		env := &discoveryEnv{}
		defer env.Close()

		backend, _, err := openBackend(ctx, env)
		if err != nil {
			return err
		}
		if err := backend.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		n, err := backend.UpsertCandidates(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.String("csv", importCSVPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
