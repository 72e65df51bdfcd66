package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "contractor-match",
	Short: "Tiered contractor discovery and geographic matching",
	Long:  "Finds ranked service-provider candidates for a project by expanding its postal code into a radius, scanning verified, re-engagement and newly acquired provider tiers, and scoring the merged pool.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
