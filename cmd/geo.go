package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractor-match/internal/db"
	"github.com/sells-group/contractor-match/internal/geo"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Postal-code reference lookups",
	Long:  "Resolve postal codes to centroids, expand radius sets and load the reference dataset into Postgres.",
}

// geoResolver opens the configured dataset behind a resolver.
func geoResolver(cmd *cobra.Command) (*geo.Resolver, *discoveryEnv, error) {
	if err := cfg.Validate("geo"); err != nil {
		return nil, nil, err
	}
	env := &discoveryEnv{}
	ds, err := openDataset(cmd.Context(), env, nil)
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return newResolver(ds), env, nil
}

var geoResolveCmd = &cobra.Command{
	Use:   "resolve <postal>",
	Short: "Print the centroid of a postal code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, env, err := geoResolver(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := r.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(map[string]any{"postal_code": args[0], "point": p})
	},
}

var geoExpandRadius float64

var geoExpandCmd = &cobra.Command{
	Use:   "expand <postal>",
	Short: "Print the postal codes within a radius of a postal code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, env, err := geoResolver(cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		radius := geoExpandRadius
		if radius <= 0 {
			radius = cfg.Geo.DefaultRadiusKM
		}
		codes, err := r.Expand(cmd.Context(), args[0], radius)
		if err != nil {
			zap.L().Warn("geo expand degraded", zap.Error(err))
		}
		for _, c := range codes {
			fmt.Println(c)
		}
		return nil
	},
}

var geoImportPath string
var geoImportFormat string

var geoImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a gazetteer or ZCTA shapefile into geo.zip_centroids",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var (
			ds  *geo.MemoryDataset
			err error
		)
		switch geoImportFormat {
		case "gazetteer":
			ds, err = geo.LoadGazetteer(geoImportPath)
		case "shapefile":
			ds, err = geo.LoadShapefile(geoImportPath)
		default:
			return eris.Errorf("unsupported format: %s", geoImportFormat)
		}
		if err != nil {
			return err
		}

		pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := geo.Migrate(ctx, pool); err != nil {
			return err
		}
		n, err := geo.Import(ctx, pool, ds)
		if err != nil {
			return err
		}
		zap.L().Info("geo import complete", zap.Int64("rows", n), zap.String("path", geoImportPath))
		return nil
	},
}

func init() {
	geoExpandCmd.Flags().Float64Var(&geoExpandRadius, "radius", 0, "radius in km (default from config)")
	geoImportCmd.Flags().StringVar(&geoImportPath, "path", "", "path to the dataset file (required)")
	geoImportCmd.Flags().StringVar(&geoImportFormat, "format", "gazetteer", "gazetteer or shapefile")
	_ = geoImportCmd.MarkFlagRequired("path")

	geoCmd.AddCommand(geoResolveCmd, geoExpandCmd, geoImportCmd)
	rootCmd.AddCommand(geoCmd)
}
