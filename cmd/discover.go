package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sells-group/contractor-match/internal/discovery"
)

type discoverOptions struct {
	id        string
	category  string
	postal    string
	tags      []string
	budgetMin float64
	budgetMax float64
	count     int
	urgency   string
}

var discoverFlags discoverOptions

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery and print the ranked candidates as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initDiscovery(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		req := discoverRequest(cmd)
		res, err := env.Engine.Discover(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// discoverRequest builds a Request from flags. Budgets are only set when the
// flag was given.
func discoverRequest(cmd *cobra.Command) discovery.Request {
	f := discoverFlags
	req := discovery.Request{
		ID:               f.id,
		ProjectCategory:  f.category,
		ProjectTags:      f.tags,
		PostalCode:       f.postal,
		CandidatesNeeded: f.count,
		Urgency:          discovery.Urgency(f.urgency),
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CandidatesNeeded == 0 && cfg != nil {
		req.CandidatesNeeded = cfg.Discovery.DefaultCandidates
	}
	if cmd.Flags().Changed("budget-min") {
		v := f.budgetMin
		req.BudgetMin = &v
	}
	if cmd.Flags().Changed("budget-max") {
		v := f.budgetMax
		req.BudgetMax = &v
	}
	return req
}

func init() {
	fl := discoverCmd.Flags()
	fl.StringVar(&discoverFlags.id, "id", "", "request id (default random)")
	fl.StringVar(&discoverFlags.category, "category", "", "project category (required)")
	fl.StringVar(&discoverFlags.postal, "postal", "", "project postal code (required)")
	fl.StringSliceVar(&discoverFlags.tags, "tags", nil, "raw project tags")
	fl.Float64Var(&discoverFlags.budgetMin, "budget-min", 0, "minimum budget")
	fl.Float64Var(&discoverFlags.budgetMax, "budget-max", 0, "maximum budget")
	fl.IntVar(&discoverFlags.count, "count", 0, "candidates needed (default from config)")
	fl.StringVar(&discoverFlags.urgency, "urgency", "", "emergency, week, month or flexible")
	_ = discoverCmd.MarkFlagRequired("category")
	_ = discoverCmd.MarkFlagRequired("postal")
	rootCmd.AddCommand(discoverCmd)
}
