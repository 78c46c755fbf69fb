package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/model"
	"github.com/pable/go-cricket-wpa/internal/report"
)

var (
	bucketsScope     string
	bucketsLimit     int
	bucketsResources bool
	bucketsVenue     string
	bucketsInnings   int
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Show the live outcome or resource buckets",
	Long: "Print outcome buckets with their sample-size flag (OK ≥50, LOW ≥20, VERY_LOW) and a 95%\n" +
		"Wilson interval, or resource buckets with --resources.",
	Args: cobra.NoArgs,
	RunE: runBuckets,
}

func init() {
	f := bucketsCmd.Flags()
	f.StringVar(&bucketsScope, "scope", "", "venue, competition or global (default all)")
	f.IntVar(&bucketsLimit, "limit", 50, "maximum outcome rows (0 = all)")
	f.BoolVar(&bucketsResources, "resources", false, "show resource buckets instead")
	f.StringVar(&bucketsVenue, "venue", "", "resource rows for this venue (default the all-venue rows)")
	f.IntVar(&bucketsInnings, "innings", 1, "resource rows for this innings")
}

func runBuckets(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	if bucketsResources {
		rows, err := db.ListResourceBuckets(cmd.Context(), bucketsVenue, bucketsInnings)
		if err != nil {
			return fmt.Errorf("list resource buckets: %w", err)
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stdout, "No resource buckets. Run 'chasewpa rebuild' first.")
			return nil
		}
		report.PrintResourceTable(os.Stdout, rows)
		return nil
	}

	switch model.Scope(bucketsScope) {
	case "", model.ScopeVenue, model.ScopeCompetition, model.ScopeGlobal:
	default:
		return fmt.Errorf("unknown scope %q", bucketsScope)
	}
	buckets, err := db.ListOutcomeBuckets(cmd.Context(), model.Scope(bucketsScope), bucketsLimit)
	if err != nil {
		return fmt.Errorf("list outcome buckets: %w", err)
	}
	if len(buckets) == 0 {
		fmt.Fprintln(os.Stdout, "No outcome buckets. Run 'chasewpa rebuild' first.")
		return nil
	}
	report.PrintBucketTable(os.Stdout, buckets)
	return nil
}
