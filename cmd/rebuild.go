package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/aggregator"
	"github.com/pable/go-cricket-wpa/internal/model"
)

var rebuildAsOf string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute the outcome and resource bucket tables",
	Long: "Aggregate every completed chase dated strictly before --as-of into outcome buckets\n" +
		"(venue, competition and global scope) and resource buckets, then atomically replace\n" +
		"the live tables. A failed run leaves the previous tables in place.",
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildAsOf, "as-of", "", "cutoff date YYYY-MM-DD (default today)")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	asOf, err := parseDay(rebuildAsOf)
	if err != nil {
		return err
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	r := aggregator.NewRebuilder(db, newCache(db), cfg.BandingRules(), cfg.Aggregator.Workers,
		log.WithField("component", "aggregator"))
	run, err := r.Rebuild(cmd.Context(), asOf)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", run.ID, err)
	}
	fmt.Fprintf(os.Stdout, "Run %s %s: %d rows through %s in %s\n",
		run.ID, run.Status, run.RowsWritten, run.AsOf.Format(model.DateLayout), run.Duration().Round(time.Millisecond))
	return nil
}
