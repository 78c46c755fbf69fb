package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/par"
)

var (
	parVenue   string
	parTotal   int
	parOver    int
	parWickets int
)

var parCmd = &cobra.Command{
	Use:   "par",
	Short: "Par score for the side batting first at an over and wicket count",
	Long: "Scale a first-innings total by the share of resources used at over.0 with the given\n" +
		"wickets down. Venue rows are used when they carry enough samples; otherwise the\n" +
		"all-venue row.",
	Args: cobra.NoArgs,
	RunE: runPar,
}

func init() {
	f := parCmd.Flags()
	f.StringVar(&parVenue, "venue", "", "venue name")
	f.IntVar(&parTotal, "total", 0, "first-innings total")
	f.IntVar(&parOver, "over", 0, "overs completed")
	f.IntVar(&parWickets, "wickets", 0, "wickets lost")
	_ = parCmd.MarkFlagRequired("total")
}

func runPar(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := par.New(db, cfg.Lookup.MinSamples).Par(cmd.Context(), parVenue, parTotal, parOver, parWickets)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Par at %d.0 with %d down: %d  (%.1f%% resources left, %s rows, n=%d)\n",
		parOver, parWickets, res.Par, res.ResourcePct, res.Source, res.SampleSize)
	return nil
}
