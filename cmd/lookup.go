package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/lookup"
	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

var (
	lookupVenue       string
	lookupCompetition string
	lookupTarget      int
	lookupOver        int
	lookupWickets     int
	lookupScore       int
	lookupOvers       int
	lookupAsOf        string
)

var (
	cSource = map[model.Source]*color.Color{
		model.SourceVenue:       color.New(color.FgGreen, color.Bold),
		model.SourceCompetition: color.New(color.FgCyan, color.Bold),
		model.SourceGlobal:      color.New(color.FgBlue, color.Bold),
		model.SourceHeuristic:   color.New(color.FgYellow, color.Bold),
		model.SourceTerminal:    color.New(color.FgMagenta, color.Bold),
	}
	cProb  = color.New(color.Bold)
	cMuted = color.New(color.Faint)
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Win probability for a chase state",
	Long: "Look up the chasing side's win probability at the start of an over, walking the\n" +
		"venue → competition → global → heuristic chain.\n\n" +
		"Example:\n  chasewpa lookup --venue Wankhede --competition IPL --target 180 --over 15 --wickets 4 --score 140",
	Args: cobra.NoArgs,
	RunE: runLookup,
}

func init() {
	f := lookupCmd.Flags()
	f.StringVar(&lookupVenue, "venue", "", "venue name")
	f.StringVar(&lookupCompetition, "competition", "", "competition name")
	f.IntVar(&lookupTarget, "target", 0, "runs required to win (first-innings total + 1)")
	f.IntVar(&lookupOver, "over", 0, "overs completed")
	f.IntVar(&lookupWickets, "wickets", 0, "wickets lost")
	f.IntVar(&lookupScore, "score", 0, "current score")
	f.IntVar(&lookupOvers, "overs", 0, "innings length in overs (default from config)")
	f.StringVar(&lookupAsOf, "as-of", "", "only use buckets computed through this date (default today)")
	_ = lookupCmd.MarkFlagRequired("target")
}

func runLookup(cmd *cobra.Command, args []string) error {
	asOf, err := parseDay(lookupAsOf)
	if err != nil {
		return err
	}
	overs := lookupOvers
	if overs <= 0 {
		overs = cfg.Lookup.DefaultOversLimit
	}
	st, err := matchstate.FromOver(lookupTarget, lookupScore, lookupOver, lookupWickets, overs)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	est, err := newLookup(db).Lookup(cmd.Context(), lookup.Query{
		Venue:       lookupVenue,
		Competition: lookupCompetition,
		AsOf:        asOf,
		State:       st,
	})
	if err != nil {
		return err
	}

	c, ok := cSource[est.Source]
	if !ok {
		c = color.New(color.Bold)
	}
	fmt.Fprintf(os.Stdout, "%s  chasing %d\n", st, st.Target)
	fmt.Fprintf(os.Stdout, "P(win) = %s  source: %s", cProb.Sprintf("%.3f", est.Probability), c.Sprint(est.Source))
	if est.Key != nil {
		fmt.Fprint(os.Stdout, cMuted.Sprintf("  (%s, n=%d)", est.Key, est.SampleSize))
	}
	fmt.Fprintln(os.Stdout)
	return nil
}
