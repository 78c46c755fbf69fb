package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
	"github.com/pable/go-cricket-wpa/internal/report"
	"github.com/pable/go-cricket-wpa/internal/storage"
	"github.com/pable/go-cricket-wpa/internal/wpa"
)

var (
	wpaMatch   string
	wpaRole    string
	wpaLimit   int
	wpaCompute bool
)

var wpaCmd = &cobra.Command{
	Use:   "wpa",
	Short: "Win Probability Added per delivery",
}

var wpaBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute and store WPA for every second-innings delivery without a value",
	Long: "Walk each pending chase in bowling order, look up the win probability before and after\n" +
		"every delivery and store the batter/bowler pair. Stored values are never overwritten.",
	Args: cobra.NoArgs,
	RunE: runWpaBackfill,
}

var wpaShowCmd = &cobra.Command{
	Use:   "show <match-id>",
	Short: "Ball-by-ball WPA for one chase",
	Args:  cobra.ExactArgs(1),
	RunE:  runWpaShow,
}

var wpaLeadersCmd = &cobra.Command{
	Use:   "leaders",
	Short: "Players ranked by total stored WPA",
	Args:  cobra.NoArgs,
	RunE:  runWpaLeaders,
}

func init() {
	wpaBackfillCmd.Flags().StringVar(&wpaMatch, "match", "", "only this match id")
	wpaShowCmd.Flags().BoolVar(&wpaCompute, "compute", false, "compute and store values missing for this match")
	wpaLeadersCmd.Flags().StringVar(&wpaRole, "role", "batter", "batter or bowler")
	wpaLeadersCmd.Flags().IntVar(&wpaLimit, "limit", 20, "maximum rows (0 = all)")

	wpaCmd.AddCommand(wpaBackfillCmd)
	wpaCmd.AddCommand(wpaShowCmd)
	wpaCmd.AddCommand(wpaLeadersCmd)
}

func newEngine(db *storage.DB) *wpa.Engine {
	return wpa.New(db, newCache(db), newLookup(db), wpa.Config{
		Epsilon:     cfg.WPA.Epsilon,
		RoundPlaces: cfg.WPA.RoundPlaces,
		ChunkSize:   cfg.WPA.ChunkSize,
		Workers:     cfg.WPA.Workers,
	}, log.WithField("component", "wpa"))
}

func runWpaBackfill(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := newEngine(db).Backfill(cmd.Context(), wpaMatch)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	fmt.Fprintf(os.Stdout, "Matches: %d  computed: %d  written: %d  failed: %d  skipped matches: %d  (%s)\n",
		res.Matches, res.Computed, res.Written, res.Failed, res.Skipped, res.Duration.Round(time.Millisecond))
	return nil
}

func runWpaShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	meta, err := db.MatchMeta(ctx, args[0])
	if errors.Is(err, model.ErrMissingMatchData) {
		return fmt.Errorf("match %s has no chase to show", args[0])
	}
	if err != nil {
		return err
	}
	balls, err := db.InningsDeliveries(ctx, meta.MatchID, 2)
	if err != nil {
		return fmt.Errorf("load chase: %w", err)
	}

	engine := newEngine(db)
	rows := make([]report.WpaRow, 0, len(balls))
	for _, d := range balls {
		before, err := matchstate.Before(meta, d, balls)
		if err != nil {
			return err
		}
		row := report.WpaRow{Delivery: d, Before: before, After: matchstate.After(before, d), Wpa: d.Wpa}
		if row.Wpa == nil && wpaCompute {
			v, _, err := engine.Store(ctx, d)
			if err != nil {
				log.WithField("delivery", d.ID).Warnf("wpa: %v", err)
			}
			row.Wpa = v
		}
		rows = append(rows, row)
	}

	report.PrintMatchSummary(os.Stdout, meta)
	report.PrintWpaTable(os.Stdout, rows)
	return nil
}

func runWpaLeaders(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	players, err := db.PlayerWpaTotals(cmd.Context(), wpaRole, wpaLimit)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		fmt.Fprintln(os.Stdout, "No WPA stored yet. Run 'chasewpa wpa backfill' first.")
		return nil
	}
	report.PrintLeaders(os.Stdout, players)
	return nil
}
