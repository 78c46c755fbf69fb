package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pable/go-cricket-wpa/internal/report"
)

var sqlCmd = &cobra.Command{
	Use:   "sql [query]",
	Short: "Run a raw SQL query against the chasewpa database",
	Long: `Run an arbitrary SQL query against the chasewpa database and print results as a table.

Schema overview:
  matches(id, venue, competition, match_date, team1, team2, winner, result, overs_limit)
  deliveries(id, match_id, innings, over_number, ball, seq, batting_team, batter, bowler,
    runs_batter, runs_extras, extra_type, is_wicket, player_out,
    wpa_batter, wpa_bowler, wpa_computed_at)
  outcome_buckets(scope, scope_value, target_band, over_number, wickets_lost,
    score_range_lo, score_range_hi, win_probability, sample_size, computed_through_date)
  resource_buckets(venue, innings, over_number, wickets_lost, resource_percentage,
    avg_final_score, sample_size, computed_through_date)
  computation_runs(id, table_name, status, as_of_date, rows_written, started_at, finished_at, error)

Note: scope_value is '' for global buckets and venue is '' for all-venue resource rows.`,
	Args: cobra.ArbitraryArgs,
	RunE: runSQL,
}

func runSQL(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), cmd.Long)
		return nil
	}
	query := strings.Join(args, " ")
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(cmd.Context(), query)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("(no rows)")
		return nil
	}

	report.PrintRawTable(os.Stdout, cols, rows)
	fmt.Fprintf(os.Stdout, "\n(%d rows)\n", len(rows))
	return nil
}
