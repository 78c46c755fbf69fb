package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pable/go-cricket-wpa/internal/model"
)

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w, tablewriter.WithConfig(tablewriter.Config{
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignRight},
		},
		Header: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignCenter},
		},
	}))
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

// PrintMatchSummary prints a one-line header for a chase.
func PrintMatchSummary(w io.Writer, m model.MatchMeta) {
	result := m.Result
	if m.Winner != "" {
		result = m.Winner + " won"
	}
	fmt.Fprintf(w, "\nMatch: %s  |  %s  |  %s  |  Venue: %s  |  Target: %d in %d overs  |  %s\n\n",
		m.MatchID, m.Date.Format(model.DateLayout), orDash(m.Competition), m.Venue, m.Target, m.OversLimit, result)
}

// PrintMatchList prints the stored matches.
func PrintMatchList(w io.Writer, matches []model.Match) {
	table := newTable(w)
	table.Header("ID", "DATE", "COMPETITION", "VENUE", "TEAMS", "WINNER", "RESULT", "OVERS")
	for _, m := range matches {
		table.Append(
			m.ID,
			m.Date.Format(model.DateLayout),
			orDash(m.Competition),
			m.Venue,
			m.Team1+" v "+m.Team2,
			orDash(m.Winner),
			m.Result,
			strconv.Itoa(m.OversLimit),
		)
	}
	table.Render()
}

// PrintBucketTable prints outcome buckets with a sample-size flag and a 95%
// Wilson interval on the win probability.
func PrintBucketTable(w io.Writer, buckets []model.OutcomeBucket) {
	table := newTable(w)
	table.Header("SCOPE", "VALUE", "TARGET", "OVER", "WKTS", "SCORE", "WIN%", "N", "95% CI", "FLAG", "THROUGH")
	for _, b := range buckets {
		lo, hi := wilsonCI(b.Wins(), b.SampleSize)
		table.Append(
			string(b.Key.Scope),
			orDash(b.Key.ScopeValue),
			fmt.Sprintf("%d+", b.Key.TargetBand),
			strconv.Itoa(b.Key.Over),
			strconv.Itoa(b.Key.WicketsLost),
			fmt.Sprintf("%d-%d", b.Key.ScoreLo, b.Key.ScoreHi),
			fmt.Sprintf("%.1f%%", b.WinProbability*100),
			strconv.Itoa(b.SampleSize),
			fmt.Sprintf("%.0f-%.0f%%", lo*100, hi*100),
			sampleFlag(b.SampleSize),
			b.ComputedThrough.Format(model.DateLayout),
		)
	}
	table.Render()
}

// PrintResourceTable prints resource buckets. A blank venue is the all-venue row.
func PrintResourceTable(w io.Writer, rows []model.ResourceBucket) {
	table := newTable(w)
	table.Header("VENUE", "INN", "OVER", "WKTS", "RESOURCE%", "AVG_FINAL", "N", "FLAG")
	for _, r := range rows {
		venue := r.Venue
		if venue == "" {
			venue = "(all)"
		}
		table.Append(
			venue,
			strconv.Itoa(r.Innings),
			strconv.Itoa(r.Over),
			strconv.Itoa(r.WicketsLost),
			fmt.Sprintf("%.1f", r.ResourcePct),
			fmt.Sprintf("%.1f", r.AvgFinalScore),
			strconv.Itoa(r.SampleSize),
			sampleFlag(r.SampleSize),
		)
	}
	table.Render()
}

// PrintRunTable prints ComputationRun audit rows.
func PrintRunTable(w io.Writer, runs []model.ComputationRun) {
	table := newTable(w)
	table.Header("RUN", "TABLES", "STATUS", "AS_OF", "ROWS", "STARTED", "TOOK", "ERROR")
	for _, r := range runs {
		took := "—"
		if d := r.Duration(); d > 0 {
			took = d.Round(time.Millisecond).String()
		}
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		table.Append(
			id,
			r.TableName,
			r.Status,
			r.AsOf.Format(model.DateLayout),
			strconv.Itoa(r.RowsWritten),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			took,
			orDash(r.Error),
		)
	}
	table.Render()
}

// WpaRow is one chase delivery with the states and values around it.
type WpaRow struct {
	Delivery model.Delivery
	Before   model.MatchState
	After    model.MatchState
	Wpa      *model.DeliveryWpa
}

// PrintWpaTable prints a ball-by-ball WPA breakdown of a chase.
func PrintWpaTable(w io.Writer, rows []WpaRow) {
	table := newTable(w)
	table.Header("BALL", "BATTER", "BOWLER", "RUNS", "W", "BEFORE", "P_BEFORE", "P_AFTER", "SRC", "WPA_BAT", "WPA_BOWL")
	for _, r := range rows {
		d := r.Delivery
		runs := strconv.Itoa(d.TotalRuns())
		if d.ExtraType != "" {
			runs += " " + d.ExtraType
		}
		wkt := ""
		if d.IsWicket {
			wkt = "W"
		}
		pb, pa, src, bat, bowl := "—", "—", "—", "—", "—"
		if v := r.Wpa; v != nil {
			bat = fmt.Sprintf("%+.3f", v.Batter)
			bowl = fmt.Sprintf("%+.3f", v.Bowler)
			if v.BeforeSource != "" {
				pb = fmt.Sprintf("%.3f", v.Before)
				pa = fmt.Sprintf("%.3f", v.After)
				src = string(v.BeforeSource)
			}
		}
		table.Append(
			d.Label(),
			d.Batter,
			d.Bowler,
			runs,
			wkt,
			fmt.Sprintf("%d/%d", r.Before.CurrentScore, r.Before.WicketsLost),
			pb,
			pa,
			src,
			bat,
			bowl,
		)
	}
	table.Render()
}

// PrintLeaders prints per-player WPA totals.
func PrintLeaders(w io.Writer, players []model.PlayerWpa) {
	table := newTable(w)
	table.Header("#", "PLAYER", "ROLE", "BALLS", "WPA", "WPA/100")
	for i, p := range players {
		per := 0.0
		if p.Deliveries > 0 {
			per = p.Total / float64(p.Deliveries) * 100
		}
		table.Append(
			strconv.Itoa(i+1),
			p.Name,
			p.Role,
			strconv.Itoa(p.Deliveries),
			fmt.Sprintf("%+.3f", p.Total),
			fmt.Sprintf("%+.2f", per),
		)
	}
	table.Render()
}

// PrintRawTable prints ad hoc query output.
func PrintRawTable(w io.Writer, cols []string, rows [][]string) {
	table := newTable(w)
	header := make([]any, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	table.Header(header...)
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = v
		}
		table.Append(cells...)
	}
	table.Render()
}

func sampleFlag(n int) string {
	switch {
	case n >= 50:
		return "OK"
	case n >= 20:
		return "LOW"
	default:
		return "VERY_LOW"
	}
}

// z95 is the two-sided 95% normal quantile.
var z95 = distuv.UnitNormal.Quantile(0.975)

// wilsonCI computes the 95% Wilson score confidence interval for a proportion.
// Returns (lo, hi) as fractions in [0, 1].
func wilsonCI(hits, n int) (lo, hi float64) {
	if n == 0 {
		return 0, 1
	}
	z := z95
	p := float64(hits) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}
