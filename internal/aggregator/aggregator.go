package aggregator

import (
	"sort"
	"time"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// Tables is the full output of one aggregation pass.
type Tables struct {
	Outcome  []model.OutcomeBucket
	Resource []model.ResourceBucket
}

// Rows returns the total number of bucket rows.
func (t Tables) Rows() int {
	return len(t.Outcome) + len(t.Resource)
}

type outcomeTally struct {
	wins, n int
}

type resourceKey struct {
	venue       string
	innings     int
	over        int
	wicketsLost int
}

type resourceTally struct {
	pct, final float64
	n          int
}

// Accumulator collects bucket counts from any number of matches. Accumulators
// built over disjoint match sets can be merged, so a rebuild may fan out.
// An Accumulator is not safe for concurrent use.
type Accumulator struct {
	banding  matchstate.Banding
	outcome  map[model.BucketKey]*outcomeTally
	resource map[resourceKey]*resourceTally

	Matches int // matches that contributed at least one observation
	Records int // chase observations
}

func NewAccumulator(banding matchstate.Banding) *Accumulator {
	return &Accumulator{
		banding:  banding,
		outcome:  make(map[model.BucketKey]*outcomeTally),
		resource: make(map[resourceKey]*resourceTally),
	}
}

// AddMatch folds one match into the counts. first and second are the two
// innings in bowling order. No-result and abandoned matches are ignored.
func (a *Accumulator) AddMatch(meta model.MatchMeta, first, second []model.Delivery) {
	if meta.Excluded() {
		return
	}
	contributed := false

	// ---- Pass 1: chase observations → outcome buckets. ----

	if meta.Target > 0 {
		for _, rec := range ChaseRecords(meta, second) {
			a.addRecord(rec)
			contributed = true
		}
	}

	// ---- Pass 2: over-boundary resource samples for both innings. ----

	limit := matchstate.OversLimit(meta)
	for inn, balls := range [][]model.Delivery{first, second} {
		for _, s := range resourceSamples(balls, limit) {
			a.addResource(meta.Venue, inn+1, s)
			contributed = true
		}
	}

	if contributed {
		a.Matches++
	}
}

// ChaseRecords returns one record per second-innings ball, holding the state
// before that ball was bowled. Recording stops once the chase is decided.
func ChaseRecords(meta model.MatchMeta, second []model.Delivery) []model.HistoricalChaseRecord {
	if len(second) == 0 {
		return nil
	}
	state, err := matchstate.Start(meta)
	if err != nil {
		return nil
	}
	won := meta.ChaseWon()
	out := make([]model.HistoricalChaseRecord, 0, len(second))
	for i := range second {
		if state.IsTerminal() {
			break
		}
		out = append(out, model.HistoricalChaseRecord{
			MatchID:     meta.MatchID,
			Venue:       meta.Venue,
			Competition: meta.Competition,
			State:       state,
			Won:         won,
		})
		state = matchstate.After(state, second[i])
	}
	return out
}

func (a *Accumulator) addRecord(rec model.HistoricalChaseRecord) {
	a.Records++
	scopes := [...]struct {
		scope model.Scope
		value string
	}{
		{model.ScopeVenue, rec.Venue},
		{model.ScopeCompetition, rec.Competition},
		{model.ScopeGlobal, ""},
	}
	for _, sc := range scopes {
		if sc.scope != model.ScopeGlobal && sc.value == "" {
			continue
		}
		key := a.banding.Key(rec.State, sc.scope, sc.value)
		t := a.outcome[key]
		if t == nil {
			t = &outcomeTally{}
			a.outcome[key] = t
		}
		t.n++
		if rec.Won {
			t.wins++
		}
	}
}

type resourceSample struct {
	over, wicketsLost int
	pct, final        float64
}

// resourceSamples walks one innings and records, at the start of every over,
// the share of the final total still to come.
func resourceSamples(balls []model.Delivery, oversLimit int) []resourceSample {
	final := 0
	for i := range balls {
		final += balls[i].TotalRuns()
	}
	if final <= 0 {
		return nil
	}

	var out []resourceSample
	score, legal, wickets := 0, 0, 0
	nextOver := 0
	for i := range balls {
		if legal == nextOver*model.BallsPerOver && nextOver < oversLimit && wickets < model.MaxWickets {
			out = append(out, resourceSample{
				over:        nextOver,
				wicketsLost: wickets,
				pct:         float64(final-score) / float64(final) * 100,
				final:       float64(final),
			})
			nextOver++
		}
		d := &balls[i]
		score += d.TotalRuns()
		if d.IsLegal() {
			legal++
		}
		if d.IsWicket {
			wickets++
		}
	}
	return out
}

func (a *Accumulator) addResource(venue string, innings int, s resourceSample) {
	keys := []resourceKey{{venue: "", innings: innings, over: s.over, wicketsLost: s.wicketsLost}}
	if venue != "" {
		keys = append(keys, resourceKey{venue: venue, innings: innings, over: s.over, wicketsLost: s.wicketsLost})
	}
	for _, k := range keys {
		t := a.resource[k]
		if t == nil {
			t = &resourceTally{}
			a.resource[k] = t
		}
		t.pct += s.pct
		t.final += s.final
		t.n++
	}
}

// Merge adds o's counts into a. Both must use the same banding.
func (a *Accumulator) Merge(o *Accumulator) {
	for k, t := range o.outcome {
		cur := a.outcome[k]
		if cur == nil {
			cur = &outcomeTally{}
			a.outcome[k] = cur
		}
		cur.wins += t.wins
		cur.n += t.n
	}
	for k, t := range o.resource {
		cur := a.resource[k]
		if cur == nil {
			cur = &resourceTally{}
			a.resource[k] = cur
		}
		cur.pct += t.pct
		cur.final += t.final
		cur.n += t.n
	}
	a.Matches += o.Matches
	a.Records += o.Records
}

// Tables finalizes the counts into bucket rows stamped with through, in a
// stable order.
func (a *Accumulator) Tables(through time.Time) Tables {
	var t Tables
	for k, v := range a.outcome {
		t.Outcome = append(t.Outcome, model.OutcomeBucket{
			Key:             k,
			WinProbability:  float64(v.wins) / float64(v.n),
			SampleSize:      v.n,
			ComputedThrough: through,
		})
	}
	sort.Slice(t.Outcome, func(i, j int) bool {
		return lessKey(t.Outcome[i].Key, t.Outcome[j].Key)
	})

	for k, v := range a.resource {
		n := float64(v.n)
		t.Resource = append(t.Resource, model.ResourceBucket{
			Venue:           k.venue,
			Innings:         k.innings,
			Over:            k.over,
			WicketsLost:     k.wicketsLost,
			ResourcePct:     v.pct / n,
			AvgFinalScore:   v.final / n,
			SampleSize:      v.n,
			ComputedThrough: through,
		})
	}
	sort.Slice(t.Resource, func(i, j int) bool {
		x, y := t.Resource[i], t.Resource[j]
		if x.Venue != y.Venue {
			return x.Venue < y.Venue
		}
		if x.Innings != y.Innings {
			return x.Innings < y.Innings
		}
		if x.Over != y.Over {
			return x.Over < y.Over
		}
		return x.WicketsLost < y.WicketsLost
	})
	return t
}

func lessKey(x, y model.BucketKey) bool {
	switch {
	case x.Scope != y.Scope:
		return x.Scope < y.Scope
	case x.ScopeValue != y.ScopeValue:
		return x.ScopeValue < y.ScopeValue
	case x.TargetBand != y.TargetBand:
		return x.TargetBand < y.TargetBand
	case x.Over != y.Over:
		return x.Over < y.Over
	case x.WicketsLost != y.WicketsLost:
		return x.WicketsLost < y.WicketsLost
	default:
		return x.ScoreLo < y.ScoreLo
	}
}

// Build aggregates matches and their deliveries (both innings, any order) in
// one pass. Deliveries of matches not listed are ignored.
func Build(matches []model.MatchMeta, deliveries []model.Delivery, banding matchstate.Banding, through time.Time) Tables {
	byMatch := GroupInnings(deliveries)
	acc := NewAccumulator(banding)
	for _, m := range matches {
		inn := byMatch[m.MatchID]
		acc.AddMatch(m, inn[0], inn[1])
	}
	return acc.Tables(through)
}

// GroupInnings splits deliveries by match into first and second innings, each
// sorted by Seq. Other innings numbers (super overs) are dropped.
func GroupInnings(deliveries []model.Delivery) map[string][2][]model.Delivery {
	out := make(map[string][2][]model.Delivery)
	for _, d := range deliveries {
		if d.Innings != 1 && d.Innings != 2 {
			continue
		}
		inn := out[d.MatchID]
		inn[d.Innings-1] = append(inn[d.Innings-1], d)
		out[d.MatchID] = inn
	}
	for id, inn := range out {
		for i := range inn {
			balls := inn[i]
			sort.SliceStable(balls, func(a, b int) bool { return balls[a].Seq < balls[b].Seq })
		}
		out[id] = inn
	}
	return out
}
