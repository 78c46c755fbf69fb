package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

const minSamples = 20

type fakeBuckets struct {
	rows  map[model.BucketKey]model.OutcomeBucket
	err   error
	reads []model.Scope
}

func newFakeBuckets() *fakeBuckets {
	return &fakeBuckets{rows: make(map[model.BucketKey]model.OutcomeBucket)}
}

func (f *fakeBuckets) OutcomeBucket(_ context.Context, key model.BucketKey) (*model.OutcomeBucket, error) {
	f.reads = append(f.reads, key.Scope)
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.rows[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (f *fakeBuckets) put(st model.MatchState, scope model.Scope, value string, p float64, n int, through time.Time) {
	key := matchstate.DefaultBanding.Key(st, scope, value)
	f.rows[key] = model.OutcomeBucket{Key: key, WinProbability: p, SampleSize: n, ComputedThrough: through}
}

func day(s string) time.Time {
	t, _ := time.Parse(model.DateLayout, s)
	return t
}

func quietLogger() *logrus.Logger {
	l, _ := test.NewNullLogger()
	return l
}

// scenarioState is chasing 180, 140/4 after 15 overs: 40 needed off 30.
func scenarioState(t *testing.T) model.MatchState {
	t.Helper()
	st, err := matchstate.FromOver(180, 140, 15, 4, 20)
	require.NoError(t, err)
	return st
}

func scenarioQuery(t *testing.T) Query {
	return Query{Venue: "Wankhede", Competition: "IPL", AsOf: day("2024-06-01"), State: scenarioState(t)}
}

func TestLookup_VenueBucket(t *testing.T) {
	fb := newFakeBuckets()
	st := scenarioState(t)
	fb.put(st, model.ScopeVenue, "Wankhede", 0.62, 50, day("2024-01-01"))
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	p, src, err := svc.LookupWinProbability(context.Background(), "Wankhede", 180, 15, 4, 140, day("2024-06-01"), "IPL", 20)
	require.NoError(t, err)
	assert.Equal(t, 0.62, p)
	assert.Equal(t, model.SourceVenue, src)
}

func TestLookup_SmallVenueEscalatesToCompetition(t *testing.T) {
	fb := newFakeBuckets()
	st := scenarioState(t)
	fb.put(st, model.ScopeVenue, "Wankhede", 0.9, 3, day("2024-01-01"))
	fb.put(st, model.ScopeCompetition, "IPL", 0.55, 40, day("2024-01-01"))
	fb.put(st, model.ScopeGlobal, "", 0.5, 900, day("2024-01-01"))
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.SourceCompetition, est.Source)
	assert.Equal(t, 0.55, est.Probability)
	assert.Equal(t, 40, est.SampleSize)
	require.NotNil(t, est.Key)
	assert.Equal(t, "IPL", est.Key.ScopeValue)
}

func TestLookup_FallsThroughToGlobal(t *testing.T) {
	fb := newFakeBuckets()
	st := scenarioState(t)
	fb.put(st, model.ScopeCompetition, "IPL", 0.55, 19, day("2024-01-01"))
	fb.put(st, model.ScopeGlobal, "", 0.48, 900, day("2024-01-01"))
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.SourceGlobal, est.Source)
	assert.Equal(t, []model.Scope{model.ScopeVenue, model.ScopeCompetition, model.ScopeGlobal}, fb.reads)
}

func TestLookup_HeuristicWhenNothingQualifies(t *testing.T) {
	fb := newFakeBuckets()
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.SourceHeuristic, est.Source)
	assert.Greater(t, est.Probability, 0.0)
	assert.Less(t, est.Probability, 1.0)
}

func TestLookup_NeverVenueBelowMinSamples(t *testing.T) {
	for n := 0; n < minSamples; n++ {
		fb := newFakeBuckets()
		fb.put(scenarioState(t), model.ScopeVenue, "Wankhede", 0.7, n, day("2024-01-01"))
		svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

		est, err := svc.Lookup(context.Background(), scenarioQuery(t))
		require.NoError(t, err)
		assert.NotEqual(t, model.SourceVenue, est.Source, "sample size %d", n)
	}
}

func TestLookup_RejectsFutureBuckets(t *testing.T) {
	fb := newFakeBuckets()
	st := scenarioState(t)
	future := day("2024-07-01")
	fb.put(st, model.ScopeVenue, "Wankhede", 0.62, 50, future)
	fb.put(st, model.ScopeCompetition, "IPL", 0.55, 50, future)
	fb.put(st, model.ScopeGlobal, "", 0.5, 500, future)
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.SourceHeuristic, est.Source)

	// A bucket computed through exactly the as-of date is usable.
	q := scenarioQuery(t)
	q.AsOf = future
	est, err = svc.Lookup(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, model.SourceVenue, est.Source)
}

func TestLookup_TerminalBypassesChain(t *testing.T) {
	fb := newFakeBuckets()
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())

	won, _ := matchstate.New(180, 181, 100, 3, 20)
	est, err := svc.Lookup(context.Background(), Query{Venue: "V", State: won})
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Probability)
	assert.Equal(t, model.SourceTerminal, est.Source)

	lost, _ := matchstate.New(180, 150, 120, 3, 20)
	est, err = svc.Lookup(context.Background(), Query{Venue: "V", State: lost})
	require.NoError(t, err)
	assert.Equal(t, 0.0, est.Probability)

	allOut, _ := matchstate.New(180, 150, 100, 10, 20)
	est, err = svc.Lookup(context.Background(), Query{Venue: "V", State: allOut})
	require.NoError(t, err)
	assert.Equal(t, 0.0, est.Probability)
	assert.Empty(t, fb.reads)
}

func TestLookup_StoreErrorsFallThroughAndLog(t *testing.T) {
	fb := newFakeBuckets()
	fb.err = errors.New("disk I/O error")
	log, hook := test.NewNullLogger()
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, log)

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.SourceHeuristic, est.Source)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestLookup_RejectsMalformedInput(t *testing.T) {
	svc := NewDefault(newFakeBuckets(), matchstate.DefaultBanding, minSamples, quietLogger())
	ctx := context.Background()

	_, _, err := svc.LookupWinProbability(ctx, "V", 180, 15, 11, 140, day("2024-06-01"), "IPL", 20)
	assert.True(t, errors.Is(err, model.ErrInvalidState))

	_, _, err = svc.LookupWinProbability(ctx, "V", 180, -1, 4, 140, day("2024-06-01"), "IPL", 20)
	assert.True(t, errors.Is(err, model.ErrInvalidState))

	_, _, err = svc.LookupWinProbability(ctx, "V", 180, 15, 4, -5, day("2024-06-01"), "IPL", 20)
	assert.True(t, errors.Is(err, model.ErrInvalidState))
}

type sameCountryStrategy struct{ p float64 }

func (s sameCountryStrategy) Source() model.Source { return "country" }
func (s sameCountryStrategy) Attempt(context.Context, Query) (Estimate, error) {
	return Estimate{Probability: s.p, Source: "country"}, nil
}

func TestInsertBefore_AddsIntermediateScope(t *testing.T) {
	fb := newFakeBuckets()
	svc := NewDefault(fb, matchstate.DefaultBanding, minSamples, quietLogger())
	svc.InsertBefore(model.SourceCompetition, sameCountryStrategy{p: 0.58})

	assert.Equal(t, []model.Source{
		model.SourceVenue, "country", model.SourceCompetition, model.SourceGlobal, model.SourceHeuristic,
	}, svc.Sources())

	est, err := svc.Lookup(context.Background(), scenarioQuery(t))
	require.NoError(t, err)
	assert.Equal(t, model.Source("country"), est.Source)
	assert.Equal(t, 0.58, est.Probability)
}

func TestHeuristicMonotone(t *testing.T) {
	// Harder required rate → lower probability.
	prev := 1.0
	for need := 10; need <= 120; need += 10 {
		st, err := matchstate.New(200, 200-need, 90, 4, 20)
		require.NoError(t, err)
		p := HeuristicProbability(st)
		assert.LessOrEqual(t, p, prev, "need %d", need)
		prev = p
	}

	// More wickets in hand → higher probability.
	prev = 0.0
	for lost := 9; lost >= 0; lost-- {
		st, err := matchstate.New(180, 140, 90, lost, 20)
		require.NoError(t, err)
		p := HeuristicProbability(st)
		assert.GreaterOrEqual(t, p, prev, "wickets lost %d", lost)
		prev = p
	}

	easy, _ := matchstate.New(180, 179, 60, 0, 20)
	assert.LessOrEqual(t, HeuristicProbability(easy), 0.99)
	hard, _ := matchstate.New(250, 100, 114, 9, 20)
	assert.GreaterOrEqual(t, HeuristicProbability(hard), 0.01)
}
