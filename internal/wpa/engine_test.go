package wpa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pable/go-cricket-wpa/internal/lookup"
	"github.com/pable/go-cricket-wpa/internal/matchcache"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// memStore keeps deliveries in memory with the same only-if-unset save rule
// as the SQLite store.
type memStore struct {
	mu        sync.Mutex
	balls     map[string][]model.Delivery
	saved     map[int64]model.DeliveryWpa
	saveCalls int
	failSave  bool
}

func newMemStore() *memStore {
	return &memStore{balls: make(map[string][]model.Delivery), saved: make(map[int64]model.DeliveryWpa)}
}

func (s *memStore) add(ds ...model.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range ds {
		s.balls[d.MatchID] = append(s.balls[d.MatchID], d)
	}
}

func (s *memStore) InningsDeliveries(_ context.Context, matchID string, innings int) ([]model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Delivery
	for _, d := range s.balls[matchID] {
		if d.Innings != innings {
			continue
		}
		if v, ok := s.saved[d.ID]; ok {
			v := v
			d.Wpa = &v
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *memStore) SaveDeliveryWpa(_ context.Context, vals []model.DeliveryWpa) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failSave {
		return 0, errors.New("database is locked")
	}
	n := 0
	for _, v := range vals {
		if _, ok := s.saved[v.DeliveryID]; ok {
			continue
		}
		s.saved[v.DeliveryID] = v
		n++
	}
	return n, nil
}

func (s *memStore) Delivery(_ context.Context, id int64) (*model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.balls {
		for _, d := range ds {
			if d.ID != id {
				continue
			}
			if v, ok := s.saved[id]; ok {
				v := v
				d.Wpa = &v
			}
			return &d, nil
		}
	}
	return nil, nil
}

func (s *memStore) PendingWpaMatches(_ context.Context, only string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, ds := range s.balls {
		if only != "" && id != only {
			continue
		}
		for _, d := range ds {
			if _, ok := s.saved[d.ID]; d.Innings == 2 && !ok {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

type metaLoader map[string]model.MatchMeta

func (m metaLoader) MatchMeta(_ context.Context, id string) (model.MatchMeta, error) {
	meta, ok := m[id]
	if !ok {
		return model.MatchMeta{}, fmt.Errorf("match %s: %w", id, model.ErrMissingMatchData)
	}
	return meta, nil
}

// scoreTable answers by current score only; unknown scores fail.
type scoreTable map[int]float64

func (scoreTable) Source() model.Source { return model.SourceVenue }

func (t scoreTable) Attempt(_ context.Context, q lookup.Query) (lookup.Estimate, error) {
	p, ok := t[q.State.CurrentScore]
	if !ok {
		return lookup.Estimate{}, fmt.Errorf("score %d: %w", q.State.CurrentScore, model.ErrBucketNotFound)
	}
	return lookup.Estimate{Probability: p, Source: model.SourceVenue}, nil
}

var nextID int64

// chase builds an innings-2 prefix of legal balls totalling runs with the
// first wkts balls taken as wickets for no run.
func chase(matchID string, balls, runs, wkts int) []model.Delivery {
	out := make([]model.Delivery, 0, balls)
	left := runs
	for i := 0; i < balls; i++ {
		nextID++
		d := model.Delivery{
			ID: nextID, MatchID: matchID, Innings: 2, Seq: i + 1,
			Over: i / 6, Ball: i%6 + 1, Batter: "bat", Bowler: "bowl",
		}
		if i < wkts {
			d.IsWicket = true
		} else {
			// spread the remaining runs over the remaining balls
			r := left / (balls - i)
			d.RunsBatter = r
			left -= r
		}
		out = append(out, d)
	}
	return out
}

func next(prev []model.Delivery, runs int, extra string) model.Delivery {
	last := prev[len(prev)-1]
	nextID++
	d := model.Delivery{
		ID: nextID, MatchID: last.MatchID, Innings: 2, Seq: last.Seq + 1,
		Over: len(prev) / 6, Ball: len(prev)%6 + 1, Batter: "bat", Bowler: "bowl",
		RunsBatter: runs, ExtraType: extra,
	}
	if extra != "" {
		d.RunsBatter, d.RunsExtras = 0, runs
	}
	return d
}

func sum(ds []model.Delivery) int {
	n := 0
	for i := range ds {
		n += ds[i].TotalRuns()
	}
	return n
}

type harness struct {
	store  *memStore
	engine *Engine
	hook   *test.Hook
}

func newHarness(t *testing.T, table scoreTable, cfg Config, metas ...model.MatchMeta) *harness {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	loader := metaLoader{}
	for _, m := range metas {
		loader[m.MatchID] = m
	}
	st := newMemStore()
	svc := lookup.NewService(log, table)
	eng := New(st, matchcache.New(loader, 0), svc, cfg, log)
	eng.now = func() time.Time { return time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC) }
	return &harness{store: st, engine: eng, hook: hook}
}

func meta(id string) model.MatchMeta {
	return model.MatchMeta{
		MatchID: id, Venue: "Wankhede", Competition: "IPL",
		Date: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), OversLimit: 20,
		FirstInningsTotal: 179, Target: 180,
	}
}

func TestComputeDeliveryWpa_Boundary(t *testing.T) {
	prefix := chase("m1", 90, 140, 4)
	require.Equal(t, 140, sum(prefix))
	four := next(prefix, 4, "")

	h := newHarness(t, scoreTable{140: 0.62, 144: 0.66}, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(four)

	v, err := h.engine.ComputeDeliveryWpa(context.Background(), four)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.04, v.Batter)
	assert.Equal(t, -0.04, v.Bowler)
	assert.Equal(t, 0.62, v.Before)
	assert.Equal(t, 0.66, v.After)
}

func TestComputeDeliveryWpa_WinningHitSnapsToOne(t *testing.T) {
	prefix := chase("m1", 114, 176, 4)
	six := next(prefix, 6, "")

	h := newHarness(t, scoreTable{176: 0.81}, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(six)

	v, err := h.engine.ComputeDeliveryWpa(context.Background(), six)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 1.0, v.After)
	assert.Equal(t, model.SourceTerminal, v.AfterSource)
	assert.InDelta(t, 1.0-0.81, v.Batter, 1e-9)
	assert.Equal(t, -v.Batter, v.Bowler)
}

func TestComputeDeliveryWpa_WideDoesNotConsumeBall(t *testing.T) {
	prefix := chase("m1", 90, 140, 4)
	wide := next(prefix, 1, model.ExtraWide)

	// 141/4 still at 15.0 after the wide.
	h := newHarness(t, scoreTable{140: 0.620, 141: 0.6205}, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(wide)

	v, err := h.engine.ComputeDeliveryWpa(context.Background(), wide)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 0.0, v.Batter)
	assert.Equal(t, 0.0, v.Bowler)
	assert.False(t, math.Signbit(v.Bowler))
}

func TestComputeDeliveryWpa_NotApplicable(t *testing.T) {
	h := newHarness(t, scoreTable{}, DefaultConfig, meta("m1"))
	ctx := context.Background()

	first := model.Delivery{ID: 1, MatchID: "m1", Innings: 1, Seq: 1, RunsBatter: 4}
	v, err := h.engine.ComputeDeliveryWpa(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, v)

	orphan := model.Delivery{ID: 2, MatchID: "ghost", Innings: 2, Seq: 1}
	v, err = h.engine.ComputeDeliveryWpa(ctx, orphan)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestStore_Idempotent(t *testing.T) {
	prefix := chase("m1", 90, 140, 4)
	four := next(prefix, 4, "")
	h := newHarness(t, scoreTable{140: 0.62, 144: 0.66}, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(four)
	ctx := context.Background()

	v1, written, err := h.engine.Store(ctx, four)
	require.NoError(t, err)
	assert.True(t, written)

	v2, written, err := h.engine.Store(ctx, four)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, v1.Batter, v2.Batter)
	assert.Equal(t, v1.Bowler, v2.Bowler)

	// A delivery already carrying a value is returned untouched.
	stored := four
	stored.Wpa = &model.DeliveryWpa{DeliveryID: four.ID, Batter: 0.5, Bowler: -0.5}
	v3, written, err := h.engine.Store(ctx, stored)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 0.5, v3.Batter)
	assert.Equal(t, 0.62, h.store.saved[four.ID].Before)
}

func TestStore_KeepsStoredValueAfterRepublish(t *testing.T) {
	prefix := chase("m1", 90, 140, 4)
	four := next(prefix, 4, "")
	table := scoreTable{140: 0.62, 144: 0.66}
	h := newHarness(t, table, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(four)
	ctx := context.Background()

	v1, written, err := h.engine.Store(ctx, four)
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, 0.04, v1.Batter)

	// Buckets republished with different probabilities; the caller still
	// holds the delivery as loaded before the first write.
	table[144] = 0.90
	v2, written, err := h.engine.Store(ctx, four)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 0.04, v2.Batter)
	assert.Equal(t, -0.04, v2.Bowler)
	assert.Equal(t, 1, h.store.saveCalls)
}

// racyStore loses every save race: another writer fills the row just
// before the update lands.
type racyStore struct {
	*memStore
	winner model.DeliveryWpa
}

func (s *racyStore) SaveDeliveryWpa(ctx context.Context, vals []model.DeliveryWpa) (int, error) {
	s.memStore.mu.Lock()
	s.memStore.saved[s.winner.DeliveryID] = s.winner
	s.memStore.mu.Unlock()
	return s.memStore.SaveDeliveryWpa(ctx, vals)
}

func TestStore_ReturnsWinnerWhenSaveWritesNothing(t *testing.T) {
	prefix := chase("m1", 90, 140, 4)
	four := next(prefix, 4, "")
	h := newHarness(t, scoreTable{140: 0.62, 144: 0.66}, DefaultConfig, meta("m1"))
	h.store.add(prefix...)
	h.store.add(four)
	st := &racyStore{memStore: h.store, winner: model.DeliveryWpa{DeliveryID: four.ID, Batter: 0.1, Bowler: -0.1}}
	h.engine.store = st

	v, written, err := h.engine.Store(context.Background(), four)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 0.1, v.Batter)
}

// fullTable maps every score 0-200 to a smooth probability.
func fullTable() scoreTable {
	t := scoreTable{}
	for s := 0; s <= 200; s++ {
		t[s] = 0.2 + float64(s)*0.003
	}
	return t
}

func TestBackfill_ConservesAndChunks(t *testing.T) {
	cfg := DefaultConfig
	cfg.ChunkSize = 7
	h := newHarness(t, fullTable(), cfg, meta("m1"), meta("m2"), meta("m3"))
	var total int
	for i, id := range []string{"m1", "m2", "m3"} {
		ds := chase(id, 30, 45, 1)
		h.store.add(ds...)
		h.store.add(model.Delivery{ID: 10_000 + int64(i), MatchID: id, Innings: 1, Seq: 1, RunsBatter: 4})
		total += len(ds)
	}

	res, err := h.engine.Backfill(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matches)
	assert.Equal(t, total, res.Computed)
	assert.Equal(t, total, res.Written)
	assert.Zero(t, res.Failed)
	assert.Equal(t, (total+cfg.ChunkSize-1)/cfg.ChunkSize, h.store.saveCalls)

	for id, v := range h.store.saved {
		assert.InDelta(t, 0, v.Batter+v.Bowler, 1e-6, "delivery %d", id)
	}
	last := h.hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, "wpa: backfill finished", last.Message)
	assert.Contains(t, last.Data, "cache_hits")
	assert.Positive(t, last.Data["cache_misses"])

	// A second pass finds nothing to do.
	res, err = h.engine.Backfill(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, res.Matches)
	assert.Zero(t, res.Written)
}

func TestBackfill_IsolatesDeliveryFailures(t *testing.T) {
	table := fullTable()
	delete(table, 20) // the state at 20 runs has no estimate
	h := newHarness(t, table, DefaultConfig, meta("m1"))
	ds := chase("m1", 12, 24, 0) // two runs a ball
	h.store.add(ds...)

	res, err := h.engine.Backfill(context.Background(), "m1")
	require.NoError(t, err)
	// score 20 is the after-state of ball 10 and the before-state of ball 11
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, len(ds)-2, res.Written)

	var warned bool
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["match"] == "m1" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestBackfill_SkipsMatchWithoutContext(t *testing.T) {
	h := newHarness(t, fullTable(), DefaultConfig, meta("m1"))
	h.store.add(chase("m1", 6, 6, 0)...)
	h.store.add(chase("orphan", 6, 6, 0)...)

	res, err := h.engine.Backfill(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matches)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 6, res.Written)
}

func TestBackfill_SaveFailureSurfaces(t *testing.T) {
	h := newHarness(t, fullTable(), DefaultConfig, meta("m1"))
	h.store.add(chase("m1", 6, 6, 0)...)
	h.store.failSave = true

	_, err := h.engine.Backfill(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save wpa chunk")
}
