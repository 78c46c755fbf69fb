// Package wpa attributes the change in chase win probability on each
// second-innings delivery to its batter (credit) and bowler (debit).
package wpa

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pable/go-cricket-wpa/internal/lookup"
	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// Store is the persistence the engine needs.
type Store interface {
	InningsDeliveries(ctx context.Context, matchID string, innings int) ([]model.Delivery, error)
	SaveDeliveryWpa(ctx context.Context, vals []model.DeliveryWpa) (int, error)
	PendingWpaMatches(ctx context.Context, only string) ([]string, error)
	Delivery(ctx context.Context, id int64) (*model.Delivery, error)
}

// MetaSource resolves per-match chase context; *matchcache.Cache satisfies it.
type MetaSource interface {
	Get(ctx context.Context, matchID string) (model.MatchMeta, error)
	Stats() (hits, misses int64)
}

// Prober estimates a win probability; *lookup.Service satisfies it.
type Prober interface {
	Lookup(ctx context.Context, q lookup.Query) (lookup.Estimate, error)
}

type Config struct {
	Epsilon     float64
	RoundPlaces int32
	ChunkSize   int
	Workers     int
}

// DefaultConfig matches the built-in configuration file values.
var DefaultConfig = Config{Epsilon: 1e-3, RoundPlaces: 3, ChunkSize: 500, Workers: 4}

type Engine struct {
	store  Store
	meta   MetaSource
	prober Prober
	cfg    Config
	log    logrus.FieldLogger
	now    func() time.Time
}

func New(store Store, meta MetaSource, prober Prober, cfg Config, log logrus.FieldLogger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig.ChunkSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Engine{store: store, meta: meta, prober: prober, cfg: cfg, log: log, now: time.Now}
}

// ComputeDeliveryWpa returns the WPA pair for d, or nil when d is not a chase
// delivery or its match lacks a first innings. A stored value is returned as is.
func (e *Engine) ComputeDeliveryWpa(ctx context.Context, d model.Delivery) (*model.DeliveryWpa, error) {
	if d.Innings != 2 {
		return nil, nil
	}
	if d.Wpa != nil {
		return d.Wpa, nil
	}
	meta, err := e.meta.Get(ctx, d.MatchID)
	if errors.Is(err, model.ErrMissingMatchData) {
		e.log.WithField("match", d.MatchID).Debugf("wpa: skipping delivery %d: %v", d.ID, err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("match context %s: %w", d.MatchID, err)
	}
	prior, err := e.store.InningsDeliveries(ctx, d.MatchID, 2)
	if err != nil {
		return nil, fmt.Errorf("load chase %s: %w", d.MatchID, err)
	}
	return e.compute(ctx, meta, d, prior)
}

// Store computes and persists the WPA pair for d. A value already on d or in
// the store is returned without recomputing. written reports whether a row
// changed.
func (e *Engine) Store(ctx context.Context, d model.Delivery) (v *model.DeliveryWpa, written bool, err error) {
	if d.Wpa != nil {
		return d.Wpa, false, nil
	}
	if v, err := e.stored(ctx, d.ID); err != nil || v != nil {
		return v, false, err
	}
	v, err = e.ComputeDeliveryWpa(ctx, d)
	if err != nil || v == nil {
		return v, false, err
	}
	n, err := e.store.SaveDeliveryWpa(ctx, []model.DeliveryWpa{*v})
	if err != nil {
		return nil, false, fmt.Errorf("save delivery %d: %w", d.ID, err)
	}
	if n == 0 {
		// Another writer got there first; its value stands.
		if cur, err := e.stored(ctx, d.ID); err != nil || cur != nil {
			return cur, false, err
		}
	}
	return v, n > 0, nil
}

func (e *Engine) stored(ctx context.Context, id int64) (*model.DeliveryWpa, error) {
	cur, err := e.store.Delivery(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load delivery %d: %w", id, err)
	}
	if cur == nil {
		return nil, nil
	}
	return cur.Wpa, nil
}

func (e *Engine) compute(ctx context.Context, meta model.MatchMeta, d model.Delivery, prior []model.Delivery) (*model.DeliveryWpa, error) {
	before, err := matchstate.Before(meta, d, prior)
	if err != nil {
		return nil, err
	}
	after := matchstate.After(before, d)

	q := lookup.Query{Venue: meta.Venue, Competition: meta.Competition, AsOf: meta.Date}
	q.State = before
	pb, err := e.prober.Lookup(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("before %s: %w", before, err)
	}
	q.State = after
	pa, err := e.prober.Lookup(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("after %s: %w", after, err)
	}

	batter := e.attribute(pa.Probability - pb.Probability)
	bowler := 0.0
	if batter != 0 {
		bowler = -batter
	}
	return &model.DeliveryWpa{
		DeliveryID:   d.ID,
		Batter:       batter,
		Bowler:       bowler,
		ComputedAt:   e.now().UTC(),
		Before:       pb.Probability,
		After:        pa.Probability,
		BeforeSource: pb.Source,
		AfterSource:  pa.Source,
	}, nil
}

// attribute snaps floating noise to zero and rounds to the configured places.
func (e *Engine) attribute(delta float64) float64 {
	if math.Abs(delta) < e.cfg.Epsilon {
		return 0
	}
	v := decimal.NewFromFloat(delta).Round(e.cfg.RoundPlaces).InexactFloat64()
	if v == 0 {
		return 0
	}
	return v
}

// BackfillResult summarizes one backfill pass.
type BackfillResult struct {
	Matches  int
	Computed int
	Written  int
	Failed   int
	Skipped  int // matches without usable chase context
	Duration time.Duration
}

// Backfill computes and stores WPA for every pending chase delivery, or only
// for match only when non-empty. Matches run concurrently; deliveries within a
// match run in bowling order. Per-delivery failures are logged and left unset.
func (e *Engine) Backfill(ctx context.Context, only string) (BackfillResult, error) {
	start := time.Now()
	ids, err := e.store.PendingWpaMatches(ctx, only)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("pending matches: %w", err)
	}

	w := &chunkWriter{store: e.store, size: e.cfg.ChunkSize}
	var t tally

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			return e.backfillMatch(gctx, id, w, &t)
		})
	}
	err = g.Wait()
	if ferr := w.flush(ctx); err == nil {
		err = ferr
	}

	res := BackfillResult{
		Matches:  len(ids),
		Computed: int(t.computed.Load()),
		Written:  w.written,
		Failed:   int(t.failed.Load()),
		Skipped:  int(t.skipped.Load()),
		Duration: time.Since(start),
	}
	hits, misses := e.meta.Stats()
	e.log.WithFields(logrus.Fields{
		"matches":      res.Matches,
		"computed":     res.Computed,
		"written":      res.Written,
		"failed":       res.Failed,
		"cache_hits":   hits,
		"cache_misses": misses,
	}).Info("wpa: backfill finished")
	return res, err
}

type tally struct {
	computed, failed, skipped atomic.Int64
}

func (e *Engine) backfillMatch(ctx context.Context, matchID string, w *chunkWriter, t *tally) error {
	log := e.log.WithField("match", matchID)
	meta, err := e.meta.Get(ctx, matchID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("wpa: skipping match: %v", err)
		t.skipped.Add(1)
		return nil
	}
	balls, err := e.store.InningsDeliveries(ctx, matchID, 2)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("wpa: skipping match: %v", err)
		t.skipped.Add(1)
		return nil
	}

	for _, d := range balls {
		if d.Wpa != nil {
			continue
		}
		v, err := e.compute(ctx, meta, d, balls)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithField("delivery", d.ID).Warnf("wpa: %s: %v", d.Label(), err)
			t.failed.Add(1)
			continue
		}
		t.computed.Add(1)
		if err := w.add(ctx, *v); err != nil {
			return err
		}
	}
	return nil
}

// chunkWriter buffers computed values from all workers and commits them in
// bounded transactions.
type chunkWriter struct {
	store Store
	size  int

	mu      sync.Mutex
	buf     []model.DeliveryWpa
	written int
}

func (w *chunkWriter) add(ctx context.Context, v model.DeliveryWpa) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, v)
	if len(w.buf) < w.size {
		return nil
	}
	return w.flushLocked(ctx)
}

func (w *chunkWriter) flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *chunkWriter) flushLocked(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.store.SaveDeliveryWpa(ctx, w.buf)
	if err != nil {
		return fmt.Errorf("save wpa chunk: %w", err)
	}
	w.written += n
	w.buf = w.buf[:0]
	return nil
}
