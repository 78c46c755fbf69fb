package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pable/go-cricket-wpa/internal/matchcache"
	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// Store is the persistence a rebuild reads from and publishes to.
type Store interface {
	ChaseMatches(ctx context.Context, before time.Time) ([]model.MatchMeta, error)
	DeliveriesBefore(ctx context.Context, before time.Time) ([]model.Delivery, error)
	ReplaceBucketTables(ctx context.Context, runID string, outcome []model.OutcomeBucket, resource []model.ResourceBucket) error
	InsertRun(ctx context.Context, run model.ComputationRun) error
	FinishRun(ctx context.Context, run model.ComputationRun) error
}

// RunTableName is recorded on every rebuild's audit row.
const RunTableName = "outcome_buckets+resource_buckets"

// Rebuilder recomputes the bucket tables from scratch as of a cutoff date.
type Rebuilder struct {
	store   Store
	cache   *matchcache.Cache
	banding matchstate.Banding
	workers int
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewRebuilder(store Store, cache *matchcache.Cache, banding matchstate.Banding, workers int, log logrus.FieldLogger) *Rebuilder {
	if workers <= 0 {
		workers = 1
	}
	return &Rebuilder{store: store, cache: cache, banding: banding, workers: workers, log: log, now: time.Now}
}

// Rebuild aggregates every usable match dated strictly before asOf and
// replaces the live bucket tables. Buckets are stamped computed-through asOf.
// The returned run reflects the final audit row; on failure the previous
// tables stay live and the error is returned alongside the failed run.
func (r *Rebuilder) Rebuild(ctx context.Context, asOf time.Time) (model.ComputationRun, error) {
	asOf = time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	run := model.ComputationRun{
		ID:        uuid.NewString(),
		TableName: RunTableName,
		Status:    model.RunRunning,
		AsOf:      asOf,
		StartedAt: r.now().UTC(),
	}
	log := r.log.WithFields(logrus.Fields{"run_id": run.ID, "as_of": asOf.Format(model.DateLayout)})
	if err := r.store.InsertRun(ctx, run); err != nil {
		return run, err
	}
	log.Info("rebuild: started")

	tables, err := r.build(ctx, asOf, log)
	if err == nil {
		err = r.store.ReplaceBucketTables(ctx, run.ID, tables.Outcome, tables.Resource)
	}

	run.FinishedAt = r.now().UTC()
	if err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
		log.WithError(err).Error("rebuild: failed")
	} else {
		run.Status = model.RunSucceeded
		run.RowsWritten = tables.Rows()
		fields := logrus.Fields{
			"outcome":  len(tables.Outcome),
			"resource": len(tables.Resource),
			"took":     run.Duration().Round(time.Millisecond),
		}
		if r.cache != nil {
			hits, misses := r.cache.Stats()
			fields["cache_entries"] = r.cache.Len()
			fields["cache_hits"] = hits
			fields["cache_misses"] = misses
		}
		log.WithFields(fields).Info("rebuild: published")
	}

	// The audit row is written even when ctx was cancelled mid-run.
	if ferr := r.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return run, err
}

func (r *Rebuilder) build(ctx context.Context, asOf time.Time, log logrus.FieldLogger) (Tables, error) {
	metas, err := r.store.ChaseMatches(ctx, asOf)
	if err != nil {
		return Tables{}, fmt.Errorf("load matches: %w", err)
	}
	if r.cache != nil {
		r.cache.Prime(metas...)
	}
	balls, err := r.store.DeliveriesBefore(ctx, asOf)
	if err != nil {
		return Tables{}, fmt.Errorf("load deliveries: %w", err)
	}
	byMatch := GroupInnings(balls)

	byVenue := make(map[string][]string)
	for _, m := range metas {
		byVenue[m.Venue] = append(byVenue[m.Venue], m.MatchID)
	}
	venues := make([]string, 0, len(byVenue))
	for v := range byVenue {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	log.WithFields(logrus.Fields{"matches": len(metas), "deliveries": len(balls), "venues": len(venues)}).
		Debug("rebuild: aggregating")

	metaByID := make(map[string]model.MatchMeta, len(metas))
	for _, m := range metas {
		metaByID[m.MatchID] = m
	}

	partials := make([]*Accumulator, len(venues))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, venue := range venues {
		g.Go(func() error {
			acc := NewAccumulator(r.banding)
			for _, id := range byVenue[venue] {
				if err := gctx.Err(); err != nil {
					return err
				}
				meta, err := r.matchMeta(gctx, metaByID[id])
				if err != nil {
					return err
				}
				inn := byMatch[id]
				acc.AddMatch(meta, inn[0], inn[1])
			}
			partials[i] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Tables{}, err
	}

	total := NewAccumulator(r.banding)
	for _, p := range partials {
		total.Merge(p)
	}
	log.WithFields(logrus.Fields{"chases": total.Matches, "records": total.Records}).Debug("rebuild: merged")
	return total.Tables(asOf), nil
}

func (r *Rebuilder) matchMeta(ctx context.Context, m model.MatchMeta) (model.MatchMeta, error) {
	if r.cache == nil {
		return m, nil
	}
	meta, err := r.cache.Get(ctx, m.MatchID)
	if err != nil {
		return model.MatchMeta{}, fmt.Errorf("match %s: %w", m.MatchID, err)
	}
	return meta, nil
}
