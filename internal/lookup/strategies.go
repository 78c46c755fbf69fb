package lookup

import (
	"context"
	"fmt"
	"math"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// BucketReader reads live outcome buckets. A missing bucket is (nil, nil).
type BucketReader interface {
	OutcomeBucket(ctx context.Context, key model.BucketKey) (*model.OutcomeBucket, error)
}

// ScopeStrategy reads the bucket for the query state at one scope.
type ScopeStrategy struct {
	scope      model.Scope
	reader     BucketReader
	banding    matchstate.Banding
	minSamples int
}

func NewScopeStrategy(scope model.Scope, reader BucketReader, banding matchstate.Banding, minSamples int) *ScopeStrategy {
	return &ScopeStrategy{scope: scope, reader: reader, banding: banding, minSamples: minSamples}
}

func (s *ScopeStrategy) Source() model.Source {
	return model.Source(s.scope)
}

func (s *ScopeStrategy) Attempt(ctx context.Context, q Query) (Estimate, error) {
	var value string
	switch s.scope {
	case model.ScopeVenue:
		value = q.Venue
	case model.ScopeCompetition:
		value = q.Competition
	}
	if s.scope != model.ScopeGlobal && value == "" {
		return Estimate{}, fmt.Errorf("no %s given: %w", s.scope, model.ErrBucketNotFound)
	}

	key := s.banding.Key(q.State, s.scope, value)
	b, err := s.reader.OutcomeBucket(ctx, key)
	if err != nil {
		return Estimate{}, fmt.Errorf("read %s: %w", key, err)
	}
	if b == nil {
		return Estimate{}, fmt.Errorf("%s: %w", key, model.ErrBucketNotFound)
	}
	if !q.AsOf.IsZero() && b.ComputedThrough.After(q.AsOf) {
		return Estimate{}, fmt.Errorf("%s computed through %s, as of %s: %w",
			key, b.ComputedThrough.Format(model.DateLayout), q.AsOf.Format(model.DateLayout), model.ErrTemporalLeakage)
	}
	if b.SampleSize < s.minSamples {
		return Estimate{}, fmt.Errorf("%s has %d samples, need %d: %w", key, b.SampleSize, s.minSamples, model.ErrInsufficientSample)
	}
	return Estimate{
		Probability: b.WinProbability,
		Source:      s.Source(),
		SampleSize:  b.SampleSize,
		Key:         &key,
	}, nil
}

// Heuristic is the closed-form fallback: a logistic curve that falls as the
// required run rate rises and climbs with wickets in hand. It never fails.
type Heuristic struct{}

const (
	heuristicParRate      = 8.0  // runs per over that makes a chase a coin flip with half the side left
	heuristicRateWeight   = 0.55 // logit change per run of required rate above par
	heuristicWicketWeight = 0.45 // logit change per wicket in hand above five
	heuristicFloor        = 0.01
	heuristicCeiling      = 0.99
)

func (Heuristic) Source() model.Source {
	return model.SourceHeuristic
}

func (h Heuristic) Attempt(_ context.Context, q Query) (Estimate, error) {
	return Estimate{Probability: HeuristicProbability(q.State), Source: model.SourceHeuristic}, nil
}

// HeuristicProbability evaluates the closed form. Terminal states return 0 or 1.
func HeuristicProbability(s model.MatchState) float64 {
	if p, ok := matchstate.TerminalProbability(s); ok {
		return p
	}
	rrr := float64(s.RunsNeeded()) * model.BallsPerOver / float64(s.BallsRemaining)
	z := heuristicRateWeight*(heuristicParRate-rrr) + heuristicWicketWeight*float64(s.WicketsRemaining-5)
	p := 1 / (1 + math.Exp(-z))
	return math.Min(heuristicCeiling, math.Max(heuristicFloor, p))
}
