// Package lookup answers "what is the chasing side's win probability in this
// state?" by walking an ordered list of strategies until one produces an
// estimate. The default chain is venue → competition → global → heuristic.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pable/go-cricket-wpa/internal/matchstate"
	"github.com/pable/go-cricket-wpa/internal/model"
)

// Query is one lookup request. AsOf bounds which buckets may be used: a bucket
// computed through a later date would leak the future into the estimate. A
// zero AsOf applies no bound.
type Query struct {
	Venue       string
	Competition string
	AsOf        time.Time
	State       model.MatchState
}

// Estimate is a win probability for the chasing side and where it came from.
type Estimate struct {
	Probability float64
	Source      model.Source
	SampleSize  int
	Key         *model.BucketKey
}

// Strategy is one level of the fallback chain. Attempt returns an estimate, or
// an error wrapping model.ErrBucketNotFound, model.ErrInsufficientSample or
// model.ErrTemporalLeakage to pass control to the next strategy. Any other
// error is logged and also falls through.
type Strategy interface {
	Source() model.Source
	Attempt(ctx context.Context, q Query) (Estimate, error)
}

// Service runs the chain. The last strategy should always succeed.
type Service struct {
	strategies []Strategy
	log        logrus.FieldLogger
}

// NewService builds a service over the given ordered strategies.
func NewService(log logrus.FieldLogger, strategies ...Strategy) *Service {
	return &Service{strategies: strategies, log: log}
}

// NewDefault builds the venue → competition → global → heuristic chain.
func NewDefault(reader BucketReader, banding matchstate.Banding, minSamples int, log logrus.FieldLogger) *Service {
	return NewService(log,
		NewScopeStrategy(model.ScopeVenue, reader, banding, minSamples),
		NewScopeStrategy(model.ScopeCompetition, reader, banding, minSamples),
		NewScopeStrategy(model.ScopeGlobal, reader, banding, minSamples),
		Heuristic{},
	)
}

// InsertBefore places s ahead of the first strategy tagged before. If no such
// strategy exists, s is appended.
func (s *Service) InsertBefore(before model.Source, st Strategy) {
	for i, cur := range s.strategies {
		if cur.Source() == before {
			s.strategies = append(s.strategies[:i], append([]Strategy{st}, s.strategies[i:]...)...)
			return
		}
	}
	s.strategies = append(s.strategies, st)
}

// Sources lists the chain order.
func (s *Service) Sources() []model.Source {
	out := make([]model.Source, len(s.strategies))
	for i, st := range s.strategies {
		out[i] = st.Source()
	}
	return out
}

// Lookup returns the first estimate the chain produces. Terminal states bypass
// the chain entirely.
func (s *Service) Lookup(ctx context.Context, q Query) (Estimate, error) {
	if p, ok := matchstate.TerminalProbability(q.State); ok {
		return Estimate{Probability: p, Source: model.SourceTerminal}, nil
	}

	for _, st := range s.strategies {
		est, err := st.Attempt(ctx, q)
		if err == nil {
			return est, nil
		}
		if ctx.Err() != nil {
			return Estimate{}, ctx.Err()
		}
		entry := s.log.WithFields(logrus.Fields{"scope": st.Source(), "state": q.State.String()})
		switch {
		case errors.Is(err, model.ErrBucketNotFound), errors.Is(err, model.ErrInsufficientSample):
			entry.Debugf("lookup: escalating: %v", err)
		case errors.Is(err, model.ErrTemporalLeakage):
			entry.Debugf("lookup: rejecting bucket: %v", err)
		default:
			entry.Warnf("lookup: strategy failed: %v", err)
		}
	}
	return Estimate{}, fmt.Errorf("lookup: no strategy produced an estimate for %s", q.State)
}

// LookupWinProbability answers a lookup from raw match figures at an over
// boundary, the shape downstream reporting uses.
func (s *Service) LookupWinProbability(ctx context.Context, venue string, target, over, wicketsLost, currentScore int, asOf time.Time, competition string, oversLimit int) (float64, model.Source, error) {
	st, err := matchstate.FromOver(target, currentScore, over, wicketsLost, oversLimit)
	if err != nil {
		return 0, "", err
	}
	est, err := s.Lookup(ctx, Query{Venue: venue, Competition: competition, AsOf: asOf, State: st})
	if err != nil {
		return 0, "", err
	}
	return est.Probability, est.Source, nil
}
