// Package matchstate converts raw chase progress into MatchState values and
// discretizes them into bucket keys. Everything here is pure.
package matchstate

import (
	"fmt"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// Banding holds the discretization widths for bucket keys.
type Banding struct {
	TargetBandWidth int
	ScoreRangeWidth int
}

// DefaultBanding uses 10-run target bands and 10-run score ranges.
var DefaultBanding = Banding{TargetBandWidth: 10, ScoreRangeWidth: 10}

// New builds a state from cumulative chase progress. oversLimit is the innings
// length in overs; ballsBowled counts legal balls only.
func New(target, score, ballsBowled, wicketsLost, oversLimit int) (model.MatchState, error) {
	switch {
	case target < 0, score < 0, ballsBowled < 0, wicketsLost < 0:
		return model.MatchState{}, fmt.Errorf("%w: negative count (target=%d score=%d balls=%d wickets=%d)",
			model.ErrInvalidState, target, score, ballsBowled, wicketsLost)
	case wicketsLost > model.MaxWickets:
		return model.MatchState{}, fmt.Errorf("%w: %d wickets lost", model.ErrInvalidState, wicketsLost)
	case oversLimit <= 0:
		return model.MatchState{}, fmt.Errorf("%w: overs limit %d", model.ErrInvalidState, oversLimit)
	}

	remaining := oversLimit*model.BallsPerOver - ballsBowled
	if remaining < 0 {
		remaining = 0
	}
	return model.MatchState{
		Target:           target,
		CurrentScore:     score,
		BallsBowled:      ballsBowled,
		OversCompleted:   ballsBowled / model.BallsPerOver,
		WicketsLost:      wicketsLost,
		BallsRemaining:   remaining,
		WicketsRemaining: model.MaxWickets - wicketsLost,
	}, nil
}

// FromOver builds the state at the start of the given over (over.0).
func FromOver(target, score, over, wicketsLost, oversLimit int) (model.MatchState, error) {
	if over < 0 {
		return model.MatchState{}, fmt.Errorf("%w: negative over %d", model.ErrInvalidState, over)
	}
	return New(target, score, over*model.BallsPerOver, wicketsLost, oversLimit)
}

// Start is the state before the first ball of a chase.
func Start(meta model.MatchMeta) (model.MatchState, error) {
	return New(meta.Target, 0, 0, 0, OversLimit(meta))
}

// Before returns the state immediately before d was bowled, accumulating every
// prior delivery of the same innings. prior may be unordered and may include
// d itself or later deliveries; only those with a smaller Seq count.
func Before(meta model.MatchMeta, d model.Delivery, prior []model.Delivery) (model.MatchState, error) {
	if d.Innings != 2 {
		return model.MatchState{}, fmt.Errorf("%w: innings %d", model.ErrNotChase, d.Innings)
	}
	var score, balls, wickets int
	for i := range prior {
		p := &prior[i]
		if p.MatchID != d.MatchID || p.Innings != d.Innings || p.Seq >= d.Seq {
			continue
		}
		score += p.TotalRuns()
		if p.IsLegal() {
			balls++
		}
		if p.IsWicket {
			wickets++
		}
	}
	if wickets > model.MaxWickets {
		return model.MatchState{}, fmt.Errorf("%w: %d wickets before seq %d", model.ErrInvalidState, wickets, d.Seq)
	}
	return New(meta.Target, score, balls, wickets, OversLimit(meta))
}

// After applies d to before: runs are added, a legal ball consumes one ball
// remaining and a wicket moves one wicket from remaining to lost.
func After(before model.MatchState, d model.Delivery) model.MatchState {
	s := before
	s.CurrentScore += d.TotalRuns()
	if d.IsLegal() {
		s.BallsBowled++
		s.OversCompleted = s.BallsBowled / model.BallsPerOver
		if s.BallsRemaining > 0 {
			s.BallsRemaining--
		}
	}
	if d.IsWicket && s.WicketsRemaining > 0 {
		s.WicketsLost++
		s.WicketsRemaining--
	}
	return s
}

// TerminalProbability returns the fixed chase win probability of a decided
// state. ok is false while the chase is still live.
func TerminalProbability(s model.MatchState) (p float64, ok bool) {
	if s.RunsNeeded() == 0 {
		return 1, true
	}
	if s.BallsRemaining <= 0 || s.WicketsRemaining <= 0 {
		return 0, true
	}
	return 0, false
}

// Key maps a state to its bucket at the given scope. scopeValue is ignored at
// global scope.
func (b Banding) Key(s model.MatchState, scope model.Scope, scopeValue string) model.BucketKey {
	if scope == model.ScopeGlobal {
		scopeValue = ""
	}
	lo, hi := b.ScoreRange(s.CurrentScore)
	return model.BucketKey{
		Scope:       scope,
		ScopeValue:  scopeValue,
		TargetBand:  b.TargetBand(s.Target),
		Over:        s.OversCompleted,
		WicketsLost: s.WicketsLost,
		ScoreLo:     lo,
		ScoreHi:     hi,
	}
}

// TargetBand rounds a target down to its band.
func (b Banding) TargetBand(target int) int {
	return floorTo(target, b.TargetBandWidth)
}

// ScoreRange returns the inclusive score range containing score.
func (b Banding) ScoreRange(score int) (lo, hi int) {
	w := b.ScoreRangeWidth
	if w <= 0 {
		return score, score
	}
	lo = floorTo(score, w)
	return lo, lo + w - 1
}

func floorTo(v, width int) int {
	if width <= 1 {
		return v
	}
	if v < 0 {
		return -((-v + width - 1) / width) * width
	}
	return (v / width) * width
}

// DefaultOversLimit is used when match metadata carries no innings length.
const DefaultOversLimit = 20

// OversLimit returns the innings length for a match.
func OversLimit(meta model.MatchMeta) int {
	if meta.OversLimit > 0 {
		return meta.OversLimit
	}
	return DefaultOversLimit
}
