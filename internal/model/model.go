package model

import (
	"fmt"
	"time"
)

// DateLayout is the storage and CLI format for match and cutoff dates.
const DateLayout = "2006-01-02"

// MaxWickets is the number of wickets that ends an innings.
const MaxWickets = 10

// BallsPerOver is the number of legal deliveries in an over.
const BallsPerOver = 6

// Scope is the level at which an OutcomeBucket aggregates history.
type Scope string

const (
	ScopeVenue       Scope = "venue"
	ScopeCompetition Scope = "competition"
	ScopeGlobal      Scope = "global"
)

// Source tags where a win probability came from.
type Source string

const (
	SourceVenue       Source = "venue"
	SourceCompetition Source = "competition"
	SourceGlobal      Source = "global"
	SourceHeuristic   Source = "heuristic"
	SourceTerminal    Source = "terminal"
)

// Match results.
const (
	ResultNormal    = "normal"
	ResultTie       = "tie"
	ResultNoResult  = "no result"
	ResultAbandoned = "abandoned"
)

// Extra types that do not count as a legal ball.
const (
	ExtraWide   = "wide"
	ExtraNoBall = "noball"
)

// ---- Read models (populated by external loaders) ----

type Match struct {
	ID          string
	Venue       string
	Competition string
	Date        time.Time
	Team1       string
	Team2       string
	Winner      string
	Result      string
	OversLimit  int
}

// Delivery is one ball event. Seq orders deliveries within an innings.
type Delivery struct {
	ID          int64
	MatchID     string
	Innings     int
	Over        int // 0-based over number
	Ball        int // ball within the over as recorded, extras included
	Seq         int
	BattingTeam string
	Batter      string
	Bowler      string
	RunsBatter  int
	RunsExtras  int
	ExtraType   string // "", "wide", "noball", "bye", "legbye", "penalty"
	IsWicket    bool
	PlayerOut   string

	Wpa *DeliveryWpa // nil until the attribution engine has stored a value
}

// TotalRuns returns runs added to the batting total by this delivery.
func (d *Delivery) TotalRuns() int {
	return d.RunsBatter + d.RunsExtras
}

// IsLegal reports whether the delivery consumes one of the innings' balls.
func (d *Delivery) IsLegal() bool {
	return d.ExtraType != ExtraWide && d.ExtraType != ExtraNoBall
}

// Label renders the over.ball notation, e.g. "15.1".
func (d *Delivery) Label() string {
	return fmt.Sprintf("%d.%d", d.Over, d.Ball)
}

// MatchMeta is the per-match context needed to evaluate a chase.
type MatchMeta struct {
	MatchID           string
	Venue             string
	Competition       string
	Date              time.Time
	OversLimit        int
	FirstInningsTotal int
	Target            int
	ChasingTeam       string
	Winner            string
	Result            string
}

// ChaseWon reports whether the chasing side won. Ties count as a loss for the chase.
func (m *MatchMeta) ChaseWon() bool {
	if m.Result == ResultTie {
		return false
	}
	return m.ChasingTeam != "" && m.Winner == m.ChasingTeam
}

// Excluded reports whether the match carries no usable outcome.
func (m *MatchMeta) Excluded() bool {
	return m.Result == ResultNoResult || m.Result == ResultAbandoned
}

// ---- Match state ----

// MatchState is the chase situation at a delivery boundary. Build it through
// the matchstate package so the derived fields stay consistent.
type MatchState struct {
	Target           int
	CurrentScore     int
	BallsBowled      int // legal balls
	OversCompleted   int
	WicketsLost      int
	BallsRemaining   int
	WicketsRemaining int
}

// RunsNeeded is max(0, target - current score).
func (s MatchState) RunsNeeded() int {
	if n := s.Target - s.CurrentScore; n > 0 {
		return n
	}
	return 0
}

// IsTerminal reports whether the chase is already decided.
func (s MatchState) IsTerminal() bool {
	return s.RunsNeeded() == 0 || s.BallsRemaining <= 0 || s.WicketsRemaining <= 0
}

// OverLabel renders the state position as over.ball.
func (s MatchState) OverLabel() string {
	return fmt.Sprintf("%d.%d", s.OversCompleted, s.BallsBowled%BallsPerOver)
}

func (s MatchState) String() string {
	return fmt.Sprintf("%d/%d after %s (need %d off %d)", s.CurrentScore, s.WicketsLost, s.OverLabel(), s.RunsNeeded(), s.BallsRemaining)
}

// ---- Buckets ----

// BucketKey identifies one OutcomeBucket. ScopeValue is empty at global scope.
type BucketKey struct {
	Scope       Scope
	ScopeValue  string
	TargetBand  int
	Over        int
	WicketsLost int
	ScoreLo     int
	ScoreHi     int
}

func (k BucketKey) String() string {
	v := k.ScopeValue
	if v == "" {
		v = "*"
	}
	return fmt.Sprintf("%s[%s] target=%d over=%d wkts=%d score=%d-%d",
		k.Scope, v, k.TargetBand, k.Over, k.WicketsLost, k.ScoreLo, k.ScoreHi)
}

type OutcomeBucket struct {
	Key             BucketKey
	WinProbability  float64
	SampleSize      int
	ComputedThrough time.Time
}

// Wins returns the number of won observations backing the bucket.
func (b *OutcomeBucket) Wins() int {
	return int(b.WinProbability*float64(b.SampleSize) + 0.5)
}

// ResourceBucket records how much scoring potential remains at an over/wicket point.
// Venue is empty for rows aggregated across all venues.
type ResourceBucket struct {
	Venue           string
	Innings         int
	Over            int
	WicketsLost     int
	ResourcePct     float64 // 0-100
	AvgFinalScore   float64
	SampleSize      int
	ComputedThrough time.Time
}

// HistoricalChaseRecord is one ball of a completed chase, seen from the state before it was bowled.
// Built during aggregation and discarded afterwards.
type HistoricalChaseRecord struct {
	MatchID     string
	Venue       string
	Competition string
	State       MatchState
	Won         bool
}

// ---- Attribution ----

// DeliveryWpa is the zero-sum value pair stored back onto a delivery.
type DeliveryWpa struct {
	DeliveryID int64
	Batter     float64
	Bowler     float64
	ComputedAt time.Time

	// Context, not persisted.
	Before       float64
	After        float64
	BeforeSource Source
	AfterSource  Source
}

// ---- Audit ----

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

type ComputationRun struct {
	ID          string
	TableName   string
	Status      string
	AsOf        time.Time
	RowsWritten int
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
}

// Duration returns the wall time of a finished run.
func (r *ComputationRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ---- Reporting ----

// PlayerWpa is a per-player WPA total.
type PlayerWpa struct {
	Name       string
	Role       string // "batter" or "bowler"
	Deliveries int
	Total      float64
}
