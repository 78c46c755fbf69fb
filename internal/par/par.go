// Package par turns first-innings resource buckets into a par score: the runs
// a side batting first would typically have at a given over and wicket count.
package par

import (
	"context"
	"fmt"
	"math"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// ResourceReader reads live resource buckets. A missing row is (nil, nil).
type ResourceReader interface {
	ResourceBucket(ctx context.Context, venue string, innings, over, wicketsLost int) (*model.ResourceBucket, error)
}

type Result struct {
	Par         int
	ResourcePct float64
	SampleSize  int
	Source      model.Source // venue or global
}

type Calculator struct {
	reader     ResourceReader
	minSamples int
}

// New returns a calculator that only trusts venue rows with at least
// minSamples innings behind them.
func New(reader ResourceReader, minSamples int) *Calculator {
	return &Calculator{reader: reader, minSamples: minSamples}
}

// Par returns round(total * (1 - resource%/100)) for the state over.0 with
// wickets down. The venue row is preferred; the global row is the fallback.
func (c *Calculator) Par(ctx context.Context, venue string, firstInningsTotal, over, wickets int) (Result, error) {
	switch {
	case firstInningsTotal < 0, over < 0, wickets < 0:
		return Result{}, fmt.Errorf("%w: negative input", model.ErrInvalidState)
	case wickets >= model.MaxWickets:
		return Result{}, fmt.Errorf("%w: %d wickets down", model.ErrInvalidState, wickets)
	}

	var row *model.ResourceBucket
	src := model.SourceGlobal
	if venue != "" {
		r, err := c.reader.ResourceBucket(ctx, venue, 1, over, wickets)
		if err != nil {
			return Result{}, fmt.Errorf("venue resource: %w", err)
		}
		if r != nil && r.SampleSize >= c.minSamples {
			row, src = r, model.SourceVenue
		}
	}
	if row == nil {
		r, err := c.reader.ResourceBucket(ctx, "", 1, over, wickets)
		if err != nil {
			return Result{}, fmt.Errorf("global resource: %w", err)
		}
		if r == nil {
			return Result{}, fmt.Errorf("over %d with %d down: %w", over, wickets, model.ErrBucketNotFound)
		}
		row = r
	}

	used := 1 - row.ResourcePct/100
	return Result{
		Par:         int(math.Round(float64(firstInningsTotal) * used)),
		ResourcePct: row.ResourcePct,
		SampleSize:  row.SampleSize,
		Source:      src,
	}, nil
}
