package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pable/go-cricket-wpa/internal/model"
)

const outcomeColumns = `scope, scope_value, target_band, over_number, wickets_lost,
	score_range_lo, score_range_hi, win_probability, sample_size, computed_through_date`

const resourceColumns = `venue, innings, over_number, wickets_lost,
	resource_percentage, avg_final_score, sample_size, computed_through_date`

// ReplaceBucketTables publishes a complete rebuild. Rows are first written to
// the staging tables under runID; only when staging succeeds are the live
// tables replaced, in a single transaction, from that run's partition. Readers
// see either the previous tables or the new ones, never a mix.
func (db *DB) ReplaceBucketTables(ctx context.Context, runID string, outcome []model.OutcomeBucket, resource []model.ResourceBucket) error {
	if err := db.stageBuckets(ctx, runID, outcome, resource); err != nil {
		return fmt.Errorf("stage buckets: %w", err)
	}
	if err := db.swapBuckets(ctx, runID, len(outcome), len(resource)); err != nil {
		err = fmt.Errorf("swap buckets: %w", err)
		if derr := db.discardStaging(context.WithoutCancel(ctx), runID); derr != nil {
			err = errors.Join(err, fmt.Errorf("discard staging for run %s: %w", runID, derr))
		}
		return err
	}
	return nil
}

func (db *DB) stageBuckets(ctx context.Context, runID string, outcome []model.OutcomeBucket, resource []model.ResourceBucket) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outcome_buckets_staging WHERE run_id = ?`, runID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_buckets_staging WHERE run_id = ?`, runID); err != nil {
		return err
	}

	ostmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcome_buckets_staging(run_id, `+outcomeColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer ostmt.Close()

	for _, b := range outcome {
		k := b.Key
		_, err = ostmt.ExecContext(ctx, runID,
			string(k.Scope), k.ScopeValue, k.TargetBand, k.Over, k.WicketsLost,
			k.ScoreLo, k.ScoreHi, b.WinProbability, b.SampleSize, formatDate(b.ComputedThrough),
		)
		if err != nil {
			return fmt.Errorf("stage outcome bucket %s: %w", k, err)
		}
	}

	rstmt, err := tx.PrepareContext(ctx, `
		INSERT INTO resource_buckets_staging(run_id, `+resourceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer rstmt.Close()

	for _, r := range resource {
		_, err = rstmt.ExecContext(ctx, runID,
			r.Venue, r.Innings, r.Over, r.WicketsLost,
			r.ResourcePct, r.AvgFinalScore, r.SampleSize, formatDate(r.ComputedThrough),
		)
		if err != nil {
			return fmt.Errorf("stage resource bucket %s/%d/%d/%d: %w", r.Venue, r.Innings, r.Over, r.WicketsLost, err)
		}
	}
	return tx.Commit()
}

func (db *DB) swapBuckets(ctx context.Context, runID string, wantOutcome, wantResource int) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var gotOutcome, gotResource int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM outcome_buckets_staging WHERE run_id = ?`, runID).Scan(&gotOutcome); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM resource_buckets_staging WHERE run_id = ?`, runID).Scan(&gotResource); err != nil {
		return err
	}
	if gotOutcome != wantOutcome || gotResource != wantResource {
		return fmt.Errorf("run %s staged %d/%d outcome and %d/%d resource rows: %w",
			runID, gotOutcome, wantOutcome, gotResource, wantResource, model.ErrPersistenceConflict)
	}

	steps := []struct {
		query string
		byRun bool
	}{
		{`DELETE FROM outcome_buckets`, false},
		{`INSERT INTO outcome_buckets(` + outcomeColumns + `)
		  SELECT ` + outcomeColumns + ` FROM outcome_buckets_staging WHERE run_id = ?`, true},
		{`DELETE FROM resource_buckets`, false},
		{`INSERT INTO resource_buckets(` + resourceColumns + `)
		  SELECT ` + resourceColumns + ` FROM resource_buckets_staging WHERE run_id = ?`, true},
		{`DELETE FROM outcome_buckets_staging WHERE run_id = ?`, true},
		{`DELETE FROM resource_buckets_staging WHERE run_id = ?`, true},
	}
	for _, st := range steps {
		var args []any
		if st.byRun {
			args = append(args, runID)
		}
		if _, err := tx.ExecContext(ctx, st.query, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) discardStaging(ctx context.Context, runID string) error {
	_, oerr := db.conn.ExecContext(ctx, `DELETE FROM outcome_buckets_staging WHERE run_id = ?`, runID)
	_, rerr := db.conn.ExecContext(ctx, `DELETE FROM resource_buckets_staging WHERE run_id = ?`, runID)
	return errors.Join(oerr, rerr)
}

func scanOutcome(r rowScanner) (model.OutcomeBucket, error) {
	var b model.OutcomeBucket
	var scope, through string
	if err := r.Scan(&scope, &b.Key.ScopeValue, &b.Key.TargetBand, &b.Key.Over, &b.Key.WicketsLost,
		&b.Key.ScoreLo, &b.Key.ScoreHi, &b.WinProbability, &b.SampleSize, &through); err != nil {
		return b, err
	}
	b.Key.Scope = model.Scope(scope)
	var err error
	b.ComputedThrough, err = parseDate(through)
	return b, err
}

// OutcomeBucket returns the live bucket for key, or nil if none exists.
func (db *DB) OutcomeBucket(ctx context.Context, key model.BucketKey) (*model.OutcomeBucket, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM outcome_buckets
		WHERE scope = ? AND scope_value = ? AND target_band = ? AND over_number = ?
		  AND wickets_lost = ? AND score_range_lo = ?`,
		string(key.Scope), key.ScopeValue, key.TargetBand, key.Over, key.WicketsLost, key.ScoreLo)
	b, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListOutcomeBuckets returns live buckets, optionally filtered by scope, largest samples first.
// limit <= 0 returns all rows.
func (db *DB) ListOutcomeBuckets(ctx context.Context, scope model.Scope, limit int) ([]model.OutcomeBucket, error) {
	query := `SELECT ` + outcomeColumns + ` FROM outcome_buckets`
	var args []any
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, string(scope))
	}
	query += ` ORDER BY sample_size DESC, scope, scope_value, target_band, over_number, wickets_lost, score_range_lo`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OutcomeBucket
	for rows.Next() {
		b, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanResource(r rowScanner) (model.ResourceBucket, error) {
	var b model.ResourceBucket
	var through string
	if err := r.Scan(&b.Venue, &b.Innings, &b.Over, &b.WicketsLost,
		&b.ResourcePct, &b.AvgFinalScore, &b.SampleSize, &through); err != nil {
		return b, err
	}
	var err error
	b.ComputedThrough, err = parseDate(through)
	return b, err
}

// ResourceBucket returns one live resource row, or nil if none exists.
// An empty venue selects the all-venue row.
func (db *DB) ResourceBucket(ctx context.Context, venue string, innings, over, wicketsLost int) (*model.ResourceBucket, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resource_buckets
		WHERE venue = ? AND innings = ? AND over_number = ? AND wickets_lost = ?`,
		venue, innings, over, wicketsLost)
	b, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListResourceBuckets returns the resource table for one venue and innings.
func (db *DB) ListResourceBuckets(ctx context.Context, venue string, innings int) ([]model.ResourceBucket, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resource_buckets
		WHERE venue = ? AND innings = ?
		ORDER BY over_number, wickets_lost`, venue, innings)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ResourceBucket
	for rows.Next() {
		b, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
