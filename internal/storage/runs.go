package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// InsertRun records a new ComputationRun audit row.
func (db *DB) InsertRun(ctx context.Context, run model.ComputationRun) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO computation_runs(id, table_name, status, as_of_date, rows_written, started_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TableName, run.Status, formatDate(run.AsOf), run.RowsWritten, formatStamp(run.StartedAt), run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status, row count and error of a run.
func (db *DB) FinishRun(ctx context.Context, run model.ComputationRun) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE computation_runs
		SET status = ?, rows_written = ?, finished_at = ?, error = ?
		WHERE id = ?`,
		run.Status, run.RowsWritten, formatStamp(run.FinishedAt), run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all rows.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]model.ComputationRun, error) {
	query := `SELECT id, table_name, status, as_of_date, rows_written, started_at, finished_at, error
		FROM computation_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ComputationRun
	for rows.Next() {
		var r model.ComputationRun
		var asOf string
		var started, finished sql.NullString
		if err := rows.Scan(&r.ID, &r.TableName, &r.Status, &asOf, &r.RowsWritten,
			&started, &finished, &r.Error); err != nil {
			return nil, err
		}
		if r.AsOf, err = parseDate(asOf); err != nil {
			return nil, err
		}
		r.StartedAt = parseStamp(started)
		r.FinishedAt = parseStamp(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
