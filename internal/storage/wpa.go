package storage

import (
	"context"
	"fmt"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// PendingWpaMatches returns ids of matches with second-innings deliveries that
// carry no WPA yet. A non-empty only restricts the result to that match.
func (db *DB) PendingWpaMatches(ctx context.Context, only string) ([]string, error) {
	query := `SELECT DISTINCT d.match_id FROM deliveries d
		JOIN matches m ON m.id = d.match_id
		WHERE d.innings = 2 AND d.wpa_batter IS NULL`
	var args []any
	if only != "" {
		query += ` AND d.match_id = ?`
		args = append(args, only)
	}
	query += ` ORDER BY m.match_date, d.match_id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SaveDeliveryWpa writes WPA pairs in one transaction. A delivery that already
// carries a value is left untouched, so saves are idempotent. Returns the
// number of rows actually written.
func (db *DB) SaveDeliveryWpa(ctx context.Context, vals []model.DeliveryWpa) (int, error) {
	if len(vals) == 0 {
		return 0, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE deliveries
		SET wpa_batter = ?, wpa_bowler = ?, wpa_computed_at = ?
		WHERE id = ? AND wpa_batter IS NULL`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for _, v := range vals {
		res, err := stmt.ExecContext(ctx, v.Batter, v.Bowler, formatStamp(v.ComputedAt), v.DeliveryID)
		if err != nil {
			return 0, fmt.Errorf("save wpa for delivery %d: %w", v.DeliveryID, err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// PlayerWpaTotals sums stored WPA per batter and per bowler, best first.
// role is "batter" or "bowler".
func (db *DB) PlayerWpaTotals(ctx context.Context, role string, limit int) ([]model.PlayerWpa, error) {
	var col, val string
	switch role {
	case "batter":
		col, val = "batter", "wpa_batter"
	case "bowler":
		col, val = "bowler", "wpa_bowler"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	query := fmt.Sprintf(`
		SELECT %s, COUNT(1), SUM(%s) FROM deliveries
		WHERE innings = 2 AND %s IS NOT NULL AND %s <> ''
		GROUP BY %s
		ORDER BY SUM(%s) DESC, %s`, col, val, val, col, col, val, col)
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

	var out []model.PlayerWpa
	for rows.Next() {
		p := model.PlayerWpa{Role: role}
		if err := rows.Scan(&p.Name, &p.Deliveries, &p.Total); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
