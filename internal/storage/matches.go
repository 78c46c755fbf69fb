package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pable/go-cricket-wpa/internal/model"
)

// InsertMatch inserts a match record. Uses INSERT OR REPLACE for idempotency.
func (db *DB) InsertMatch(ctx context.Context, m model.Match) error {
	result := m.Result
	if result == "" {
		result = model.ResultNormal
	}
	overs := m.OversLimit
	if overs <= 0 {
		overs = 20
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT OR REPLACE INTO matches(id, venue, competition, match_date, team1, team2, winner, result, overs_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Venue, m.Competition, formatDate(m.Date), m.Team1, m.Team2, m.Winner, result, overs,
	)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	return nil
}

// InsertDeliveries bulk-inserts ball events in a transaction. A delivery is
// identified by (match, innings, seq); re-inserting one keeps its stored WPA.
func (db *DB) InsertDeliveries(ctx context.Context, ds []model.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deliveries(
			match_id, innings, over_number, ball, seq,
			batting_team, batter, bowler,
			runs_batter, runs_extras, extra_type, is_wicket, player_out
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(match_id, innings, seq) DO UPDATE SET
			over_number = excluded.over_number,
			ball = excluded.ball,
			batting_team = excluded.batting_team,
			batter = excluded.batter,
			bowler = excluded.bowler,
			runs_batter = excluded.runs_batter,
			runs_extras = excluded.runs_extras,
			extra_type = excluded.extra_type,
			is_wicket = excluded.is_wicket,
			player_out = excluded.player_out`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range ds {
		_, err = stmt.ExecContext(ctx,
			d.MatchID, d.Innings, d.Over, d.Ball, d.Seq,
			d.BattingTeam, d.Batter, d.Bowler,
			d.RunsBatter, d.RunsExtras, d.ExtraType, boolInt(d.IsWicket), d.PlayerOut,
		)
		if err != nil {
			return fmt.Errorf("insert delivery %s/%d/%d: %w", d.MatchID, d.Innings, d.Seq, err)
		}
	}
	return tx.Commit()
}

// ListMatches returns all stored matches ordered by match_date desc.
func (db *DB) ListMatches(ctx context.Context) ([]model.Match, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, venue, competition, match_date, team1, team2, winner, result, overs_limit
		FROM matches ORDER BY match_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		var date string
		if err := rows.Scan(&m.ID, &m.Venue, &m.Competition, &date,
			&m.Team1, &m.Team2, &m.Winner, &m.Result, &m.OversLimit); err != nil {
			return nil, err
		}
		if m.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// metaSelect derives the chase context of a match from its deliveries:
// first-innings total and ball count, and the side batting second.
const metaSelect = `
	SELECT m.id, m.venue, m.competition, m.match_date, m.overs_limit, m.winner, m.result,
	       COALESCE((SELECT SUM(d.runs_batter + d.runs_extras) FROM deliveries d
	                 WHERE d.match_id = m.id AND d.innings = 1), 0),
	       (SELECT COUNT(1) FROM deliveries d WHERE d.match_id = m.id AND d.innings = 1),
	       COALESCE((SELECT d.batting_team FROM deliveries d
	                 WHERE d.match_id = m.id AND d.innings = 2 ORDER BY d.seq LIMIT 1), '')
	FROM matches m`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMeta reads one metaSelect row. ok is false when the match has no first innings.
func scanMeta(r rowScanner) (meta model.MatchMeta, ok bool, err error) {
	var date string
	var firstBalls int
	if err := r.Scan(&meta.MatchID, &meta.Venue, &meta.Competition, &date, &meta.OversLimit,
		&meta.Winner, &meta.Result, &meta.FirstInningsTotal, &firstBalls, &meta.ChasingTeam); err != nil {
		return meta, false, err
	}
	if meta.Date, err = parseDate(date); err != nil {
		return meta, false, err
	}
	if firstBalls == 0 {
		return meta, false, nil
	}
	meta.Target = meta.FirstInningsTotal + 1
	return meta, true, nil
}

// MatchMeta returns the chase context for one match. It fails with
// model.ErrMissingMatchData when the match or its first innings is absent.
func (db *DB) MatchMeta(ctx context.Context, matchID string) (model.MatchMeta, error) {
	row := db.conn.QueryRowContext(ctx, metaSelect+` WHERE m.id = ?`, matchID)
	meta, ok, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MatchMeta{}, fmt.Errorf("match %s: %w", matchID, model.ErrMissingMatchData)
	}
	if err != nil {
		return model.MatchMeta{}, fmt.Errorf("match meta %s: %w", matchID, err)
	}
	if !ok {
		return model.MatchMeta{}, fmt.Errorf("match %s has no first innings: %w", matchID, model.ErrMissingMatchData)
	}
	return meta, nil
}

// ChaseMatches returns the context of every match dated strictly before the
// cutoff that has a usable result and a first innings.
func (db *DB) ChaseMatches(ctx context.Context, before time.Time) ([]model.MatchMeta, error) {
	rows, err := db.conn.QueryContext(ctx, metaSelect+`
		WHERE m.match_date < ? AND m.result NOT IN (?, ?)
		ORDER BY m.match_date, m.id`,
		formatDate(before), model.ResultNoResult, model.ResultAbandoned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MatchMeta
	for rows.Next() {
		meta, ok, err := scanMeta(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, meta)
		}
	}
	return out, rows.Err()
}

const deliveryColumns = `
	d.id, d.match_id, d.innings, d.over_number, d.ball, d.seq,
	d.batting_team, d.batter, d.bowler,
	d.runs_batter, d.runs_extras, d.extra_type, d.is_wicket, d.player_out,
	d.wpa_batter, d.wpa_bowler, d.wpa_computed_at`

func scanDelivery(r rowScanner) (model.Delivery, error) {
	var d model.Delivery
	var isWicket int
	var wpaBatter, wpaBowler sql.NullFloat64
	var computedAt sql.NullString
	if err := r.Scan(
		&d.ID, &d.MatchID, &d.Innings, &d.Over, &d.Ball, &d.Seq,
		&d.BattingTeam, &d.Batter, &d.Bowler,
		&d.RunsBatter, &d.RunsExtras, &d.ExtraType, &isWicket, &d.PlayerOut,
		&wpaBatter, &wpaBowler, &computedAt,
	); err != nil {
		return d, err
	}
	d.IsWicket = isWicket != 0
	if wpaBatter.Valid && wpaBowler.Valid {
		d.Wpa = &model.DeliveryWpa{
			DeliveryID: d.ID,
			Batter:     wpaBatter.Float64,
			Bowler:     wpaBowler.Float64,
			ComputedAt: parseStamp(computedAt),
		}
	}
	return d, nil
}

func collectDeliveries(rows *sql.Rows) ([]model.Delivery, error) {
	defer rows.Close()
	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InningsDeliveries returns one innings of a match in bowling order.
func (db *DB) InningsDeliveries(ctx context.Context, matchID string, innings int) ([]model.Delivery, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+deliveryColumns+`
		FROM deliveries d WHERE d.match_id = ? AND d.innings = ?
		ORDER BY d.seq`, matchID, innings)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

// Delivery returns a single delivery by id, or nil if none exists.
func (db *DB) Delivery(ctx context.Context, id int64) (*model.Delivery, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries d WHERE d.id = ?`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeliveriesBefore returns every delivery of both innings for matches dated
// strictly before the cutoff with a usable result, ordered by match, innings, seq.
func (db *DB) DeliveriesBefore(ctx context.Context, before time.Time) ([]model.Delivery, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+deliveryColumns+`
		FROM deliveries d
		JOIN matches m ON m.id = d.match_id
		WHERE m.match_date < ? AND m.result NOT IN (?, ?)
		ORDER BY d.match_id, d.innings, d.seq`,
		formatDate(before), model.ResultNoResult, model.ResultAbandoned)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}
