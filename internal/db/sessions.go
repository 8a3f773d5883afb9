package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/people.counter/internal/occupancy"
)

// Session is one run of the counter over a single feed.
type Session struct {
	ID        string     `json:"session_id"`
	Source    string     `json:"source"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int        `json:"frames"`
	Total     int        `json:"total"`
}

// StartSession inserts a new open session.
func (db *DB) StartSession(id, source string, startedAt time.Time) error {
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, started_at) VALUES (?, ?, ?)`,
		id, source, unixSeconds(startedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to start session %s: %w", id, err)
	}
	return nil
}

// EndSession closes a session with its final frame count and total.
func (db *DB) EndSession(id string, endedAt time.Time, frames, total int) error {
	res, err := db.Exec(
		`UPDATE sessions SET ended_at = ?, frames = ?, total = ? WHERE session_id = ?`,
		unixSeconds(endedAt), frames, total, id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// RecordEvent stores one tracker event. obsTS is the observation
// timestamp that produced it.
func (db *DB) RecordEvent(sessionID string, e occupancy.Event, obsTS float64, recordedAt time.Time) error {
	var (
		value   int
		seconds sql.NullFloat64
	)
	switch ev := e.(type) {
	case occupancy.TotalCountEvent:
		value = ev.Total
	case occupancy.CurrentCountEvent:
		value = ev.Count
	case occupancy.DurationEvent:
		value = ev.Duration
		seconds = sql.NullFloat64{Float64: ev.Seconds, Valid: true}
	default:
		return fmt.Errorf("unsupported event type %T", e)
	}

	_, err := db.Exec(
		`INSERT INTO occupancy_events (session_id, kind, value, seconds, obs_ts, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, string(e.Kind()), value, seconds, obsTS, unixSeconds(recordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Kind(), err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s         Session
		startedAt float64
		endedAt   sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.Source, &startedAt, &endedAt, &s.Frames, &s.Total); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromUnixSeconds(startedAt)
	if endedAt.Valid {
		t := fromUnixSeconds(endedAt.Float64)
		s.EndedAt = &t
	}
	return s, nil
}

const sessionColumns = `session_id, source, started_at, ended_at, frames, total`

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns one session by id.
func (db *DB) GetSession(id string) (Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// LatestSessionID returns the id of the most recently started session.
func (db *DB) LatestSessionID() (string, error) {
	var id string
	err := db.QueryRow(`SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	return id, err
}

// Durations returns the corrected episode durations of a session in the
// order they closed.
func (db *DB) Durations(sessionID string) ([]float64, error) {
	rows, err := db.Query(
		`SELECT seconds FROM occupancy_events
		 WHERE session_id = ? AND kind = ?
		 ORDER BY obs_ts, id`,
		sessionID, string(occupancy.KindDuration),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var s float64
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountPoint is one current-count sample.
type CountPoint struct {
	Timestamp float64 `json:"ts"`
	Count     int     `json:"count"`
}

// CountSeries returns the last limit current-count samples of a session in
// time order.
func (db *DB) CountSeries(sessionID string, limit int) ([]CountPoint, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := db.Query(
		`SELECT obs_ts, value FROM (
			SELECT obs_ts, value, id FROM occupancy_events
			WHERE session_id = ? AND kind = ?
			ORDER BY obs_ts DESC, id DESC LIMIT ?
		 ) ORDER BY obs_ts, id`,
		sessionID, string(occupancy.KindCurrent), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountPoint
	for rows.Next() {
		var p CountPoint
		if err := rows.Scan(&p.Timestamp, &p.Count); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
