package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aircast-project/aircast/internal/util"
)

// PlaybackRecord is one playback session in the history.
type PlaybackRecord struct {
	ID        int64
	Device    string
	URL       string
	StartedAt time.Time
	EndedAt   *time.Time
	Duration  float64
	Position  float64
	Completed bool
}

// HistoryStore records playback sessions.
type HistoryStore struct {
	db     *Database
	logger zerolog.Logger
}

// NewHistoryStore prepares the history schema and returns a store.
func NewHistoryStore(db *Database) (*HistoryStore, error) {
	const schema = `
	CREATE TABLE IF NOT EXISTS playback_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device TEXT NOT NULL,
		url TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		duration_sec REAL NOT NULL DEFAULT 0,
		position_sec REAL NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_history_started ON playback_history(started_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &HistoryStore{
		db:     db,
		logger: util.ComponentLogger("history"),
	}, nil
}

// RecordStart inserts a new session and returns its id.
func (s *HistoryStore) RecordStart(device, url string) (int64, error) {
	result, err := s.db.Exec(
		"INSERT INTO playback_history (device, url, started_at) VALUES (?, ?, ?)",
		device, url, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record playback start: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.logger.Debug().Int64("id", id).Str("device", device).Msg("playback session recorded")
	return id, nil
}

// RecordEnd closes a session with its final position.
func (s *HistoryStore) RecordEnd(id int64, duration, position float64, completed bool) error {
	_, err := s.db.Exec(
		"UPDATE playback_history SET ended_at = ?, duration_sec = ?, position_sec = ?, completed = ? WHERE id = ?",
		time.Now().UTC(), duration, position, completed, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record playback end: %w", err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *HistoryStore) Recent(limit int) ([]PlaybackRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, device, url, started_at, ended_at, duration_sec, position_sec, completed
		 FROM playback_history ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []PlaybackRecord
	for rows.Next() {
		var r PlaybackRecord
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.Device, &r.URL, &r.StartedAt, &ended,
			&r.Duration, &r.Position, &r.Completed); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
