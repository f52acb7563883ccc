// Package store persists alert events to SQLite so the history survives
// restarts and is queryable from the status endpoints.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigil/internal/motion"
)

// EventRecord is one persisted alert.
type EventRecord struct {
	ID           string
	Source       string
	Timestamp    time.Time
	Level        float64
	SnapshotPath string
	ClipPath     string
	Notified     bool
	Suppressed   bool
}

// Store wraps the SQLite event log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the event database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alert_events (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			level REAL NOT NULL,
			snapshot_path TEXT,
			clip_path TEXT,
			notified INTEGER DEFAULT 0,
			suppressed INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_time ON alert_events(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_source_time ON alert_events(source, timestamp DESC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveAlert records a confirmed detection. Suppressed alerts are stored too,
// flagged so the history distinguishes them from dispatched ones.
func (s *Store) SaveAlert(alert *motion.Alert, suppressed bool) error {
	query := `INSERT INTO alert_events
		(id, source, timestamp, level, snapshot_path, clip_path, notified, suppressed)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := s.db.Exec(query, alert.ID, alert.Source, alert.Timestamp, alert.Level,
		alert.SnapshotPath, alert.ClipPath, boolInt(suppressed))
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// MarkNotified flags an alert as delivered.
func (s *Store) MarkNotified(id string) error {
	_, err := s.db.Exec("UPDATE alert_events SET notified = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// SetClipPath attaches the finished clip to its alert.
func (s *Store) SetClipPath(id, clipPath string) error {
	_, err := s.db.Exec("UPDATE alert_events SET clip_path = ? WHERE id = ?", clipPath, id)
	if err != nil {
		return fmt.Errorf("set clip path: %w", err)
	}
	return nil
}

// Get retrieves one alert by ID, nil when absent.
func (s *Store) Get(id string) (*EventRecord, error) {
	row := s.db.QueryRow(`SELECT id, source, timestamp, level, snapshot_path,
		clip_path, notified, suppressed FROM alert_events WHERE id = ?`, id)

	rec, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return rec, nil
}

// List returns the newest events, optionally filtered by source.
func (s *Store) List(source string, limit int) ([]*EventRecord, error) {
	query := `SELECT id, source, timestamp, level, snapshot_path, clip_path,
		notified, suppressed FROM alert_events`
	args := []any{}

	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		events = append(events, rec)
	}
	return events, rows.Err()
}

// Prune deletes events older than the cutoff and reports how many went.
func (s *Store) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec("DELETE FROM alert_events WHERE timestamp < ?", before)
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*EventRecord, error) {
	var rec EventRecord
	var notified, suppressed int
	err := row.Scan(&rec.ID, &rec.Source, &rec.Timestamp, &rec.Level,
		&rec.SnapshotPath, &rec.ClipPath, &notified, &suppressed)
	if err != nil {
		return nil, err
	}
	rec.Notified = notified == 1
	rec.Suppressed = suppressed == 1
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
