// Package store persists rotation history in a SQLite database so
// past cycles can be inspected after the fact.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/yllada/vpn-rotator/vpn"
)

// History is a SQLite-backed recorder of rotation cycles. One row is
// written per finished cycle.
type History struct {
	db *sql.DB
}

// Open opens or creates the history database at the given path.
func Open(dbPath string) (*History, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	h := &History{db: db}
	if err := h.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return h, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (h *History) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rotations (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		previous_ip TEXT,
		new_ip TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		reconnect_attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_rotations_started ON rotations(started_at);
	`

	_, err := h.db.Exec(schema)
	return err
}

// Record inserts one finished rotation cycle.
func (h *History) Record(res vpn.CycleResult) error {
	_, err := h.db.Exec(
		`INSERT INTO rotations
		 (id, started_at, finished_at, previous_ip, new_ip, outcome, error, reconnect_attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.StartedAt.UTC(),
		res.FinishedAt.UTC(),
		res.PreviousIP,
		res.NewIP,
		string(res.Outcome),
		res.Error,
		res.ReconnectAttempts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rotation record: %w", err)
	}
	return nil
}

// Recent returns the most recent rotation cycles, newest first.
func (h *History) Recent(limit int) ([]vpn.CycleResult, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.Query(
		`SELECT id, started_at, finished_at, previous_ip, new_ip, outcome, error, reconnect_attempts
		 FROM rotations
		 ORDER BY started_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation history: %w", err)
	}
	defer rows.Close()

	var results []vpn.CycleResult
	for rows.Next() {
		var res vpn.CycleResult
		var outcome string
		if err := rows.Scan(
			&res.ID,
			&res.StartedAt,
			&res.FinishedAt,
			&res.PreviousIP,
			&res.NewIP,
			&outcome,
			&res.Error,
			&res.ReconnectAttempts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rotation record: %w", err)
		}
		res.Outcome = vpn.CycleOutcome(outcome)
		results = append(results, res)
	}

	return results, rows.Err()
}
