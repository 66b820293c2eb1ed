package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tier"
)

// Store persists attempt history and periodic ledger snapshots to sqlite.
// Persistence is best-effort; routing never blocks on it.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: wal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id           TEXT PRIMARY KEY,
			task_id      TEXT NOT NULL,
			fingerprint  TEXT NOT NULL,
			category     TEXT NOT NULL,
			tier         INTEGER NOT NULL,
			kind         TEXT NOT NULL,
			confidence   REAL NOT NULL,
			input_units  INTEGER NOT NULL,
			output_units INTEGER NOT NULL,
			cost_usd     REAL NOT NULL,
			duration_ms  INTEGER NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			started_at   TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_task ON attempts(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at)`,
		`CREATE TABLE IF NOT EXISTS ledger_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at   TIMESTAMP NOT NULL,
			report     TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// InsertOutcome records every attempt of one completed task.
func (s *Store) InsertOutcome(ctx context.Context, out *task.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range out.Attempts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attempts(id, task_id, fingerprint, category, tier, kind,
				confidence, input_units, output_units, cost_usd, duration_ms, error, started_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, out.TaskID, out.Fingerprint, out.Category, int(a.Tier), string(a.Kind),
			a.Confidence, a.InputUnits, a.OutputUnits, a.CostUSD,
			a.Duration.Milliseconds(), a.Err, a.StartedAt,
		); err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// Snapshot persists a report for later trend analysis.
func (s *Store) Snapshot(ctx context.Context, r Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_snapshots(taken_at, report) VALUES(?, ?)`,
		r.GeneratedAt, string(data))
	return err
}

// AttemptRow is one persisted attempt.
type AttemptRow struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"taskId"`
	Fingerprint string        `json:"fingerprint"`
	Category    string        `json:"category"`
	Tier        tier.Tier     `json:"tier"`
	Kind        string        `json:"kind"`
	Confidence  float64       `json:"confidence"`
	InputUnits  int64         `json:"inputUnits"`
	OutputUnits int64         `json:"outputUnits"`
	CostUSD     float64       `json:"costUsd"`
	Duration    time.Duration `json:"duration"`
	Err         string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
}

// RecentAttempts returns the latest attempts, newest first.
func (s *Store) RecentAttempts(ctx context.Context, limit int) ([]AttemptRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, fingerprint, category, tier, kind, confidence,
			input_units, output_units, cost_usd, duration_ms, error, started_at
		 FROM attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var r AttemptRow
		var tierRank int
		var durMs int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Fingerprint, &r.Category,
			&tierRank, &r.Kind, &r.Confidence, &r.InputUnits, &r.OutputUnits,
			&r.CostUSD, &durMs, &r.Err, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Tier = tier.Tier(tierRank)
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshots returns up to limit persisted reports, newest first.
func (s *Store) Snapshots(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM ledger_snapshots ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
