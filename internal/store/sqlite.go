package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtscan/internal/domain"
)

var ErrScanNotFound = errors.New("scan not found")

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS scans (
  id TEXT PRIMARY KEY,
  start_date TEXT NOT NULL,
  end_date TEXT NOT NULL,
  state TEXT NOT NULL CHECK(state IN ('running','finished','abandoned')) DEFAULT 'running',
  results TEXT,
  created_at DATETIME NOT NULL,
  finished_at DATETIME,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_scans_created ON scans(created_at DESC);
CREATE TABLE IF NOT EXISTS scan_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  scan_id TEXT NOT NULL,
  date TEXT NOT NULL,
  court TEXT NOT NULL,
  attempt INTEGER NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  finished_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_attempts_scan ON scan_attempts(scan_id, date, court, attempt);
`
	_, err := db.Exec(schema)
	return err
}

// Repository is the scan history. Scans are written when a job starts and
// again when it finishes; attempts as each browser pass ends.
type Repository interface {
	CreateScan(ctx context.Context, s domain.Scan) error
	FinishScan(ctx context.Context, id string, results domain.Results, at time.Time) error
	RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error
	GetScan(ctx context.Context, id string) (domain.Scan, error)
	ListRecentScans(ctx context.Context, limit int) ([]domain.Scan, error)
	ListAttempts(ctx context.Context, scanID string) ([]domain.AttemptRecord, error)
	RecoverStale(ctx context.Context) (int, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) CreateScan(ctx context.Context, s domain.Scan) error {
	state := s.State
	if state == "" {
		state = domain.ScanRunning
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scans (id,start_date,end_date,state,created_at,updated_at)
VALUES (?,?,?,?,?,CURRENT_TIMESTAMP)`, s.ID, s.StartDate, s.EndDate, state, created.UTC())
	return err
}

func (r *sqliteRepo) FinishScan(ctx context.Context, id string, results domain.Results, at time.Time) error {
	body, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE scans SET state='finished', results=?, finished_at=?, updated_at=CURRENT_TIMESTAMP
WHERE id=?`, string(body), at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish %s: %w", id, ErrScanNotFound)
	}
	return nil
}

func (r *sqliteRepo) RecordAttempt(ctx context.Context, rec domain.AttemptRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scan_attempts(scan_id, date, court, attempt, success, error, finished_at)
VALUES (?,?,?,?,?,?,CURRENT_TIMESTAMP)`, rec.ScanID, rec.Date, rec.Court, rec.Attempt, rec.Success, rec.Error)
	return err
}

// RecoverStale marks scans a previous process left running as abandoned.
// Jobs live in memory only, so nothing can resume them.
func (r *sqliteRepo) RecoverStale(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE scans SET state='abandoned', updated_at=CURRENT_TIMESTAMP WHERE state='running'`)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const scanColumns = `id,start_date,end_date,state,results,created_at,finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (domain.Scan, error) {
	var s domain.Scan
	var results sql.NullString
	var finished sql.NullTime
	if err := row.Scan(&s.ID, &s.StartDate, &s.EndDate, &s.State, &results, &s.CreatedAt, &finished); err != nil {
		return domain.Scan{}, err
	}
	if finished.Valid {
		t := finished.Time
		s.FinishedAt = &t
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &s.Results); err != nil {
			return domain.Scan{}, fmt.Errorf("decode results of %s: %w", s.ID, err)
		}
	}
	return s, nil
}

func (r *sqliteRepo) GetScan(ctx context.Context, id string) (domain.Scan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id=?`, id)
	s, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Scan{}, ErrScanNotFound
	}
	return s, err
}

func (r *sqliteRepo) ListRecentScans(ctx context.Context, limit int) ([]domain.Scan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scanColumns+` FROM scans ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := []domain.Scan{}
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

func (r *sqliteRepo) ListAttempts(ctx context.Context, scanID string) ([]domain.AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT scan_id,date,court,attempt,success,error
FROM scan_attempts WHERE scan_id=? ORDER BY date, CAST(court AS INTEGER), attempt`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AttemptRecord{}
	for rows.Next() {
		var a domain.AttemptRecord
		var msg sql.NullString
		if err := rows.Scan(&a.ScanID, &a.Date, &a.Court, &a.Attempt, &a.Success, &msg); err != nil {
			return nil, err
		}
		a.Error = msg.String
		out = append(out, a)
	}
	return out, rows.Err()
}
