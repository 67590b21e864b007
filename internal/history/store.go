// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// VidShrink - 视频按目标大小压缩工具

// Package history persists per-file shrink outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSchemaMismatch is returned when the database carries migrations from a
// newer release
var ErrSchemaMismatch = errors.New("history schema version mismatch")

// Entry is the outcome of one file
type Entry struct {
	ID            int64     `json:"id"`
	JobID         string    `json:"job_id"`
	Input         string    `json:"input"`
	Output        string    `json:"output,omitempty"`
	Status        string    `json:"status"`
	OriginalBytes int64     `json:"original_bytes"`
	TargetBytes   int64     `json:"target_bytes"`
	OutputBytes   int64     `json:"output_bytes"`
	VideoKbps     int       `json:"video_kbps"`
	Attempts      int       `json:"attempts"`
	HWAccel       bool      `json:"hwaccel"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Recorder stores entries
type Recorder interface {
	Record(ctx context.Context, e Entry) (int64, error)
}

// Store is a SQLite backed history
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path of the database file
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts e and returns its row id. A zero FinishedAt is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO entries (job_id, input, output, status, original_bytes, target_bytes,
	output_bytes, video_kbps, attempts, hwaccel, error, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.JobID, e.Input, e.Output, e.Status, e.OriginalBytes, e.TargetBytes,
			e.OutputBytes, e.VideoKbps, e.Attempts, boolToInt(e.HWAccel), e.Error,
			e.FinishedAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("record history: %w", err)
	}
	return id, nil
}

// List returns the newest entries first. limit <= 0 returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, "", limit)
}

// ListJob returns the entries of one job, newest first
func (s *Store) ListJob(ctx context.Context, jobID string) ([]Entry, error) {
	return s.query(ctx, jobID, 0)
}

func (s *Store) query(ctx context.Context, jobID string, limit int) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if jobID != "" {
		where = append(where, "job_id = ?")
		args = append(args, jobID)
	}

	q := `SELECT id, job_id, input, output, status, original_bytes, target_bytes,
	output_bytes, video_kbps, attempts, hwaccel, error, finished_at FROM entries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY finished_at DESC, id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			hw       int
			finished int64
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.Input, &e.Output, &e.Status, &e.OriginalBytes,
			&e.TargetBytes, &e.OutputBytes, &e.VideoKbps, &e.Attempts, &hw, &e.Error, &finished); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.HWAccel = hw != 0
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
