// Package store is the durable, embedded single-file relational state
// store: per-clip status and an append-only dead-letter log, the
// resume contract the Driver depends on.
//
// Grounded on egoworld/pipeline/state_store.py's schema and
// init_db/upsert_clip_status/mark_dead_letter/get_clip_state/
// get_pending_clips, and on the teacher's mattn/go-sqlite3 usage
// pattern: WAL journal mode, a single writer connection, and
// PRAGMA-driven durability. Per spec.md §4.A, every mutation commits
// before the call returns and the Driver is the sole writer.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Status is one of the closed set of clip lifecycle states.
type Status string

const (
	Pending Status = "Pending"
	Running Status = "Running"
	Writing Status = "Writing"
	Done    Status = "Done"
	Failed  Status = "Failed"
)

// ResumableStatuses is the broader resume-mode filter set spec.md §9's
// open question resolves in favor of: everything except Done. The
// narrower {Pending, Failed} view from the source is expressible as a
// filter over this function's result, so only the broad function is
// provided.
var ResumableStatuses = []Status{Pending, Running, Writing, Failed}

// ClipStatusRow is one row of the clip_status table.
type ClipStatusRow struct {
	ClipID     string
	VideoID    string
	Status     Status
	LastError  string
	RetryCount int
	UpdatedAt  float64 // wall-clock seconds since epoch
}

// DeadLetterRow is one row of the dead_letter table.
type DeadLetterRow struct {
	ClipID    string
	VideoID   string
	Error     string
	UpdatedAt float64
}

// Store wraps a single-writer SQLite connection holding the two
// tables this package manages.
type Store struct {
	db *sql.DB
}

// Open creates the database file and parent directories if absent,
// applies durability pragmas, and ensures both tables exist. Safe to
// call on an existing database (init is idempotent).
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir for %s: %w", path, err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY from concurrent
	// writers; the Driver is the only writer per spec.md §4.A.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BulkInsertPending inserts a Pending row with retry_count 0 for each
// clip_id that doesn't already have one. Existing rows are left
// untouched — this is the resume hook: a prior Done row survives a
// rerun.
func (s *Store) BulkInsertPending(ctx context.Context, clipIDs, videoIDs []string, now time.Time) error {
	if len(clipIDs) != len(videoIDs) {
		return fmt.Errorf("store: BulkInsertPending: clipIDs and videoIDs length mismatch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin bulk insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO clip_status (clip_id, video_id, status, last_error, retry_count, updated_at)
		VALUES (?, ?, ?, '', 0, ?)
		ON CONFLICT(clip_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("store: prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	ts := float64(now.UnixNano()) / 1e9
	for i, clipID := range clipIDs {
		if _, err := stmt.ExecContext(ctx, clipID, videoIDs[i], Pending, ts); err != nil {
			return fmt.Errorf("store: insert pending %s: %w", clipID, err)
		}
	}

	return tx.Commit()
}

// UpsertClipStatus inserts or replaces the row's mutable columns and
// sets updated_at to now. Each call is a standalone transaction, not
// ordered with respect to other rows.
func (s *Store) UpsertClipStatus(ctx context.Context, clipID, videoID string, status Status, lastError string, retryCount int, now time.Time) error {
	ts := float64(now.UnixNano()) / 1e9
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clip_status (clip_id, video_id, status, last_error, retry_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(clip_id) DO UPDATE SET
			video_id = excluded.video_id,
			status = excluded.status,
			last_error = excluded.last_error,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at
	`, clipID, videoID, status, lastError, retryCount, ts)
	if err != nil {
		return fmt.Errorf("store: upsert clip status %s: %w", clipID, err)
	}
	return nil
}

// MarkDeadLetter appends one row to dead_letter, independent of
// clip_status changes.
func (s *Store) MarkDeadLetter(ctx context.Context, clipID, videoID, errMsg string, now time.Time) error {
	ts := float64(now.UnixNano()) / 1e9
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letter (clip_id, video_id, error, updated_at) VALUES (?, ?, ?, ?)
	`, clipID, videoID, errMsg, ts)
	if err != nil {
		return fmt.Errorf("store: mark dead letter %s: %w", clipID, err)
	}
	return nil
}

// GetClipState returns the clip's row, or ok=false if absent.
func (s *Store) GetClipState(ctx context.Context, clipID string) (row ClipStatusRow, ok bool, err error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT clip_id, video_id, status, last_error, retry_count, updated_at
		FROM clip_status WHERE clip_id = ?
	`, clipID)

	var status string
	err = r.Scan(&row.ClipID, &row.VideoID, &status, &row.LastError, &row.RetryCount, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return ClipStatusRow{}, false, nil
	}
	if err != nil {
		return ClipStatusRow{}, false, fmt.Errorf("store: get clip state %s: %w", clipID, err)
	}
	row.Status = Status(status)
	return row, true, nil
}

// CountDeadLetter counts dead_letter rows for one clip, for tests and
// operational spot-checks.
func (s *Store) CountDeadLetter(ctx context.Context, clipID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter WHERE clip_id = ?`, clipID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count dead letter %s: %w", clipID, err)
	}
	return count, nil
}

// GetResumableClips enumerates clip_ids whose status is in statuses.
// Pass ResumableStatuses for the default resume-mode filter (everything
// except Done).
func (s *Store) GetResumableClips(ctx context.Context, statuses []Status) ([]string, error) {
	if len(statuses) == 0 {
		statuses = ResumableStatuses
	}

	placeholders := make([]byte, 0, len(statuses)*2)
	args := make([]any, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`SELECT clip_id FROM clip_status WHERE status IN (%s)`, string(placeholders))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get resumable clips: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan resumable clip: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
