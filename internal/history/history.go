// Package history is the local SQLite cache of evaluation records and the
// ledger of downloaded reports. It lets "list --offline" work without the
// backend and remembers where each report was saved.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/mseval/internal/api"
)

// ErrNotCached is returned when an evaluation is not in the local cache.
var ErrNotCached = errors.New("history: evaluation not cached")

const (
	sqlUpsertEvaluation = `INSERT INTO evaluations
		(id, filename, status, overall_score, created_at, record, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 filename = excluded.filename,
		 status = excluded.status,
		 overall_score = excluded.overall_score,
		 created_at = excluded.created_at,
		 record = excluded.record,
		 cached_at = excluded.cached_at`

	sqlListEvaluations = `SELECT record FROM evaluations
		ORDER BY created_at DESC, id DESC`

	sqlGetEvaluation = `SELECT record FROM evaluations WHERE id = ?`

	sqlDeleteEvaluation = `DELETE FROM evaluations WHERE id = ?`

	sqlInsertDownload = `INSERT INTO downloads
		(evaluation_id, path, bytes, strategy, downloaded_at)
		VALUES (?, ?, ?, ?, ?)`

	sqlListDownloads = `SELECT evaluation_id, path, bytes, strategy, downloaded_at
		FROM downloads WHERE evaluation_id = ?
		ORDER BY downloaded_at DESC, id DESC`

	sqlListAllDownloads = `SELECT evaluation_id, path, bytes, strategy, downloaded_at
		FROM downloads ORDER BY downloaded_at DESC, id DESC`
)

// Download is one saved report.
type Download struct {
	EvaluationID api.ID    `json:"evaluation_id"`
	Path         string    `json:"path"`
	Bytes        int64     `json:"bytes"`
	Strategy     string    `json:"strategy"`
	At           time.Time `json:"downloaded_at"`
}

// Store is the history database. It is safe for concurrent use; writes are
// serialized on a single connection.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: creating directory for %s: %w", path, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database opened", slog.String("path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertEvaluations caches the given records, replacing older copies.
func (s *Store) UpsertEvaluations(ctx context.Context, evals []api.Evaluation) error {
	if len(evals) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.PrepareContext(ctx, sqlUpsertEvaluation)
	if err != nil {
		return fmt.Errorf("history: preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := s.nowFunc().Unix()

	for i := range evals {
		e := &evals[i]

		record, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("history: encoding evaluation %s: %w", e.ID, err)
		}

		var score sql.NullInt64
		if v, ok := e.OverallScore(); ok {
			score = sql.NullInt64{Int64: int64(v), Valid: true}
		}

		var created sql.NullInt64
		if !e.CreatedAt.IsZero() {
			created = sql.NullInt64{Int64: e.CreatedAt.Unix(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, e.ID.String(), e.OriginalFilename, string(e.Status),
			score, created, string(record), now); err != nil {
			return fmt.Errorf("history: caching evaluation %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: committing: %w", err)
	}

	s.logger.Debug("cached evaluations", slog.Int("count", len(evals)))

	return nil
}

// Evaluations returns every cached record, newest first.
func (s *Store) Evaluations(ctx context.Context) ([]api.Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, sqlListEvaluations)
	if err != nil {
		return nil, fmt.Errorf("history: listing evaluations: %w", err)
	}
	defer rows.Close()

	evals := []api.Evaluation{}

	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("history: scanning evaluation: %w", err)
		}

		e, err := decodeRecord(record)
		if err != nil {
			return nil, err
		}

		evals = append(evals, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating evaluations: %w", err)
	}

	return evals, nil
}

// Evaluation returns one cached record, or ErrNotCached.
func (s *Store) Evaluation(ctx context.Context, id api.ID) (api.Evaluation, error) {
	var record string

	err := s.db.QueryRowContext(ctx, sqlGetEvaluation, id.String()).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Evaluation{}, ErrNotCached
	}

	if err != nil {
		return api.Evaluation{}, fmt.Errorf("history: reading evaluation %s: %w", id, err)
	}

	return decodeRecord(record)
}

// DeleteEvaluations drops cached records. Download rows are kept: the files
// still exist on disk.
func (s *Store) DeleteEvaluations(ctx context.Context, ids ...api.ID) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, sqlDeleteEvaluation, id.String()); err != nil {
			return fmt.Errorf("history: deleting evaluation %s: %w", id, err)
		}
	}

	return nil
}

// RecordDownload appends to the download ledger. A zero At means now.
func (s *Store) RecordDownload(ctx context.Context, d Download) error {
	if d.At.IsZero() {
		d.At = s.nowFunc()
	}

	if _, err := s.db.ExecContext(ctx, sqlInsertDownload,
		d.EvaluationID.String(), d.Path, d.Bytes, d.Strategy, d.At.UnixNano()); err != nil {
		return fmt.Errorf("history: recording download of %s: %w", d.EvaluationID, err)
	}

	return nil
}

// Downloads lists saved reports, newest first. An empty id lists all.
func (s *Store) Downloads(ctx context.Context, id api.ID) ([]Download, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if id == "" {
		rows, err = s.db.QueryContext(ctx, sqlListAllDownloads)
	} else {
		rows, err = s.db.QueryContext(ctx, sqlListDownloads, id.String())
	}

	if err != nil {
		return nil, fmt.Errorf("history: listing downloads: %w", err)
	}
	defer rows.Close()

	downloads := []Download{}

	for rows.Next() {
		var (
			d  Download
			at int64
		)

		if err := rows.Scan(&d.EvaluationID, &d.Path, &d.Bytes, &d.Strategy, &at); err != nil {
			return nil, fmt.Errorf("history: scanning download: %w", err)
		}

		d.At = time.Unix(0, at)
		downloads = append(downloads, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating downloads: %w", err)
	}

	return downloads, nil
}

// Clear removes everything. Called when the user logs out or deletes the
// account, so the next user of the machine sees nothing.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"evaluations", "downloads"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil { //nolint:gosec // fixed table names
			return fmt.Errorf("history: clearing %s: %w", table, err)
		}
	}

	return nil
}

func decodeRecord(record string) (api.Evaluation, error) {
	var e api.Evaluation
	if err := json.Unmarshal([]byte(record), &e); err != nil {
		return api.Evaluation{}, fmt.Errorf("history: decoding cached evaluation: %w", err)
	}

	return e, nil
}
