package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/g960059/itch/internal/model"
)

const (
	settingDayNight      = "day_night_playlist"
	settingActiveVariant = "active_variant"
)

var ErrNotFound = errors.New("not found")

// RowFailure records one row that could not be written during a batch.
type RowFailure struct {
	PlayOrder int
	Path      string
	Err       error
}

// WriteError aggregates the per-row failures of a batch write. Rows that
// are not listed were committed.
type WriteError struct {
	Table    string
	Failures []RowFailure
}

func (e *WriteError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%d(%s): %v", f.PlayOrder, f.Path, f.Err))
	}
	return fmt.Sprintf("write %s: %d rows failed: %s", e.Table, len(e.Failures), strings.Join(parts, "; "))
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) ReadQueue(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM queue ORDER BY play_order`)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	return scanPaths(rows, "queue")
}

// WriteQueue replaces the stored playlist with items. Each row is written
// under its own savepoint so a bad row does not discard the others.
func (s *Store) WriteQueue(ctx context.Context, items []string) error {
	return s.writeBatch(ctx, "queue", items,
		`INSERT INTO queue(play_order, path) VALUES (?, ?)
ON CONFLICT(play_order) DO UPDATE SET path=excluded.path`,
		`DELETE FROM queue WHERE play_order >= ?`,
	)
}

func (s *Store) ReadVariant(ctx context.Context, which model.Variant) ([]string, error) {
	if !which.Valid() {
		return nil, fmt.Errorf("read variant: invalid variant %q", which)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM day_night_playlist WHERE daytime = ? ORDER BY play_order`, boolToInt(which.Daytime()))
	if err != nil {
		return nil, fmt.Errorf("read %s playlist: %w", which, err)
	}
	return scanPaths(rows, string(which)+" playlist")
}

func (s *Store) WriteVariant(ctx context.Context, items []string, which model.Variant) error {
	if !which.Valid() {
		return fmt.Errorf("write variant: invalid variant %q", which)
	}
	daytime := boolToInt(which.Daytime())
	return s.writeBatch(ctx, "day_night_playlist", items,
		fmt.Sprintf(`INSERT INTO day_night_playlist(daytime, play_order, path) VALUES (%d, ?, ?)
ON CONFLICT(daytime, play_order) DO UPDATE SET path=excluded.path`, daytime),
		fmt.Sprintf(`DELETE FROM day_night_playlist WHERE daytime = %d AND play_order >= ?`, daytime),
	)
}

func (s *Store) ReadEnabled(ctx context.Context) (bool, error) {
	var enabled int
	err := s.db.QueryRowContext(ctx, `SELECT enabled FROM app_settings WHERE setting = ?`, settingDayNight).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read day/night enabled: %w", err)
	}
	return enabled != 0, nil
}

func (s *Store) WriteEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO app_settings(setting, enabled) VALUES (?, ?)
ON CONFLICT(setting) DO UPDATE SET enabled=excluded.enabled
`, settingDayNight, boolToInt(enabled))
	if err != nil {
		return fmt.Errorf("write day/night enabled: %w", err)
	}
	return nil
}

// ReadActiveVariant returns ErrNotFound when no variant has been activated.
func (s *Store) ReadActiveVariant(ctx context.Context) (model.Variant, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE setting = ?`, settingActiveVariant).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read active variant: %w", err)
	}
	v, err := model.ParseVariant(raw)
	if err != nil {
		return "", fmt.Errorf("read active variant: %w", err)
	}
	return v, nil
}

func (s *Store) WriteActiveVariant(ctx context.Context, which model.Variant) error {
	if !which.Valid() {
		return fmt.Errorf("write active variant: invalid variant %q", which)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO app_settings(setting, enabled, value) VALUES (?, 1, ?)
ON CONFLICT(setting) DO UPDATE SET value=excluded.value
`, settingActiveVariant, string(which))
	if err != nil {
		return fmt.Errorf("write active variant: %w", err)
	}
	return nil
}

func (s *Store) writeBatch(ctx context.Context, table string, items []string, upsertSQL, trimSQL string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s write: %w", table, err)
	}
	var failures []RowFailure
	for i, path := range items {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT write_row`); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("savepoint %s row %d: %w", table, i, err)
		}
		if _, rowErr := tx.ExecContext(ctx, upsertSQL, i, path); rowErr != nil {
			failures = append(failures, RowFailure{PlayOrder: i, Path: path, Err: rowErr})
			if _, err := tx.ExecContext(ctx, `ROLLBACK TO write_row`); err != nil {
				tx.Rollback() //nolint:errcheck
				return fmt.Errorf("rollback %s row %d: %w", table, i, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `RELEASE write_row`); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("release %s row %d: %w", table, i, err)
		}
	}
	if _, err := tx.ExecContext(ctx, trimSQL, len(items)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("trim %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s write: %w", table, err)
	}
	if len(failures) > 0 {
		return &WriteError{Table: table, Failures: failures}
	}
	return nil
}

func scanPaths(rows *sql.Rows, what string) ([]string, error) {
	defer rows.Close() //nolint:errcheck
	out := []string{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", what, err)
		}
		out = append(out, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", what, err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
