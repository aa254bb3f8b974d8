package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/g960059/itch/internal/logging"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS queue (
	play_order INTEGER PRIMARY KEY CHECK(play_order >= 0),
	path TEXT NOT NULL CHECK(length(path) > 0)
);

CREATE TABLE IF NOT EXISTS day_night_playlist (
	daytime INTEGER NOT NULL CHECK(daytime IN (0, 1)),
	play_order INTEGER NOT NULL CHECK(play_order >= 0),
	path TEXT NOT NULL CHECK(length(path) > 0),
	PRIMARY KEY(daytime, play_order)
);

CREATE TABLE IF NOT EXISTS app_settings (
	setting TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 0 CHECK(enabled IN (0, 1))
);

INSERT OR IGNORE INTO app_settings(setting, enabled) VALUES ('day_night_playlist', 0);
`,
		DownSQL: `
DROP TABLE IF EXISTS app_settings;
DROP TABLE IF EXISTS day_night_playlist;
DROP TABLE IF EXISTS queue;
`,
	},
	{
		Version: 2,
		UpSQL: `
ALTER TABLE app_settings ADD COLUMN value TEXT NOT NULL DEFAULT '';

INSERT OR IGNORE INTO app_settings(setting, enabled, value) VALUES ('active_variant', 0, '');
`,
		DownSQL: `
DELETE FROM app_settings WHERE setting = 'active_variant';
ALTER TABLE app_settings DROP COLUMN value;
`,
	},
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// SchemaVersion returns the highest applied migration, or 0 on a fresh
// database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// ApplyMigrations runs every migration newer than the recorded schema
// version, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	log := logging.Component("db")
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := inTx(ctx, db, m.Version, "apply", m.UpSQL,
			`INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`); err != nil {
			return err
		}
		log.Info().Int("version", m.Version).Msg("applied migration")
	}
	return nil
}

// RollbackAll reverts applied migrations newest first.
func RollbackAll(ctx context.Context, db *sql.DB) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version > current {
			continue
		}
		if err := inTx(ctx, db, m.Version, "rollback", m.DownSQL,
			`DELETE FROM schema_migrations WHERE version = ?`); err != nil {
			return err
		}
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, version int, op, script, record string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx %d: %w", op, version, err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("%s migration %d: %w", op, version, err)
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("record %s %d: %w", op, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %d: %w", op, version, err)
	}
	return nil
}
