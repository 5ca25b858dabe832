package pgships

import (
	"context"

	"github.com/pkg/errors"
)

const schemaLockID int64 = 0x466c656574 // "Fleet"

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS ships (
  id TEXT PRIMARY KEY,
  external_id TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  slug TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  manufacturer_name TEXT NOT NULL DEFAULT '',
  manufacturer_code TEXT NOT NULL DEFAULT '',
  manufacturer_slug TEXT NOT NULL DEFAULT '',
  classification TEXT NOT NULL DEFAULT '',
  size TEXT NOT NULL DEFAULT '',
  images JSONB NULL,
  raw JSONB NULL,
  sync_version BIGINT NOT NULL DEFAULT 1,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (external_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_ships_slug ON ships(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_ships_manufacturer ON ships(manufacturer_slug)`,
		// одна строка: id всегда 1
		`
CREATE TABLE IF NOT EXISTS sync_status (
  id SMALLINT PRIMARY KEY CHECK (id = 1),
  last_sync_at TIMESTAMPTZ NOT NULL,
  ship_count INT NOT NULL,
  status TEXT NOT NULL,
  sync_version BIGINT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  trigger TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NULL,
  pages_processed INT NOT NULL DEFAULT 0,
  pages_failed INT NOT NULL DEFAULT 0,
  count_new INT NOT NULL DEFAULT 0,
  count_updated INT NOT NULL DEFAULT 0,
  count_unchanged INT NOT NULL DEFAULT 0,
  count_skipped INT NOT NULL DEFAULT 0,
  error_count INT NOT NULL DEFAULT 0,
  errors JSONB NOT NULL DEFAULT '[]',
  duration_ms BIGINT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC)`,
	}

	// ship-sync и ship-api стартуют одновременно; DDL под advisory lock
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "init schema: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return errors.Wrap(err, "init schema: lock")
	}
	for _, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "init schema: commit")
}
