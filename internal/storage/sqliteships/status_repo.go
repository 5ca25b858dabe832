package sqliteships

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/models"
)

func (s *Storage) GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error) {
	var (
		snap models.SyncStatusSnapshot
		at   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at, ship_count, status, sync_version FROM sync_status WHERE id = 1`,
	).Scan(&at, &snap.ShipCount, &snap.Status, &snap.SyncVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select sync status")
	}
	snap.LastSyncAt = time.Unix(0, at).UTC()
	return &snap, nil
}

func (s *Storage) Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sync_status (id, last_sync_at, ship_count, status, sync_version)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  last_sync_at = excluded.last_sync_at,
  ship_count = excluded.ship_count,
  status = excluded.status,
  sync_version = excluded.sync_version
WHERE sync_status.sync_version < excluded.sync_version
`, snap.LastSyncAt.UTC().UnixNano(), snap.ShipCount, string(snap.Status), snap.SyncVersion)
	if err != nil {
		return false, errors.Wrap(err, "publish sync status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (s *Storage) SaveRun(ctx context.Context, run *models.SyncRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []models.RunError{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return errors.Wrap(err, "marshal run errors")
	}
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: run.FinishedAt.UTC().UnixNano(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO sync_runs (
  id, trigger, status, started_at, finished_at,
  pages_processed, pages_failed,
  count_new, count_updated, count_unchanged, count_skipped,
  error_count, errors, duration_ms
)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
  status = excluded.status,
  finished_at = excluded.finished_at,
  pages_processed = excluded.pages_processed,
  pages_failed = excluded.pages_failed,
  count_new = excluded.count_new,
  count_updated = excluded.count_updated,
  count_unchanged = excluded.count_unchanged,
  count_skipped = excluded.count_skipped,
  error_count = excluded.error_count,
  errors = excluded.errors,
  duration_ms = excluded.duration_ms
`,
		run.ID, string(run.Trigger), string(run.Status), run.StartedAt.UTC().UnixNano(), finished,
		run.PagesProcessed, run.PagesFailed,
		run.Counts.New, run.Counts.Updated, run.Counts.Unchanged, run.Counts.Skipped,
		run.ErrorCount, string(errsJSON), run.DurationMs,
	)
	return errors.Wrap(err, "save sync run")
}

func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
  id, trigger, status, started_at, finished_at,
  pages_processed, pages_failed,
  count_new, count_updated, count_unchanged, count_skipped,
  error_count, errors, duration_ms
FROM sync_runs
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select sync runs")
	}
	defer rows.Close()

	out := []*models.SyncRun{}
	for rows.Next() {
		var (
			r        models.SyncRun
			started  int64
			finished sql.NullInt64
			errsJSON string
		)
		if err := rows.Scan(
			&r.ID, &r.Trigger, &r.Status, &started, &finished,
			&r.PagesProcessed, &r.PagesFailed,
			&r.Counts.New, &r.Counts.Updated, &r.Counts.Unchanged, &r.Counts.Skipped,
			&r.ErrorCount, &errsJSON, &r.DurationMs,
		); err != nil {
			return nil, errors.Wrap(err, "scan sync run")
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		if err := json.Unmarshal([]byte(errsJSON), &r.Errors); err != nil {
			return nil, errors.Wrap(err, "decode run errors")
		}
		out = append(out, &r)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}
