package pgships

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/models"
)

func (s *Storage) GetLatest(ctx context.Context) (*models.SyncStatusSnapshot, error) {
	var snap models.SyncStatusSnapshot
	err := s.db.QueryRow(ctx, `
SELECT last_sync_at, ship_count, status, sync_version FROM sync_status WHERE id = 1
`).Scan(&snap.LastSyncAt, &snap.ShipCount, &snap.Status, &snap.SyncVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select sync status")
	}
	snap.LastSyncAt = snap.LastSyncAt.UTC()
	return &snap, nil
}

// Publish перезаписывает снапшот только более новой версией.
// Возвращает false, если версия не выросла.
func (s *Storage) Publish(ctx context.Context, snap models.SyncStatusSnapshot) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO sync_status (id, last_sync_at, ship_count, status, sync_version)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
  last_sync_at = EXCLUDED.last_sync_at,
  ship_count = EXCLUDED.ship_count,
  status = EXCLUDED.status,
  sync_version = EXCLUDED.sync_version
WHERE sync_status.sync_version < EXCLUDED.sync_version
`, snap.LastSyncAt.UTC(), snap.ShipCount, snap.Status, snap.SyncVersion)
	if err != nil {
		return false, errors.Wrap(err, "publish sync status")
	}
	return tag.RowsAffected() == 1, nil
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

	_, err = s.db.Exec(ctx, `
INSERT INTO sync_runs (
  id, trigger, status, started_at, finished_at,
  pages_processed, pages_failed,
  count_new, count_updated, count_unchanged, count_skipped,
  error_count, errors, duration_ms
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  finished_at = EXCLUDED.finished_at,
  pages_processed = EXCLUDED.pages_processed,
  pages_failed = EXCLUDED.pages_failed,
  count_new = EXCLUDED.count_new,
  count_updated = EXCLUDED.count_updated,
  count_unchanged = EXCLUDED.count_unchanged,
  count_skipped = EXCLUDED.count_skipped,
  error_count = EXCLUDED.error_count,
  errors = EXCLUDED.errors,
  duration_ms = EXCLUDED.duration_ms
`,
		run.ID, run.Trigger, run.Status, run.StartedAt.UTC(), run.FinishedAt,
		run.PagesProcessed, run.PagesFailed,
		run.Counts.New, run.Counts.Updated, run.Counts.Unchanged, run.Counts.Skipped,
		run.ErrorCount, errsJSON, run.DurationMs,
	)
	return errors.Wrap(err, "save sync run")
}

func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
SELECT
  id, trigger, status, started_at, finished_at,
  pages_processed, pages_failed,
  count_new, count_updated, count_unchanged, count_skipped,
  error_count, errors, duration_ms
FROM sync_runs
ORDER BY started_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select sync runs")
	}
	defer rows.Close()

	out := []*models.SyncRun{}
	for rows.Next() {
		var (
			r          models.SyncRun
			finishedAt *time.Time
			errsJSON   []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Trigger, &r.Status, &r.StartedAt, &finishedAt,
			&r.PagesProcessed, &r.PagesFailed,
			&r.Counts.New, &r.Counts.Updated, &r.Counts.Unchanged, &r.Counts.Skipped,
			&r.ErrorCount, &errsJSON, &r.DurationMs,
		); err != nil {
			return nil, errors.Wrap(err, "scan sync run")
		}
		r.FinishedAt = finishedAt
		if err := json.Unmarshal(errsJSON, &r.Errors); err != nil {
			return nil, errors.Wrap(err, "decode run errors")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
