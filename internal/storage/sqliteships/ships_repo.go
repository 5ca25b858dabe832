package sqliteships

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/models"
)

const shipColumns = `
  id, external_id, content_hash, slug, name,
  manufacturer_name, manufacturer_code, manufacturer_slug,
  classification, size, images, raw,
  sync_version, created_at, updated_at`

// UpsertShip has the same contract as the Postgres store: the version is
// bumped by the store itself and only on a hash change.
func (s *Storage) UpsertShip(ctx context.Context, doc *models.Ship) (models.UpsertOutcome, error) {
	images, err := marshalImages(doc.Images)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var (
		hash    string
		version int64
		created int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT content_hash, sync_version, created_at FROM ships WHERE external_id = ?`, doc.ExternalID,
	).Scan(&hash, &version, &created)

	var outcome models.UpsertOutcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
INSERT INTO ships (`+shipColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,1,?,?)`,
			doc.ID, doc.ExternalID, doc.ContentHash, doc.Slug, doc.Name,
			doc.Manufacturer.Name, doc.Manufacturer.Code, doc.Manufacturer.Slug,
			doc.Classification, doc.Size, images, rawText(doc.Raw),
			now.UnixNano(), now.UnixNano(),
		)
		if err != nil {
			return "", errors.Wrap(err, "insert ship")
		}
		outcome = models.UpsertCreated
		version, created = 1, now.UnixNano()
	case err != nil:
		return "", errors.Wrap(err, "select ship")
	case hash == doc.ContentHash:
		return models.UpsertUnchanged, nil
	default:
		version++
		_, err = tx.ExecContext(ctx, `
UPDATE ships SET
  content_hash = ?, slug = ?, name = ?,
  manufacturer_name = ?, manufacturer_code = ?, manufacturer_slug = ?,
  classification = ?, size = ?, images = ?, raw = ?,
  sync_version = ?, updated_at = ?
WHERE external_id = ?`,
			doc.ContentHash, doc.Slug, doc.Name,
			doc.Manufacturer.Name, doc.Manufacturer.Code, doc.Manufacturer.Slug,
			doc.Classification, doc.Size, images, rawText(doc.Raw),
			version, now.UnixNano(),
			doc.ExternalID,
		)
		if err != nil {
			return "", errors.Wrap(err, "update ship")
		}
		outcome = models.UpsertUpdated
	}

	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(err, "commit tx")
	}
	doc.SyncVersion = version
	doc.CreatedAt = time.Unix(0, created).UTC()
	doc.UpdatedAt = now
	return outcome, nil
}

func (s *Storage) GetByExternalIDs(ctx context.Context, externalIDs []string) (map[string]*models.Ship, error) {
	out := make(map[string]*models.Ship, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	ships, err := s.queryShips(ctx,
		`SELECT`+shipColumns+` FROM ships WHERE external_id IN (`+placeholders(len(externalIDs))+`)`,
		toArgs(externalIDs)...)
	if err != nil {
		return nil, err
	}
	for _, sh := range ships {
		out[sh.ExternalID] = sh
	}
	return out, nil
}

func (s *Storage) GetByIDOrSlug(ctx context.Context, key string) (*models.Ship, error) {
	ships, err := s.queryShips(ctx, `SELECT`+shipColumns+`
FROM ships
WHERE id = ?1 OR external_id = ?1 OR slug = ?1
ORDER BY (id = ?1) DESC, (external_id = ?1) DESC, updated_at DESC
LIMIT 1`, key)
	if err != nil {
		return nil, err
	}
	if len(ships) == 0 {
		return nil, nil
	}
	return ships[0], nil
}

func (s *Storage) GetByIDs(ctx context.Context, ids []string) ([]*models.Ship, error) {
	if len(ids) == 0 {
		return []*models.Ship{}, nil
	}
	ph := placeholders(len(ids))
	args := append(toArgs(ids), toArgs(ids)...)
	return s.queryShips(ctx, `SELECT`+shipColumns+` FROM ships WHERE id IN (`+ph+`) OR external_id IN (`+ph+`)`, args...)
}

func (s *Storage) ListManufacturers(ctx context.Context) ([]models.ManufacturerCount, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT manufacturer_name, manufacturer_code, manufacturer_slug, count(*)
FROM ships
WHERE manufacturer_name <> '' OR manufacturer_slug <> ''
GROUP BY manufacturer_name, manufacturer_code, manufacturer_slug
ORDER BY manufacturer_name, manufacturer_slug
`)
	if err != nil {
		return nil, errors.Wrap(err, "select manufacturers")
	}
	defer rows.Close()

	out := []models.ManufacturerCount{}
	for rows.Next() {
		var m models.ManufacturerCount
		if err := rows.Scan(&m.Name, &m.Code, &m.Slug, &m.ShipCount); err != nil {
			return nil, errors.Wrap(err, "scan manufacturer")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func (s *Storage) CountShips(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM ships`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count ships")
	}
	return n, nil
}

func (s *Storage) queryShips(ctx context.Context, q string, args ...any) ([]*models.Ship, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select ships")
	}
	defer rows.Close()

	out := make([]*models.Ship, 0)
	for rows.Next() {
		var (
			sh               models.Ship
			images, raw      sql.NullString
			created, updated int64
		)
		if err := rows.Scan(
			&sh.ID, &sh.ExternalID, &sh.ContentHash, &sh.Slug, &sh.Name,
			&sh.Manufacturer.Name, &sh.Manufacturer.Code, &sh.Manufacturer.Slug,
			&sh.Classification, &sh.Size, &images, &raw,
			&sh.SyncVersion, &created, &updated,
		); err != nil {
			return nil, errors.Wrap(err, "scan ship")
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &sh.Images); err != nil {
				return nil, errors.Wrap(err, "decode images")
			}
		}
		if raw.Valid && raw.String != "" {
			sh.Raw = json.RawMessage(raw.String)
		}
		sh.CreatedAt = time.Unix(0, created).UTC()
		sh.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, &sh)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func marshalImages(images map[string]string) (sql.NullString, error) {
	if len(images) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(images)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "marshal images")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func rawText(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
