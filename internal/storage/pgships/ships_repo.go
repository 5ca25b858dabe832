package pgships

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/models"
)

const shipColumns = `
  id, external_id, content_hash, slug, name,
  manufacturer_name, manufacturer_code, manufacturer_slug,
  classification, size, images, raw,
  sync_version, created_at, updated_at`

// UpsertShip вставляет документ или обновляет его, если хэш изменился.
// sync_version растёт только на реальном изменении; doc.SyncVersion
// получает значение из базы.
func (s *Storage) UpsertShip(ctx context.Context, doc *models.Ship) (models.UpsertOutcome, error) {
	images, err := marshalImages(doc.Images)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	var (
		inserted bool
		version  int64
		created  time.Time
	)
	err = s.db.QueryRow(ctx, `
INSERT INTO ships (
  id, external_id, content_hash, slug, name,
  manufacturer_name, manufacturer_code, manufacturer_slug,
  classification, size, images, raw,
  sync_version, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1,$13,$13)
ON CONFLICT (external_id) DO UPDATE SET
  content_hash = EXCLUDED.content_hash,
  slug = EXCLUDED.slug,
  name = EXCLUDED.name,
  manufacturer_name = EXCLUDED.manufacturer_name,
  manufacturer_code = EXCLUDED.manufacturer_code,
  manufacturer_slug = EXCLUDED.manufacturer_slug,
  classification = EXCLUDED.classification,
  size = EXCLUDED.size,
  images = EXCLUDED.images,
  raw = EXCLUDED.raw,
  sync_version = ships.sync_version + 1,
  updated_at = EXCLUDED.updated_at
WHERE ships.content_hash <> EXCLUDED.content_hash
RETURNING (xmax = 0) AS inserted, sync_version, created_at
`,
		doc.ID, doc.ExternalID, doc.ContentHash, doc.Slug, doc.Name,
		doc.Manufacturer.Name, doc.Manufacturer.Code, doc.Manufacturer.Slug,
		doc.Classification, doc.Size, images, rawBytes(doc.Raw),
		now,
	).Scan(&inserted, &version, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UpsertUnchanged, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "upsert ship")
	}

	doc.SyncVersion = version
	doc.CreatedAt = created
	doc.UpdatedAt = now
	if inserted {
		return models.UpsertCreated, nil
	}
	return models.UpsertUpdated, nil
}

func (s *Storage) GetByExternalIDs(ctx context.Context, externalIDs []string) (map[string]*models.Ship, error) {
	out := make(map[string]*models.Ship, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	ships, err := s.queryShips(ctx, `SELECT`+shipColumns+` FROM ships WHERE external_id = ANY($1)`, externalIDs)
	if err != nil {
		return nil, err
	}
	for _, sh := range ships {
		out[sh.ExternalID] = sh
	}
	return out, nil
}

// GetByIDOrSlug ищет сначала по id, затем по external_id, затем по slug.
func (s *Storage) GetByIDOrSlug(ctx context.Context, key string) (*models.Ship, error) {
	ships, err := s.queryShips(ctx, `SELECT`+shipColumns+`
FROM ships
WHERE id = $1 OR external_id = $1 OR slug = $1
ORDER BY (id = $1) DESC, (external_id = $1) DESC, updated_at DESC
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
	return s.queryShips(ctx, `SELECT`+shipColumns+` FROM ships WHERE id = ANY($1) OR external_id = ANY($1)`, ids)
}

func (s *Storage) ListManufacturers(ctx context.Context) ([]models.ManufacturerCount, error) {
	rows, err := s.db.Query(ctx, `
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
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountShips(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM ships`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count ships")
	}
	return n, nil
}

func (s *Storage) queryShips(ctx context.Context, q string, args ...any) ([]*models.Ship, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select ships")
	}
	defer rows.Close()

	out := make([]*models.Ship, 0)
	for rows.Next() {
		var (
			sh     models.Ship
			images []byte
			raw    []byte
		)
		if err := rows.Scan(
			&sh.ID, &sh.ExternalID, &sh.ContentHash, &sh.Slug, &sh.Name,
			&sh.Manufacturer.Name, &sh.Manufacturer.Code, &sh.Manufacturer.Slug,
			&sh.Classification, &sh.Size, &images, &raw,
			&sh.SyncVersion, &sh.CreatedAt, &sh.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan ship")
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &sh.Images); err != nil {
				return nil, errors.Wrap(err, "decode images")
			}
		}
		if len(raw) > 0 {
			sh.Raw = json.RawMessage(raw)
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func marshalImages(images map[string]string) ([]byte, error) {
	if len(images) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(images)
	if err != nil {
		return nil, errors.Wrap(err, "marshal images")
	}
	return b, nil
}

func rawBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
