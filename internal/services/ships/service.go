package ships

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/FleetSync/internal/broker/messages"
	"github.com/BearBump/FleetSync/internal/cache"
	"github.com/BearBump/FleetSync/internal/models"
)

type Repository interface {
	GetByIDOrSlug(ctx context.Context, key string) (*models.Ship, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Ship, error)
	ListManufacturers(ctx context.Context) ([]models.ManufacturerCount, error)
}

const DefaultMaxBatchSize = 100

var (
	ErrNotFound     = errors.New("ship not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	ttl      time.Duration
	maxBatch int
}

func New(repo Repository, c cache.BytesCache, ttl time.Duration) *Service {
	return &Service{repo: repo, cache: c, ttl: ttl, maxBatch: DefaultMaxBatchSize}
}

func (s *Service) WithMaxBatchSize(n int) *Service {
	if n > 0 {
		s.maxBatch = n
	}
	return s
}

func (s *Service) MaxBatchSize() int { return s.maxBatch }

func (s *Service) cacheOn() bool {
	return s.cache != nil && s.ttl > 0
}

// GetShip ищет по id, externalId или slug.
func (s *Service) GetShip(ctx context.Context, key string) (*models.Ship, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.Wrap(ErrInvalidInput, "id or slug is required")
	}

	if s.cacheOn() {
		if b, ok, err := s.cache.Get(ctx, shipKey(key)); err == nil && ok {
			var sh models.Ship
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}

	sh, err := s.repo.GetByIDOrSlug(ctx, key)
	if err != nil {
		return nil, err
	}
	if sh == nil {
		return nil, ErrNotFound
	}
	s.store(ctx, shipKey(key), sh)
	return sh, nil
}

// GetShips returns ships in the order of ids; unknown ids are left out.
func (s *Service) GetShips(ctx context.Context, ids []string) ([]*models.Ship, error) {
	clean := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return []*models.Ship{}, nil
	}
	if len(clean) > s.maxBatch {
		return nil, errors.Wrapf(ErrInvalidInput, "too many ids (max %d)", s.maxBatch)
	}

	got := make(map[string]*models.Ship, len(clean))
	miss := make([]string, 0, len(clean))
	if s.cacheOn() {
		cached := s.lookupMany(ctx, clean)
		for _, id := range clean {
			b, ok := cached[id]
			if !ok {
				miss = append(miss, id)
				continue
			}
			var sh models.Ship
			if json.Unmarshal(b, &sh) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &sh
		}
	} else {
		miss = clean
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, sh := range fromDB {
			// запрошен мог быть как id, так и externalId
			for _, k := range []string{sh.ID, sh.ExternalID} {
				if _, asked := seen[k]; asked {
					got[k] = sh
					s.store(ctx, shipKey(k), sh)
				}
			}
		}
	}

	out := make([]*models.Ship, 0, len(clean))
	for _, id := range clean {
		if sh, ok := got[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Service) ListManufacturers(ctx context.Context) ([]models.ManufacturerCount, error) {
	if s.cacheOn() {
		if b, ok, err := s.cache.Get(ctx, manufacturersKey); err == nil && ok {
			var out []models.ManufacturerCount
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}
	out, err := s.repo.ListManufacturers(ctx)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.ManufacturerCount{}
	}
	s.store(ctx, manufacturersKey, out)
	return out, nil
}

// ApplyShipChanged drops every cache entry the changed ship could be read under.
func (s *Service) ApplyShipChanged(ctx context.Context, msg messages.ShipChanged) error {
	if msg.ExternalID == "" && msg.ShipID == "" {
		return errors.New("ship_changed: external_id is required")
	}
	if !s.cacheOn() {
		return nil
	}
	keys := make([]string, 0, 4)
	for _, k := range []string{msg.ShipID, msg.ExternalID, msg.Slug, msg.PreviousSlug} {
		if k != "" {
			keys = append(keys, shipKey(k))
		}
	}
	return errors.Wrap(s.cache.Del(ctx, keys...), "invalidate ship")
}

// ApplyCatalogSynced drops aggregated views; counts may have moved.
func (s *Service) ApplyCatalogSynced(ctx context.Context, msg messages.CatalogSynced) error {
	if msg.RunID == "" {
		return errors.New("catalog_synced: run_id is required")
	}
	if !s.cacheOn() {
		return nil
	}
	return errors.Wrap(s.cache.Del(ctx, manufacturersKey), "invalidate manufacturers")
}

// lookupMany reads ship documents for ids, in one round trip when the cache
// can do MGET. A cache error is treated as a full miss.
func (s *Service) lookupMany(ctx context.Context, ids []string) map[string][]byte {
	out := make(map[string][]byte, len(ids))
	if mg, ok := s.cache.(cache.MultiGetter); ok {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = shipKey(id)
		}
		found, err := mg.GetMany(ctx, keys)
		if err != nil {
			return out
		}
		for _, id := range ids {
			if b, ok := found[shipKey(id)]; ok {
				out[id] = b
			}
		}
		return out
	}
	for _, id := range ids {
		if b, ok, err := s.cache.Get(ctx, shipKey(id)); err == nil && ok {
			out[id] = b
		}
	}
	return out
}

// store is best effort: a cache outage only costs a DB round trip.
func (s *Service) store(ctx context.Context, key string, v any) {
	if !s.cacheOn() {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, b, s.ttl)
}

const manufacturersKey = "ships:manufacturers"

func shipKey(k string) string {
	return "ship:" + k
}
