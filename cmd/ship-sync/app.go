package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/BearBump/FleetSync/config"
	"github.com/BearBump/FleetSync/internal/broker/kafka"
	"github.com/BearBump/FleetSync/internal/cache/rediscache"
	"github.com/BearBump/FleetSync/internal/integrations/catalog"
	"github.com/BearBump/FleetSync/internal/integrations/catalog/fake"
	"github.com/BearBump/FleetSync/internal/integrations/catalog/httpcatalog"
	"github.com/BearBump/FleetSync/internal/models"
	"github.com/BearBump/FleetSync/internal/ratelimit"
	"github.com/BearBump/FleetSync/internal/runlock"
	"github.com/BearBump/FleetSync/internal/services/syncer"
	"github.com/BearBump/FleetSync/internal/services/syncstatus"
	"github.com/BearBump/FleetSync/internal/storage/pgships"
	"github.com/BearBump/FleetSync/internal/storage/sqliteships"
)

const (
	lockKey      = "fleetsync:sync:lock"
	rateLimitKey = "fleetsync:catalog:rl"

	defaultInterval      = time.Hour
	defaultRateLimit     = 120
	defaultFakeShipCount = 120
)

// shipStore is what both storage backends provide to the worker.
type shipStore interface {
	syncer.ShipStore
	syncer.RunArchive
	syncstatus.Persisted
	ListRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
	Ping(ctx context.Context) error
}

type syncFactories struct {
	newStorage       func(cfg *config.Config) (store shipStore, closeFn func(), err error)
	newRedis         func(cfg *config.Config) *redis.Client
	newProducer      func(cfg *config.Config) (p syncer.Producer, closeFn func())
	newCatalogClient func(cfg *config.Config, lim catalog.Limiter, onRetry func(page, attempt int, err error)) catalog.Client
}

func defaultSyncFactories() syncFactories {
	return syncFactories{
		newStorage: func(cfg *config.Config) (shipStore, func(), error) {
			if cfg.Storage.Driver == "sqlite" {
				st, err := sqliteships.New(cfg.Storage.SQLitePath)
				if err != nil {
					return nil, nil, err
				}
				return st, st.Close, nil
			}
			st, err := openPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRedis: func(cfg *config.Config) *redis.Client {
			if !cfg.Redis.Enabled() {
				return nil
			}
			return redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		},
		newProducer: func(cfg *config.Config) (syncer.Producer, func()) {
			if !cfg.Kafka.Enabled() {
				return nil, func() {}
			}
			p := kafka.NewProducer([]string{cfg.Kafka.Addr()}, "ship-sync")
			return p, func() { _ = p.Close() }
		},
		newCatalogClient: func(cfg *config.Config, lim catalog.Limiter, onRetry func(page, attempt int, err error)) catalog.Client {
			c := cfg.Catalog
			if c.BaseURL == "" {
				// Без base_url работаем на детерминированном фейковом каталоге.
				slog.Warn("catalog.base_url is empty, using the in-memory catalog")
				return fake.New(fake.Generate(defaultFakeShipCount)...)
			}
			return httpcatalog.New(httpcatalog.Options{
				BaseURL:     strings.TrimRight(c.BaseURL, "/"),
				Path:        c.Path,
				APIKey:      c.APIKey,
				Pagination:  c.Pagination,
				PageParam:   c.PageParam,
				SizeParam:   c.SizeParam,
				FirstPage:   c.FirstPage,
				ItemsPath:   c.ItemsPath,
				HasMorePath: c.HasMorePath,
				Fields: httpcatalog.Fields{
					ExternalID:       c.Fields.ExternalID,
					Slug:             c.Fields.Slug,
					Name:             c.Fields.Name,
					ManufacturerName: c.Fields.ManufacturerName,
					ManufacturerCode: c.Fields.ManufacturerCode,
					ManufacturerSlug: c.Fields.ManufacturerSlug,
					Classification:   c.Fields.Classification,
					Size:             c.Fields.Size,
					Images:           c.Fields.Images,
				},
				Timeout: time.Duration(c.TimeoutSeconds) * time.Second,
				Retry:   retryPolicy(c),
				Limiter: lim,
				OnRetry: onRetry,
			})
		},
	}
}

func openPostgresWithRetry(connString string, wait time.Duration) (*pgships.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgships.New(connString)
		if err == nil {
			return st, nil
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
}

func retryPolicy(c config.CatalogConfig) catalog.RetryPolicy {
	return catalog.ExponentialPolicy(
		c.RetryMaxAttempts,
		time.Duration(c.RetryInitialBackoffMs)*time.Millisecond,
		time.Duration(c.RetryMaxBackoffMs)*time.Millisecond,
	)
}

func settingsFromConfig(cfg *config.Config) syncer.Settings {
	return syncer.Settings{
		PageSize:               cfg.Catalog.PageSize,
		MaxPages:               cfg.Catalog.MaxPages,
		MaxConsecutiveFailures: cfg.Sync.MaxConsecutiveFailures,
		MaxErrors:              cfg.Sync.MaxErrors,
		RunTimeout:             time.Duration(cfg.Sync.RunTimeoutSeconds) * time.Second,
		UpsertConcurrency:      cfg.Sync.UpsertConcurrency,
		ShipChangedTopic:       cfg.Kafka.ShipChangedTopicName,
		CatalogSyncedTopic:     cfg.Kafka.CatalogSyncedTopicName,
	}
}

type syncApp struct {
	cfg      *config.Config
	store    shipStore
	redis    *redis.Client
	status   *syncstatus.Store
	lock     runlock.Lock
	metrics  *syncer.Metrics
	orch     *syncer.Orchestrator
	sched    *syncer.Scheduler
	closeFns []func()
}

func buildSyncApp(cfg *config.Config, f syncFactories) (*syncApp, error) {
	if cfg.Kafka.Enabled() {
		if cfg.Kafka.ShipChangedTopicName == "" {
			cfg.Kafka.ShipChangedTopicName = "ship.changed"
		}
		if cfg.Kafka.CatalogSyncedTopicName == "" {
			cfg.Kafka.CatalogSyncedTopicName = "catalog.synced"
		}
	}

	store, closeStore, err := f.newStorage(cfg)
	if err != nil {
		return nil, err
	}
	a := &syncApp{cfg: cfg, store: store}
	if closeStore != nil {
		a.closeFns = append(a.closeFns, closeStore)
	}

	a.redis = f.newRedis(cfg)
	if a.redis != nil {
		rc := a.redis
		a.closeFns = append(a.closeFns, func() { _ = rc.Close() })
	}

	settings := syncer.DefaultSettings()
	orchSettings := settingsFromConfig(cfg)
	runTimeout := settings.RunTimeout
	if orchSettings.RunTimeout > 0 {
		runTimeout = orchSettings.RunTimeout
	}

	perMinute := cfg.Catalog.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = defaultRateLimit
	}
	var lim catalog.Limiter = ratelimit.NewLocal(perMinute)
	if cfg.Catalog.RateLimitBackend == "redis" {
		if a.redis == nil {
			a.Close()
			return nil, errors.New("redis rate limiter requested but redis is not configured")
		}
		lim = ratelimit.NewWindow(rediscache.NewRateLimiterWithClient(a.redis), rateLimitKey, perMinute)
	}

	stale := time.Duration(cfg.Sync.LockStaleSeconds) * time.Second
	if stale <= 0 {
		stale = 2 * runTimeout
	}
	a.lock = runlock.NewLocal(stale)
	if cfg.Sync.LockBackend == "redis" {
		if a.redis == nil {
			a.Close()
			return nil, errors.New("redis run lock requested but redis is not configured")
		}
		a.lock = runlock.NewRedis(a.redis, lockKey, stale)
	}

	a.metrics = syncer.NewMetrics()
	m := a.metrics
	client := f.newCatalogClient(cfg, lim, func(int, int, error) { m.IncRetry() })

	a.status = syncstatus.New(store, time.Duration(cfg.Sync.StatusCacheSeconds)*time.Second)

	a.orch = syncer.New(client, store, a.status, a.lock).
		WithSettings(orchSettings).
		WithArchive(store).
		WithMetrics(a.metrics)

	if producer, closeProducer := f.newProducer(cfg); producer != nil {
		a.orch.WithProducer(producer)
		a.closeFns = append(a.closeFns, closeProducer)
	}

	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	a.sched = syncer.NewScheduler(a.orch, interval).WithRunOnStart(cfg.Sync.RunOnStart)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *syncApp) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *syncApp) ready(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
	}
	return nil
}
