package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FleetSync/config"
	"github.com/BearBump/FleetSync/internal/api/shipsapi"
	"github.com/BearBump/FleetSync/internal/broker/kafka"
	"github.com/BearBump/FleetSync/internal/cache"
	"github.com/BearBump/FleetSync/internal/cache/rediscache"
	"github.com/BearBump/FleetSync/internal/services/ships"
	"github.com/BearBump/FleetSync/internal/services/syncstatus"
	"github.com/BearBump/FleetSync/internal/storage/pgships"
	"github.com/BearBump/FleetSync/internal/storage/sqliteships"
)

const cacheKeyPrefix = "fleetsync:api:"

// readStore is what ship-api needs from either storage backend.
type readStore interface {
	ships.Repository
	syncstatus.Persisted
	Close()
}

type shipAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shipAPIOpts
	api      *shipsapi.ShipsAPI
	svc      *ships.Service
	status   *syncstatus.Store
	cons     consumers
	closeFns []func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	logger, closeLog := config.SetupLogger(cfg.Logging.File, config.ParseLogLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	st := mustOpenStore(cfg)
	app := &shipAPIApp{closeFns: []func(){func() { _ = closeLog() }, st.Close}}

	var c cache.BytesCache
	if cfg.Redis.Enabled() {
		rc := rediscache.New(cfg.Redis.Addr()).WithPrefix(cacheKeyPrefix)
		c = rc
		app.closeFns = append(app.closeFns, func() { _ = rc.Close() })
	}

	app.opts = optsFromConfig(cfg, swaggerPath)
	cacheTTL := time.Duration(cfg.API.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	app.svc = ships.New(st, c, cacheTTL).WithMaxBatchSize(cfg.API.MaxBatchSize)
	app.status = syncstatus.New(st, time.Duration(cfg.Sync.StatusCacheSeconds)*time.Second)

	maxAge := time.Duration(cfg.Sync.StatusMaxAgeSeconds) * time.Second
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	swr := time.Duration(cfg.Sync.StatusSWRSeconds) * time.Second
	if swr <= 0 {
		swr = 2 * maxAge
	}
	app.api = shipsapi.New(app.svc, app.status).WithStatusCacheControl(maxAge, swr)

	if cfg.Kafka.Enabled() {
		brokers := []string{cfg.Kafka.Addr()}
		sc := kafka.NewConsumer(brokers, app.opts.shipChangedTopic, app.opts.consumerGroup)
		cs := kafka.NewConsumer(brokers, app.opts.catalogSyncedTopic, app.opts.consumerGroup)
		app.cons = consumers{shipChanged: sc, catalogSynced: cs}
		app.closeFns = append(app.closeFns, func() { _ = sc.Close() }, func() { _ = cs.Close() })
	}

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

func optsFromConfig(cfg *config.Config, swaggerPath string) shipAPIOpts {
	grpcAddr := cfg.API.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.API.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.API.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "ship-api"
	}
	shipChanged := cfg.Kafka.ShipChangedTopicName
	if shipChanged == "" {
		shipChanged = "ship.changed"
	}
	catalogSynced := cfg.Kafka.CatalogSyncedTopicName
	if catalogSynced == "" {
		catalogSynced = "catalog.synced"
	}
	return shipAPIOpts{
		grpcAddr:           grpcAddr,
		httpAddr:           httpAddr,
		grpcDialAddr:       grpcAddr,
		swaggerPath:        swaggerPath,
		shipChangedTopic:   shipChanged,
		catalogSyncedTopic: catalogSynced,
		consumerGroup:      consumerGroup,
	}
}

func mustOpenStore(cfg *config.Config) readStore {
	if cfg.Storage.Driver == "sqlite" {
		st, err := sqliteships.New(cfg.Storage.SQLitePath)
		if err != nil {
			panic(err)
		}
		return st
	}
	return mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgships.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgships.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.api, a.svc, a.status, a.cons)
}
