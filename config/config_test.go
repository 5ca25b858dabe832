package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
storage:
  driver: "postgres"
kafka:
  host: "localhost"
  port: 9092
  ship_changed_topic_name: "ship.changed"
  catalog_synced_topic_name: "catalog.synced"
redis:
  host: "localhost"
  port: 6379
catalog:
  base_url: "https://api.fleetyards.net"
  path: "/v1/models"
  pagination: "page"
  page_size: 50
  max_pages: 40
  rate_limit_per_minute: 60
  rate_limit_backend: "redis"
  retry_max_attempts: 3
  retry_initial_backoff_ms: 200
  retry_max_backoff_ms: 2000
  fields:
    external_id: "id"
sync:
  http_addr: ":8082"
  interval_seconds: 21600
  lock_backend: "redis"
  lock_stale_seconds: 1800
  trigger_secret: "s3cret"
api:
  grpc_addr: ":50051"
  http_addr: ":8080"
  max_batch_size: 100
logging:
  level: "debug"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "ship.changed", cfg.Kafka.ShipChangedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, "/v1/models", cfg.Catalog.Path)
	require.Equal(t, "id", cfg.Catalog.Fields.ExternalID)
	require.Equal(t, 21600, cfg.Sync.IntervalSeconds)
	require.Equal(t, "s3cret", cfg.Sync.TriggerSecret)
	require.Equal(t, ":8080", cfg.API.HTTPAddr)
	require.Equal(t, "postgres://u:p@localhost:5432/db?sslmode=disable", cfg.Database.ConnString())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidEnum(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte("catalog:\n  pagination: cursor\n"), 0o600))
	_, err := LoadConfig(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "pagination")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "zero config is valid", cfg: Config{}},
		{
			name:    "sqlite without path",
			cfg:     Config{Storage: StorageConfig{Driver: "sqlite"}},
			wantErr: "sqlite_path",
		},
		{
			name:    "redis lock without redis",
			cfg:     Config{Sync: SyncConfig{LockBackend: "redis"}},
			wantErr: "lock_backend",
		},
		{
			name:    "redis limiter without redis",
			cfg:     Config{Catalog: CatalogConfig{RateLimitBackend: "redis"}},
			wantErr: "rate_limit_backend",
		},
		{
			name:    "backoff initial above max",
			cfg:     Config{Catalog: CatalogConfig{RetryInitialBackoffMs: 500, RetryMaxBackoffMs: 100}},
			wantErr: "cannot exceed",
		},
		{
			name:    "negative sync setting",
			cfg:     Config{Sync: SyncConfig{MaxErrors: -1}},
			wantErr: "negative",
		},
		{
			name:    "negative batch size",
			cfg:     Config{API: APIConfig{MaxBatchSize: -5}},
			wantErr: "negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLoggerWithWriters_Fanout(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("sync finished", "status", "success")
	logger.Debug("hidden")

	require.Contains(t, stderr.String(), "sync finished")
	require.Contains(t, file.String(), `"status":"success"`)
	require.NotContains(t, file.String(), "hidden")
}

func TestSetupLogger_FileAndCleanup(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sync.log")
	logger, cleanup := SetupLogger(p, slog.LevelDebug)
	logger.Info("hello")
	require.NoError(t, cleanup())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLogLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLogLevel("WARNING"))
	require.Equal(t, slog.LevelError, ParseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLogLevel(""))
}
