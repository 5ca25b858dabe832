package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Sync     SyncConfig     `yaml:"sync"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString builds a pgx connection string, defaulting sslmode to "disable".
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type StorageConfig struct {
	Driver     string `yaml:"driver"` // "postgres" | "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	ShipChangedTopicName   string `yaml:"ship_changed_topic_name"`
	CatalogSyncedTopicName string `yaml:"catalog_synced_topic_name"`
}

func (k KafkaConfig) Enabled() bool {
	return k.Host != "" && k.Port > 0
}

func (k KafkaConfig) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Enabled() bool {
	return r.Host != "" && r.Port > 0
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CatalogConfig struct {
	BaseURL string `yaml:"base_url"`
	Path    string `yaml:"path"`
	APIKey  string `yaml:"api_key"`

	Pagination  string `yaml:"pagination"` // "page" | "offset"
	PageParam   string `yaml:"page_param"`
	SizeParam   string `yaml:"size_param"`
	PageSize    int    `yaml:"page_size"`
	FirstPage   int    `yaml:"first_page"`
	MaxPages    int    `yaml:"max_pages"`
	ItemsPath   string `yaml:"items_path"`
	HasMorePath string `yaml:"has_more_path"`

	// gjson paths inside a single item; empty means the built-in default.
	Fields CatalogFieldsConfig `yaml:"fields"`

	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	RateLimitBackend   string `yaml:"rate_limit_backend"` // "local" | "redis"

	RetryMaxAttempts      int `yaml:"retry_max_attempts"`
	RetryInitialBackoffMs int `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int `yaml:"retry_max_backoff_ms"`
}

type CatalogFieldsConfig struct {
	ExternalID       string `yaml:"external_id"`
	Slug             string `yaml:"slug"`
	Name             string `yaml:"name"`
	ManufacturerName string `yaml:"manufacturer_name"`
	ManufacturerCode string `yaml:"manufacturer_code"`
	ManufacturerSlug string `yaml:"manufacturer_slug"`
	Classification   string `yaml:"classification"`
	Size             string `yaml:"size"`
	Images           string `yaml:"images"`
}

type SyncConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	IntervalSeconds        int  `yaml:"interval_seconds"`
	RunOnStart             bool `yaml:"run_on_start"`
	RunTimeoutSeconds      int  `yaml:"run_timeout_seconds"`
	MaxConsecutiveFailures int  `yaml:"max_consecutive_failures"`
	MaxErrors              int  `yaml:"max_errors"`
	UpsertConcurrency      int  `yaml:"upsert_concurrency"`

	LockBackend      string `yaml:"lock_backend"` // "local" | "redis"
	LockStaleSeconds int    `yaml:"lock_stale_seconds"`

	TriggerSecret string `yaml:"trigger_secret"`

	StatusMaxAgeSeconds int `yaml:"status_max_age_seconds"`
	StatusSWRSeconds    int `yaml:"status_swr_seconds"`
	StatusCacheSeconds  int `yaml:"status_cache_seconds"`
}

type APIConfig struct {
	GRPCAddr           string `yaml:"grpc_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	CacheTTLSeconds    int    `yaml:"cache_ttl_seconds"`
	MaxBatchSize       int    `yaml:"max_batch_size"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate rejects incoherent values. Zero values are allowed everywhere:
// the binaries replace them with defaults.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be postgres or sqlite, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
	}

	cat := c.Catalog
	switch cat.Pagination {
	case "", "page", "offset":
	default:
		return fmt.Errorf("catalog.pagination must be page or offset, got %q", cat.Pagination)
	}
	switch cat.RateLimitBackend {
	case "", "local", "redis":
	default:
		return fmt.Errorf("catalog.rate_limit_backend must be local or redis, got %q", cat.RateLimitBackend)
	}
	if cat.RateLimitBackend == "redis" && !c.Redis.Enabled() {
		return fmt.Errorf("catalog.rate_limit_backend=redis requires redis settings")
	}
	if cat.PageSize < 0 || cat.MaxPages < 0 || cat.TimeoutSeconds < 0 || cat.RateLimitPerMinute < 0 {
		return fmt.Errorf("catalog sizes and limits cannot be negative")
	}
	if cat.RetryMaxAttempts < 0 || cat.RetryInitialBackoffMs < 0 || cat.RetryMaxBackoffMs < 0 {
		return fmt.Errorf("catalog retry settings cannot be negative")
	}
	if cat.RetryMaxBackoffMs > 0 && cat.RetryInitialBackoffMs > cat.RetryMaxBackoffMs {
		return fmt.Errorf("catalog.retry_initial_backoff_ms (%d) cannot exceed retry_max_backoff_ms (%d)",
			cat.RetryInitialBackoffMs, cat.RetryMaxBackoffMs)
	}

	s := c.Sync
	switch s.LockBackend {
	case "", "local", "redis":
	default:
		return fmt.Errorf("sync.lock_backend must be local or redis, got %q", s.LockBackend)
	}
	if s.LockBackend == "redis" && !c.Redis.Enabled() {
		return fmt.Errorf("sync.lock_backend=redis requires redis settings")
	}
	if s.IntervalSeconds < 0 || s.RunTimeoutSeconds < 0 || s.MaxConsecutiveFailures < 0 ||
		s.MaxErrors < 0 || s.UpsertConcurrency < 0 || s.LockStaleSeconds < 0 {
		return fmt.Errorf("sync settings cannot be negative")
	}

	if c.API.MaxBatchSize < 0 || c.API.CacheTTLSeconds < 0 {
		return fmt.Errorf("api settings cannot be negative")
	}
	return nil
}
