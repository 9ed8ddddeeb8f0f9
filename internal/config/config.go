// Package config loads funnelcore settings from defaults, an optional YAML
// file and FUNNEL_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Blob drivers.
const (
	BlobFS     = "fs"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Cache   CacheConfig   `yaml:"cache"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects and tunes the relational backend.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	SQLitePath      string        `yaml:"sqlitePath"`
	PostgresDSN     string        `yaml:"postgresDSN"`
	MySQLDSN        string        `yaml:"mysqlDSN"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	SkipMigrate     bool          `yaml:"skipMigrate"`
}

// BlobConfig selects the document content store.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fsRoot"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures the S3-compatible document store.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// CacheConfig configures the optional timeline cache.
type CacheConfig struct {
	RedisURL    string        `yaml:"redisURL"`
	TimelineTTL time.Duration `yaml:"timelineTTL"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RatePerSecond   float64       `yaml:"ratePerSecond"`
	RateBurst       int           `yaml:"rateBurst"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver:          DriverSQLite,
			SQLitePath:      "funnelcore.db",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Blob: BlobConfig{
			Driver: BlobFS,
			FSRoot: "./data/blobs",
		},
		Cache: CacheConfig{
			TimelineTTL: 10 * time.Minute,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RatePerSecond:   5,
			RateBurst:       10,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the file; a named file
// that cannot be read is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies FUNNEL_* variables read through lookup.
func ApplyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("FUNNEL_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("FUNNEL_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("FUNNEL_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	str("FUNNEL_MYSQL_DSN", &cfg.Storage.MySQLDSN)
	integer("FUNNEL_DB_MAX_OPEN_CONNS", &cfg.Storage.MaxOpenConns)
	integer("FUNNEL_DB_MAX_IDLE_CONNS", &cfg.Storage.MaxIdleConns)
	duration("FUNNEL_DB_CONN_MAX_LIFETIME", &cfg.Storage.ConnMaxLifetime)
	boolean("FUNNEL_SKIP_MIGRATE", &cfg.Storage.SkipMigrate)

	str("FUNNEL_BLOB_DRIVER", &cfg.Blob.Driver)
	str("FUNNEL_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("FUNNEL_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("FUNNEL_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("FUNNEL_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("FUNNEL_BLOB_S3_ACCESS_KEY", &cfg.Blob.S3.AccessKey)
	str("FUNNEL_BLOB_S3_SECRET_KEY", &cfg.Blob.S3.SecretKey)
	boolean("FUNNEL_BLOB_S3_PATH_STYLE", &cfg.Blob.S3.UsePathStyle)

	str("FUNNEL_REDIS_URL", &cfg.Cache.RedisURL)
	duration("FUNNEL_TIMELINE_TTL", &cfg.Cache.TimelineTTL)

	str("FUNNEL_HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup("FUNNEL_RATE_PER_SECOND"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FUNNEL_RATE_PER_SECOND: %w", err))
		} else {
			cfg.HTTP.RatePerSecond = f
		}
	}
	integer("FUNNEL_RATE_BURST", &cfg.HTTP.RateBurst)

	str("FUNNEL_LOG_LEVEL", &cfg.Log.Level)
	boolean("FUNNEL_LOG_DEVELOPMENT", &cfg.Log.Development)

	return errors.Join(errs...)
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlitePath is required for sqlite"))
		}
	case DriverPostgres, DriverMySQL:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case BlobFS, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http rate limit must not be negative"))
	}
	if c.Storage.MaxOpenConns < 0 || c.Storage.MaxIdleConns < 0 {
		errs = append(errs, errors.New("pool sizes must not be negative"))
	}
	return errors.Join(errs...)
}
