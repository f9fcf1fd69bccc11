package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/storage"
)

const (
	defaultListenAddr = ":8080"
	defaultStorageDir = "depotjobs-data"
	defaultSQLitePath = "depotjobs.db"

	envListenAddr    = "DEPOTJOBS_LISTEN_ADDR"
	envLogLevel      = "DEPOTJOBS_LOG_LEVEL"
	envConfigFile    = "DEPOTJOBS_CONFIG_FILE"
	envWorkers       = "DEPOTJOBS_WORKERS"
	envQueueCapacity = "DEPOTJOBS_QUEUE_CAPACITY"
	envJobTTL        = "DEPOTJOBS_JOB_TTL"
	envOrphanDataTTL = "DEPOTJOBS_ORPHAN_DATA_TTL"
	envSweepInterval = "DEPOTJOBS_SWEEP_INTERVAL"
	envStorage       = "DEPOTJOBS_STORAGE"
	envStorageDir    = "DEPOTJOBS_STORAGE_DIR"
	envSQLitePath    = "DEPOTJOBS_SQLITE_PATH"
	envPostgresURL   = "DEPOTJOBS_POSTGRES_URL"
	envMinioEndpoint = "DEPOTJOBS_MINIO_ENDPOINT"
	envMinioAccess   = "DEPOTJOBS_MINIO_ACCESS_KEY"
	envMinioSecret   = "DEPOTJOBS_MINIO_SECRET_KEY"
	envMinioRegion   = "DEPOTJOBS_MINIO_REGION"
	envMinioBucket   = "DEPOTJOBS_MINIO_BUCKET"
	envMinioUseSSL   = "DEPOTJOBS_MINIO_USE_SSL"
)

// Storage backend names.
const (
	StorageMemory     = "memory"
	StorageFilesystem = "filesystem"
	StorageSQLite     = "sqlite"
	StoragePostgres   = "postgres"
	StorageMinio      = "minio"
)

// Config holds application configuration. Values come from defaults, then
// the optional YAML file, then environment variables.
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	LogLevel   slog.Level    `yaml:"-"`
	Engine     EngineConfig  `yaml:"engine"`
	Storage    StorageConfig `yaml:"storage"`
}

// EngineConfig sizes the job engine.
type EngineConfig struct {
	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	JobTTL        time.Duration `yaml:"job_ttl"`
	OrphanDataTTL time.Duration `yaml:"orphan_data_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Options converts the configuration to engine options.
func (c EngineConfig) Options() engine.Options {
	return engine.Options{
		Workers:       c.Workers,
		QueueCapacity: c.QueueCapacity,
		JobTTL:        c.JobTTL,
		OrphanDataTTL: c.OrphanDataTTL,
		SweepInterval: c.SweepInterval,
	}
}

// StorageConfig selects and configures the job data backend.
type StorageConfig struct {
	Backend     string              `yaml:"backend"`
	Dir         string              `yaml:"dir"`
	SQLitePath  string              `yaml:"sqlite_path"`
	PostgresURL string              `yaml:"postgres_url"`
	Minio       storage.MinioConfig `yaml:"minio"`
}

// fileConfig mirrors Config for YAML, with the log level as a string.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		LogLevel:   slog.LevelInfo,
		Engine: EngineConfig{
			Workers:       engine.DefaultWorkers,
			QueueCapacity: engine.DefaultQueueCapacity,
			JobTTL:        engine.DefaultJobTTL,
			OrphanDataTTL: engine.DefaultOrphanDataTTL,
			SweepInterval: engine.DefaultSweepInterval,
		},
		Storage: StorageConfig{
			Backend:    StorageMemory,
			Dir:        defaultStorageDir,
			SQLitePath: defaultSQLitePath,
		},
	}
}

// Load reads the configuration file named by DEPOTJOBS_CONFIG_FILE, if any,
// applies environment overrides and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(envConfigFile))
}

// LoadFrom is Load with an explicit configuration file. An empty path skips
// the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var err error
		if cfg, err = LoadFile(cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto base. Keys missing from the
// file keep their value from base.
func LoadFile(base Config, path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: base}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg := fc.Config
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	var errs []error
	intEnv(envWorkers, &cfg.Engine.Workers, &errs)
	intEnv(envQueueCapacity, &cfg.Engine.QueueCapacity, &errs)
	durationEnv(envJobTTL, &cfg.Engine.JobTTL, &errs)
	durationEnv(envOrphanDataTTL, &cfg.Engine.OrphanDataTTL, &errs)
	durationEnv(envSweepInterval, &cfg.Engine.SweepInterval, &errs)

	stringEnv(envStorage, &cfg.Storage.Backend)
	stringEnv(envStorageDir, &cfg.Storage.Dir)
	stringEnv(envSQLitePath, &cfg.Storage.SQLitePath)
	stringEnv(envPostgresURL, &cfg.Storage.PostgresURL)
	stringEnv(envMinioEndpoint, &cfg.Storage.Minio.Endpoint)
	stringEnv(envMinioAccess, &cfg.Storage.Minio.AccessKey)
	stringEnv(envMinioSecret, &cfg.Storage.Minio.SecretKey)
	stringEnv(envMinioRegion, &cfg.Storage.Minio.Region)
	stringEnv(envMinioBucket, &cfg.Storage.Minio.Bucket)
	if v := os.Getenv(envMinioUseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envMinioUseSSL, err))
		} else {
			cfg.Storage.Minio.UseSSL = b
		}
	}
	return errors.Join(errs...)
}

func stringEnv(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intEnv(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func durationEnv(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Engine.Workers))
	}
	if c.Engine.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("queue capacity must be at least 1, got %d", c.Engine.QueueCapacity))
	}
	if c.Engine.JobTTL <= 0 {
		errs = append(errs, fmt.Errorf("job ttl must be positive, got %s", c.Engine.JobTTL))
	}
	if c.Engine.OrphanDataTTL <= 0 {
		errs = append(errs, fmt.Errorf("orphan data ttl must be positive, got %s", c.Engine.OrphanDataTTL))
	}
	if c.Engine.SweepInterval == 0 {
		errs = append(errs, errors.New("sweep interval must be non-zero; use a negative value to disable"))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the settings the selected backend needs.
func (s StorageConfig) Validate() error {
	switch s.Backend {
	case StorageMemory:
		return nil
	case StorageFilesystem:
		if s.Dir == "" {
			return errors.New("filesystem storage needs a directory")
		}
	case StorageSQLite:
		if s.SQLitePath == "" {
			return errors.New("sqlite storage needs a database path")
		}
	case StoragePostgres:
		if s.PostgresURL == "" {
			return errors.New("postgres storage needs a connection url")
		}
	case StorageMinio:
		if err := s.Minio.Validate(); err != nil {
			return fmt.Errorf("minio storage: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	return nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
