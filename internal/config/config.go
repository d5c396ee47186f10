// Package config resolves runtime configuration in priority order:
// defaults -> YAML file -> .env file -> process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "ECOPULSE_CONFIG"

// Record backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendRedis    = "redis"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Records   RecordsConfig   `yaml:"records"`
	Models    ModelsConfig    `yaml:"models"`
	WAL       WALConfig       `yaml:"wal"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	// TrustedProxies may set X-Forwarded-For; others are keyed by address.
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

// RecordsConfig selects where trips and bills live.
type RecordsConfig struct {
	Backend     string `yaml:"backend"` // sqlite | postgres | memory
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ModelsConfig selects where trained models live.
type ModelsConfig struct {
	Backend       string `yaml:"backend"` // file | redis | postgres | memory
	Dir           string `yaml:"dir"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	// CacheSize decoded models are kept in memory for CacheTTL; 0 disables.
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// WALConfig: an empty Dir disables the ingestion log.
type WALConfig struct {
	Dir string `yaml:"dir"`
}

// DedupConfig selects where applied WAL entry keys live. An empty Backend
// keeps them beside the records (a table in the same sqlite or postgres
// database, or memory), so keys and records are kept or lost together.
type DedupConfig struct {
	Backend      string        `yaml:"backend"` // "" | memory | redis
	SnapshotPath string        `yaml:"snapshot_path"`
	TTL          time.Duration `yaml:"ttl"`
}

// KafkaConfig: no brokers means events are dropped.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
	Dir    string `yaml:"dir"`
}

type RateLimitConfig struct {
	PerSecond  float64 `yaml:"per_second"`
	Burst      int     `yaml:"burst"`
	MaxClients int     `yaml:"max_clients"`
}

// MetricsConfig: /metrics requires basic auth when both fields are set.
type MetricsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"http://localhost:5173"},
		},
		Records: RecordsConfig{
			Backend:    BackendSQLite,
			SQLitePath: "data/ecopulse.db",
		},
		Models: ModelsConfig{
			Backend:   BackendFile,
			Dir:       "models",
			RedisAddr: "localhost:6379",
			CacheSize: 256,
			CacheTTL:  10 * time.Minute,
		},
		WAL: WALConfig{Dir: "data/wal"},
		Kafka: KafkaConfig{
			Topic: "ecopulse.events",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
			Environment:  "development",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		RateLimit: RateLimitConfig{
			PerSecond:  10,
			Burst:      20,
			MaxClients: 10000,
		},
	}
}

// Load reads the YAML file named by ECOPULSE_CONFIG (if set), then .env,
// then the environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(EnvConfigPath), ".env")
}

// LoadFrom resolves configuration from an optional YAML file and an
// optional dotenv file. A missing dotenv file is not an error; a missing
// YAML file that was asked for is.
func LoadFrom(yamlPath, envPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if envPath != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Port = envInt("PORT", cfg.HTTP.Port)
	cfg.HTTP.ReadTimeout = envDuration("HTTP_READ_TIMEOUT", cfg.HTTP.ReadTimeout)
	cfg.HTTP.WriteTimeout = envDuration("HTTP_WRITE_TIMEOUT", cfg.HTTP.WriteTimeout)
	cfg.HTTP.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)
	cfg.HTTP.CORSOrigins = envCSV("CORS_ORIGINS", cfg.HTTP.CORSOrigins)
	cfg.HTTP.TrustedProxies = envCSV("TRUSTED_PROXIES", cfg.HTTP.TrustedProxies)

	cfg.Records.Backend = strings.ToLower(envOrDefault("RECORDS_BACKEND", cfg.Records.Backend))
	cfg.Records.SQLitePath = envOrDefault("SQLITE_PATH", cfg.Records.SQLitePath)
	cfg.Records.PostgresDSN = envOrDefault("DATABASE_URL", cfg.Records.PostgresDSN)

	cfg.Models.Backend = strings.ToLower(envOrDefault("MODEL_BACKEND", cfg.Models.Backend))
	cfg.Models.Dir = envOrDefault("MODEL_DIR", cfg.Models.Dir)
	cfg.Models.RedisAddr = envOrDefault("REDIS_ADDR", cfg.Models.RedisAddr)
	cfg.Models.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.Models.RedisPassword)
	cfg.Models.RedisDB = envInt("REDIS_DB", cfg.Models.RedisDB)
	cfg.Models.PostgresDSN = envOrDefault("MODEL_DATABASE_URL", envOrDefault("DATABASE_URL", cfg.Models.PostgresDSN))
	cfg.Models.CacheSize = envInt("MODEL_CACHE_SIZE", cfg.Models.CacheSize)
	cfg.Models.CacheTTL = envDuration("MODEL_CACHE_TTL", cfg.Models.CacheTTL)

	cfg.WAL.Dir = envOrDefault("WAL_DIR", cfg.WAL.Dir)

	cfg.Dedup.Backend = strings.ToLower(envOrDefault("DEDUP_BACKEND", cfg.Dedup.Backend))
	cfg.Dedup.SnapshotPath = envOrDefault("DEDUP_SNAPSHOT", cfg.Dedup.SnapshotPath)
	cfg.Dedup.TTL = envDuration("DEDUP_TTL", cfg.Dedup.TTL)

	cfg.Kafka.Brokers = envCSV("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = envOrDefault("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Tracing.Endpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = envFloat("OTEL_SAMPLING_RATE", cfg.Tracing.SamplingRate)
	cfg.Tracing.Environment = envOrDefault("ENVIRONMENT", cfg.Tracing.Environment)

	cfg.Log.Level = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.Log.Format))
	cfg.Log.Dir = envOrDefault("LOG_DIR", cfg.Log.Dir)

	cfg.RateLimit.PerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimit.PerSecond)
	cfg.RateLimit.Burst = envInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.MaxClients = envInt("RATE_LIMIT_MAX_CLIENTS", cfg.RateLimit.MaxClients)

	cfg.Metrics.Username = envOrDefault("METRICS_USER", cfg.Metrics.Username)
	cfg.Metrics.Password = envOrDefault("METRICS_PASS", cfg.Metrics.Password)
}

// Validate checks backend names and the settings each backend needs.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	for _, proxy := range c.HTTP.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("invalid trusted proxy %q", proxy)
		}
	}

	switch c.Records.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Records.SQLitePath == "" {
			return fmt.Errorf("sqlite records backend requires sqlite_path")
		}
	case BackendPostgres:
		if c.Records.PostgresDSN == "" {
			return fmt.Errorf("postgres records backend requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown records backend %q", c.Records.Backend)
	}

	switch c.Models.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Models.Dir == "" {
			return fmt.Errorf("file model backend requires MODEL_DIR")
		}
	case BackendRedis:
		if c.Models.RedisAddr == "" {
			return fmt.Errorf("redis model backend requires REDIS_ADDR")
		}
	case BackendPostgres:
		if c.Models.PostgresDSN == "" {
			return fmt.Errorf("postgres model backend requires MODEL_DATABASE_URL or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown model backend %q", c.Models.Backend)
	}

	switch c.Dedup.Backend {
	case "", BackendMemory:
	case BackendRedis:
		if c.Models.RedisAddr == "" {
			return fmt.Errorf("redis dedup backend requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Dedup.TTL < 0 {
		return fmt.Errorf("dedup ttl must not be negative")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("sampling rate must be in [0, 1], got %v", c.Tracing.SamplingRate)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
