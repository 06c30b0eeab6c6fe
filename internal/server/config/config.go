package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

// Storage and history backends.
const (
	BackendFilesystem = "filesystem"
	BackendMinio      = "minio"
	BackendMemory     = "memory"
	BackendRedis      = "redis"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Registry RegistryConfig `mapstructure:"registry"`
	History  HistoryConfig  `mapstructure:"history"`
	Session  SessionConfig  `mapstructure:"session"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// BaseURL prefixes download links. Empty means derive it from the
	// request.
	BaseURL         string        `mapstructure:"base_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Minio   MinioConfig `mapstructure:"minio"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
}

type UploadConfig struct {
	MaxBytes       int64   `mapstructure:"max_bytes"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type RegistryConfig struct {
	// TTL of zero keeps transfers for the life of the process.
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	MaxMintAttempts int           `mapstructure:"max_mint_attempts"`
	RetiredCapacity uint          `mapstructure:"retired_capacity"`
}

type HistoryConfig struct {
	Backend    string        `mapstructure:"backend"`
	MaxRecords int           `mapstructure:"max_records"`
	TTL        time.Duration `mapstructure:"ttl"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SessionConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	// Secret signs session cookies. Empty means a random secret per process.
	Secret string        `mapstructure:"secret"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

type NATSConfig struct {
	// URL of zero length disables event publishing.
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Subject  string `mapstructure:"subject"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional config.yaml, a local
// .env file and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "6789")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.backend", BackendFilesystem)
	v.SetDefault("storage.path", "./storage/files")
	v.SetDefault("storage.minio.endpoint", "localhost:9000")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "relay")
	v.SetDefault("storage.minio.prefix", "")
	v.SetDefault("storage.minio.region", "")

	v.SetDefault("upload.max_bytes", int64(8)*1024*1024*1024) // 8GB
	v.SetDefault("upload.rate_limit_rps", 10.0)
	v.SetDefault("upload.rate_limit_burst", 20)

	v.SetDefault("registry.ttl", time.Duration(0))
	v.SetDefault("registry.sweep_interval", time.Hour)
	v.SetDefault("registry.max_mint_attempts", 16)
	v.SetDefault("registry.retired_capacity", uint(1_000_000))

	v.SetDefault("history.backend", BackendMemory)
	v.SetDefault("history.max_records", 100)
	v.SetDefault("history.ttl", 24*time.Hour)
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.password", "")
	v.SetDefault("history.redis.db", 0)

	v.SetDefault("session.cookie_name", "relay_session")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.max_age", 30*24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.subject", "relay")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindLegacyEnv keeps the unprefixed variable names working. The prefixed
// name wins when both are set.
func bindLegacyEnv(v *viper.Viper) {
	v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")
	v.BindEnv("server.base_url", "RELAY_SERVER_BASE_URL", "BASE_URL")
	v.BindEnv("storage.path", "RELAY_STORAGE_PATH", "STORAGE_PATH")
	v.BindEnv("upload.max_bytes", "RELAY_UPLOAD_MAX_BYTES", "MAX_UPLOAD_BYTES")
	v.BindEnv("history.redis.addr", "RELAY_HISTORY_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("nats.url", "RELAY_NATS_URL", "NATS_URL")
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	switch c.Storage.Backend {
	case BackendFilesystem:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path must be set"))
		}
	case BackendMinio:
		if c.Storage.Minio.Bucket == "" {
			errs = append(errs, errors.New("storage.minio.bucket must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.History.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown history.backend %q", c.History.Backend))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	if c.Upload.RateLimitRPS < 0 || c.Upload.RateLimitBurst < 0 {
		errs = append(errs, errors.New("upload rate limit must not be negative"))
	}
	if c.Registry.TTL < 0 {
		errs = append(errs, errors.New("registry.ttl must not be negative"))
	}
	if c.Registry.TTL > 0 && c.Registry.SweepInterval <= 0 {
		errs = append(errs, errors.New("registry.sweep_interval must be positive when registry.ttl is set"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
