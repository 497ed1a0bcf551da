// Package config loads service settings from defaults, an optional YAML file,
// ISOPOSE_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/isopose/isopose/internal/cache"
	"github.com/isopose/isopose/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. ISOPOSE_SERVER_ADDR.
const EnvPrefix = "ISOPOSE"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Models    ModelsConfig    `mapstructure:"models" yaml:"models"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	StaticAddr      string        `mapstructure:"static_addr" yaml:"static_addr"`
	StaticRoot      string        `mapstructure:"static_root" yaml:"static_root"`
	BodyLimit       int64         `mapstructure:"body_limit" yaml:"body_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORS            bool          `mapstructure:"cors" yaml:"cors"`
}

// ModelsConfig locates the ONNX files.
type ModelsConfig struct {
	Pose   string `mapstructure:"pose" yaml:"pose"`
	Policy string `mapstructure:"policy" yaml:"policy"`
	// Strict rejects models with unsupported operators at load time.
	Strict bool `mapstructure:"strict" yaml:"strict"`
}

// InferenceConfig tunes the CPU executor.
type InferenceConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	ImageSize int `mapstructure:"image_size" yaml:"image_size"`
}

// CacheConfig selects the prediction cache.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend" yaml:"backend"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
	Redis      RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig addresses the Redis cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to apply on Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.static_addr", "")
	v.SetDefault("server.static_root", ".")
	v.SetDefault("server.body_limit", 16<<20)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors", true)

	v.SetDefault("models.pose", "pose_model_final.onnx")
	v.SetDefault("models.policy", "isotope_upright_with_xyz_arrows.onnx")
	v.SetDefault("models.strict", true)

	v.SetDefault("inference.workers", runtime.NumCPU())
	v.SetDefault("inference.image_size", 224)

	v.SetDefault("cache.backend", cache.BackendMemory)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.max_entries", 1024)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when non-empty) into v and decodes the merged settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.BodyLimit <= 0 {
		errs = append(errs, fmt.Errorf("server.body_limit must be positive, got %d", c.Server.BodyLimit))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", c.Server.ShutdownTimeout))
	}
	if c.Inference.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("inference.image_size must be positive, got %d", c.Inference.ImageSize))
	}
	switch strings.ToLower(c.Cache.Backend) {
	case cache.BackendMemory, cache.BackendNone:
	case cache.BackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CacheOptions converts the cache section for cache.New.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		Backend:    c.Cache.Backend,
		TTL:        c.Cache.TTL,
		MaxEntries: c.Cache.MaxEntries,
		Redis: cache.RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		},
	}
}
