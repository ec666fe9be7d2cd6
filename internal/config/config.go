// Package config loads service configuration from a YAML file with
// environment overrides for deployment-specific knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"github.com/inquest-ai/inquest/internal/models"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, postgres, sqlite.
	Driver   string `mapstructure:"driver"`
	Postgres struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Database string `mapstructure:"database"`
		SSLMode  string `mapstructure:"ssl_mode"`
	} `mapstructure:"postgres"`
	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`
}

// RedisConfig configures the optional snapshot cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ResearchConfig points at the upstream research service and bounds the
// request rate the scheduler may put on it.
type ResearchConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ExecuteRPS   float64       `mapstructure:"execute_rps"`
	ExecuteBurst int           `mapstructure:"execute_burst"`
	ProposeRPS   float64       `mapstructure:"propose_rps"`
	ProposeBurst int           `mapstructure:"propose_burst"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Store     StoreConfig       `mapstructure:"store"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Research  ResearchConfig    `mapstructure:"research"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Streaming struct {
		RingCapacity int `mapstructure:"ring_capacity"`
	} `mapstructure:"streaming"`
	TreeDefaults models.TreeConfig `mapstructure:"tree_defaults"`
}

// Load reads configuration from CONFIG_PATH (default config/inquest.yaml).
// A missing file is not an error: defaults plus env overrides apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/inquest.yaml"
	}

	v := viper.New()
	setDefaults(v)
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyEnvOverrides(&cfg)

	if err := cfg.TreeDefaults.Validate(); err != nil {
		return nil, fmt.Errorf("tree_defaults: %w", err)
	}
	switch cfg.Store.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("store.driver %q: want memory, postgres, or sqlite", cfg.Store.Driver)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "inquest")
	v.SetDefault("store.postgres.database", "inquest")
	v.SetDefault("store.postgres.ssl_mode", "require")
	v.SetDefault("store.sqlite.path", "inquest.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("research.base_url", "http://localhost:9200")
	v.SetDefault("research.timeout", "60s")
	v.SetDefault("research.execute_rps", 0)
	v.SetDefault("research.execute_burst", 1)
	v.SetDefault("research.propose_rps", 0)
	v.SetDefault("research.propose_burst", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("streaming.ring_capacity", 256)

	def := models.DefaultTreeConfig()
	v.SetDefault("tree_defaults.depth_limit", def.DepthLimit)
	v.SetDefault("tree_defaults.max_nodes", def.MaxNodes)
	v.SetDefault("tree_defaults.parallel_nodes", def.ParallelNodes)
	v.SetDefault("tree_defaults.max_follow_ups_per_node", def.MaxFollowUpsPerNode)
	v.SetDefault("tree_defaults.saturation_threshold", def.SaturationThreshold)
	v.SetDefault("tree_defaults.min_priority_score", def.MinPriorityScore)
	v.SetDefault("tree_defaults.follow_up_types", def.FollowUpTypes)
}

// applyEnvOverrides lets deployments override the knobs that differ per
// environment without shipping a config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Store.Postgres.Host = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Store.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RESEARCH_BASE_URL"); v != "" {
		cfg.Research.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
