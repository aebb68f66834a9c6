// Package config provides unified configuration loading for the
// orchestration core: defaults, YAML file, then environment overrides, in
// that precedence order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pwi-labs/autoflow/engine"
	"github.com/pwi-labs/autoflow/persistence"
	"github.com/pwi-labs/autoflow/types"
)

// BusConfig configures the message bus.
type BusConfig struct {
	// MaxQueueSize bounds the retained message history
	MaxQueueSize int `yaml:"max_queue_size"`
	// RequestTimeout is the default request/response timeout
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PersistMessages mirrors published messages into the store
	PersistMessages bool `yaml:"persist_messages"`
}

// RegistryConfig configures the agent registry.
type RegistryConfig struct {
	MaxAgentsPerType int           `yaml:"max_agents_per_type"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
}

// CheckpointConfig configures the checkpoint manager.
type CheckpointConfig struct {
	WorkDir        string   `yaml:"work_dir"`
	BackupDir      string   `yaml:"backup_dir"`
	BackupPaths    []string `yaml:"backup_paths"`
	DisableBackup  bool     `yaml:"disable_backup"`
	MaxCheckpoints int      `yaml:"max_checkpoints"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Development switches to the human-readable console encoder
	Development bool `yaml:"development"`
}

// Config is the complete configuration of the orchestration core.
type Config struct {
	Log        LogConfig               `yaml:"log"`
	Store      persistence.StoreConfig `yaml:"store"`
	Engine     engine.Config           `yaml:"engine"`
	Bus        BusConfig               `yaml:"bus"`
	Registry   RegistryConfig          `yaml:"registry"`
	Checkpoint CheckpointConfig        `yaml:"checkpoint"`
	Metrics    MetricsConfig           `yaml:"metrics"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Store:  persistence.DefaultStoreConfig(),
		Engine: engine.DefaultConfig(),
		Bus: BusConfig{
			MaxQueueSize:    10000,
			RequestTimeout:  30 * time.Second,
			PersistMessages: true,
		},
		Registry: RegistryConfig{
			MaxAgentsPerType: 5,
			IdleTimeout:      5 * time.Minute,
		},
		Checkpoint: CheckpointConfig{
			WorkDir:        ".",
			MaxCheckpoints: 20,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "autoflow",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides selected settings from AUTOFLOW_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOFLOW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AUTOFLOW_STORE_TYPE"); v != "" {
		c.Store.Type = persistence.StoreType(v)
	}
	if v := os.Getenv("AUTOFLOW_STORE_DIR"); v != "" {
		c.Store.BaseDir = v
	}
	if v := os.Getenv("AUTOFLOW_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("AUTOFLOW_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("AUTOFLOW_MODE"); v != "" {
		c.Engine.DefaultMode = types.ExecutionMode(v)
	}
	if v := os.Getenv("AUTOFLOW_MAX_AGENTS_PER_TYPE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.MaxAgentsPerType = n
		}
	}
	if v := os.Getenv("AUTOFLOW_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.CheckpointInterval = n
		}
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Engine.DefaultMode {
	case types.ModeSupervised, types.ModeAutonomousLow, types.ModeAutonomousHigh, types.ModeFullAuto, "":
	default:
		return fmt.Errorf("unknown execution mode: %s", c.Engine.DefaultMode)
	}
	switch c.Store.Type {
	case persistence.StoreTypeMemory, persistence.StoreTypeFile, persistence.StoreTypeRedis, persistence.StoreTypeSQLite, "":
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
	if c.Bus.MaxQueueSize < 0 {
		return fmt.Errorf("bus.max_queue_size must not be negative")
	}
	return nil
}

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
