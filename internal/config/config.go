// Package config loads daemon and CLI configuration from a YAML file,
// environment variables prefixed AI_WOT_, and built-in defaults, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeletor/ai-wot/internal/wot"
)

// Config holds the application configuration.
type Config struct {
	Relays     []string        `mapstructure:"relays"`
	Key        KeyConfig       `mapstructure:"key"`
	Scoring    ScoringConfig   `mapstructure:"scoring"`
	Server     ServerConfig    `mapstructure:"server"`
	Candidates CandidateConfig `mapstructure:"candidates"`
	Watcher    WatcherConfig   `mapstructure:"watcher"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// KeyConfig locates the local signing identity.
type KeyConfig struct {
	Path       string `mapstructure:"path"`
	Passphrase string `mapstructure:"passphrase"`
}

// ScoringConfig tunes the scoring kernel.
type ScoringConfig struct {
	HalfLifeDays      float64 `mapstructure:"half_life_days"`
	MaxDepth          int     `mapstructure:"max_depth"`
	NegativeGate      int     `mapstructure:"negative_gate"`
	NoveltyMultiplier float64 `mapstructure:"novelty_multiplier"`
	Deduplicate       bool    `mapstructure:"deduplicate"`
}

// ServerConfig holds the daemon HTTP configuration.
type ServerConfig struct {
	Addr       string        `mapstructure:"addr"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// CandidateConfig holds candidate queue configuration.
type CandidateConfig struct {
	DBPath        string        `mapstructure:"db_path"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxCandidates int           `mapstructure:"max_candidates"`
}

// WatcherConfig holds DVM watcher configuration.
type WatcherConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration. A non-empty path names an explicit config
// file; otherwise config.yaml is searched for in ~/.ai-wot and the current
// directory, and a missing file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix("AI_WOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if path != "" || !notFound {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DefaultDir returns the directory holding the key file, candidate
// database and default config file.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ai-wot"
	}
	return filepath.Join(home, ".ai-wot")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relays", []string{
		"wss://relay.damus.io",
		"wss://nos.lol",
		"wss://relay.nostr.band",
	})

	v.SetDefault("key.path", filepath.Join(DefaultDir(), "key"))
	v.SetDefault("key.passphrase", "")

	v.SetDefault("scoring.half_life_days", 90)
	v.SetDefault("scoring.max_depth", 2)
	v.SetDefault("scoring.negative_gate", 20)
	v.SetDefault("scoring.novelty_multiplier", 1.3)
	v.SetDefault("scoring.deduplicate", true)

	v.SetDefault("server.addr", "127.0.0.1:8480")
	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_window", "1m")

	v.SetDefault("candidates.db_path", filepath.Join(DefaultDir(), "candidates.db"))
	v.SetDefault("candidates.max_age", "24h")
	v.SetDefault("candidates.max_candidates", 1000)

	v.SetDefault("watcher.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		return fmt.Errorf("at least one relay is required")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Scoring.HalfLifeDays <= 0 {
		return fmt.Errorf("scoring.half_life_days must be positive")
	}
	if c.Scoring.MaxDepth < 0 {
		return fmt.Errorf("scoring.max_depth must not be negative")
	}
	if c.Scoring.NegativeGate < 0 {
		return fmt.Errorf("scoring.negative_gate must not be negative")
	}
	if c.Candidates.MaxCandidates <= 0 {
		return fmt.Errorf("candidates.max_candidates must be positive")
	}
	if c.Candidates.MaxAge <= 0 {
		return fmt.Errorf("candidates.max_age must be positive")
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	return nil
}

// ScoringOptions maps the scoring section onto kernel options.
func (c *Config) ScoringOptions() wot.Options {
	return wot.Options{
		HalfLifeDays:      c.Scoring.HalfLifeDays,
		MaxDepth:          c.Scoring.MaxDepth,
		NegativeGate:      c.Scoring.NegativeGate,
		NoveltyMultiplier: c.Scoring.NoveltyMultiplier,
		Deduplicate:       c.Scoring.Deduplicate,
	}
}

// InitLogger builds the process logger from the logging section.
func (c *Config) InitLogger() (*zap.Logger, error) {
	var zc zap.Config
	if c.Logging.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", c.Logging.Level, err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
