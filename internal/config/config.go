// Package config loads atomledger settings from defaults, an optional YAML
// file, ATOMLEDGER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ATOMLEDGER_DB.
const EnvPrefix = "ATOMLEDGER"

// DefaultFile is read when present and no --config is given.
const DefaultFile = "atomledger.yaml"

// Config holds all runtime settings.
type Config struct {
	DB             string        `mapstructure:"db"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	VerifyCron     string        `mapstructure:"verify_cron"`
	AppendAttempts uint          `mapstructure:"append_attempts"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	WatchFS        bool          `mapstructure:"watch_fs"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		DB:             "atomledger.db",
		BatchSize:      500,
		PollInterval:   2 * time.Second,
		AppendAttempts: 5,
		LeaseTTL:       30 * time.Second,
		WatchFS:        true,
		CacheTTL:       30 * time.Second,
	}
}

// New returns a viper instance with defaults and environment binding set.
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("db", d.DB)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("verify_cron", d.VerifyCron)
	v.SetDefault("append_attempts", d.AppendAttempts)
	v.SetDefault("lease_ttl", d.LeaseTTL)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("watch_fs", d.WatchFS)
	v.SetDefault("cache_ttl", d.CacheTTL)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v, or DefaultFile when file is empty and it exists,
// and decodes the merged settings.
func Load(v *viper.Viper, file string) (Config, error) {
	switch {
	case file != "":
		v.SetConfigFile(file)
	default:
		if _, err := os.Stat(DefaultFile); err == nil {
			v.SetConfigFile(DefaultFile)
		}
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the cron expression.
func (c Config) Validate() error {
	var problems []string
	if c.DB == "" {
		problems = append(problems, "db must be set")
	}
	if c.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.PollInterval <= 0 {
		problems = append(problems, fmt.Sprintf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.AppendAttempts == 0 {
		problems = append(problems, "append_attempts must be at least 1")
	}
	if c.LeaseTTL <= 0 {
		problems = append(problems, fmt.Sprintf("lease_ttl must be positive, got %s", c.LeaseTTL))
	}
	if c.CacheTTL < 0 {
		problems = append(problems, fmt.Sprintf("cache_ttl must not be negative, got %s", c.CacheTTL))
	}
	if c.VerifyCron != "" && !gronx.IsValid(c.VerifyCron) {
		problems = append(problems, fmt.Sprintf("verify_cron %q is not a valid cron expression", c.VerifyCron))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
