// Package config loads and validates the runtime configuration file.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Portfolio.SnapshotPath == "" {
		c.Portfolio.SnapshotPath = filepath.Join(c.DataDir, "portfolio.json")
	}
	if c.Risk.SymbolLimitsPath == "" {
		c.Risk.SymbolLimitsPath = filepath.Join(c.DataDir, "symbol_limits.json")
	}
	if c.Risk.CorrelationThreshold == 0 {
		c.Risk.CorrelationThreshold = 0.7
	}
	if c.Execution.TrailingStatePath == "" {
		c.Execution.TrailingStatePath = filepath.Join(c.DataDir, "trailing_stops.json")
	}
	if c.Execution.OCOStatePath == "" {
		c.Execution.OCOStatePath = filepath.Join(c.DataDir, "oco_orders.json")
	}
	if c.Execution.MinUpdateInterval == 0 {
		c.Execution.MinUpdateInterval = 10 * time.Second
	}
	if c.Safety.KillSwitchPath == "" {
		c.Safety.KillSwitchPath = filepath.Join(c.DataDir, "kill_switch.json")
	}
	if c.Safety.AlertHistoryPath == "" {
		c.Safety.AlertHistoryPath = filepath.Join(c.DataDir, "alert_history.jsonl")
	}
	if c.Journal.DatabasePath == "" {
		c.Journal.DatabasePath = filepath.Join(c.DataDir, "journal.db")
	}
}

func validate(c *Config) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	if c.Broker.Mode != "paper" {
		return fmt.Errorf("config: unknown broker mode %q", c.Broker.Mode)
	}
	if err := checkDecimal("portfolio.max_daily_loss", c.Portfolio.MaxDailyLoss, false); err != nil {
		return err
	}
	if err := checkDecimal("risk.max_exposure", c.Risk.MaxExposure, false); err != nil {
		return err
	}
	if err := checkDecimal("risk.max_correlated_exposure", c.Risk.MaxCorrelatedExposure, false); err != nil {
		return err
	}
	if c.Risk.CorrelationThreshold <= 0 || c.Risk.CorrelationThreshold > 1 {
		return fmt.Errorf("config: risk.correlation_threshold must be within (0, 1], got %v", c.Risk.CorrelationThreshold)
	}
	if c.Execution.MinUpdateInterval < 0 {
		return fmt.Errorf("config: execution.min_update_interval must not be negative")
	}
	return nil
}

func checkDecimal(key, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("config: %s is required", key)
		}
		return nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("config: %s is not a decimal: %w", key, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("config: %s must not be negative", key)
	}
	return nil
}

// Decimal parses a config decimal that validate already accepted. Empty
// strings become zero.
func Decimal(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}
