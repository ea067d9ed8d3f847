package config

import "time"

// Config is the full runtime configuration.
type Config struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
	DataDir  string `toml:"data_dir"`

	Broker    BrokerConfig    `toml:"broker"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Safety    SafetyConfig    `toml:"safety"`
	Journal   JournalConfig   `toml:"journal"`
	Graph     GraphConfig     `toml:"graph"`
}

type BrokerConfig struct {
	// Mode selects the order router. Only "paper" ships today.
	Mode string `toml:"mode"`
}

type PortfolioConfig struct {
	SnapshotPath string `toml:"snapshot_path"`
	MaxDailyLoss string `toml:"max_daily_loss"`
}

type RiskConfig struct {
	MaxExposure           string  `toml:"max_exposure"`
	SymbolLimitsPath      string  `toml:"symbol_limits_path"`
	WatchSymbolLimits     bool    `toml:"watch_symbol_limits"`
	CorrelationPath       string  `toml:"correlation_path"`
	CorrelationThreshold  float64 `toml:"correlation_threshold"`
	MaxCorrelatedExposure string  `toml:"max_correlated_exposure"`
	ApplyFees             bool    `toml:"apply_fees"`
}

type ExecutionConfig struct {
	TrailingStatePath string        `toml:"trailing_state_path"`
	OCOStatePath      string        `toml:"oco_state_path"`
	MinUpdateInterval time.Duration `toml:"min_update_interval"`
}

type SafetyConfig struct {
	KillSwitchPath     string        `toml:"kill_switch_path"`
	AlertHistoryPath   string        `toml:"alert_history_path"`
	WebhookURL         string        `toml:"webhook_url"`
	WebhookTimeout     time.Duration `toml:"webhook_timeout"`
	RateLimitThreshold int           `toml:"rate_limit_threshold"`
	RateLimitWindow    time.Duration `toml:"rate_limit_window"`
	RateLimitCooldown  time.Duration `toml:"rate_limit_cooldown"`
	StaleAfter         time.Duration `toml:"stale_after"`
	CheckInterval      time.Duration `toml:"check_interval"`
}

type JournalConfig struct {
	DatabasePath string `toml:"database_path"`
}

type GraphConfig struct {
	Path string `toml:"path"`
}
