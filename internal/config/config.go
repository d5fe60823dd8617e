package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"vault-keeper/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Penalty   PenaltyConfig   `mapstructure:"penalty"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the upkeep loop cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// OracleConfig covers on-chain price feed access.
type OracleConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Feeds          []FeedConfig  `mapstructure:"feeds"`
}

// FeedConfig registers one asset's aggregator feed.
type FeedConfig struct {
	Asset     string        `mapstructure:"asset"`
	Address   string        `mapstructure:"address"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	MinValue  float64       `mapstructure:"min_value"`
	MaxValue  float64       `mapstructure:"max_value"`
}

// ScannerConfig tunes the automation scan.
type ScannerConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	MaxResults    int           `mapstructure:"max_results"`
}

// PenaltyConfig tunes the emergency-exit ledger.
type PenaltyConfig struct {
	PenaltyBps int64         `mapstructure:"penalty_bps"`
	ClaimDelay time.Duration `mapstructure:"claim_delay"`
}

// AssetsConfig lists assets accepted for new deposits.
type AssetsConfig struct {
	Supported []string `mapstructure:"supported"`
}

// AlertingConfig defines unlock notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notification channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VAULTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vaultd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x766c7464))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("oracle.request_timeout", "10s")

	v.SetDefault("scanner.check_interval", "60s")
	v.SetDefault("scanner.max_results", 50)

	v.SetDefault("penalty.penalty_bps", int64(1000))
	v.SetDefault("penalty.claim_delay", "2160h")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scanner.CheckInterval <= 0 {
		return fmt.Errorf("scanner.check_interval must be greater than zero")
	}
	if c.Penalty.PenaltyBps < 0 || c.Penalty.PenaltyBps > 10000 {
		return fmt.Errorf("penalty.penalty_bps must be within [0, 10000]")
	}
	if c.Penalty.ClaimDelay < 0 {
		return fmt.Errorf("penalty.claim_delay cannot be negative")
	}
	for _, feed := range c.Oracle.Feeds {
		if feed.Asset == "" {
			return fmt.Errorf("oracle.feeds entries require an asset")
		}
		if feed.Address == "" {
			return fmt.Errorf("oracle.feeds entry for %s requires an address", feed.Asset)
		}
		if feed.Heartbeat <= 0 {
			return fmt.Errorf("oracle.feeds entry for %s requires a positive heartbeat", feed.Asset)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
