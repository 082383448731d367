// Package config loads platform configuration. Values come from an
// optional config file, environment variables (PLATFORM_ prefix), and
// defaults, in that order of precedence. A .env file in the working
// directory is loaded first so local runs need no exported variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// Infrastructure
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	MetricsAddr   string `mapstructure:"metrics_addr"`

	// Market data ingest
	FeedURL    string   `mapstructure:"feed_url"`
	FeedSource string   `mapstructure:"feed_source"`
	Symbols    []string `mapstructure:"symbols"`
	Timeframes []string `mapstructure:"timeframes"`

	// Historical trade backfill
	BackfillBaseURL string `mapstructure:"backfill_base_url"`

	// Broker credentials
	AlpacaAPIKey    string `mapstructure:"alpaca_api_key"`
	AlpacaAPISecret string `mapstructure:"alpaca_api_secret"`
	AlpacaBaseURL   string `mapstructure:"alpaca_base_url"`

	// Broker API rate limit budget
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`

	// Bus
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// Pre-trade risk limits for live deployments (zero disables a check)
	RiskMaxOrderQty      float64 `mapstructure:"risk_max_order_qty"`
	RiskMaxOrderNotional float64 `mapstructure:"risk_max_order_notional"`
	RiskMaxDrawdownPct   float64 `mapstructure:"risk_max_drawdown_pct"`

	// Alerting (all optional; unset backends are skipped)
	AlertWebhookURL  string `mapstructure:"alert_webhook_url"`
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}

// Load reads configuration. cfgFile may be empty, in which case only
// environment variables and defaults apply.
func Load(cfgFile string) (*Config, error) {
	// Best-effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("sqlite_path", "data/platform.db")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("feed_source", "alpaca")
	v.SetDefault("symbols", []string{})
	v.SetDefault("timeframes", []string{"1m", "5m", "15m", "1h"})
	v.SetDefault("rate_limit_requests", 200)
	v.SetDefault("rate_limit_window", time.Minute)
	v.SetDefault("publish_timeout", time.Second)

	v.SetEnvPrefix("PLATFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("config: rate_limit_requests must be positive, got %d", c.RateLimitRequests)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("config: rate_limit_window must be positive, got %s", c.RateLimitWindow)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("config: publish_timeout must be positive, got %s", c.PublishTimeout)
	}
	return nil
}
