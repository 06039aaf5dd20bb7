package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger     Logger          `mapstructure:"logger"`
	Server     Server          `mapstructure:"server"`
	Database   Database        `mapstructure:"database"`
	Scheduler  Scheduler       `mapstructure:"scheduler"`
	Risk       Risk            `mapstructure:"risk"`
	Modes      Modes           `mapstructure:"modes"`
	Markets    []Market        `mapstructure:"markets"`
	Brokers    []Broker        `mapstructure:"brokers"`
	MarketData MarketData      `mapstructure:"market_data"`
	Prediction Prediction      `mapstructure:"prediction"`
	Notify     Notify          `mapstructure:"notify"`
	Plans      map[string]Plan `mapstructure:"plans"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Server holds the configuration for the status/UI HTTP servers.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Scheduler holds the configuration for the orchestration loop.
type Scheduler struct {
	TickInterval        int     `mapstructure:"tick_interval"`        // seconds, while the market is open
	ClosedTickInterval  int     `mapstructure:"closed_tick_interval"` // seconds, while the market is closed
	MaxConcurrency      int     `mapstructure:"max_concurrency"`      // tenants processed in parallel per tick
	FundsBudgetFraction float64 `mapstructure:"funds_budget_fraction"`
	MinAvailableFunds   float64 `mapstructure:"min_available_funds"`
	BackoffThreshold    int     `mapstructure:"backoff_threshold"` // consecutive cycle failures before backing off
	Exchange            string  `mapstructure:"exchange"`          // which market calendar gates the loop
}

// TickIntervalDuration returns the open-market tick interval as a duration.
func (s Scheduler) TickIntervalDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// ClosedTickIntervalDuration returns the closed-market tick interval as a duration.
func (s Scheduler) ClosedTickIntervalDuration() time.Duration {
	return time.Duration(s.ClosedTickInterval) * time.Second
}

// Risk holds the risk-gate configuration.
type Risk struct {
	MaxScore float64 `mapstructure:"max_score"`
	BaseURL  string  `mapstructure:"base_url"` // external risk manager; empty selects the built-in assessor
	Timeout  int     `mapstructure:"timeout"`  // seconds
}

// ModeThresholds holds per-mode signal thresholds and sizing caps.
type ModeThresholds struct {
	MinReturn     float64 `mapstructure:"min_return"`     // absolute expected return, e.g. 0.02
	MinConfidence float64 `mapstructure:"min_confidence"` // e.g. 0.80
	MaxFraction   float64 `mapstructure:"max_fraction"`   // max fraction of available funds per position
}

// Modes holds the thresholds for each trading mode plus the hard confidence floor.
type Modes struct {
	ConfidenceFloor float64        `mapstructure:"confidence_floor"`
	Conservative    ModeThresholds `mapstructure:"conservative"`
	Moderate        ModeThresholds `mapstructure:"moderate"`
	Aggressive      ModeThresholds `mapstructure:"aggressive"`
}

// Thresholds returns the threshold set for the named mode, or false if the
// mode does not participate in trading (e.g. "disabled" or unknown).
func (m Modes) Thresholds(mode string) (ModeThresholds, bool) {
	switch mode {
	case "conservative":
		return m.Conservative, true
	case "moderate":
		return m.Moderate, true
	case "aggressive":
		return m.Aggressive, true
	}
	return ModeThresholds{}, false
}

// Market describes the trading hours for one exchange.
type Market struct {
	Exchange string `mapstructure:"exchange"`
	Timezone string `mapstructure:"timezone"`
	Open     string `mapstructure:"open"`  // local time, "09:30"
	Close    string `mapstructure:"close"` // local time, "16:00"
}

// Broker holds the configuration for one broker connection.
type Broker struct {
	Name           string  `mapstructure:"name"`
	Adapter        string  `mapstructure:"adapter"`
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	Default        bool    `mapstructure:"default"`
}

// MarketData holds the configuration for the live-quote provider.
type MarketData struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Prediction holds the configuration for the ML-prediction provider.
type Prediction struct {
	BaseURL string `mapstructure:"base_url"`
	Horizon string `mapstructure:"horizon"` // e.g. "1d"
	Timeout int    `mapstructure:"timeout"` // seconds
}

// Notify holds the configuration for the notification webhook.
type Notify struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// Plan describes the entitlements of one subscription plan.
type Plan struct {
	DailyTradeLimit int `mapstructure:"daily_trade_limit"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("scheduler.tick_interval", 30)
	viper.SetDefault("scheduler.closed_tick_interval", 300)
	viper.SetDefault("scheduler.max_concurrency", 8)
	viper.SetDefault("scheduler.funds_budget_fraction", 0.8)
	viper.SetDefault("scheduler.min_available_funds", 100)
	viper.SetDefault("scheduler.backoff_threshold", 3)
	viper.SetDefault("scheduler.exchange", "NYSE")

	viper.SetDefault("risk.max_score", 0.7)
	viper.SetDefault("risk.timeout", 5)

	viper.SetDefault("modes.confidence_floor", 0.6)
	viper.SetDefault("modes.conservative.min_return", 0.02)
	viper.SetDefault("modes.conservative.min_confidence", 0.80)
	viper.SetDefault("modes.conservative.max_fraction", 0.05)
	viper.SetDefault("modes.moderate.min_return", 0.015)
	viper.SetDefault("modes.moderate.min_confidence", 0.70)
	viper.SetDefault("modes.moderate.max_fraction", 0.08)
	viper.SetDefault("modes.aggressive.min_return", 0.01)
	viper.SetDefault("modes.aggressive.min_confidence", 0.60)
	viper.SetDefault("modes.aggressive.max_fraction", 0.10)

	viper.SetDefault("market_data.rate_limit", 20)
	viper.SetDefault("market_data.rate_limit_burst", 5)
	viper.SetDefault("prediction.horizon", "1d")
	viper.SetDefault("prediction.timeout", 10)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
