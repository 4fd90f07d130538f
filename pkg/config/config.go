package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the strategy runner.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"./data/autotrader.db"`

	// Execution
	TradingMode        string        `env:"TRADING_MODE" envDefault:"paper"` // "paper" or "live"
	PaperInitialEquity float64       `env:"PAPER_INITIAL_EQUITY" envDefault:"100000"`
	PaperFeeRate       float64       `env:"PAPER_FEE_RATE" envDefault:"0.0004"` // decimal (0.0004 = 4 bps)
	PaperSlippageBps   float64       `env:"PAPER_SLIPPAGE_BPS" envDefault:"2"`  // applied against the taker
	OrderTimeout       time.Duration `env:"ORDER_TIMEOUT" envDefault:"10s"`
	LiquidationTimeout time.Duration `env:"LIQUIDATION_TIMEOUT" envDefault:"15s"`

	// Binance
	BinanceAPIKey    string  `env:"BINANCE_API_KEY"`
	BinanceAPISecret string  `env:"BINANCE_API_SECRET"`
	BinanceTestnet   bool    `env:"BINANCE_TESTNET" envDefault:"false"`
	UseMockFeed      bool    `env:"USE_MOCK_FEED" envDefault:"true"`
	MarketRateLimit  float64 `env:"MARKET_RATE_LIMIT" envDefault:"10"` // requests per second

	// Scheduler
	TickInterval      time.Duration `env:"TICK_INTERVAL" envDefault:"60s"`
	BarLookback       int           `env:"BAR_LOOKBACK" envDefault:"100"`
	PositionFraction  float64       `env:"POSITION_FRACTION" envDefault:"0.01"`
	StopATRMultiplier float64       `env:"STOP_ATR_MULTIPLIER" envDefault:"2"`
	ATRPeriod         int           `env:"ATR_PERIOD" envDefault:"14"`
	LotStep           float64       `env:"LOT_STEP" envDefault:"1"`
	ResumeOnBoot      bool          `env:"RESUME_ACTIVE_ON_BOOT" envDefault:"true"`
	StrategiesFile    string        `env:"STRATEGIES_FILE"`

	// Risk
	DailyLossThreshold    float64 `env:"DAILY_LOSS_THRESHOLD" envDefault:"0.02"`
	MaxPortfolioHeat      float64 `env:"MAX_PORTFOLIO_HEAT" envDefault:"0.25"`
	MaxCorrelatedExposure float64 `env:"MAX_CORRELATED_EXPOSURE" envDefault:"0.15"`
	CorrelationThreshold  float64 `env:"CORRELATION_THRESHOLD" envDefault:"0.7"`
	DailyResetCron        string  `env:"DAILY_RESET_CRON" envDefault:"0 0 0 * * *"`
	RiskCheckCron         string  `env:"RISK_CHECK_CRON" envDefault:"0 * * * * *"`
	ReconcileCron         string  `env:"RECONCILE_CRON" envDefault:"30 */5 * * * *"`

	// Notifications
	SlackWebhookURL     string `env:"SLACK_WEBHOOK_URL"`
	DiscordWebhookID    string `env:"DISCORD_WEBHOOK_ID"`
	DiscordWebhookToken string `env:"DISCORD_WEBHOOK_TOKEN"`
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID      int64  `env:"TELEGRAM_CHAT_ID"`
	NotifyMinLevel      string `env:"NOTIFY_MIN_LEVEL" envDefault:"INFO"`

	Log LogConfig
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Encoding    string `env:"LOG_ENCODING" envDefault:"console"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runner cannot operate with.
func (c *Config) Validate() error {
	c.TradingMode = strings.ToLower(strings.TrimSpace(c.TradingMode))
	switch c.TradingMode {
	case "paper", "live":
	default:
		return fmt.Errorf("TRADING_MODE must be paper or live, got %q", c.TradingMode)
	}
	if c.TradingMode == "live" && (c.BinanceAPIKey == "" || c.BinanceAPISecret == "") {
		return fmt.Errorf("live trading requires BINANCE_API_KEY and BINANCE_API_SECRET")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be > 0")
	}
	if c.PositionFraction <= 0 || c.PositionFraction > 1 {
		return fmt.Errorf("POSITION_FRACTION must be in (0, 1]")
	}
	if c.DailyLossThreshold <= 0 || c.DailyLossThreshold >= 1 {
		return fmt.Errorf("DAILY_LOSS_THRESHOLD must be in (0, 1)")
	}
	if c.LotStep <= 0 {
		return fmt.Errorf("LOT_STEP must be > 0")
	}
	c.NotifyMinLevel = strings.ToUpper(strings.TrimSpace(c.NotifyMinLevel))
	switch c.NotifyMinLevel {
	case "INFO", "WARNING", "CRITICAL":
	default:
		return fmt.Errorf("NOTIFY_MIN_LEVEL must be INFO, WARNING or CRITICAL, got %q", c.NotifyMinLevel)
	}
	return nil
}

// LiveTradingConfigured reports whether exchange credentials are present.
func (c *Config) LiveTradingConfigured() bool {
	return c.BinanceAPIKey != "" && c.BinanceAPISecret != ""
}
