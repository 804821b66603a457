// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. All options are flat and named;
// every numeric option carries a documented default.
type Config struct {
	DataDir  string // Base directory for the sqlite databases (defaults to "./data")
	LogLevel string
	Port     int
	DevMode  bool

	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceBaseURL   string // Overridable for testnet use

	TelegramToken  string
	TelegramChatID int64

	// Allocation engine
	RiskAversion           float64 // Base risk aversion λ (default 0.5)
	MinAllocation          float64 // Minimum weight per asset (default 0.01)
	MaxAllocation          float64 // Maximum weight per asset (default 0.25)
	MaxCorrelationExposure float64 // Cap on any correlated cluster (default 0.40)
	CorrelationThreshold   float64 // Pairwise correlation defining a cluster (default 0.70)
	CashReserve            float64 // Cash fraction held in USDC (default 0.05)

	// Rebalancing
	RebalanceThreshold float64       // Max tolerated weight deviation (default 0.15)
	RebalanceHours     []int         // Scheduled rebalance hours, local time (default 3,15)
	CheckInterval      time.Duration // Portfolio check loop interval (default 15m)
	MinOrderValue      float64       // Minimum trade notional in USDC (default 10)
	MinAssetValue      float64       // Dust floor for held assets (default 1)
	MinBuyValue        float64       // Minimum buy notional in USDC (default 5)
	MinProfitFraction  float64       // Required profit before a sell (default 0.01)

	// Market cycle detection
	CycleLookbackDays   int           // Detector lookback window (default 90)
	CycleUpdateInterval time.Duration // Regime refresh rate limit (default 8h)
	MarketDataDays      int           // History window for the optimizer (default 30)

	// CandidateSymbols is the base-asset universe considered for allocation.
	CandidateSymbols []string
}

// Load reads configuration from the environment, preferring values from a
// .env file when present.
func Load() (*Config, error) {
	// Missing .env is fine; environment variables may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:  getEnv("DATA_DIR", "./data"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvBool("DEV_MODE", false),

		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceBaseURL:   getEnv("BINANCE_BASE_URL", "https://api.binance.com"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", 8090); err != nil {
		return nil, err
	}
	if cfg.TelegramChatID, err = getEnvInt64("TELEGRAM_CHAT_ID", 0); err != nil {
		return nil, err
	}

	if cfg.RiskAversion, err = getEnvFloat("RISK_AVERSION", 0.5); err != nil {
		return nil, err
	}
	if cfg.MinAllocation, err = getEnvFloat("MIN_ALLOCATION_PER_ASSET", 0.01); err != nil {
		return nil, err
	}
	if cfg.MaxAllocation, err = getEnvFloat("MAX_ALLOCATION_PER_ASSET", 0.25); err != nil {
		return nil, err
	}
	if cfg.MaxCorrelationExposure, err = getEnvFloat("MAX_CORRELATION_EXPOSURE", 0.40); err != nil {
		return nil, err
	}
	if cfg.CorrelationThreshold, err = getEnvFloat("CORRELATION_THRESHOLD", 0.70); err != nil {
		return nil, err
	}
	if cfg.CashReserve, err = getEnvFloat("CASH_RESERVE", 0.05); err != nil {
		return nil, err
	}

	if cfg.RebalanceThreshold, err = getEnvFloat("REBALANCE_THRESHOLD", 0.15); err != nil {
		return nil, err
	}
	if cfg.RebalanceHours, err = getEnvHours("SCHEDULED_REBALANCE_HOURS", []int{3, 15}); err != nil {
		return nil, err
	}
	checkMinutes, err := getEnvInt("PORTFOLIO_CHECK_INTERVAL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	cfg.CheckInterval = time.Duration(checkMinutes) * time.Minute

	if cfg.MinOrderValue, err = getEnvFloat("MIN_ORDER_VALUE", 10.0); err != nil {
		return nil, err
	}
	if cfg.MinAssetValue, err = getEnvFloat("MIN_ASSET_VALUE", 1.0); err != nil {
		return nil, err
	}
	if cfg.MinBuyValue, err = getEnvFloat("MIN_BUY_VALUE", 5.0); err != nil {
		return nil, err
	}
	if cfg.MinProfitFraction, err = getEnvFloat("MIN_PROFIT_FRACTION", 0.01); err != nil {
		return nil, err
	}

	if cfg.CycleLookbackDays, err = getEnvInt("CYCLE_LOOKBACK_DAYS", 90); err != nil {
		return nil, err
	}
	cycleHours, err := getEnvInt("CYCLE_UPDATE_INTERVAL_HOURS", 8)
	if err != nil {
		return nil, err
	}
	cfg.CycleUpdateInterval = time.Duration(cycleHours) * time.Hour

	if cfg.MarketDataDays, err = getEnvInt("MARKET_DATA_DAYS", 30); err != nil {
		return nil, err
	}

	cfg.CandidateSymbols = getEnvList("CANDIDATE_SYMBOLS", []string{
		"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "AVAX", "DOT", "MATIC", "LINK",
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath returns the absolute path of a database file under DataDir.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name)
}

func (c *Config) validate() error {
	if c.MinAllocation < 0 || c.MaxAllocation <= 0 || c.MinAllocation >= c.MaxAllocation {
		return fmt.Errorf("invalid allocation bounds: min=%.4f max=%.4f", c.MinAllocation, c.MaxAllocation)
	}
	if c.CashReserve < 0 || c.CashReserve >= 1 {
		return fmt.Errorf("cash reserve must be in [0,1): %.4f", c.CashReserve)
	}
	if c.RebalanceThreshold <= 0 || c.RebalanceThreshold >= 1 {
		return fmt.Errorf("rebalance threshold must be in (0,1): %.4f", c.RebalanceThreshold)
	}
	for _, h := range c.RebalanceHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("scheduled rebalance hour out of range: %d", h)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value == "1" || strings.EqualFold(value, "true")
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

// getEnvHours parses a comma-separated list of hours, e.g. "3,15".
func getEnvHours(key string, fallback []int) ([]int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parts := strings.Split(value, ",")
	hours := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, part, err)
		}
		hours = append(hours, h)
	}
	return hours, nil
}

// getEnvList parses a comma-separated list of symbols, e.g. "BTC,ETH,SOL".
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			symbols = append(symbols, part)
		}
	}
	if len(symbols) == 0 {
		return fallback
	}
	return symbols
}
