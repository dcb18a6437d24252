package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"traderHive/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API (market data only)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Scheduler
	TickInterval       time.Duration
	MaxConcurrentTasks int
	TaskTimeout        time.Duration
	DrainTimeout       time.Duration

	// Triggers
	TimeTriggerEnabled    bool
	PriceTriggerEnabled   bool
	PriceTriggerThreshold decimal.Decimal

	// Optimization
	OptimizeEnabled      bool
	OptimizeMinPositions int
	OptimizeInterval     time.Duration

	// Price cache and liquidation monitor
	PriceCacheTTL       time.Duration
	LiquidationInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "text" or "json"
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	// Binance API. Keys are optional: the public market data endpoints
	// used for prices and klines work without them.
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	// Scheduler
	tickSeconds := getEnvAsInt("TICK_INTERVAL_SECONDS", 30)
	if tickSeconds <= 0 {
		errs = append(errs, "TICK_INTERVAL_SECONDS must be positive")
	}
	cfg.TickInterval = time.Duration(tickSeconds) * time.Second

	cfg.MaxConcurrentTasks = getEnvAsInt("MAX_CONCURRENT_TASKS", 3)
	if cfg.MaxConcurrentTasks <= 0 {
		errs = append(errs, "MAX_CONCURRENT_TASKS must be positive")
	}

	taskTimeoutMinutes := getEnvAsInt("TASK_TIMEOUT_MINUTES", 10)
	if taskTimeoutMinutes <= 0 {
		errs = append(errs, "TASK_TIMEOUT_MINUTES must be positive")
	}
	cfg.TaskTimeout = time.Duration(taskTimeoutMinutes) * time.Minute

	drainSeconds := getEnvAsInt("DRAIN_TIMEOUT_SECONDS", 30)
	if drainSeconds <= 0 {
		errs = append(errs, "DRAIN_TIMEOUT_SECONDS must be positive")
	}
	cfg.DrainTimeout = time.Duration(drainSeconds) * time.Second

	// Triggers
	cfg.TimeTriggerEnabled = getEnvAsBool("TIME_TRIGGER_ENABLED", true)
	cfg.PriceTriggerEnabled = getEnvAsBool("PRICE_TRIGGER_ENABLED", true)

	threshold := getEnvAsFloat("PRICE_TRIGGER_THRESHOLD", 0.04)
	if threshold <= 0 || threshold >= 1.0 {
		errs = append(errs, "PRICE_TRIGGER_THRESHOLD must be between 0.0 and 1.0 (exclusive)")
	}
	cfg.PriceTriggerThreshold = decimal.NewFromFloat(threshold)

	// Optimization
	cfg.OptimizeEnabled = getEnvAsBool("OPTIMIZE_ENABLED", true)

	cfg.OptimizeMinPositions = getEnvAsInt("OPTIMIZE_MIN_POSITIONS", 5)
	if cfg.OptimizeMinPositions <= 0 {
		errs = append(errs, "OPTIMIZE_MIN_POSITIONS must be positive")
	}

	optimizeHours := getEnvAsInt("OPTIMIZE_INTERVAL_HOURS", 24)
	if optimizeHours <= 0 {
		errs = append(errs, "OPTIMIZE_INTERVAL_HOURS must be positive")
	}
	cfg.OptimizeInterval = time.Duration(optimizeHours) * time.Hour

	// Price cache and liquidation monitor
	ttlSeconds := getEnvAsInt("PRICE_CACHE_TTL_SECONDS", 5)
	if ttlSeconds <= 0 {
		errs = append(errs, "PRICE_CACHE_TTL_SECONDS must be positive")
	}
	cfg.PriceCacheTTL = time.Duration(ttlSeconds) * time.Second

	liqSeconds := getEnvAsInt("LIQUIDATION_CHECK_INTERVAL_SECONDS", 10)
	if liqSeconds <= 0 {
		errs = append(errs, "LIQUIDATION_CHECK_INTERVAL_SECONDS must be positive")
	}
	cfg.LiquidationInterval = time.Duration(liqSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/traders.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'text' or 'json'")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
