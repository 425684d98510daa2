package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the strategy engine.
type Config struct {
	Port string

	// Database
	DBDriver string // "sqlite" (default) or "postgres"
	DBPath   string // SQLite file path
	DBURL    string // PostgreSQL DSN

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Auth
	JWTSecret string

	// API limits
	APIRateLimit float64
	APIRateBurst int

	// Worker pool
	WorkerPoolSize     int
	JobTimeout         time.Duration
	WorkerRequeueDelay time.Duration
	QueueCapacity      int

	// Scheduler
	SchedulerInterval time.Duration

	// Market data
	MarketProvider      string // "binance", "synthetic" or "db"
	MarketSymbols       []string
	MarketTimeframe     string
	MarketFeedInterval  time.Duration
	MarketRetention     int
	MarketHistoryLimit  int
	ProviderMaxAttempts int
	ProviderBackoff     time.Duration
	ProviderRateLimit   float64
	BinanceBaseURL      string

	// Exchange gateway for live (non-paper) portfolios
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Seed data
	StrategySeedFile string

	// Notifications
	TelegramBotToken string
	TelegramChatID   int64
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:              getEnv("DB_PATH", "./data/strategy.db"),
		DBURL:               os.Getenv("DATABASE_URL"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		APIRateLimit:        getEnvFloat("API_RATE_LIMIT", 20),
		APIRateBurst:        getEnvInt("API_RATE_BURST", 50),
		WorkerPoolSize:      getEnvInt("WORKER_POOL_SIZE", 4),
		JobTimeout:          getEnvDuration("JOB_TIMEOUT", 25*time.Minute),
		WorkerRequeueDelay:  getEnvDuration("WORKER_REQUEUE_DELAY", 500*time.Millisecond),
		QueueCapacity:       getEnvInt("QUEUE_CAPACITY", 1024),
		SchedulerInterval:   getEnvDuration("SCHEDULER_INTERVAL", 60*time.Second),
		MarketProvider:      strings.ToLower(getEnv("MARKET_PROVIDER", "binance")),
		MarketSymbols:       splitAndTrim(getEnv("MARKET_SYMBOLS", "AAPL,GOOGL,MSFT,BTC-USD,ETH-USD")),
		MarketTimeframe:     getEnv("MARKET_TIMEFRAME", "1m"),
		MarketFeedInterval:  getEnvDuration("MARKET_FEED_INTERVAL", 60*time.Second),
		MarketRetention:     getEnvInt("MARKET_RETENTION", 500),
		MarketHistoryLimit:  getEnvInt("MARKET_HISTORY_LIMIT", 100),
		ProviderMaxAttempts: getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
		ProviderBackoff:     getEnvDuration("PROVIDER_BACKOFF", 500*time.Millisecond),
		ProviderRateLimit:   getEnvFloat("PROVIDER_RATE_LIMIT", 10),
		BinanceBaseURL:      getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:      getEnvBool("BINANCE_TESTNET", false),
		StrategySeedFile:    os.Getenv("STRATEGY_SEED_FILE"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:      int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
