package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Provide(Load)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// DefaultCreditLimit is applied when a credit record is created lazily,
	// in minor currency units.
	DefaultCreditLimit int64

	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

// SchedulerConfig controls the overdue scan job.
type SchedulerConfig struct {
	Enabled      bool
	RunInterval  time.Duration
	JobTimeout   time.Duration
	BatchSize    int
	OverdueGrace time.Duration
}

// RateLimitConfig controls redis-backed rate limiting and job locks.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CreditCheckOrgRate  float64
	CreditCheckOrgBurst int
	JobLockTTLSeconds   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "debtor"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "debtor"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		DefaultCreditLimit: getenvInt64("DEFAULT_CREDIT_LIMIT", 0),

		Scheduler: SchedulerConfig{
			Enabled:      getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:  getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			JobTimeout:   getenvDuration("SCHEDULER_JOB_TIMEOUT", 2*time.Minute),
			BatchSize:    getenvInt("SCHEDULER_BATCH_SIZE", 100),
			OverdueGrace: getenvDuration("SCHEDULER_OVERDUE_GRACE", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:             getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:           strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:       getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:             getenvInt("RATE_LIMIT_REDIS_DB", 0),
			CreditCheckOrgRate:  getenvFloat("RATE_LIMIT_CREDIT_CHECK_ORG_RATE", 50),
			CreditCheckOrgBurst: getenvInt("RATE_LIMIT_CREDIT_CHECK_ORG_BURST", 100),
			JobLockTTLSeconds:   getenvInt("RATE_LIMIT_JOB_LOCK_TTL_SECONDS", 120),
		},
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
