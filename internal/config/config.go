package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by KARI_ENV (or .env by default),
// then loads the corresponding .secret sidecar if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("KARI_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

// PostgresURL builds a connection string from POSTGRES_* vars.
// Returns "" when no host is configured; the authoritative and vector
// adapters are then skipped at startup.
func PostgresURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	db := os.Getenv("POSTGRES_DB")
	if db == "" {
		db = "kari"
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, db)
}

func ElasticHost() string {
	return os.Getenv("ELASTIC_HOST")
}

func ElasticPort() int {
	port, err := strconv.Atoi(os.Getenv("ELASTIC_PORT"))
	if err != nil {
		return 9200
	}
	return port
}

func ElasticIndex() string {
	idx := os.Getenv("ELASTIC_INDEX")
	if idx == "" {
		return "kari_memory"
	}
	return idx
}

func ElasticUser() string {
	return os.Getenv("ELASTIC_USER")
}

func ElasticPassword() string {
	return os.Getenv("ELASTIC_PASSWORD")
}

// AnalyticsURL returns the connection string for the read-only analytics
// view. Defaults to the main Postgres when unset so the rollup view can
// live alongside the source of truth.
func AnalyticsURL() string {
	if url := os.Getenv("ANALYTICS_DATABASE_URL"); url != "" {
		return url
	}
	return PostgresURL()
}

// AnalyticsView returns the rollup view the analytics tier reads.
func AnalyticsView() string {
	return os.Getenv("ANALYTICS_VIEW")
}

// ReconcilerInterval returns how often the reconciler ticks.
// Defaults to 5 seconds.
func ReconcilerInterval() time.Duration {
	secs, err := strconv.Atoi(os.Getenv("RECONCILER_INTERVAL_SECONDS"))
	if err != nil || secs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(secs) * time.Second
}

// RateLimitRPS returns the ops-surface requests-per-second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for the ops-surface limiter.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
