package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by VERACITY_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("VERACITY_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
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

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// StoreBackend selects where signals and settlements live.
// Valid values: postgres, sqlite, memory. Defaults to postgres when
// DATABASE_URL is set, sqlite otherwise.
func StoreBackend() string {
	b := strings.ToLower(os.Getenv("STORE_BACKEND"))
	if b != "" {
		return b
	}
	if DatabaseURL() != "" {
		return "postgres"
	}
	return "sqlite"
}

func SQLitePath() string {
	p := os.Getenv("SQLITE_PATH")
	if p == "" {
		return "data/veracity.db"
	}
	return p
}

// SubmissionBackend selects the submission buffer: "store" keeps submissions
// next to signals, "redis" buffers them in Redis.
func SubmissionBackend() string {
	b := strings.ToLower(os.Getenv("SUBMISSION_BACKEND"))
	if b == "" {
		return "store"
	}
	return b
}

func RedisAddr() string {
	a := os.Getenv("REDIS_ADDR")
	if a == "" {
		return "localhost:6379"
	}
	return a
}

func RedisPassword() string {
	return os.Getenv("REDIS_PASSWORD")
}

func RedisDB() int {
	db, err := strconv.Atoi(os.Getenv("REDIS_DB"))
	if err != nil || db < 0 {
		return 0
	}
	return db
}

// KafkaBrokers returns the comma-separated KAFKA_BROKERS list. Empty means
// settlement events are only logged.
func KafkaBrokers() []string {
	return splitList(os.Getenv("KAFKA_BROKERS"))
}

func KafkaTopic() string {
	t := os.Getenv("KAFKA_TOPIC")
	if t == "" {
		return "veracity.settlements"
	}
	return t
}

// WeightsPath points at the YAML file with ranking profiles. Empty means no
// profiles are loaded.
func WeightsPath() string {
	return os.Getenv("WEIGHTS_PATH")
}

// BTSTemperature returns the softmax temperature for BTS weighting.
// Defaults to 10 if not set.
func BTSTemperature() float64 {
	t, err := strconv.ParseFloat(os.Getenv("BTS_TEMPERATURE"), 64)
	if err != nil || t <= 0 {
		return 10
	}
	return t
}

func SettlementConcurrency() int {
	return positiveInt("SETTLEMENT_CONCURRENCY", 4)
}

func SettlementMaxRetries() int {
	n, err := strconv.Atoi(os.Getenv("SETTLEMENT_MAX_RETRIES"))
	if err != nil || n < 0 {
		return 5
	}
	return n
}

func SettlementBaseDelay() time.Duration {
	return duration("SETTLEMENT_BASE_DELAY", time.Second)
}

func SettlementMaxDelay() time.Duration {
	return duration("SETTLEMENT_MAX_DELAY", time.Minute)
}

func SettlementTimeout() time.Duration {
	return duration("SETTLEMENT_TIMEOUT", 30*time.Second)
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return positiveInt("RATE_LIMIT_BURST", 20)
}

// APIKeys returns the accepted bearer keys. Empty disables auth.
func APIKeys() []string {
	return splitList(os.Getenv("API_KEYS"))
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

// SignalPriority is the display order of signal keys.
// Defaults to truth, relevance, informativeness.
func SignalPriority() []string {
	p := splitList(os.Getenv("SIGNAL_PRIORITY"))
	if len(p) == 0 {
		return []string{"truth", "relevance", "informativeness"}
	}
	return p
}

func MigrationsPath() string {
	p := os.Getenv("MIGRATIONS_PATH")
	if p == "" {
		return "migrations"
	}
	return p
}

func positiveInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
