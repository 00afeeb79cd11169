package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// InvariantMode is "strict" or "permissive".
	InvariantMode string

	OTLPEndpoint string

	DocStoreBackend    string
	FirestoreProjectID string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Sentry    SentryConfig
	Scheduler SchedulerConfig

	BillingPolicyPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RateLimitConfig throttles usage ingestion per workspace. It needs Redis.
type RateLimitConfig struct {
	Enabled          bool
	UsageIngestRate  float64
	UsageIngestBurst int
}

type SentryConfig struct {
	DSN        string
	SampleRate float64
}

func (c SentryConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

type SchedulerConfig struct {
	Enabled     bool
	EnabledJobs []string
	RunInterval time.Duration
}

const (
	InvariantModeStrict     = "strict"
	InvariantModePermissive = "permissive"
)

const (
	DocStoreSQL       = "sql"
	DocStoreFirestore = "firestore"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	return Config{
		AppName:            getenv("APP_SERVICE", "billingguard"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        environment,
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		InvariantMode:      normalizeInvariantMode(getenv("INVARIANT_MODE", ""), environment),
		OTLPEndpoint:       getenv("OTLP_ENDPOINT", "localhost:4317"),
		DocStoreBackend:    normalizeDocStore(getenv("DOCSTORE_BACKEND", DocStoreSQL)),
		FirestoreProjectID: strings.TrimSpace(getenv("FIRESTORE_PROJECT_ID", "")),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "billingguard"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:       getenv("DATABASE_SQLITE_PATH", "billingguard.db"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBAutoMigrate:      getenvBool("DATABASE_AUTO_MIGRATE", true),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("USAGE_INGEST_RATE_LIMIT_ENABLED", false),
			UsageIngestRate:  getenvFloat("USAGE_INGEST_RATE", 50),
			UsageIngestBurst: getenvInt("USAGE_INGEST_BURST", 200),
		},
		Sentry: SentryConfig{
			DSN:        strings.TrimSpace(getenv("SENTRY_DSN", "")),
			SampleRate: getenvFloat("SENTRY_SAMPLE_RATE", 1.0),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			EnabledJobs: parseList(getenv("SCHEDULER_JOBS", "")),
			RunInterval: getenvDuration("SCHEDULER_INTERVAL", time.Minute),
		},
		BillingPolicyPath: strings.TrimSpace(getenv("BILLING_POLICY_PATH", "")),
	}
}

// IsStrict reports whether invariant violations should fail fast.
func (c Config) IsStrict() bool {
	return c.InvariantMode == InvariantModeStrict
}

func normalizeInvariantMode(raw, environment string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case InvariantModeStrict:
		return InvariantModeStrict
	case InvariantModePermissive:
		return InvariantModePermissive
	}
	if IsDevEnv(environment) {
		return InvariantModeStrict
	}
	return InvariantModePermissive
}

func normalizeDocStore(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), DocStoreFirestore) {
		return DocStoreFirestore
	}
	return DocStoreSQL
}

// IsDevEnv reports whether env names a non-production environment.
func IsDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
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
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
