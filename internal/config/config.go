package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers supported by the record store.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Messaging MessagingConfig
	Tickets   TicketConfig
	Audit     AuditConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr                    string
	Password                string
	DB                      int
	IdentityCacheTTLSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// MessagingConfig holds the AMQP broker used for event fan-out. An empty URL disables it.
type MessagingConfig struct {
	AMQPURL               string
	Exchange              string
	DialTimeoutSeconds    int
	PublishTimeoutSeconds int
	RelayQueueSize        int
}

// TicketConfig holds ticket catalog defaults and the transcript location.
type TicketConfig struct {
	Types             []string
	TranscriptBaseURL string
}

// AuditConfig bounds audit log pagination.
type AuditConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	driver := strings.ToLower(getEnv("STORE_DRIVER", StoreDriverSQLite))
	if driver != StoreDriverPostgres && driver != StoreDriverSQLite {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", driver)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "guild-ticket-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver:     driver,
			SQLitePath: getEnv("SQLITE_PATH", "tickets.db"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:                    getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:                os.Getenv("REDIS_PASSWORD"),
			DB:                      redisDB,
			IdentityCacheTTLSeconds: getEnvAsInt("IDENTITY_CACHE_TTL_SECONDS", 86400),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Messaging: MessagingConfig{
			AMQPURL:               os.Getenv("AMQP_URL"),
			Exchange:              getEnv("AMQP_EXCHANGE", "guild.tickets"),
			DialTimeoutSeconds:    getEnvAsInt("AMQP_DIAL_TIMEOUT_SECONDS", 5),
			PublishTimeoutSeconds: getEnvAsInt("AMQP_PUBLISH_TIMEOUT_SECONDS", 5),
			RelayQueueSize:        getEnvAsInt("EVENT_RELAY_QUEUE_SIZE", 1024),
		},
		Tickets: TicketConfig{
			Types:             getEnvAsList("TICKET_TYPES", []string{"support"}),
			TranscriptBaseURL: getEnv("TRANSCRIPT_BASE_URL", ""),
		},
		Audit: AuditConfig{
			DefaultPageSize: getEnvAsInt("AUDIT_PAGE_SIZE_DEFAULT", 50),
			MaxPageSize:     getEnvAsInt("AUDIT_PAGE_SIZE_MAX", 250),
		},
	}

	if cfg.Store.Driver == StoreDriverPostgres && cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required when STORE_DRIVER=%s", StoreDriverPostgres)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DialTimeout bounds connecting to the broker, including the AMQP handshake.
func (m MessagingConfig) DialTimeout() time.Duration {
	if m.DialTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(m.DialTimeoutSeconds) * time.Second
}

// PublishTimeout bounds one relayed publish.
func (m MessagingConfig) PublishTimeout() time.Duration {
	if m.PublishTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(m.PublishTimeoutSeconds) * time.Second
}

// IdentityCacheTTL returns how long display snapshots stay cached.
func (r RedisConfig) IdentityCacheTTL() time.Duration {
	if r.IdentityCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(r.IdentityCacheTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var items []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
