package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Tickets      TicketConfig
	Cache        CacheConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	StoreTimeoutSeconds   int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32

	// ConnectTimeoutSec bounds dialing and the startup ping.
	ConnectTimeoutSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	TimeoutSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string

	// Format is "json" (default) or "console".
	Format string
}

// AuthConfig defines authentication parameters. Tokens are issued by the
// identity backend and signed with JWTSecret.
type AuthConfig struct {
	JWTSecret             string
	JWTIssuer             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// TicketConfig holds ticket intake settings.
type TicketConfig struct {
	Categories domain.CategoryList
}

// CacheConfig sizes the profile cache.
type CacheConfig struct {
	ProfileSize       int
	ProfileTTLSeconds int
}

// NotificationConfig holds notification endpoints.
type NotificationConfig struct {
	EmailFrom    string
	WebhookURL   string
	RedisChannel string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			StoreTimeoutSeconds:   getEnvAsInt("STORE_TIMEOUT_SECONDS", 5),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,

			ConnectTimeoutSec: int32(getEnvAsInt("POSTGRES_CONNECT_TIMEOUT_SECONDS", 5)),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             redisDB,
			TimeoutSeconds: getEnvAsInt("REDIS_TIMEOUT_SECONDS", 3),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", defaultJWTSecret),
			JWTIssuer:             getEnv("AUTH_JWT_ISSUER", ""),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Tickets: TicketConfig{
			Categories: domain.NewCategoryList(getEnvAsList("TICKET_CATEGORIES", domain.DefaultCategories)),
		},
		Cache: CacheConfig{
			ProfileSize:       getEnvAsInt("PROFILE_CACHE_SIZE", 1024),
			ProfileTTLSeconds: getEnvAsInt("PROFILE_CACHE_TTL_SECONDS", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:    getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "helpdesk:events"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultJWTSecret = "dev-secret"

func (c *Config) validate() error {
	var problems []string
	if c.App.Env == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		problems = append(problems, "AUTH_JWT_SECRET must be set in production")
	}
	if len(c.Tickets.Categories.Names()) == 0 {
		problems = append(problems, "TICKET_CATEGORIES must name at least one category")
	}
	if c.Cache.ProfileSize < 0 || c.Cache.ProfileTTLSeconds < 0 {
		problems = append(problems, "profile cache size and ttl must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
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

// StoreTimeout returns the deadline applied to each store call, zero meaning none.
func (a AppConfig) StoreTimeout() time.Duration {
	if a.StoreTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.StoreTimeoutSeconds) * time.Second
}

// ProfileTTL returns how long cached profiles stay valid.
func (c CacheConfig) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLSeconds) * time.Second
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
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.Split(val, ",")
}
