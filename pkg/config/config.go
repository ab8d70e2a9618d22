package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Webhook       WebhookConfig
	Gateway       GatewayConfig
	Accounting    AccountingConfig
	Notifications NotificationsConfig
	Availability  AvailabilityConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WebhookConfig governs inbound payment-provider event handling.
type WebhookConfig struct {
	SigningSecret string
	Tolerance     time.Duration
	DedupeTTL     time.Duration
}

// GatewayConfig configures the external payment gateway client.
type GatewayConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RefundTimeout time.Duration
}

// AccountingConfig configures the bookkeeping-system sync client.
type AccountingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NotificationsConfig configures the mail relay and delivery workers.
type NotificationsConfig struct {
	RelayURL          string
	FromAddress       string
	Timeout           time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	RetryDelay        time.Duration
}

// AvailabilityConfig tunes seat-availability caching.
type AvailabilityConfig struct {
	CacheTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Webhook = WebhookConfig{
		SigningSecret: v.GetString("WEBHOOK_SIGNING_SECRET"),
		Tolerance:     parseDuration(v.GetString("WEBHOOK_TOLERANCE"), 5*time.Minute),
		DedupeTTL:     parseDuration(v.GetString("WEBHOOK_DEDUPE_TTL"), 24*time.Hour),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:       v.GetString("GATEWAY_BASE_URL"),
		APIKey:        v.GetString("GATEWAY_API_KEY"),
		Timeout:       parseDuration(v.GetString("GATEWAY_TIMEOUT"), 10*time.Second),
		RefundTimeout: parseDuration(v.GetString("GATEWAY_REFUND_TIMEOUT"), 15*time.Second),
	}

	cfg.Accounting = AccountingConfig{
		BaseURL: v.GetString("ACCOUNTING_BASE_URL"),
		APIKey:  v.GetString("ACCOUNTING_API_KEY"),
		Timeout: parseDuration(v.GetString("ACCOUNTING_TIMEOUT"), 10*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		RelayURL:          v.GetString("MAIL_RELAY_URL"),
		FromAddress:       v.GetString("MAIL_FROM_ADDRESS"),
		Timeout:           parseDuration(v.GetString("MAIL_TIMEOUT"), 10*time.Second),
		WorkerConcurrency: v.GetInt("MAIL_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("MAIL_WORKER_RETRIES"),
		RetryDelay:        parseDuration(v.GetString("MAIL_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Availability = AvailabilityConfig{
		CacheTTL: parseDuration(v.GetString("AVAILABILITY_CACHE_TTL"), time.Minute),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classreg")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WEBHOOK_SIGNING_SECRET", "dev_webhook_secret")
	v.SetDefault("WEBHOOK_TOLERANCE", "5m")
	v.SetDefault("WEBHOOK_DEDUPE_TTL", "24h")

	v.SetDefault("GATEWAY_BASE_URL", "http://localhost:4242")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_REFUND_TIMEOUT", "15s")

	v.SetDefault("ACCOUNTING_BASE_URL", "http://localhost:9090")
	v.SetDefault("ACCOUNTING_API_KEY", "")
	v.SetDefault("ACCOUNTING_TIMEOUT", "10s")

	v.SetDefault("MAIL_RELAY_URL", "http://localhost:2525")
	v.SetDefault("MAIL_FROM_ADDRESS", "noreply@classreg.local")
	v.SetDefault("MAIL_TIMEOUT", "10s")
	v.SetDefault("MAIL_WORKER_CONCURRENCY", 2)
	v.SetDefault("MAIL_WORKER_RETRIES", 3)
	v.SetDefault("MAIL_RETRY_DELAY", "30s")

	v.SetDefault("AVAILABILITY_CACHE_TTL", "1m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
