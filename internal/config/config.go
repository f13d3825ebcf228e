// Package config loads Kestrel configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Prefix is prepended to every environment variable name.
const Prefix = "KESTREL_"

// Load reads an optional .env file, picks the profile defaults and applies
// KESTREL_* overrides on top.
func Load() (*domain.Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*domain.Config, error) {
	var cfg *domain.Config
	switch profile := domain.Profile(getEnv("PROFILE", string(domain.ProfileStandalone))); profile {
	case domain.ProfileStandalone:
		cfg = domain.DefaultConfig()
	case domain.ProfileDistributed:
		cfg = domain.DistributedConfig()
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}

	// Server
	cfg.Server.Host = getEnv("HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvAsInt("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsInt("WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	// Repository
	repo := &cfg.Repository
	repo.Driver = getEnv("DB_DRIVER", repo.Driver)
	repo.SQLitePath = getEnv("SQLITE_PATH", repo.SQLitePath)
	repo.PostgresHost = getEnv("POSTGRES_HOST", repo.PostgresHost)
	repo.PostgresPort = getEnvAsInt("POSTGRES_PORT", repo.PostgresPort)
	repo.PostgresUser = getEnv("POSTGRES_USER", repo.PostgresUser)
	repo.PostgresPassword = getEnv("POSTGRES_PASSWORD", repo.PostgresPassword)
	repo.PostgresDB = getEnv("POSTGRES_DB", repo.PostgresDB)
	repo.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", repo.PostgresSSLMode)
	repo.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", repo.MaxOpenConns)
	repo.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", repo.MaxIdleConns)
	repo.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", repo.ConnMaxLifetime)

	// Cache
	c := &cfg.Cache
	c.Type = getEnv("CACHE_TYPE", c.Type)
	c.LocalMaxSize = getEnvAsInt("CACHE_LOCAL_MAX_SIZE", c.LocalMaxSize)
	c.LocalTTL = getEnvAsDuration("CACHE_LOCAL_TTL", c.LocalTTL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvAsInt("REDIS_DB", c.RedisDB)
	c.EnableTwoPhase = getEnvAsBool("CACHE_TWO_PHASE", c.EnableTwoPhase)
	c.RulesTTL = getEnvAsDuration("RULES_CACHE_TTL", c.RulesTTL)

	// Event bus
	b := &cfg.EventBus
	b.Type = getEnv("BUS_TYPE", b.Type)
	b.ChannelBufferSize = getEnvAsInt("BUS_BUFFER_SIZE", b.ChannelBufferSize)
	b.NATSUrl = getEnv("NATS_URL", b.NATSUrl)
	b.NATSToken = getEnv("NATS_TOKEN", b.NATSToken)
	b.NATSMaxReconnects = getEnvAsInt("NATS_MAX_RECONNECTS", b.NATSMaxReconnects)
	b.NATSReconnectWait = getEnvAsInt("NATS_RECONNECT_WAIT", b.NATSReconnectWait)

	// Model
	m := &cfg.Model
	m.Source = getEnv("MODEL_SOURCE", m.Source)
	m.S3Region = getEnv("MODEL_S3_REGION", m.S3Region)
	m.S3Endpoint = getEnv("MODEL_S3_ENDPOINT", m.S3Endpoint)
	m.S3AccessKey = getEnv("MODEL_S3_ACCESS_KEY", m.S3AccessKey)
	m.S3SecretKey = getEnv("MODEL_S3_SECRET_KEY", m.S3SecretKey)
	m.S3UsePathStyle = getEnvAsBool("MODEL_S3_PATH_STYLE", m.S3UsePathStyle)

	// Scoring
	s := &cfg.Scoring
	s.AIWeight = getEnvAsFloat("AI_WEIGHT", s.AIWeight)
	s.Threshold = getEnvAsFloat("FRAUD_THRESHOLD", s.Threshold)
	s.AmountThreshold = getEnvAsFloat("AMOUNT_THRESHOLD", s.AmountThreshold)
	s.HighRiskChannels = getEnvAsList("HIGH_RISK_CHANNELS", s.HighRiskChannels)
	s.HighRiskPaymentModes = getEnvAsList("HIGH_RISK_PAYMENT_MODES", s.HighRiskPaymentModes)
	s.BatchConcurrency = getEnvAsInt("BATCH_CONCURRENCY", s.BatchConcurrency)
	s.VelocityWindow = getEnvAsDuration("VELOCITY_WINDOW", s.VelocityWindow)

	// Worker
	cfg.Worker.Enabled = getEnvAsBool("ASYNC_WORKER", cfg.Worker.Enabled)
	cfg.Worker.Count = getEnvAsInt("WORKER_COUNT", cfg.Worker.Count)

	// Observability
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	if getEnvAsBool("DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvAsBool("TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("SERVICE_NAME", cfg.Tracing.ServiceName)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if cfg.Scoring.AIWeight < 0 || cfg.Scoring.AIWeight > 1 {
		return fmt.Errorf("ai weight must be between 0 and 1, got %v", cfg.Scoring.AIWeight)
	}
	if cfg.Scoring.Threshold < 0 || cfg.Scoring.Threshold > 1 {
		return fmt.Errorf("fraud threshold must be between 0 and 1, got %v", cfg.Scoring.Threshold)
	}
	if cfg.Scoring.AmountThreshold < 0 {
		return fmt.Errorf("amount threshold must not be negative, got %v", cfg.Scoring.AmountThreshold)
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel converts a level name into a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}

// NewLogger builds the process logger from the logging configuration.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(Prefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
