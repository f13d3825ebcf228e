package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Profile selects the default backing services.
	Profile Profile `json:"profile"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Model      ModelConfig      `json:"model"`
	Scoring    ScoringConfig    `json:"scoring"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// Profile represents a deployment profile.
type Profile string

const (
	// ProfileStandalone runs on SQLite, the in-memory cache and channels.
	ProfileStandalone Profile = "standalone"

	// ProfileDistributed runs on PostgreSQL, Redis and NATS.
	ProfileDistributed Profile = "distributed"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ModelConfig describes where the classifier artifact lives.
// An empty Source runs without a classifier.
type ModelConfig struct {
	// Source is a local path, file:// URL or s3://bucket/key.
	Source string `json:"source"`

	// S3 settings, used when Source is an s3:// URL
	S3Region       string `json:"s3Region"`
	S3Endpoint     string `json:"s3Endpoint"`
	S3AccessKey    string `json:"-"`
	S3SecretKey    string `json:"-"`
	S3UsePathStyle bool   `json:"s3UsePathStyle"`
}

// ScoringConfig tunes the scoring engine.
type ScoringConfig struct {
	// AIWeight is the base classifier weight for ordinary amounts.
	AIWeight float64 `json:"aiWeight"`

	// Threshold overrides the amount-based default when positive.
	Threshold float64 `json:"threshold"`

	// Static rule overrides. Zero values keep the built-in defaults.
	AmountThreshold      float64  `json:"amountThreshold"`
	HighRiskChannels     []string `json:"highRiskChannels"`
	HighRiskPaymentModes []string `json:"highRiskPaymentModes"`

	// BatchConcurrency bounds batch fan-out.
	BatchConcurrency int `json:"batchConcurrency"`

	// VelocityWindow is the lookback used for payer_velocity.
	VelocityWindow time.Duration `json:"velocityWindow"`
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`
	Count   int  `json:"count"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the standalone configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileStandalone,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RulesTTL:     30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			AIWeight:         0.7,
			BatchConcurrency: 8,
			VelocityWindow:   time.Hour,
		},
		Worker: WorkerConfig{
			Count: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration backed by PostgreSQL, Redis
// and NATS, with the async worker enabled.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileDistributed
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "kestrel",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		RulesTTL:       30 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
