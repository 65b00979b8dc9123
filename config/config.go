package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"d2g-api"`
	Version                       string   `env:"APP_VERSION" env-default:"dev"`
	Port                          int      `env:"PORT" env-default:"3000"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE,OPTIONS"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"localhost"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"d2g"`
	// Database SSL mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version, 0 means latest
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Auth Enabled - when false, X-User-ID and X-User-Roles headers are trusted
	AuthEnabled bool `env:"AUTH_ENABLED" env-default:"false"`
	// Auth Issuer URL
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	// Auth Client ID, empty skips the audience check
	AuthClientID string `env:"AUTH_CLIENT_ID" env-default:""`
	// Role required on the admin surface
	AuthAdminRole string `env:"AUTH_ADMIN_ROLE" env-default:"admin"`

	// Identity provider admin API
	IdentityBaseURL      string `env:"IDENTITY_BASE_URL" env-default:"http://localhost:8080"`
	IdentityRealm        string `env:"IDENTITY_REALM" env-default:"d2g"`
	IdentityClientID     string `env:"IDENTITY_CLIENT_ID" env-default:""`
	IdentityClientSecret string `env:"IDENTITY_CLIENT_SECRET" env-default:""`

	// Redis host
	RedisHost string `env:"REDIS_HOST" env-default:"localhost"`
	// Redis port
	RedisPort int `env:"REDIS_PORT" env-default:"6379"`
	// Redis password
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	// Redis database number
	RedisDB int `env:"REDIS_DB" env-default:"0"`
	// Per-form lock expiry
	SchemaLockTTL time.Duration `env:"SCHEMA_LOCK_TTL" env-default:"10s"`
	// How long a writer waits for a per-form lock
	SchemaLockWait time.Duration `env:"SCHEMA_LOCK_WAIT" env-default:"5s"`

	// Submissions accepted per client IP within the window, 0 disables the limit
	SubmissionRateLimit int64 `env:"SUBMISSION_RATE_LIMIT" env-default:"20"`
	// Sliding window for the submission rate limit
	SubmissionRateWindow time.Duration `env:"SUBMISSION_RATE_WINDOW" env-default:"1m"`

	// Kafka enabled - when false, events are dropped
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"true"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Kafka topic for schema lifecycle events
	KafkaSchemaTopic string `env:"KAFKA_SCHEMA_TOPIC" env-default:"d2g.schemas"`
	// Kafka topic for received submissions
	KafkaSubmissionTopic string `env:"KAFKA_SUBMISSION_TOPIC" env-default:"d2g.submissions"`

	// Resend API key
	ResendAPIKey string `env:"RESEND_API_KEY" env-default:""`
	// Resend base URL
	ResendBaseURL string `env:"RESEND_BASE_URL" env-default:"https://api.resend.com"`
	// Sender of every outgoing email
	EmailFrom string `env:"EMAIL_FROM" env-default:"Dock2Gdansk <re-reply@comm.dagodigital.com>"`
	// Recipients used when config/analysis-emails has no active entry
	EmailFallbackRecipients []string `env:"EMAIL_FALLBACK_RECIPIENTS" env-default:"Marek.Machalski@portgdansk.pl,michal@dagodigital.com"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads the optional dotenv files, then the environment. Variables already set
// in the environment win over dotenv values.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return &cfg, nil
}
