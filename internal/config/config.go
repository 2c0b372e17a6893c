// Package config loads settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Remote backends.
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteREST     = "rest"
	RemotePostgres = "postgres"
)

// Blob backends.
const (
	BlobSQLite = "sqlite"
	BlobS3     = "s3"
)

type Config struct {
	Server  ServerConfig
	App     AppConfig
	Remote  RemoteConfig
	Session SessionConfig
	Sync    SyncConfig
	Blob    BlobConfig
	Backup  BackupConfig
}

type ServerConfig struct {
	Host            string        `envconfig:"TEACADDY_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"TEACADDY_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"TEACADDY_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"TEACADDY_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"TEACADDY_SHUTDOWN_TIMEOUT" default:"10s"`
	AllowedOrigins  []string      `envconfig:"TEACADDY_ALLOWED_ORIGINS" default:"http://localhost:5173"`
}

type AppConfig struct {
	Environment string `envconfig:"TEACADDY_ENV" default:"development"`
	LogLevel    string `envconfig:"TEACADDY_LOG_LEVEL" default:"info"`
	DBPath      string `envconfig:"TEACADDY_DB_PATH" default:"teacaddy.db"`
}

// RemoteConfig selects where the owner's durable copy lives.
type RemoteConfig struct {
	Backend     string        `envconfig:"TEACADDY_REMOTE" default:"none"` // none, memory, rest or postgres
	URL         string        `envconfig:"TEACADDY_REMOTE_URL"`
	APIKey      string        `envconfig:"TEACADDY_REMOTE_API_KEY"`
	Timeout     time.Duration `envconfig:"TEACADDY_REMOTE_TIMEOUT" default:"15s"`
	PostgresDSN string        `envconfig:"TEACADDY_POSTGRES_DSN"`
}

type SessionConfig struct {
	// JWTSecret verifies HS256 access tokens. Empty disables token login.
	JWTSecret string `envconfig:"TEACADDY_JWT_SECRET"`
	// OwnerID signs in at startup without a token.
	OwnerID string `envconfig:"TEACADDY_OWNER_ID"`
	Email   string `envconfig:"TEACADDY_OWNER_EMAIL"`
}

type SyncConfig struct {
	Quiet             time.Duration `envconfig:"TEACADDY_PUSH_QUIET" default:"1s"`
	OutboxInterval    time.Duration `envconfig:"TEACADDY_OUTBOX_INTERVAL" default:"30s"`
	OutboxMaxAttempts int           `envconfig:"TEACADDY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	OutboxRate        float64       `envconfig:"TEACADDY_OUTBOX_RATE" default:"5"`
	OutboxBurst       int           `envconfig:"TEACADDY_OUTBOX_BURST" default:"10"`
}

type BlobConfig struct {
	Backend     string `envconfig:"TEACADDY_BLOB_STORE" default:"sqlite"` // sqlite or s3
	S3Endpoint  string `envconfig:"TEACADDY_S3_ENDPOINT"`
	S3Bucket    string `envconfig:"TEACADDY_S3_BUCKET"`
	S3Region    string `envconfig:"TEACADDY_S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"TEACADDY_S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"TEACADDY_S3_SECRET_KEY"`
	S3Prefix    string `envconfig:"TEACADDY_S3_PREFIX" default:"photos/"`
}

type BackupConfig struct {
	// Passphrase seals exported backups when set.
	Passphrase string `envconfig:"TEACADDY_BACKUP_PASSPHRASE"`
}

// Address returns the listen address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Validate checks the backend selections and the settings they need.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case RemoteNone, RemoteMemory:
	case RemoteREST:
		if c.Remote.URL == "" {
			return fmt.Errorf("TEACADDY_REMOTE_URL is required for the rest remote")
		}
	case RemotePostgres:
		if c.Remote.PostgresDSN == "" {
			return fmt.Errorf("TEACADDY_POSTGRES_DSN is required for the postgres remote")
		}
	default:
		return fmt.Errorf("unknown remote backend %q", c.Remote.Backend)
	}
	switch c.Blob.Backend {
	case BlobSQLite:
	case BlobS3:
		if c.Blob.S3Bucket == "" {
			return fmt.Errorf("TEACADDY_S3_BUCKET is required for the s3 blob store")
		}
	default:
		return fmt.Errorf("unknown blob store %q", c.Blob.Backend)
	}
	if c.Sync.Quiet <= 0 {
		return fmt.Errorf("TEACADDY_PUSH_QUIET must be positive")
	}
	return nil
}

// Load reads .env if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
