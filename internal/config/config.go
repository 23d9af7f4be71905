// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links in notification emails.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding the SQL migration files.
	MigrationsPath string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// Upload holds submission upload settings.
	Upload UploadConfig

	// Blob selects and configures the datafile storage backend.
	Blob BlobConfig

	// SMTP holds outgoing mail settings for report notifications.
	SMTP SMTPConfig

	// Notify lists the administrator addresses that receive report notices.
	Notify NotifyConfig

	// Ingest bounds bulk submission processing.
	Ingest IngestConfig

	// PolicyFile optionally points at a YAML file overriding ability rules.
	PolicyFile string
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so
// container orchestrators can manage each independently.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built with the driver's
// Config.FormatDSN() so special characters in passwords are escaped.
// multiStatements is enabled because the migration files hold several
// statements each.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey seeds cookie-bound secrets (must be 32+ chars in production).
	SecretKey string

	// SessionTTL is how long sessions last before expiring.
	SessionTTL time.Duration
}

// UploadConfig holds submission upload settings.
type UploadConfig struct {
	// MaxSize is the maximum datafile size in bytes.
	MaxSize int64
}

// BlobConfig selects the datafile storage driver.
type BlobConfig struct {
	// Driver is "fs" (default) or "s3".
	Driver string

	// Path is the root directory for the fs driver.
	Path string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// SMTPConfig holds outgoing mail settings. An empty Host disables delivery
// and mail is written to the log instead.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	FromAddress string
	FromName    string

	// Encryption is "starttls" (default), "ssl", or "none".
	Encryption string
}

// NotifyConfig lists extra recipients for report notifications.
type NotifyConfig struct {
	// AdminEmails receive unmatched reports and a copy of matched ones.
	AdminEmails []string
}

// IngestConfig bounds bulk submission processing.
type IngestConfig struct {
	// Timeout caps one Process call.
	Timeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		PolicyFile:     getEnv("POLICY_FILE", ""),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "matos"),
			Password:        getEnv("DB_PASSWORD", "matos"),
			Name:            getEnv("DB_NAME", "matos"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:  getEnv("SECRET_KEY", ""),
			SessionTTL: getEnvDuration("SESSION_TTL", 720*time.Hour),
		},

		Upload: UploadConfig{
			MaxSize: getEnvInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB
		},

		Blob: BlobConfig{
			Driver:      strings.ToLower(getEnv("BLOB_DRIVER", "fs")),
			Path:        getEnv("BLOB_PATH", "./data/submissions"),
			S3Bucket:    getEnv("BLOB_S3_BUCKET", ""),
			S3Region:    getEnv("BLOB_S3_REGION", "us-east-1"),
			S3Endpoint:  getEnv("BLOB_S3_ENDPOINT", ""),
			S3PathStyle: strings.EqualFold(getEnv("BLOB_S3_PATH_STYLE", "false"), "true"),
		},

		SMTP: SMTPConfig{
			Host:        getEnv("SMTP_HOST", ""),
			Port:        getEnvInt("SMTP_PORT", 587),
			Username:    getEnv("SMTP_USERNAME", ""),
			Password:    getEnv("SMTP_PASSWORD", ""),
			FromAddress: getEnv("SMTP_FROM", "no-reply@matos.local"),
			FromName:    getEnv("SMTP_FROM_NAME", "MATOS"),
			Encryption:  strings.ToLower(getEnv("SMTP_ENCRYPTION", "starttls")),
		},

		Notify: NotifyConfig{
			AdminEmails: getEnvList("NOTIFY_EMAILS"),
		},

		Ingest: IngestConfig{
			Timeout: getEnvDuration("INGEST_TIMEOUT", 10*time.Minute),
		},
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters in production")
		}
	}

	switch cfg.Blob.Driver {
	case "fs":
	case "s3":
		if cfg.Blob.S3Bucket == "" {
			return nil, fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER=s3")
		}
	default:
		return nil, fmt.Errorf("unknown BLOB_DRIVER %q (want fs or s3)", cfg.Blob.Driver)
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvInt64 reads an int64 env var or returns the default.
func getEnvInt64(key string, defaultVal int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var into a trimmed slice.
// Missing or blank values yield nil.
func getEnvList(key string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
