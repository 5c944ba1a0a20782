package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all snapshot service configuration
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Health   HealthConfig
	LogLevel string
}

// ServerConfig holds HTTP and gRPC listener configuration
type ServerConfig struct {
	Port            int
	Host            string
	GRPCPort        int
	BodyLimitBytes  int64
	AllowedOrigins  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig selects and sizes the snapshot history backend
type StoreConfig struct {
	Backend      string
	MaxSnapshots int
	DataDir      string
	SnapshotFile string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NATSConfig holds NATS configuration. An empty URL disables publishing.
type NATSConfig struct {
	URL     string
	Subject string
}

// HealthConfig holds history staleness monitoring configuration
type HealthConfig struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "./data")
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 4000),
			Host:            getEnvString("HOST", "0.0.0.0"),
			GRPCPort:        getEnvInt("GRPC_PORT", 4001),
			BodyLimitBytes:  int64(getEnvInt("BODY_LIMIT_BYTES", 2<<20)),
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 0),
			RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 20),
			ReadTimeout:     getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend:      getEnvString("STORE_BACKEND", StoreFile),
			MaxSnapshots: getEnvInt("MAX_SNAPSHOTS", 500),
			DataDir:      dataDir,
			SnapshotFile: getEnvString("SNAPSHOT_FILE", filepath.Join(dataDir, "snapshots.json")),
		},
		Database: DatabaseConfig{
			Host:     getEnvString("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnvString("DB_USER", "postgres"),
			Password: getEnvString("DB_PASSWORD", ""),
			DBName:   getEnvString("DB_NAME", "paddle"),
			SSLMode:  getEnvString("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:     getEnvString("NATS_URL", ""),
			Subject: getEnvString("NATS_SUBJECT", "training-snapshots"),
		},
		Health: HealthConfig{
			CheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
			StaleAfter:    getEnvDuration("SNAPSHOT_STALE_AFTER", 10*time.Minute),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be within 1-65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("GRPC_PORT must be within 0-65535, got %d", c.Server.GRPCPort)
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		return errors.New("GRPC_PORT must differ from PORT")
	}
	if c.Server.BodyLimitBytes <= 0 {
		return errors.New("BODY_LIMIT_BYTES must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_BURST must be at least 1 when rate limiting")
	}
	if c.Store.MaxSnapshots < 1 {
		return fmt.Errorf("MAX_SNAPSHOTS must be at least 1, got %d", c.Store.MaxSnapshots)
	}
	switch c.Store.Backend {
	case StoreFile:
		if c.Store.SnapshotFile == "" {
			return errors.New("SNAPSHOT_FILE is required for the file backend")
		}
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("STORE_BACKEND must be file, memory or postgres, got %q", c.Store.Backend)
	}
	if c.Health.CheckInterval <= 0 {
		return errors.New("HEALTH_CHECK_INTERVAL must be positive")
	}
	return nil
}

// HTTPAddr returns the HTTP listen address.
func (s ServerConfig) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns the gRPC listen address, or "" when disabled.
func (s ServerConfig) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// ConnectionString returns the database connection string
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
