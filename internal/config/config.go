package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Harvester HarvesterConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig is optional; an empty Addr disables Redis-backed features.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// Dedupe keeps the seen-handle set in Redis so a resumed CLI run
	// (harvester run --run-id) skips products it already emitted.
	Dedupe bool
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type HarvesterConfig struct {
	Concurrency       int
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	JitterMin         time.Duration
	JitterMax         time.Duration
	UserAgent         string
	SourcesDir        string
	OutputDir         string
	JobPollInterval   time.Duration
	FlushTimeout      time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
	// File enables rotated file output next to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8084),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "inventory"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_STREAM", "stream:inventory_snapshots"),
			Dedupe:   getEnvBool("REDIS_DEDUPE", false),
		},
		Harvester: HarvesterConfig{
			Concurrency:       getEnvInt("HARVEST_CONCURRENCY", 4),
			MaxAttempts:       getEnvInt("HARVEST_MAX_ATTEMPTS", 4),
			BaseDelay:         getEnvDuration("HARVEST_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:          getEnvDuration("HARVEST_MAX_DELAY", 10*time.Second),
			RequestTimeout:    getEnvDuration("HARVEST_REQUEST_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvFloat("HARVEST_RATE_LIMIT", 2),
			Burst:             getEnvInt("HARVEST_RATE_BURST", 2),
			JitterMin:         getEnvDuration("HARVEST_JITTER_MIN", 0),
			JitterMax:         getEnvDuration("HARVEST_JITTER_MAX", 250*time.Millisecond),
			UserAgent:         getEnv("HARVEST_USER_AGENT", ""),
			SourcesDir:        getEnv("HARVEST_SOURCES_DIR", "sources"),
			OutputDir:         getEnv("HARVEST_OUTPUT_DIR", "output"),
			JobPollInterval:   getEnvDuration("HARVEST_JOB_POLL_INTERVAL", 5*time.Second),
			FlushTimeout:      getEnvDuration("HARVEST_FLUSH_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Harvester.Concurrency < 1 {
		return fmt.Errorf("HARVEST_CONCURRENCY must be at least 1")
	}

	if c.Harvester.MaxAttempts < 1 {
		return fmt.Errorf("HARVEST_MAX_ATTEMPTS must be at least 1")
	}

	if c.Harvester.BaseDelay > c.Harvester.MaxDelay {
		return fmt.Errorf("HARVEST_BASE_DELAY cannot be greater than HARVEST_MAX_DELAY")
	}

	if c.Harvester.JitterMin > c.Harvester.JitterMax {
		return fmt.Errorf("HARVEST_JITTER_MIN cannot be greater than HARVEST_JITTER_MAX")
	}

	return nil
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
