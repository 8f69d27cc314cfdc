package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const Version = "1.0.0"

// Config holds application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Storage configuration
	DBType      string // "sqlite" or "postgres"
	DBPath      string // SQLite database path
	DatabaseURL string // Postgres DSN; built from PG* when empty
	PGHost      string
	PGPort      int
	PGUser      string
	PGPassword  string
	PGDatabase  string

	// Load configuration
	DataFile  string
	BatchSize int
	QueueSize int

	// Cache configuration
	CacheType string // "memory", "redis" or "none"
	CacheTTL  int    // seconds
	CacheSize int
	RedisHost string
	RedisPort int

	// Logging
	Debug     bool
	LogFormat string // "console" or "json"
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Host:       "0.0.0.0",
		Port:       9090,
		DBType:     "sqlite",
		DBPath:     "amzmeta.db",
		PGHost:     "localhost",
		PGPort:     5432,
		PGDatabase: "amzmeta",
		DataFile:   "amazon-meta.txt",
		BatchSize:  1000,
		QueueSize:  64,
		CacheType:  "memory",
		CacheTTL:   300,
		CacheSize:  1024,
		RedisHost:  "localhost",
		RedisPort:  6379,
		Debug:      false,
		LogFormat:  "console",
	}
}

// LoadDotEnv loads variables from path (".env" when empty) into the
// process environment. A missing file is not an error; variables already
// set are left alone.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Port = port
		}
	}
	if val := os.Getenv("DB_TYPE"); val != "" {
		cfg.DBType = strings.ToLower(val)
	}
	if val := os.Getenv("DB_PATH"); val != "" {
		cfg.DBPath = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		cfg.DatabaseURL = val
	}
	if val := os.Getenv("PGHOST"); val != "" {
		cfg.PGHost = val
	}
	if val := os.Getenv("PGPORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.PGPort = port
		}
	}
	if val := os.Getenv("PGUSER"); val != "" {
		cfg.PGUser = val
	}
	if val := os.Getenv("PGPASSWORD"); val != "" {
		cfg.PGPassword = val
	}
	if val := os.Getenv("PGDATABASE"); val != "" {
		cfg.PGDatabase = val
	}
	if val := os.Getenv("DATA_FILE"); val != "" {
		cfg.DataFile = val
	}
	if val := os.Getenv("BATCH_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if val := os.Getenv("QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.QueueSize = n
		}
	}
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		cfg.CacheType = strings.ToLower(val)
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		if ttl, err := strconv.Atoi(val); err == nil {
			cfg.CacheTTL = ttl
		}
	}
	if val := os.Getenv("CACHE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			cfg.CacheSize = size
		}
	}
	if val := os.Getenv("REDIS_HOST"); val != "" {
		cfg.RedisHost = val
	}
	if val := os.Getenv("REDIS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.RedisPort = port
		}
	}
	if val := os.Getenv("DEBUG"); val != "" {
		cfg.Debug = parseBool(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.LogFormat = strings.ToLower(val)
	}
}

// PostgresDSN returns DatabaseURL, or a URL assembled from the PG* fields
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.PGHost, c.PGPort),
		Path:   "/" + c.PGDatabase,
	}
	switch {
	case c.PGUser != "" && c.PGPassword != "":
		u.User = url.UserPassword(c.PGUser, c.PGPassword)
	case c.PGUser != "":
		u.User = url.User(c.PGUser)
	}
	return u.String()
}

// StoreConfig returns the factory configuration for storage.NewStore
func (c *Config) StoreConfig() map[string]interface{} {
	switch c.DBType {
	case "postgres":
		return map[string]interface{}{"dsn": c.PostgresDSN()}
	default:
		return map[string]interface{}{"db_path": c.DBPath}
	}
}

// RedisAddr returns the host:port of the Redis server
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Validate checks values that cannot be repaired by defaults
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.DBType)
	}
	switch c.CacheType {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q", c.CacheType)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func parseBool(val string) bool {
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes"
}
