package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a lookup or conditional update matches nothing
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write violates a uniqueness constraint
	ErrConflict = errors.New("storage: conflict")
)

// Backend types
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
)

// Config holds storage configuration
type Config struct {
	Type string `env:"TYPE" envDefault:"memory"`

	// PostgreSQL config
	PostgresURL         string        `env:"POSTGRES_URL"`
	PostgresReplicaURLs []string      `env:"POSTGRES_REPLICA_URLS" envSeparator:","`
	PostgresMaxConns    int           `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns    int           `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	PostgresTimeout     time.Duration `env:"POSTGRES_TIMEOUT" envDefault:"10s"`
	AutoMigrate         bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	// Redis config
	RedisURL        string `env:"REDIS_URL"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	RedisMaxRetries int    `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	RedisPoolSize   int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Cache config
	CacheEnabled bool          `env:"CACHE_ENABLED" envDefault:"true"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1m"`
	L1CacheSize  int           `env:"L1_CACHE_SIZE" envDefault:"10000"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		AutoMigrate:      true,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL:         time.Minute,
		L1CacheSize:      10000,
	}
}

// Validate checks the backend selection and its required settings
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("storage: postgres URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage: unknown type %q (want %s or %s)", c.Type, TypeMemory, TypePostgres)
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		return fmt.Errorf("storage: cache TTL must be positive")
	}
	return nil
}
