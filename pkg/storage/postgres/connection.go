package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// ConnectionManager holds the primary connection pool and any read replicas.
// Writes and read-modify-write paths use Primary; list and count queries may
// use Replica.
type ConnectionManager struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // round-robin cursor
	mu       sync.RWMutex
	config   ConnectionConfig
	logger   *observability.Logger
}

// ConnectionConfig holds pool configuration
type ConnectionConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ConnectionConfigFrom derives pool settings from the storage config
func ConnectionConfigFrom(cfg storage.Config) ConnectionConfig {
	return ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.PostgresReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}

// Connect opens and pings the primary, then any replicas. Replicas that fail to
// connect are logged and skipped.
func Connect(ctx context.Context, config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	primary, err := open(ctx, config.PrimaryURL, config.MaxConns, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary: %w", err)
	}

	var replicas []*sql.DB
	for i, url := range config.ReplicaURLs {
		replica, err := open(ctx, url, replicaPoolSize(config.MaxConns), config)
		if err != nil {
			logger.WithError(err).WithField("replica", i).Warn("Skipping unreachable read replica")
			continue
		}
		replicas = append(replicas, replica)
	}

	logger.WithField("replicas", len(replicas)).Info("PostgreSQL connection manager initialized")
	return NewConnectionManager(primary, replicas, config, logger), nil
}

// NewConnectionManager wraps already opened pools
func NewConnectionManager(primary *sql.DB, replicas []*sql.DB, config ConnectionConfig, logger *observability.Logger) *ConnectionManager {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ConnectionManager{
		primary:  primary,
		replicas: replicas,
		config:   config,
		logger:   logger,
	}
}

func open(ctx context.Context, url string, maxConns int, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// replicaPoolSize is half the primary pool, at least 2
func replicaPoolSize(maxConns int) int {
	if n := maxConns / 2; n >= 2 {
		return n
	}
	return 2
}

// Primary returns the write pool
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// Replica returns a read pool, round-robin across replicas. It falls back to
// the primary when none are configured.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// AllReplicas returns a copy of the replica list
func (cm *ConnectionManager) AllReplicas() []*sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return append([]*sql.DB(nil), cm.replicas...)
}

// PingContext checks the primary. Replica failures only degrade reads and are
// reported by HealthCheck.
func (cm *ConnectionManager) PingContext(ctx context.Context) error {
	return cm.primary.PingContext(ctx)
}

// HealthCheck pings the primary and every replica. It fails when the primary
// is down or when every replica is.
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	replicas := cm.AllReplicas()
	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// RemoveUnhealthyReplicas closes and drops replicas that fail a ping
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
			continue
		}
		healthy = append(healthy, replica)
	}
	cm.replicas = healthy
	return removed
}

// StartHealthCheckRoutine drops unhealthy replicas every interval until ctx is
// done.
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}

	go func() {
		defer observability.RecoverPanic(cm.logger, "replica health check")

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				removed := cm.RemoveUnhealthyReplicas(checkCtx)
				cancel()
				if removed > 0 {
					cm.logger.WithField("removed", removed).Warn("Removed unhealthy read replicas")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes every pool
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
