package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/golden-engine/pkg/logging"
	"github.com/ekaya-inc/golden-engine/pkg/retry"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultCleanupInterval      = 1 * time.Minute
	DefaultPoolMaxConns         = 4
	DefaultPoolMinConns         = 1
)

// ConnectionManagerConfig holds configuration for the connection manager.
type ConnectionManagerConfig struct {
	TTLMinutes   int
	PoolMaxConns int32
	PoolMinConns int32
}

// OpenPoolFunc opens a new pool when none is cached.
type OpenPoolFunc func(ctx context.Context, cfg ConnectionManagerConfig) (Pool, error)

// ConnectionManager caches source connection pools with TTL-based cleanup so
// repeated scans of the same source reuse connections.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*managedConnection // key: "{dbType}:{sourceID}:{connHash}"
	cfg         ConnectionManagerConfig
	ttl         time.Duration
	stopped     bool
	stopChan    chan struct{}
	logger      *zap.Logger
}

type managedConnection struct {
	pool     Pool
	lastUsed time.Time
	mu       sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	m := &ConnectionManager{
		connections: make(map[string]*managedConnection),
		cfg:         cfg,
		ttl:         time.Duration(cfg.TTLMinutes) * time.Minute,
		stopChan:    make(chan struct{}),
		logger:      logger.Named("connection-manager"),
	}

	go m.cleanupExpiredConnections()
	return m
}

// Config returns the effective pool settings.
func (m *ConnectionManager) Config() ConnectionManagerConfig {
	return m.cfg
}

// poolKey includes a hash of the connection string so a source whose
// credentials or host changed gets a fresh pool.
func poolKey(dbType string, sourceID uuid.UUID, connString string) string {
	sum := sha256.Sum256([]byte(connString))
	return fmt.Sprintf("%s:%s:%s", dbType, sourceID, hex.EncodeToString(sum[:8]))
}

// GetOrCreatePool returns the cached pool for the source or opens one with open.
// Cached pools are pinged first; unhealthy pools are closed and reopened.
func (m *ConnectionManager) GetOrCreatePool(
	ctx context.Context,
	dbType string,
	sourceID uuid.UUID,
	connString string,
	open OpenPoolFunc,
) (Pool, error) {
	key := poolKey(dbType, sourceID, connString)

	m.mu.RLock()
	managed, exists := m.connections[key]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})
		if err != nil {
			m.logger.Warn("connection unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			m.removeConnection(key)
			return m.createNewPool(ctx, key, open)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createNewPool(ctx, key, open)
}

func (m *ConnectionManager) createNewPool(ctx context.Context, key string, open OpenPoolFunc) (Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := m.connections[key]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	// Bad credentials or a missing database fail on the first attempt.
	pool, err := retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() (Pool, error) {
		return open(ctx, m.cfg)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for %s: %s", key, logging.SanitizeError(err))
	}

	m.connections[key] = &managedConnection{pool: pool, lastUsed: time.Now()}
	m.logger.Info("created new connection pool",
		zap.String("key", key),
		zap.String("db_type", pool.GetType()),
		zap.Int("total_connections", len(m.connections)),
	)
	return pool, nil
}

func (m *ConnectionManager) removeConnection(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.connections[key]; exists && managed != nil {
		_ = managed.pool.Close()
		delete(m.connections, key)
		m.logger.Debug("removed connection", zap.String("key", key))
	}
}

func (m *ConnectionManager) cleanupExpiredConnections() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes connections idle longer than the TTL.
// Lock order: manager, then connection.
func (m *ConnectionManager) performCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}

	var expired []string
	for key, managed := range m.connections {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()
		if idle > m.ttl {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		_ = m.connections[key].pool.Close()
		delete(m.connections, key)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired connections",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.connections)),
		)
	}
	return len(expired)
}

// Close closes all pools and stops the cleanup goroutine. Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.connections {
		_ = managed.pool.Close()
	}
	m.connections = make(map[string]*managedConnection)
	m.logger.Info("connection manager closed")
	return nil
}
