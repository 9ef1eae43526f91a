package firebolt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/querylayer/firebolt-driver/client"
	"github.com/querylayer/firebolt-driver/logfield"
)

// connectionManager owns the single lazily-created logical connection.
// Concurrent acquirers during creation join the same in-flight attempt and
// observe the same outcome, including failure; the cached slot holds only a
// successfully created connection.
type connectionManager struct {
	dataSource     string
	engineClient   client.Client
	config         client.ConnectionConfig
	guard          *engineGuard
	connectTimeout time.Duration
	logger         logger.Logger
	stats          stats.Stats

	mu      sync.Mutex
	current client.Connection

	inflight singleflight.Group
}

// acquire returns the current connection, creating it when absent. Creation
// authenticates against the engine client and then ensures the configured
// engine is running; if either step fails nothing is cached and the failure
// propagates to every waiter.
func (m *connectionManager) acquire(ctx context.Context) (client.Connection, error) {
	m.mu.Lock()
	if m.current != nil {
		conn := m.current
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	v, err, _ := m.inflight.Do("connect", func() (any, error) {
		return m.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(client.Connection), nil
}

// connect creates and caches the connection. A caller can lose the race
// between its cache check and joining the in-flight group, arriving here
// after another creation already completed; the re-check returns that
// connection instead of starting a second handshake over it.
func (m *connectionManager) connect(ctx context.Context) (client.Connection, error) {
	m.mu.Lock()
	if m.current != nil {
		conn := m.current
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	connectCtx := ctx
	if m.connectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, m.connectTimeout)
		defer cancel()
	}

	start := time.Now()
	conn, err := m.engineClient.Connect(connectCtx, m.config)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	if err := m.guard.EnsureRunning(connectCtx); err != nil {
		return nil, fmt.Errorf("ensuring engine is running: %w", err)
	}

	m.stats.NewTaggedStat("firebolt_connect_duration_seconds", stats.TimerType, stats.Tags{
		"dataSource": m.dataSource,
	}).Since(start)
	m.logger.Infow("connection established",
		logfield.Database, m.config.Database,
		logfield.Engine, m.config.EngineName,
	)

	m.mu.Lock()
	m.current = conn
	m.mu.Unlock()
	return conn, nil
}

// invalidate clears the cached connection without destroying it remotely,
// used before recreating the session after an authentication failure.
func (m *connectionManager) invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// release destroys the current connection if one exists and clears the
// cache. Calling it with no connection outstanding is a no-op.
func (m *connectionManager) release(ctx context.Context) error {
	m.mu.Lock()
	conn := m.current
	m.current = nil
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying connection: %w", err)
	}
	return nil
}
