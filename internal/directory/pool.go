package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// maxConnectionPoolLimit caps the pool size. Directory servers routinely
// allow far more concurrent connections, but a login pipeline has no use for
// hundreds of them and the cap protects against misconfiguration.
const maxConnectionPoolLimit = 100

// PooledConnection is a directory connection checked out of the pool.
type PooledConnection struct {
	conn         *ldap.Conn
	lastUsed     time.Time
	healthy      bool
	bound        bool // search-account (or anonymous) bind is in effect
	serverInfo   *ServerInfo
	returnToPool func(*PooledConnection)
}

// Conn exposes the underlying LDAP connection.
func (pc *PooledConnection) Conn() *ldap.Conn { return pc.conn }

// ServerInfo returns the server this connection is bound to.
func (pc *PooledConnection) ServerInfo() *ServerInfo { return pc.serverInfo }

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// Discard marks the connection as unusable before returning it, forcing the
// pool to drop it. Required after a bind as an end user, which replaces the
// search-account authentication state of the connection.
func (pc *PooledConnection) Discard() {
	pc.healthy = false
	pc.bound = false
	pc.Close()
}

// connectionPool hands out bound directory connections with failover across
// the configured or discovered servers.
type connectionPool struct {
	config      *Config
	servers     []*ServerInfo
	connections chan *PooledConnection
	mu          sync.RWMutex
	closed      bool

	activeConns  int64
	totalCreated int64
	totalErrors  int64
	startTime    time.Time
}

// newConnectionPool creates a pool, resolving servers from the configured
// URLs or via SRV discovery of the domain.
func newConnectionPool(ctx context.Context, config *Config) (*connectionPool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool := &connectionPool{
		config:      config,
		connections: make(chan *PooledConnection, config.MaxConnections),
		startTime:   time.Now(),
	}

	if err := pool.discoverServers(ctx); err != nil {
		return nil, fmt.Errorf("server discovery failed: %w", err)
	}

	return pool, nil
}

func (p *connectionPool) discoverServers(ctx context.Context) error {
	var servers []*ServerInfo

	if len(p.config.URLs) > 0 {
		for _, url := range p.config.URLs {
			server, err := ParseServerURL(url)
			if err != nil {
				return fmt.Errorf("invalid LDAP URL %s: %w", url, err)
			}
			servers = append(servers, server)
		}
	} else {
		discoverCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		discovered, err := newSRVDiscovery(p.config.Logger).Discover(discoverCtx, p.config.Domain)
		if err != nil {
			return fmt.Errorf("SRV discovery failed: %w", err)
		}
		servers = discovered
	}

	if len(servers) == 0 {
		return errors.New("no servers discovered")
	}

	p.mu.Lock()
	p.servers = servers
	p.mu.Unlock()
	return nil
}

// Get retrieves a bound connection from the pool, creating one if necessary.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		if p.isConnectionHealthy(conn) {
			conn.lastUsed = time.Now()
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}
		p.closeConnection(conn)
	default:
	}

	return p.createConnection(ctx)
}

// createConnection dials a new connection, trying each server in order and
// backing off between full passes.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	p.mu.RLock()
	servers := p.servers
	p.mu.RUnlock()

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range servers {
			conn, err := p.createSingleConnection(server)
			if err != nil {
				lastErr = err
				atomic.AddInt64(&p.totalErrors, 1)
				p.config.Logger.Debug().
					Str("server", ServerURL(server)).
					Err(err).
					Msg("connection attempt failed")
				continue
			}

			atomic.AddInt64(&p.totalCreated, 1)
			atomic.AddInt64(&p.activeConns, 1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, &Error{
		Op:        "connect",
		Category:  CategoryConnection,
		Message:   "failed to create connection after retries",
		Retryable: true,
		Cause:     lastErr,
	}
}

func (p *connectionPool) createSingleConnection(server *ServerInfo) (*PooledConnection, error) {
	url := ServerURL(server)

	var conn *ldap.Conn
	var err error

	if server.UseTLS {
		conn, err = ldap.DialURL(url, ldap.DialWithTLSConfig(p.config.TLSConfig))
	} else {
		conn, err = ldap.DialURL(url)
		if err == nil && p.config.UseTLS && !p.config.SkipTLS {
			err = conn.StartTLS(p.config.TLSConfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	conn.SetTimeout(p.config.Timeout)

	pooled := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if err := p.bindSearchAccount(pooled); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to bind search account on %s: %w", url, err)
	}

	return pooled, nil
}

// bindSearchAccount establishes the search-account bind, or an anonymous
// bind when no account is configured.
func (p *connectionPool) bindSearchAccount(pc *PooledConnection) error {
	var err error
	if p.config.BindDN == "" {
		err = pc.conn.UnauthenticatedBind("")
	} else {
		err = pc.conn.Bind(p.config.BindDN, p.config.BindPassword)
	}
	if err != nil {
		pc.bound = false
		return err
	}
	pc.bound = true
	return nil
}

func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	atomic.AddInt64(&p.activeConns, -1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	select {
	case p.connections <- conn:
	default:
		// Pool is full
		p.closeConnection(conn)
	}
}

func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy || !conn.bound {
		return false
	}
	return time.Since(conn.lastUsed) <= p.config.MaxIdleTime
}

func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn != nil && conn.conn != nil {
		conn.conn.Close()
		conn.healthy = false
		conn.bound = false
	}
}

// Close closes all connections and shuts down the pool.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	close(p.connections)
	for conn := range p.connections {
		p.closeConnection(conn)
	}
	return nil
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PoolStats{
		Idle:    len(p.connections),
		Active:  atomic.LoadInt64(&p.activeConns),
		Created: atomic.LoadInt64(&p.totalCreated),
		Errors:  atomic.LoadInt64(&p.totalErrors),
		Uptime:  time.Since(p.startTime),
	}
}
