package dimse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolExhausted is returned when every association to the remote AE is
// checked out and the pool is at capacity
var ErrPoolExhausted = errors.New("association pool exhausted")

// ErrPoolClosed is returned when an association is requested after Close
var ErrPoolClosed = errors.New("association pool closed")

// ConnectionPool reuses idle associations to a single remote AE. Export
// workers check an association out, run their operations, and return it.
type ConnectionPool struct {
	config        AssociationConfig
	maxSize       int
	maxIdleTime   time.Duration
	cleanupTicker *time.Ticker
	done          chan struct{}

	mu     sync.Mutex
	idle   []*Association
	closed bool
}

// PoolConfig holds configuration for a connection pool
type PoolConfig struct {
	AssociationConfig
	MaxPoolSize int
	MaxIdleTime time.Duration
}

// NewConnectionPool creates a pool of associations to one remote AE
func NewConnectionPool(config PoolConfig) *ConnectionPool {
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = 5
	}
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = 5 * time.Minute
	}

	pool := &ConnectionPool{
		config:        config.AssociationConfig,
		maxSize:       config.MaxPoolSize,
		maxIdleTime:   config.MaxIdleTime,
		idle:          make([]*Association, 0, config.MaxPoolSize),
		cleanupTicker: time.NewTicker(1 * time.Minute),
		done:          make(chan struct{}),
	}

	go pool.reap()

	return pool
}

// Get checks out an idle association or opens a new one
func (p *ConnectionPool) Get(ctx context.Context) (*Association, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("%w: %s", ErrPoolClosed, p.config.CalledAET)
	}

	for i, assoc := range p.idle {
		if assoc.IsConnected() {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return assoc, nil
		}
	}

	if len(p.idle) < p.maxSize {
		assoc := NewAssociation(p.config)
		if err := assoc.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to open association: %w", err)
		}
		return assoc, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrPoolExhausted, p.config.CalledAET)
}

// Put returns an association to the pool. Stale associations and returns to
// a closed or full pool release the connection instead.
func (p *ConnectionPool) Put(assoc *Association) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !assoc.IsConnected() || len(p.idle) >= p.maxSize {
		assoc.Close()
		return
	}

	p.idle = append(p.idle, assoc)
}

// Close releases every idle association and rejects further checkouts
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.done)
	p.cleanupTicker.Stop()

	var errs []error
	for _, assoc := range idle {
		if err := assoc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("encountered %d errors while closing pool for %s", len(errs), p.config.CalledAET)
	}
	return nil
}

func (p *ConnectionPool) reap() {
	for {
		select {
		case <-p.cleanupTicker.C:
			p.releaseIdle()
		case <-p.done:
			return
		}
	}
}

// releaseIdle drops associations that went stale or sat idle past the limit
func (p *ConnectionPool) releaseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := make([]*Association, 0, len(p.idle))

	for _, assoc := range p.idle {
		if !assoc.IsConnected() || now.Sub(assoc.GetLastUsed()) > p.maxIdleTime {
			assoc.Close()
			continue
		}
		kept = append(kept, assoc)
	}

	p.idle = kept
}

// Stats returns pool statistics
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		IdleAssociations: len(p.idle),
		MaxSize:          p.maxSize,
	}
}

// PoolStats holds pool statistics
type PoolStats struct {
	IdleAssociations int
	MaxSize          int
}
