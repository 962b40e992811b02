package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SkynetNext/localipc/internal/transport"
)

// PooledConn is a connection checked out of a Pool.
type PooledConn struct {
	*transport.Conn
	createdAt  time.Time
	lastUsedAt time.Time
}

// Expired reports whether the connection sat idle longer than idleTimeout.
func (c *PooledConn) Expired(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(c.lastUsedAt) > idleTimeout
}

// Pool keeps idle connections to one target for reuse.
type Pool struct {
	target      string
	dialer      *Dialer
	idleTimeout time.Duration
	maxActive   int

	mu     sync.Mutex
	idle   chan *PooledConn
	active map[*PooledConn]struct{}
	closed bool
}

// NewPool creates a pool for target. maxActive bounds checked-out
// connections and maxIdle bounds the connections kept for reuse.
func NewPool(d *Dialer, target string, idleTimeout time.Duration, maxActive, maxIdle int) *Pool {
	return &Pool{
		target:      target,
		dialer:      d,
		idleTimeout: idleTimeout,
		maxActive:   maxActive,
		idle:        make(chan *PooledConn, maxIdle),
		active:      make(map[*PooledConn]struct{}),
	}
}

// Get returns an idle connection or dials a new one.
func (p *Pool) Get(ctx context.Context) (*PooledConn, error) {
	for {
		select {
		case c := <-p.idle:
			if c.Expired(p.idleTimeout) {
				c.Close()
				continue
			}
			if err := p.checkout(c); err != nil {
				c.Close()
				return nil, err
			}
			return c, nil
		default:
		}
		break
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if p.maxActive > 0 && len(p.active) >= p.maxActive {
		p.mu.Unlock()
		return nil, fmt.Errorf("connection pool for %s is full, max connections: %d", p.target, p.maxActive)
	}
	// Reserve the slot while dialing.
	placeholder := &PooledConn{}
	p.active[placeholder] = struct{}{}
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, p.target)

	p.mu.Lock()
	delete(p.active, placeholder)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	c := &PooledConn{Conn: conn, createdAt: now, lastUsedAt: now}
	p.active[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}

func (p *Pool) checkout(c *PooledConn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	c.lastUsedAt = time.Now()
	p.active[c] = struct{}{}
	return nil
}

// Put returns c to the pool. A connection with unsent writes or a full idle
// set is closed instead.
func (p *Pool) Put(c *PooledConn) {
	p.mu.Lock()
	delete(p.active, c)
	closed := p.closed
	c.lastUsedAt = time.Now()
	p.mu.Unlock()

	if closed || c.Pending() > 0 {
		c.Close()
		return
	}
	select {
	case p.idle <- c:
	default:
		c.Close()
	}
}

// Remove closes c and forgets it.
func (p *Pool) Remove(c *PooledConn) {
	p.mu.Lock()
	delete(p.active, c)
	p.mu.Unlock()
	c.Close()
}

// Cleanup closes expired idle connections and returns how many it closed.
func (p *Pool) Cleanup() int {
	count := 0
	for n := len(p.idle); n > 0; n-- {
		select {
		case c := <-p.idle:
			if c.Expired(p.idleTimeout) {
				c.Close()
				count++
				continue
			}
			select {
			case p.idle <- c:
			default:
				c.Close()
				count++
			}
		default:
			return count
		}
	}
	return count
}

// Stats returns pool statistics.
func (p *Pool) Stats() (total, active, idle int) {
	p.mu.Lock()
	active = len(p.active)
	p.mu.Unlock()
	idle = len(p.idle)
	return active + idle, active, idle
}

// Close closes idle connections and makes later Puts close theirs.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			c.Close()
		default:
			return nil
		}
	}
}
