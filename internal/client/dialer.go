// Package client dials ipcd sockets by path or by directory name.
package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/SkynetNext/localipc/internal/circuitbreaker"
	"github.com/SkynetNext/localipc/internal/directory"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/retry"
	"github.com/SkynetNext/localipc/internal/transport"
	"go.uber.org/zap"
)

// Resolver maps a name to a socket path.
type Resolver interface {
	Lookup(ctx context.Context, name string) (*directory.Endpoint, error)
}

// Options configure a Dialer.
type Options struct {
	// Conn options for dialed connections.
	Conn transport.Options
	// Retry governs redials while the socket is absent or refusing.
	Retry retry.RetryConfig
	// BreakerFailures opens a path's breaker after this many failed dials.
	BreakerFailures int64
	// BreakerTimeout is how long an open breaker rejects dials.
	BreakerTimeout time.Duration
}

// Dialer dials local sockets with retries and a circuit breaker per path.
type Dialer struct {
	opts     Options
	resolver Resolver

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

// NewDialer creates a dialer. resolver may be nil when only paths are used.
func NewDialer(resolver Resolver, opts Options) *Dialer {
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry.MaxRetries = 3
	}
	if opts.Retry.RetryDelay <= 0 {
		opts.Retry.RetryDelay = 50 * time.Millisecond
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = Transient
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 10 * time.Second
	}
	return &Dialer{
		opts:     opts,
		resolver: resolver,
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

// Transient reports whether a dial error may go away by itself: the socket
// file is not there yet or nobody is accepting on it.
func Transient(err error) bool {
	return errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EAGAIN)
}

// Dial connects to target, which is a socket path when it contains a
// slash and a directory name otherwise.
func (d *Dialer) Dial(ctx context.Context, target string) (*transport.Conn, error) {
	path := target
	if !strings.Contains(target, "/") {
		if d.resolver == nil {
			return nil, fmt.Errorf("cannot resolve %q without a directory", target)
		}
		ep, err := d.resolver.Lookup(ctx, target)
		if err != nil {
			return nil, err
		}
		path = ep.Path
	}
	return d.DialPath(ctx, path)
}

// DialPath connects to the socket at path.
func (d *Dialer) DialPath(ctx context.Context, path string) (*transport.Conn, error) {
	b := d.breaker(path)
	if !b.Allow() {
		return nil, fmt.Errorf("dial %s: %w", path, circuitbreaker.ErrOpen)
	}

	var conn *transport.Conn
	attempt := 0
	err := retry.Do(ctx, d.opts.Retry, func() error {
		attempt++
		c, err := transport.Dial(ctx, path, d.opts.Conn)
		if err != nil {
			logger.L.Debug("dial failed",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		b.RecordFailure()
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	b.RecordSuccess()
	return conn, nil
}

// BreakerState returns the breaker state for path.
func (d *Dialer) BreakerState(path string) circuitbreaker.State {
	return d.breaker(path).State()
}

func (d *Dialer) breaker(path string) *circuitbreaker.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[path]
	if !ok {
		b = circuitbreaker.NewBreaker(path, d.opts.BreakerFailures, d.opts.BreakerTimeout)
		d.breakers[path] = b
	}
	return b
}
