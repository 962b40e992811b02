package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/SkynetNext/localipc/internal/logger"
	"go.uber.org/zap"
)

// Listener accepts connections on a filesystem socket path.
type Listener struct {
	ul   *net.UnixListener
	path string
	opts Options
}

// Accepted is one result of Incoming.
type Accepted struct {
	Conn *Conn
	Err  error
}

// Listen binds path. A socket file left behind by a dead listener is
// removed and the bind retried once.
func Listen(path string, opts Options) (*Listener, error) {
	addr := &net.UnixAddr{Name: path, Net: "unix"}
	ul, err := net.ListenUnix("unix", addr)
	if err != nil && errors.Is(err, syscall.EADDRINUSE) && stale(path) {
		logger.Info("reclaiming stale socket", zap.String("path", path))
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("transport: remove stale socket %s: %w", path, rerr)
		}
		ul, err = net.ListenUnix("unix", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", path, err)
	}
	ul.SetUnlinkOnClose(true)
	return &Listener{ul: ul, path: path, opts: opts}, nil
}

// stale reports whether path is a socket file nobody answers on.
func stale(path string) bool {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return false
	}
	c, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		c.Close()
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Path returns the socket path.
func (l *Listener) Path() string {
	return l.path
}

// Addr returns the listener's address.
func (l *Listener) Addr() net.Addr {
	return l.ul.Addr()
}

// DoNotReclaimNameOnClose keeps the socket file in place when the listener
// closes.
func (l *Listener) DoNotReclaimNameOnClose() {
	l.ul.SetUnlinkOnClose(false)
}

// Accept waits for the next connection or for ctx to be done.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.ul.SetDeadline(time.Now())
		close(fired)
	})
	uc, err := l.ul.AcceptUnix()
	if !stop() {
		<-fired
		_ = l.ul.SetDeadline(time.Time{})
		if err != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return NewConn(uc, l.opts), nil
}

// Incoming accepts in a loop and delivers the results on the returned
// channel, which is closed once ctx is done or the listener is closed.
func (l *Listener) Incoming(ctx context.Context) <-chan Accepted {
	ch := make(chan Accepted)
	go func() {
		defer close(ch)
		for {
			c, err := l.Accept(ctx)
			if err != nil && (ctx.Err() != nil || errors.Is(err, net.ErrClosed)) {
				return
			}
			select {
			case ch <- Accepted{Conn: c, Err: err}:
			case <-ctx.Done():
				if c != nil {
					_ = c.Close()
				}
				return
			}
		}
	}()
	return ch
}

// Close stops listening and, unless DoNotReclaimNameOnClose was called,
// removes the socket file.
func (l *Listener) Close() error {
	return l.ul.Close()
}
