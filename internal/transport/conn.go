// Package transport implements local socket connections with ancillary
// data support and buffer preservation on close.
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/limbo"
	"github.com/eapache/queue"
)

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("transport: connection closed")
	// ErrNotSupported is returned for features the platform lacks.
	ErrNotSupported = errors.New("transport: operation not supported on this platform")
)

// Options configure connections.
type Options struct {
	// PreserveBuffers hands a closed connection with queued writes to limbo
	// instead of discarding them.
	PreserveBuffers bool
	// Limbo receives preserved connections. Nil means limbo.Default().
	Limbo *limbo.Limbo
	// MinAncillarySpare is the scratch room ReadAncillary tries to
	// guarantee before receiving. Zero disables growth.
	MinAncillarySpare int
	// CheckBuffers wraps ancillary buffers in cmsg.Checked.
	CheckBuffers bool
}

// outgoing is one queued write.
type outgoing struct {
	payload []byte
	oob     []byte
}

// Conn is a local stream socket connection. Writes are queued and sent by a
// writer goroutine, so a write returning does not mean the bytes left the
// process; Flush waits for that.
type Conn struct {
	uc   *net.UnixConn
	opts Options

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *queue.Queue // of outgoing
	inflight bool
	idle     chan struct{} // closed while nothing is queued or in flight
	isIdle   bool
	werr     error         // sticky write error
	closing  bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{} // closed when the writer exits

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// NewConn wraps an established unix connection.
func NewConn(uc *net.UnixConn, opts Options) *Conn {
	c := &Conn{
		uc:      uc,
		opts:    opts,
		pending: queue.New(),
		idle:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.markIdle()
	c.cond = sync.NewCond(&c.mu)
	go c.writeLoop()
	return c
}

// Dial connects to the socket at path.
func Dial(ctx context.Context, path string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return NewConn(nc.(*net.UnixConn), opts), nil
}

// Read reads payload bytes.
func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.uc.Read(p)
	c.bytesIn.Add(int64(n))
	return n, err
}

// Write queues p for sending. p may be reused once Write returns.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.enqueue(outgoing{payload: append([]byte(nil), p...)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) enqueue(o outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrClosed
	}
	if c.werr != nil {
		return c.werr
	}
	if c.isIdle {
		c.idle = make(chan struct{})
		c.isIdle = false
	}
	c.pending.Add(o)
	c.cond.Signal()
	return nil
}

func (c *Conn) writeLoop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for c.pending.Length() == 0 && !c.closing {
			c.cond.Wait()
		}
		if c.pending.Length() == 0 {
			c.mu.Unlock()
			return
		}
		o := c.pending.Remove().(outgoing)
		c.inflight = true
		c.mu.Unlock()

		err := c.send(o)

		c.mu.Lock()
		c.inflight = false
		if err != nil && c.werr == nil {
			c.werr = err
			for c.pending.Length() > 0 {
				c.pending.Remove()
			}
		}
		if c.pending.Length() == 0 {
			c.markIdle()
		}
		c.mu.Unlock()
	}
}

// markIdle closes idle once per busy period. c.mu must be held.
func (c *Conn) markIdle() {
	if !c.isIdle {
		close(c.idle)
		c.isIdle = true
	}
}

func (c *Conn) send(o outgoing) error {
	p := o.payload
	if len(o.oob) > 0 {
		n, _, err := c.uc.WriteMsgUnix(p, o.oob, nil)
		c.bytesOut.Add(int64(n))
		if err != nil {
			return err
		}
		p = p[n:]
	}
	for len(p) > 0 {
		n, err := c.uc.Write(p)
		c.bytesOut.Add(int64(n))
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Flush waits until every queued write was handed to the OS. It returns
// the first write error, if any.
func (c *Conn) Flush(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.werr
}

// Pending returns the number of writes not yet handed to the OS.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.pending.Length()
	if c.inflight {
		n++
	}
	return n
}

// Close closes the connection. With PreserveBuffers set and writes still
// pending, the connection is handed to limbo, which flushes and then closes
// it; Close returns immediately either way.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		pending := c.pending.Length() > 0 || c.inflight
		c.cond.Broadcast()
		c.mu.Unlock()

		if pending && c.opts.PreserveBuffers {
			l := c.opts.Limbo
			if l == nil {
				l = limbo.Default()
			}
			l.Handoff(lingering{c})
			return
		}
		c.closeErr = c.shutdown()
	})
	return c.closeErr
}

// shutdown discards queued writes and closes the socket. Discarding makes
// ErrClosed the sticky write error.
func (c *Conn) shutdown() error {
	c.mu.Lock()
	if c.pending.Length() > 0 && c.werr == nil {
		c.werr = ErrClosed
	}
	for c.pending.Length() > 0 {
		c.pending.Remove()
	}
	if !c.inflight {
		c.markIdle()
	}
	c.closing = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return c.uc.Close()
}

// Done is closed once the writer goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// SetReadDeadline bounds the next reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.uc.SetReadDeadline(t)
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr { return c.uc.LocalAddr() }

// RemoteAddr returns the peer socket address.
func (c *Conn) RemoteAddr() net.Addr { return c.uc.RemoteAddr() }

// BytesIn returns the payload bytes read so far.
func (c *Conn) BytesIn() int64 { return c.bytesIn.Load() }

// BytesOut returns the payload bytes written to the OS so far.
func (c *Conn) BytesOut() int64 { return c.bytesOut.Load() }

// lingering is the view of a closed Conn that limbo works with.
type lingering struct {
	c *Conn
}

func (l lingering) Flush(ctx context.Context) error { return l.c.Flush(ctx) }
func (l lingering) Close() error                    { return l.c.shutdown() }
