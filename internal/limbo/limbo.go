package limbo

import (
	"sync"
	"time"

	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"go.uber.org/zap"
)

// Policy decides what happens to a connection when every slot is busy.
// attempt is the admission attempt number, for diagnostics.
type Policy func(attempt int, f Flusher)

// DropPolicy logs and closes the connection immediately, discarding its
// pending writes.
func DropPolicy(attempt int, f Flusher) {
	logger.L.Warn("limbo full, dropping connection with pending writes",
		zap.Int("attempt", attempt),
		zap.Int("slots", Slots),
	)
	if err := f.Close(); err != nil {
		logger.L.Debug("limbo close failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// FlushPolicy flushes the connection on the caller's goroutine, so the
// caller waits at most timeout before the connection is closed.
func FlushPolicy(timeout time.Duration) Policy {
	return func(attempt int, f Flusher) {
		logger.L.Info("limbo full, flushing on caller",
			zap.Int("attempt", attempt),
			zap.Duration("timeout", timeout),
		)
		linger(f, timeout, zap.Int("attempt", attempt))
	}
}

// Options configure a Limbo.
type Options struct {
	// FlushTimeout bounds how long a sender lingers over one connection.
	FlushTimeout time.Duration
	// Backlog is the number of connections a busy sender may queue.
	Backlog int
	// Overflow is applied when all Slots senders are busy.
	Overflow Policy
}

func (o Options) withDefaults() Options {
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 5 * time.Second
	}
	if o.Backlog <= 0 {
		o.Backlog = 1
	}
	if o.Overflow == nil {
		o.Overflow = DropPolicy
	}
	return o
}

// Limbo routes dropped connections to lingering senders.
type Limbo struct {
	opts   Options
	shared Shared[*Sender]
}

// New creates a Limbo with no senders.
func New(opts Options) *Limbo {
	return &Limbo{opts: opts.withDefaults()}
}

// Handoff takes ownership of f. An existing sender with room gets it first,
// oldest first; otherwise a new sender is started; with all slots busy the
// overflow policy runs, outside the pool lock.
func (l *Limbo) Handoff(f Flusher) {
	var (
		outcome  = "reused"
		overflow Flusher
		attempt  int
		slots    int
	)

	l.shared.Do(func(p *Pool[*Sender]) {
		LinearTryOrCreate(p, f,
			func(s **Sender, f Flusher) (Flusher, bool) {
				return (*s).offer(f)
			},
			func(index int, f Flusher) *Sender {
				outcome = "created"
				return spawnSender(index, f, l.opts.Backlog, l.opts.FlushTimeout)
			},
			func(n int, f Flusher) {
				outcome = "overflow"
				attempt, overflow = n, f
			},
		)
		slots = p.Len()
	})

	metrics.LimboSlots.Set(float64(slots))
	metrics.LimboHandoffs.WithLabelValues(outcome).Inc()

	if overflow != nil {
		l.opts.Overflow(attempt, overflow)
	}
}

// Stats returns the occupied slot count and the admission attempt count.
func (l *Limbo) Stats() (slots, attempts int) {
	return l.shared.Stats()
}

var (
	defaultOnce  sync.Once
	defaultMu    sync.Mutex
	defaultOpts  Options
	defaultLimbo *Limbo
)

// Configure sets the options of the process-wide Limbo. It reports false
// when the Limbo was already created, in which case nothing changes.
func Configure(opts Options) bool {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLimbo != nil {
		return false
	}
	defaultOpts = opts
	return true
}

// Default returns the process-wide Limbo, creating it on first use.
func Default() *Limbo {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		defer defaultMu.Unlock()
		defaultLimbo = New(defaultOpts)
	})
	return defaultLimbo
}

// Handoff hands f to the process-wide Limbo.
func Handoff(f Flusher) {
	Default().Handoff(f)
}
