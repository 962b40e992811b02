package limbo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"go.uber.org/zap"
)

// Flusher is a connection whose owner has let go of it but which may still
// have writes to deliver.
type Flusher interface {
	// Flush blocks until every pending write reached the OS or ctx is done.
	Flush(ctx context.Context) error
	// Close releases the connection.
	Close() error
}

// Sender is a lingering goroutine that drains and closes the connections
// handed to it, one at a time, for the lifetime of the process.
type Sender struct {
	index   int
	jobs    chan Flusher
	timeout time.Duration
	done    atomic.Int64
}

func spawnSender(index int, first Flusher, backlog int, timeout time.Duration) *Sender {
	s := &Sender{
		index:   index,
		jobs:    make(chan Flusher, backlog),
		timeout: timeout,
	}
	s.jobs <- first
	go s.run()

	logger.L.Debug("limbo sender started", zap.Int("slot", index))
	return s
}

// Index returns the slot the sender was created for.
func (s *Sender) Index() int {
	return s.index
}

// Completed returns the number of connections the sender has finished.
func (s *Sender) Completed() int64 {
	return s.done.Load()
}

// offer queues f without blocking. A busy sender hands f back.
func (s *Sender) offer(f Flusher) (Flusher, bool) {
	select {
	case s.jobs <- f:
		return nil, true
	default:
		return f, false
	}
}

func (s *Sender) run() {
	for f := range s.jobs {
		linger(f, s.timeout, zap.Int("slot", s.index))
		s.done.Add(1)
	}
}

// linger flushes f within timeout and closes it whatever the outcome.
func linger(f Flusher, timeout time.Duration, fields ...zap.Field) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	err := f.Flush(ctx)
	cancel()
	if err != nil {
		metrics.LimboFlushErrors.Inc()
		logger.L.Warn("limbo flush failed, pending writes lost",
			append(fields, zap.Error(err))...,
		)
	}

	if err := f.Close(); err != nil {
		logger.L.Debug("limbo close failed", append(fields, zap.Error(err))...)
	}
	metrics.LimboLingerDuration.Observe(time.Since(start).Seconds())
}
