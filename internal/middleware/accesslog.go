package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/SkynetNext/localipc/internal/logger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConnLogEntry describes one finished connection.
type ConnLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	TraceID     string    `json:"trace_id,omitempty"`
	SpanID      string    `json:"span_id,omitempty"`
	SessionID   int64     `json:"session_id,omitempty"`
	PeerPID     int32     `json:"peer_pid,omitempty"`
	PeerUID     uint32    `json:"peer_uid"`
	DurationMs  int64     `json:"duration_ms"`
	Status      string    `json:"status"` // ok, error, rejected, idle
	Messages    int64     `json:"messages,omitempty"`
	Descriptors int64     `json:"descriptors,omitempty"`
	BytesIn     int64     `json:"bytes_in,omitempty"`
	BytesOut    int64     `json:"bytes_out,omitempty"`
	Preserved   bool      `json:"preserved,omitempty"` // closed with writes pending
	Error       string    `json:"error,omitempty"`
}

func (e *ConnLogEntry) fields() []zap.Field {
	fields := []zap.Field{
		zap.Uint32("peer_uid", e.PeerUID),
		zap.Int64("duration_ms", e.DurationMs),
		zap.String("status", e.Status),
	}
	if e.TraceID != "" {
		fields = append(fields, zap.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		fields = append(fields, zap.String("span_id", e.SpanID))
	}
	if e.SessionID != 0 {
		fields = append(fields, zap.Int64("session_id", e.SessionID))
	}
	if e.PeerPID != 0 {
		fields = append(fields, zap.Int32("peer_pid", e.PeerPID))
	}
	if e.Messages > 0 {
		fields = append(fields, zap.Int64("messages", e.Messages))
	}
	if e.Descriptors > 0 {
		fields = append(fields, zap.Int64("descriptors", e.Descriptors))
	}
	if e.BytesIn > 0 {
		fields = append(fields, zap.Int64("bytes_in", e.BytesIn))
	}
	if e.BytesOut > 0 {
		fields = append(fields, zap.Int64("bytes_out", e.BytesOut))
	}
	if e.Preserved {
		fields = append(fields, zap.Bool("preserved", true))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	return fields
}

// ConnLogger records connection log entries in batches
type ConnLogger struct {
	logChan       chan *ConnLogEntry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	stopOnce      sync.Once
}

var (
	globalMu     sync.RWMutex
	globalLogger *ConnLogger
)

// NewConnLogger starts a batching logger. batchSize entries or
// flushInterval, whichever comes first, trigger a flush.
func NewConnLogger(batchSize int, flushInterval time.Duration) *ConnLogger {
	l := &ConnLogger{
		logChan:       make(chan *ConnLogEntry, batchSize*2),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopChan:      make(chan struct{}),
	}
	l.wg.Add(1)
	go l.processBatches()
	return l
}

// InitConnLogger installs the global connection logger.
func InitConnLogger(batchSize int, flushInterval time.Duration) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewConnLogger(batchSize, flushInterval)
	}
}

// LogConn records entry on the global logger, or logs it directly when
// none is installed. It never blocks: entries are dropped when the buffer
// is full.
func LogConn(ctx context.Context, entry *ConnLogEntry) {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()

	if l == nil {
		stamp(ctx, entry)
		logger.L.Info("conn_log", entry.fields()...)
		return
	}
	l.Log(ctx, entry)
}

// Log queues entry without blocking.
func (l *ConnLogger) Log(ctx context.Context, entry *ConnLogEntry) {
	stamp(ctx, entry)
	select {
	case l.logChan <- entry:
	default:
		logger.L.Warn("connection log buffer full, dropping entry",
			zap.Int64("session_id", entry.SessionID),
		)
	}
}

func stamp(ctx context.Context, entry *ConnLogEntry) {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
}

func (l *ConnLogger) processBatches() {
	defer l.wg.Done()

	batch := make([]*ConnLogEntry, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case entry := <-l.logChan:
					batch = append(batch, entry)
				default:
					l.flushBatch(batch)
					return
				}
			}
		case entry := <-l.logChan:
			batch = append(batch, entry)
			if len(batch) >= l.batchSize {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

func (l *ConnLogger) flushBatch(batch []*ConnLogEntry) {
	for _, entry := range batch {
		logger.L.Info("conn_log", entry.fields()...)
	}
}

// Shutdown drains queued entries and stops the logger.
func (l *ConnLogger) Shutdown() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}

// ShutdownConnLogger stops the global connection logger.
func ShutdownConnLogger() {
	globalMu.Lock()
	l := globalLogger
	globalLogger = nil
	globalMu.Unlock()
	if l != nil {
		l.Shutdown()
	}
}
