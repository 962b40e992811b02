// Package server implements ipcd, a local socket daemon that echoes each
// message back to its sender together with the descriptors it carried.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/directory"
	"github.com/SkynetNext/localipc/internal/limbo"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/middleware"
	"github.com/SkynetNext/localipc/internal/ratelimit"
	"github.com/SkynetNext/localipc/internal/session"
	"github.com/SkynetNext/localipc/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the ipcd daemon
type Server struct {
	config   *config.Config
	configMu sync.RWMutex

	// Components
	sessionManager *session.Manager
	limbo          *limbo.Limbo
	directory      *directory.Client

	// Admission
	limiter     *ratelimit.Limiter
	peerLimiter *ratelimit.PeerLimiter

	// Network
	listener      *transport.Listener
	metricsServer *http.Server
	metricsAddr   net.Addr

	// State
	cancel   context.CancelFunc
	draining atomic.Bool
	wg       sync.WaitGroup // background loops
	connWg   sync.WaitGroup // connection handlers
}

// New creates a server. The process-wide limbo is configured from cfg
// unless something already used it.
func New(cfg *config.Config) (*Server, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if !limbo.Configure(LimboOptions(&cfg.Limbo)) {
		logger.L.Warn("limbo already in use, keeping its existing settings")
	}

	s := &Server{
		config:         cfg,
		sessionManager: session.NewManager(),
		limbo:          limbo.Default(),
		limiter:        ratelimit.NewLimiter(int64(cfg.Security.MaxConnections)),
		peerLimiter: ratelimit.NewPeerLimiter(
			cfg.Security.MaxConnectionsPerPeer,
			cfg.Security.ConnectionRateLimit,
		),
	}

	if cfg.Directory.Enabled {
		s.directory = directory.NewClient(&cfg.Directory)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Directory.DialTimeout)
		defer cancel()
		if err := s.directory.Ping(ctx); err != nil {
			s.directory.Close()
			return nil, fmt.Errorf("failed to connect to directory: %w", err)
		}
	}

	return s, nil
}

// LimboOptions translates the limbo section of the configuration.
func LimboOptions(cfg *config.LimboConfig) limbo.Options {
	opts := limbo.Options{
		FlushTimeout: cfg.FlushTimeout,
		Backlog:      cfg.Backlog,
		Overflow:     limbo.DropPolicy,
	}
	if cfg.Overflow == config.OverflowFlush {
		opts.Overflow = limbo.FlushPolicy(cfg.FlushTimeout)
	}
	return opts
}

// Start starts listening and serving. It returns once the socket is bound.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	cfg := s.GetConfig()

	// 1. Batched connection log
	middleware.InitConnLogger(100, 5*time.Second)

	// 2. Metrics and health check server
	if cfg.Server.HealthCheckPort > 0 {
		if err := s.startMetricsServer(cfg.Server.HealthCheckPort); err != nil {
			s.cancel()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// 3. Socket listener
	if err := s.startListener(ctx, cfg); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start listener: %w", err)
	}

	// 4. Idle session reaper
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(cfg.Server.IdleTimeout)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				idle := s.GetConfig().Server.IdleTimeout
				if n := s.sessionManager.CleanupIdle(2 * idle); n > 0 {
					logger.L.Info("reaped idle sessions", zap.Int("count", n))
				}
			}
		}
	}()

	// 5. Directory registration
	if s.directory != nil {
		d := cfg.Directory
		if err := s.directory.Register(ctx, d.Name, cfg.Server.SocketPath, d.TTL); err != nil {
			logger.L.Warn("directory registration failed, heartbeat will retry",
				zap.String("name", d.Name),
				zap.Error(err),
			)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.directory.Heartbeat(ctx, d.Name, cfg.Server.SocketPath, d.TTL, d.HeartbeatInterval)
		}()
	}

	logger.L.Info("server started",
		zap.String("socket", cfg.Server.SocketPath),
		zap.Bool("preserve_buffers", cfg.Server.PreserveBuffers),
		zap.String("limbo_overflow", cfg.Limbo.Overflow),
	)
	return nil
}

func (s *Server) startListener(ctx context.Context, cfg *config.Config) error {
	l, err := transport.Listen(cfg.Server.SocketPath, transport.Options{
		PreserveBuffers:   cfg.Server.PreserveBuffers,
		Limbo:             s.limbo,
		MinAncillarySpare: cfg.Ancillary.MinSpare,
		CheckBuffers:      cfg.Debug.CheckBuffers,
	})
	if err != nil {
		return err
	}
	if cfg.Server.KeepSocketOnClose {
		l.DoNotReclaimNameOnClose()
	}
	s.listener = l

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for a := range s.listener.Incoming(ctx) {
		if a.Err != nil {
			if s.draining.Load() {
				return
			}
			logger.L.Warn("accept connection error", zap.Error(a.Err))
			continue
		}

		s.connWg.Add(1)
		go func(c *transport.Conn) {
			defer s.connWg.Done()
			s.handleConnection(ctx, c)
		}(a.Conn)
	}
}

func (s *Server) startMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	s.metricsAddr = ln.Addr()
	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.L.Info("metrics server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Shutdown stops accepting, wakes every connection so it closes (handing
// unsent replies to limbo when configured) and waits for the handlers
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	// 1. Enter drain mode
	s.draining.Store(true)
	cfg := s.GetConfig()

	// 2. Withdraw from the directory
	if s.directory != nil {
		uctx, cancel := context.WithTimeout(ctx, cfg.Directory.WriteTimeout)
		if _, err := s.directory.Unregister(uctx, cfg.Directory.Name, cfg.Server.SocketPath); err != nil {
			logger.L.Warn("directory unregister failed", zap.Error(err))
		}
		cancel()
	}

	// 3. Stop accepting new connections
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}

	// 4. Wake blocked readers
	for _, sess := range s.sessionManager.GetAll() {
		if c, ok := sess.Conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = c.SetReadDeadline(time.Now())
		}
	}

	// 5. Wait for handlers (with timeout)
	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		s.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timed out with %d sessions open: %w", s.sessionManager.Count(), ctx.Err())
	}

	// 6. Shutdown metrics server
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.metricsServer.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("failed to shutdown metrics server: %w", serr)
		}
	}

	// 7. Flush connection log and close the directory
	middleware.ShutdownConnLogger()
	if s.directory != nil {
		s.directory.Close()
	}

	slots, attempts := s.limbo.Stats()
	logger.L.Info("server stopped", zap.Int("limbo_slots", slots), zap.Int("limbo_attempts", attempts))
	return err
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.GetConfig().Server.SocketPath
}

// MetricsAddr returns the bound address of the HTTP endpoint, nil if disabled.
func (s *Server) MetricsAddr() net.Addr {
	return s.metricsAddr
}

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	return s.sessionManager.Count()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
