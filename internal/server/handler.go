//go:build unix

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/SkynetNext/localipc/internal/buffer"
	"github.com/SkynetNext/localipc/internal/cmsg"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"github.com/SkynetNext/localipc/internal/middleware"
	"github.com/SkynetNext/localipc/internal/session"
	"github.com/SkynetNext/localipc/internal/tracing"
	"github.com/SkynetNext/localipc/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var errTooManyDescriptors = errors.New("too many descriptors in one message")

// handleConnection admits, serves and closes one connection.
func (s *Server) handleConnection(ctx context.Context, c *transport.Conn) {
	startTime := time.Now()
	cfg := s.GetConfig()

	ctx, span := tracing.StartSpan(ctx, "ipcd.handle_connection")
	defer span.End()

	peer, credErr := c.PeerCredentials()
	entry := &middleware.ConnLogEntry{PeerPID: peer.PID, PeerUID: peer.UID}
	span.SetAttributes(
		attribute.Int("peer.pid", int(peer.PID)),
		attribute.Int("peer.uid", int(peer.UID)),
	)

	reject := func(reason, msg string) {
		c.Close()
		metrics.IncConnectionRejected(reason)
		logger.WarnWithTrace(ctx, "connection rejected",
			zap.String("reason", reason),
			zap.Int32("peer_pid", peer.PID),
			zap.Uint32("peer_uid", peer.UID),
		)
		entry.Status = "rejected"
		entry.Error = msg
		entry.DurationMs = time.Since(startTime).Milliseconds()
		middleware.LogConn(ctx, entry)
	}

	// Peer allow-list
	if len(cfg.Security.AllowedUIDs) > 0 {
		if credErr != nil || !slices.Contains(cfg.Security.AllowedUIDs, peer.UID) {
			reject("uid", "peer uid not allowed")
			return
		}
	}

	// Per-peer rate limiting
	if !s.peerLimiter.Allow(peer.UID) {
		reject("peer_limit", "peer connection limit exceeded")
		return
	}
	defer s.peerLimiter.Release(peer.UID)

	// Global connection limit
	if !s.limiter.Allow() {
		reject("max_connections", "connection limit exceeded")
		return
	}
	defer s.limiter.Release()

	metrics.TotalConnections.Inc()
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	sess := session.New(s.sessionManager.NextID(), c, peer)
	s.sessionManager.Add(sess)
	metrics.ActiveSessions.Inc()
	defer func() {
		s.sessionManager.Remove(sess.ID)
		metrics.ActiveSessions.Dec()
	}()
	entry.SessionID = sess.ID
	span.SetAttributes(attribute.Int64("session.id", sess.ID))

	logger.DebugWithTrace(ctx, "new connection",
		zap.Int64("session_id", sess.ID),
		zap.Int32("peer_pid", peer.PID),
		zap.Uint32("peer_uid", peer.UID),
	)

	status, err := s.serve(ctx, c, sess)

	sess.SetState(session.SessionStateDraining)
	entry.Preserved = cfg.Server.PreserveBuffers && c.Pending() > 0
	c.Close()
	sess.SetState(session.SessionStateClosed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.Error = err.Error()
	}
	entry.Status = status
	entry.DurationMs = time.Since(startTime).Milliseconds()
	entry.Messages = sess.Messages()
	entry.Descriptors = sess.Descriptors()
	entry.BytesIn = c.BytesIn()
	entry.BytesOut = c.BytesOut()
	middleware.LogConn(ctx, entry)
}

// serve runs the echo loop until the peer hangs up, the connection idles
// out or the server drains.
func (s *Server) serve(ctx context.Context, c *transport.Conn, sess *session.Session) (string, error) {
	cfg := s.GetConfig()

	payload := buffer.Get()
	defer buffer.Put(payload)
	p := payload[:min(len(payload), cfg.Server.ReadBufferSize, cfg.Security.MaxMessageSize)]

	in := buffer.GetAncillary(cfg.Ancillary.InitialCapacity, cfg.Ancillary.MaxCapacity)
	defer buffer.PutAncillary(in)
	out := cmsg.NewVecBuffer[cmsg.NoContext](cfg.Ancillary.InitialCapacity, cmsg.NoContext{})

	for {
		if err := c.SetReadDeadline(time.Now().Add(cfg.Server.IdleTimeout)); err != nil {
			return "error", err
		}
		if s.draining.Load() {
			return "ok", nil
		}

		cmsg.Reset(in.Erased())
		n, err := c.ReadAncillary(p, in.Erased())
		if n > 0 || in.ValidLen() > 0 {
			if herr := s.echo(ctx, c, sess, p[:n], in, out); herr != nil {
				return "error", herr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return "ok", nil
			case errors.Is(err, os.ErrDeadlineExceeded):
				if s.draining.Load() {
					return "ok", nil
				}
				return "idle", nil
			default:
				return "error", err
			}
		}
	}
}

// echo answers one message with its payload and descriptors. Received
// descriptors are closed locally once the reply has left the process.
func (s *Server) echo(ctx context.Context, c *transport.Conn, sess *session.Session,
	p []byte, in *buffer.Ancillary, out *cmsg.VecBuffer[cmsg.NoContext]) error {
	cfg := s.GetConfig()

	msgs, err := cmsg.Decode(in.Erased())
	if msgs != nil {
		defer msgs.CloseRights()
	}
	switch {
	case errors.Is(err, cmsg.ErrTruncated):
		logger.WarnWithTrace(ctx, "control data truncated, echoing what arrived",
			zap.Int64("session_id", sess.ID),
			zap.Int("capacity", cmsg.Capacity(in)),
		)
	case err != nil:
		return err
	}
	if len(msgs.Rights) > cfg.Security.MaxDescriptors {
		return fmt.Errorf("%w: %d > %d", errTooManyDescriptors, len(msgs.Rights), cfg.Security.MaxDescriptors)
	}

	sess.Touch(len(msgs.Rights))
	metrics.MessagesProcessed.WithLabelValues("in").Inc()

	cmsg.Reset(out.Erased())
	if err := cmsg.AddRights(out, msgs.Rights...); err != nil {
		return err
	}
	if _, err := c.WriteAncillary(p, out.Erased()); err != nil {
		return err
	}
	metrics.MessagesProcessed.WithLabelValues("out").Inc()

	if len(msgs.Rights) == 0 {
		return nil
	}
	// The descriptors must stay open until the kernel has taken them.
	fctx, cancel := context.WithTimeout(ctx, cfg.Limbo.FlushTimeout)
	defer cancel()
	return c.Flush(fctx)
}
