//go:build !unix

package server

import (
	"context"

	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"github.com/SkynetNext/localipc/internal/transport"
)

func (s *Server) handleConnection(ctx context.Context, c *transport.Conn) {
	metrics.IncConnectionRejected("unsupported")
	logger.Warn("descriptor passing is not supported on this platform")
	c.Close()
}
