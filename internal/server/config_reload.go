package server

import (
	"fmt"

	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/logger"
	"go.uber.org/zap"
)

// UpdateConfig applies a reloaded configuration. Limits and the log level
// change in place; open connections keep the buffers they were given.
func (s *Server) UpdateConfig(newConfig *config.Config) error {
	if err := config.ValidateConfig(newConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()
	old := s.config

	if newConfig.LogLevel != old.LogLevel {
		logger.SetLevel(newConfig.LogLevel)
		logger.L.Info("log level updated",
			zap.String("old", old.LogLevel),
			zap.String("new", newConfig.LogLevel),
		)
	}

	if newConfig.Security.MaxConnections != old.Security.MaxConnections {
		s.limiter.SetMax(int64(newConfig.Security.MaxConnections))
		logger.L.Info("connection limit updated",
			zap.Int("old_max", old.Security.MaxConnections),
			zap.Int("new_max", newConfig.Security.MaxConnections),
		)
	}

	if newConfig.Security.MaxConnectionsPerPeer != old.Security.MaxConnectionsPerPeer ||
		newConfig.Security.ConnectionRateLimit != old.Security.ConnectionRateLimit {
		s.peerLimiter.SetLimits(
			newConfig.Security.MaxConnectionsPerPeer,
			newConfig.Security.ConnectionRateLimit,
		)
		logger.L.Info("peer limiter updated",
			zap.Int("old_max_per_peer", old.Security.MaxConnectionsPerPeer),
			zap.Int("new_max_per_peer", newConfig.Security.MaxConnectionsPerPeer),
			zap.Int("old_rate_limit", old.Security.ConnectionRateLimit),
			zap.Int("new_rate_limit", newConfig.Security.ConnectionRateLimit),
		)
	}

	s.config = newConfig
	logger.L.Info("configuration updated successfully")
	return nil
}

// GetConfig returns the current configuration (thread-safe)
func (s *Server) GetConfig() *config.Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}
