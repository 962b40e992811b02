package config

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// HotReloadManager manages hot reloading of configuration. Only fields that
// can change on a running server are accepted; see checkReloadable.
type HotReloadManager struct {
	config     *Config
	mu         sync.RWMutex
	reloadFunc func(*Config) error
	onError    func(error)
}

// NewHotReloadManager creates a new hot reload manager
func NewHotReloadManager(initialConfig *Config, reloadFunc func(*Config) error) *HotReloadManager {
	return &HotReloadManager{
		config:     initialConfig,
		reloadFunc: reloadFunc,
	}
}

// OnError registers a callback for reloads that were rejected.
func (h *HotReloadManager) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = fn
}

// GetConfig returns the current configuration (thread-safe)
func (h *HotReloadManager) GetConfig() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// UpdateConfig updates the configuration (thread-safe)
func (h *HotReloadManager) UpdateConfig(newConfig *Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := validateConfig(newConfig); err != nil {
		return err
	}
	if err := checkReloadable(h.config, newConfig); err != nil {
		return err
	}

	if h.reloadFunc != nil {
		if err := h.reloadFunc(newConfig); err != nil {
			return err
		}
	}

	h.config = newConfig
	return nil
}

// checkReloadable rejects changes that need a restart.
func checkReloadable(old, next *Config) error {
	if old == nil {
		return nil
	}
	switch {
	case old.Server.SocketPath != next.Server.SocketPath:
		return fmt.Errorf("server.socket_path cannot change without a restart")
	case old.Server.HealthCheckPort != next.Server.HealthCheckPort:
		return fmt.Errorf("server.health_check_port cannot change without a restart")
	case old.Limbo != next.Limbo:
		return fmt.Errorf("limbo settings cannot change without a restart")
	case old.Directory.Enabled != next.Directory.Enabled || old.Directory.Addr != next.Directory.Addr:
		return fmt.Errorf("directory connection cannot change without a restart")
	}
	return nil
}

// WatchConfigFile polls configPath and applies changes until ctx is done.
func (h *HotReloadManager) WatchConfigFile(ctx context.Context, configPath string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			newConfig, err := Load(configPath)
			if err == nil {
				err = h.UpdateConfig(newConfig)
			}
			if err != nil {
				h.mu.RLock()
				onError := h.onError
				h.mu.RUnlock()
				if onError != nil {
					onError(err)
				}
			}
		}
	}
}
