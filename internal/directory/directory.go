// Package directory publishes socket paths under names in Redis so clients
// can find a server without knowing where its socket lives.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SkynetNext/localipc/internal/config"
	"github.com/SkynetNext/localipc/internal/logger"
	"github.com/SkynetNext/localipc/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Lookup for unknown names.
var ErrNotFound = errors.New("directory: name not registered")

// Endpoint is what a name resolves to.
type Endpoint struct {
	Path         string    `json:"path"`
	PID          int       `json:"pid"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Client is a Redis-backed endpoint directory
type Client struct {
	rdb    *redis.Client
	prefix string
}

// unregisterScript deletes the entry only while it still points at our path.
var unregisterScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then return 0 end
local ok, ep = pcall(cjson.decode, cur)
if ok and ep.path == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// NewClient creates a new directory client
func NewClient(cfg *config.DirectoryConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) key(name string) string {
	return c.prefix + "endpoint:" + name
}

func (c *Client) notifyChannel() string {
	return c.prefix + "endpoint:notify"
}

// Register publishes path under name for ttl, replacing any previous entry.
func (c *Client) Register(ctx context.Context, name, path string, ttl time.Duration) error {
	data, err := json.Marshal(Endpoint{Path: path, PID: os.Getpid(), RegisteredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode endpoint: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(name), data, ttl)
		pipe.Publish(ctx, c.notifyChannel(), name)
		return nil
	})
	if err != nil {
		metrics.DirectoryErrors.WithLabelValues("register").Inc()
		return fmt.Errorf("failed to register %s: %w", name, err)
	}
	return nil
}

// Lookup resolves name.
func (c *Client) Lookup(ctx context.Context, name string) (*Endpoint, error) {
	data, err := c.rdb.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.DirectoryErrors.WithLabelValues("lookup").Inc()
		return nil, fmt.Errorf("failed to look up %s: %w", name, err)
	}

	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		metrics.DirectoryErrors.WithLabelValues("lookup").Inc()
		return nil, fmt.Errorf("failed to parse endpoint %s: %w", name, err)
	}
	return &ep, nil
}

// Unregister removes name if it still resolves to path. It reports whether
// an entry was removed.
func (c *Client) Unregister(ctx context.Context, name, path string) (bool, error) {
	n, err := unregisterScript.Run(ctx, c.rdb, []string{c.key(name)}, path).Int()
	if err != nil {
		metrics.DirectoryErrors.WithLabelValues("unregister").Inc()
		return false, fmt.Errorf("failed to unregister %s: %w", name, err)
	}
	if n == 1 {
		c.rdb.Publish(ctx, c.notifyChannel(), name)
	}
	return n == 1, nil
}

// Heartbeat keeps name registered until ctx is done, re-registering every
// interval so the entry survives Redis restarts and expiry.
func (c *Client) Heartbeat(ctx context.Context, name, path string, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := c.rdb.Expire(ctx, c.key(name), ttl).Result()
			if err == nil && ok {
				continue
			}
			if err != nil {
				metrics.DirectoryErrors.WithLabelValues("heartbeat").Inc()
				logger.Warn("directory heartbeat failed", zap.String("name", name), zap.Error(err))
			}
			if err := c.Register(ctx, name, path, ttl); err != nil && ctx.Err() == nil {
				logger.Warn("directory re-register failed", zap.String("name", name), zap.Error(err))
			}
		}
	}
}

// Watch calls callback with the name of every entry registered or removed
// until ctx is done.
func (c *Client) Watch(ctx context.Context, callback func(name string)) error {
	pubsub := c.rdb.Subscribe(ctx, c.notifyChannel())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			callback(msg.Payload)
		}
	}
}
