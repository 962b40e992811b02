package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Overflow policy names accepted in limbo.overflow.
const (
	OverflowDrop  = "drop"
	OverflowFlush = "flush"
)

// Config represents daemon configuration
type Config struct {
	// Log level: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Deferred disposal of closed connections
	Limbo LimboConfig `yaml:"limbo"`

	// Ancillary buffer sizing
	Ancillary AncillaryConfig `yaml:"ancillary"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Endpoint directory configuration
	Directory DirectoryConfig `yaml:"directory"`

	// Tracing configuration
	Tracing TracingConfig `yaml:"tracing"`

	// Debug switches
	Debug DebugConfig `yaml:"debug"`

	// Graceful shutdown timeout
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	// Filesystem path of the listening socket
	SocketPath string `yaml:"socket_path"`

	// Keep the socket file when the server stops
	KeepSocketOnClose bool `yaml:"keep_socket_on_close"`

	// Health check port, 0 disables the HTTP endpoint
	HealthCheckPort int `yaml:"health_check_port"`

	// Payload read buffer size per connection
	ReadBufferSize int `yaml:"read_buffer_size"`

	// Close connections idle for longer than this
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Hand closed connections with unsent replies to limbo
	PreserveBuffers bool `yaml:"preserve_buffers"`
}

// LimboConfig represents limbo configuration. The slot count is fixed.
type LimboConfig struct {
	// What happens when every sender is busy: "drop" or "flush"
	Overflow string `yaml:"overflow"`

	// Upper bound on lingering over one connection
	FlushTimeout time.Duration `yaml:"flush_timeout"`

	// Connections a busy sender may queue
	Backlog int `yaml:"backlog"`
}

// AncillaryConfig represents control message buffer configuration
type AncillaryConfig struct {
	// Initial capacity of a receive buffer
	InitialCapacity int `yaml:"initial_capacity"`

	// Scratch room guaranteed before each receive
	MinSpare int `yaml:"min_spare"`

	// Receive buffers never grow past this
	MaxCapacity int `yaml:"max_capacity"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	// Maximum message size (in bytes) to prevent DoS attacks
	MaxMessageSize int `yaml:"max_message_size"`

	// Maximum concurrent connections
	MaxConnections int `yaml:"max_connections"`

	// Maximum connections per peer UID
	MaxConnectionsPerPeer int `yaml:"max_connections_per_peer"`

	// Connection rate limit (connections per second per peer UID)
	ConnectionRateLimit int `yaml:"connection_rate_limit"`

	// Maximum descriptors accepted in one message
	MaxDescriptors int `yaml:"max_descriptors"`

	// Peer UIDs allowed to connect, empty allows everyone
	AllowedUIDs []uint32 `yaml:"allowed_uids"`
}

// DirectoryConfig represents the Redis-backed endpoint directory
type DirectoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key prefix for Redis keys
	KeyPrefix string `yaml:"key_prefix"`

	// Name this server registers under
	Name string `yaml:"name"`

	// Entry lifetime and refresh interval
	TTL               time.Duration `yaml:"ttl"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	// Jaeger collector endpoint, empty disables tracing
	Endpoint string `yaml:"endpoint"`

	// Fraction of connections traced, 0 or 1 means all
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DebugConfig represents debug configuration
type DebugConfig struct {
	// Verify the buffer contract on every receive
	CheckBuffers bool `yaml:"check_buffers"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// ValidateConfig validates the configuration (exported for hot reload)
func ValidateConfig(cfg *Config) error {
	return validateConfig(cfg)
}

func validateConfig(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if cfg.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path is required")
	}
	if cfg.Server.HealthCheckPort < 0 || cfg.Server.HealthCheckPort > 65535 {
		return fmt.Errorf("server.health_check_port must be between 0 and 65535")
	}
	if cfg.Server.ReadBufferSize <= 0 {
		return fmt.Errorf("server.read_buffer_size must be greater than 0")
	}

	switch cfg.Limbo.Overflow {
	case OverflowDrop, OverflowFlush:
	default:
		return fmt.Errorf("limbo.overflow must be %q or %q", OverflowDrop, OverflowFlush)
	}
	if cfg.Limbo.FlushTimeout <= 0 {
		return fmt.Errorf("limbo.flush_timeout must be greater than 0")
	}

	if cfg.Ancillary.MinSpare < 0 {
		return fmt.Errorf("ancillary.min_spare must not be negative")
	}
	if cfg.Ancillary.MaxCapacity > 0 && cfg.Ancillary.MaxCapacity < cfg.Ancillary.MinSpare {
		return fmt.Errorf("ancillary.max_capacity must be at least ancillary.min_spare")
	}

	if cfg.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be greater than 0")
	}
	if cfg.Security.MaxMessageSize <= 0 {
		return fmt.Errorf("security.max_message_size must be greater than 0")
	}

	if cfg.Directory.Enabled {
		if cfg.Directory.Addr == "" {
			return fmt.Errorf("directory.addr is required when the directory is enabled")
		}
		if cfg.Directory.Name == "" {
			return fmt.Errorf("directory.name is required when the directory is enabled")
		}
		if cfg.Directory.HeartbeatInterval >= cfg.Directory.TTL {
			return fmt.Errorf("directory.heartbeat_interval must be shorter than directory.ttl")
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	if cfg.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be greater than 0")
	}

	return nil
}

func setDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Server.SocketPath == "" {
		cfg.Server.SocketPath = "/tmp/localipc.sock"
	}
	if cfg.Server.ReadBufferSize == 0 {
		cfg.Server.ReadBufferSize = 64 * 1024
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 5 * time.Minute
	}

	if cfg.Limbo.Overflow == "" {
		cfg.Limbo.Overflow = OverflowDrop
	}
	if cfg.Limbo.FlushTimeout == 0 {
		cfg.Limbo.FlushTimeout = 5 * time.Second
	}
	if cfg.Limbo.Backlog == 0 {
		cfg.Limbo.Backlog = 1
	}

	if cfg.Ancillary.InitialCapacity == 0 {
		cfg.Ancillary.InitialCapacity = 256
	}
	if cfg.Ancillary.MinSpare == 0 {
		cfg.Ancillary.MinSpare = 256
	}
	if cfg.Ancillary.MaxCapacity == 0 {
		cfg.Ancillary.MaxCapacity = 64 * 1024
	}

	// Security defaults
	if cfg.Security.MaxMessageSize == 0 {
		cfg.Security.MaxMessageSize = 1024 * 1024 // 1MB default
	}
	if cfg.Security.MaxConnections == 0 {
		cfg.Security.MaxConnections = 1000
	}
	if cfg.Security.MaxConnectionsPerPeer == 0 {
		cfg.Security.MaxConnectionsPerPeer = 64
	}
	if cfg.Security.ConnectionRateLimit == 0 {
		cfg.Security.ConnectionRateLimit = 50
	}
	if cfg.Security.MaxDescriptors == 0 {
		cfg.Security.MaxDescriptors = 16
	}

	if cfg.Directory.Addr == "" {
		cfg.Directory.Addr = "localhost:6379"
	}
	if cfg.Directory.KeyPrefix == "" {
		cfg.Directory.KeyPrefix = "localipc:"
	}
	if cfg.Directory.TTL == 0 {
		cfg.Directory.TTL = 30 * time.Second
	}
	if cfg.Directory.HeartbeatInterval == 0 {
		cfg.Directory.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Directory.PoolSize == 0 {
		cfg.Directory.PoolSize = 4
	}
	if cfg.Directory.DialTimeout == 0 {
		cfg.Directory.DialTimeout = 5 * time.Second
	}
	if cfg.Directory.ReadTimeout == 0 {
		cfg.Directory.ReadTimeout = 3 * time.Second
	}
	if cfg.Directory.WriteTimeout == 0 {
		cfg.Directory.WriteTimeout = 3 * time.Second
	}

	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}
}
