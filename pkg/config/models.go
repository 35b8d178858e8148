package config

import (
	"time"

	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
)

type Config struct {
	Server      ServerConfig
	Transport   TransportConfig
	Relay       RelayConfig
	Cluster     ClusterConfig
	Metrics     MetricsConfig
	Log         LogConfig
	Permissions []string               `mapstructure:"permissions"`
	Roles       map[string]RoleConfig  `mapstructure:"roles"`
	Events      map[string]EventConfig `mapstructure:"events"`

	// filled by Compile
	Pipelines map[string]pipeline.Pipeline `mapstructure:"-"`
	RoleTable map[string]state.Role        `mapstructure:"-"`
	Registry  *PermissionRegistry          `mapstructure:"-"`
}

type ServerConfig struct {
	Address string
	// AllowedOrigin is the single browser origin allowed to open sockets; "*" allows any.
	AllowedOrigin   string `mapstructure:"allowedOrigin"`
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwtSecret"`
	// role given to every connection when auth is disabled
	AnonymousRole string `mapstructure:"anonymousRole"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	PingInterval    time.Duration `mapstructure:"pingInterval"`
	PingTimeout     time.Duration `mapstructure:"pingTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	SendBuffer      int           `mapstructure:"sendBuffer"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
}

type RelayConfig struct {
	QueueSize int `mapstructure:"queueSize"`
	// replay the last location/status frame to connections joining a live room
	ReplayLastEvents bool `mapstructure:"replayLastEvents"`
}

type ClusterConfig struct {
	Backend string `mapstructure:"backend"` // "none", "redis" or "nats"
	NodeID  string `mapstructure:"nodeId"`
	Channel string `mapstructure:"channel"`
	Redis   RedisConfig
	NATS    NATSConfig `mapstructure:"nats"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

type RoleConfig struct {
	Permissions []string `mapstructure:"permissions"`
	Global      bool     `mapstructure:"global"`
}

type EventConfig struct {
	Modifiers []ActionConfig `mapstructure:"modifiers"`
	Actions   []ActionConfig `mapstructure:"actions"`
}

type ActionConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}
