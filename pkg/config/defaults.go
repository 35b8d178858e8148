package config

import (
	"time"

	"github.com/railx/ordertrack/pkg/tracking"
)

// Default values for optional configuration fields.
const (
	DefaultAddress         = ":3001"
	DefaultAllowedOrigin   = "http://localhost:3000"
	DefaultAnonymousRole   = "customer"
	DefaultLimitMode       = "reject"
	DefaultPingInterval    = 25 * time.Second
	DefaultPingTimeout     = 20 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 4096
	DefaultQueueSize       = 1024
	DefaultClusterBackend  = "none"
	DefaultClusterChannel  = "ordertrack.relay"
	DefaultRedisAddr       = "127.0.0.1:6379"
	DefaultNATSURL         = "nats://127.0.0.1:4222"
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultPublishLimit    = "20/s"

	// MinJWTSecretLength is the shortest HMAC secret accepted with auth enabled.
	MinJWTSecretLength = 32
)

// DefaultRoles are used when the configuration defines none.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		"customer": {Permissions: []string{"join"}},
		"courier":  {Permissions: []string{"join", "publish_location", "publish_status"}},
		"system":   {Permissions: []string{"join", "publish_location", "publish_status"}, Global: true},
	}
}

// DefaultEvents wires the three tracking events to the core pipeline steps.
func DefaultEvents() map[string]EventConfig {
	return map[string]EventConfig{
		tracking.EventJoinOrder: {
			Modifiers: []ActionConfig{{Name: "authorize", Params: []string{"join", "any"}}},
			Actions:   []ActionConfig{{Name: "_join_order"}},
		},
		tracking.EventCourierLocation: {
			Modifiers: []ActionConfig{
				{Name: "authorize", Params: []string{"publish_location"}},
				{Name: "rate_limit", Params: []string{DefaultPublishLimit}},
			},
			Actions: []ActionConfig{{Name: "_relay_location"}},
		},
		tracking.EventOrderStatus: {
			Modifiers: []ActionConfig{
				{Name: "authorize", Params: []string{"publish_status"}},
				{Name: "rate_limit", Params: []string{DefaultPublishLimit}},
			},
			Actions: []ActionConfig{
				{Name: "_relay_status"},
				{Name: "_log", Params: []string{"order status relayed", "{.payload.status}"}},
			},
		},
	}
}

func (c *Config) applyDefaults() {
	if len(c.Roles) == 0 {
		c.Roles = DefaultRoles()
	}
	defaults := DefaultEvents()
	if c.Events == nil {
		c.Events = make(map[string]EventConfig, len(defaults))
	}
	for name, ev := range defaults {
		if _, ok := c.Events[name]; !ok {
			c.Events[name] = ev
		}
	}
}
