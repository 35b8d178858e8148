package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration values that do not depend on the action registry.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Server.Auth.Enabled {
		secret := strings.TrimSpace(c.Server.Auth.JWTSecret)
		if secret == "" {
			return errors.New("server.auth.jwtSecret is required when auth is enabled")
		}
		if len(secret) < MinJWTSecretLength {
			return fmt.Errorf("server.auth.jwtSecret must be at least %d bytes, got %d", MinJWTSecretLength, len(secret))
		}
	}
	if !c.Server.Auth.Enabled {
		if _, ok := c.Roles[c.Server.Auth.AnonymousRole]; !ok {
			return fmt.Errorf("server.auth.anonymousRole %q is not a configured role", c.Server.Auth.AnonymousRole)
		}
	}
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("server.connectionLimit.mode must be 'reject' or 'cycle', got %q", c.Server.ConnectionLimit.Mode)
	}
	if c.Transport.SendBuffer <= 0 {
		return fmt.Errorf("transport.sendBuffer must be positive, got %d", c.Transport.SendBuffer)
	}
	if c.Transport.PingInterval > 0 && c.Transport.PingTimeout <= 0 {
		return errors.New("transport.pingTimeout must be positive when pings are enabled")
	}
	if c.Relay.QueueSize <= 0 {
		return fmt.Errorf("relay.queueSize must be positive, got %d", c.Relay.QueueSize)
	}
	switch c.Cluster.Backend {
	case "none", "":
	case "redis":
		if c.Cluster.Redis.Addr == "" {
			return errors.New("cluster.redis.addr is required for the redis backend")
		}
	case "nats":
		if c.Cluster.NATS.URL == "" {
			return errors.New("cluster.nats.url is required for the nats backend")
		}
	default:
		return fmt.Errorf("cluster.backend must be one of none, redis, nats; got %q", c.Cluster.Backend)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}
	return nil
}
