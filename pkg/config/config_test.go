package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/tracking"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ORDERTRACK_SERVER_AUTH_JWTSECRET", testJWTSecret)
	cfg, err := Load(discardLogger(), "config", t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if !cfg.Server.Auth.Enabled {
		t.Error("auth should be enabled by default")
	}
	if cfg.Transport.PingInterval != DefaultPingInterval {
		t.Errorf("Transport.PingInterval = %v, want %v", cfg.Transport.PingInterval, DefaultPingInterval)
	}
	if !cfg.Relay.ReplayLastEvents {
		t.Error("replay should be enabled by default")
	}
	for _, ev := range []string{tracking.EventJoinOrder, tracking.EventCourierLocation, tracking.EventOrderStatus} {
		if _, ok := cfg.Events[ev]; !ok {
			t.Errorf("default pipeline for %q missing", ev)
		}
	}
	if _, ok := cfg.Roles["courier"]; !ok {
		t.Error("default courier role missing")
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	if _, err := Load(discardLogger(), "config", t.TempDir()); err == nil {
		t.Fatal("expected Load to fail without a JWT secret")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("ORDERTRACK_SERVER_AUTH_JWTSECRET", testJWTSecret)
	dir := writeConfig(t, `
server:
  address: ":9000"
  allowedOrigin: "https://shop.example.com"
  connectionLimit:
    maxPerUser: 3
    mode: cycle
transport:
  pingInterval: 5s
  pingTimeout: 2s
cluster:
  backend: redis
  nodeId: node-a
  redis:
    addr: "redis:6379"
permissions:
  - publish_eta
roles:
  dispatcher:
    permissions: [join, publish_status, publish_eta]
    global: true
events:
  order-status-update:
    actions:
      - name: _relay_status
`)

	cfg, err := Load(discardLogger(), "config", dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Errorf("Server.Address = %q", cfg.Server.Address)
	}
	if cfg.Server.AllowedOrigin != "https://shop.example.com" {
		t.Errorf("Server.AllowedOrigin = %q", cfg.Server.AllowedOrigin)
	}
	if cfg.Server.ConnectionLimit.MaxPerUser != 3 || cfg.Server.ConnectionLimit.Mode != "cycle" {
		t.Errorf("ConnectionLimit = %+v", cfg.Server.ConnectionLimit)
	}
	if cfg.Transport.PingInterval != 5*time.Second {
		t.Errorf("Transport.PingInterval = %v", cfg.Transport.PingInterval)
	}
	if cfg.Cluster.Backend != "redis" || cfg.Cluster.Redis.Addr != "redis:6379" || cfg.Cluster.NodeID != "node-a" {
		t.Errorf("Cluster = %+v", cfg.Cluster)
	}
	if len(cfg.Roles) != 1 {
		t.Errorf("configured roles should replace defaults, got %d roles", len(cfg.Roles))
	}
	// overridden event keeps the configured pipeline, the rest fall back to defaults
	if got := cfg.Events[tracking.EventOrderStatus]; len(got.Modifiers) != 0 {
		t.Errorf("order-status-update pipeline was overwritten by defaults: %+v", got)
	}
	if _, ok := cfg.Events[tracking.EventJoinOrder]; !ok {
		t.Error("join-order default pipeline missing")
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("ORDERTRACK_SERVER_AUTH_JWTSECRET", "from-env-from-env-from-env-from-env")
	t.Setenv("ORDERTRACK_RELAY_QUEUESIZE", "16")

	cfg, err := Load(discardLogger(), "config", t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Auth.JWTSecret != "from-env-from-env-from-env-from-env" {
		t.Errorf("JWTSecret = %q, want the value from the environment", cfg.Server.Auth.JWTSecret)
	}
	if cfg.Relay.QueueSize != 16 {
		t.Errorf("Relay.QueueSize = %d, want 16", cfg.Relay.QueueSize)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := writeConfig(t, "server: [not: a map")
	if _, err := Load(discardLogger(), "config", dir); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}

func validConfig() Config {
	cfg := Config{
		Server: ServerConfig{
			Address:         ":3001",
			Auth:            AuthConfig{Enabled: true, JWTSecret: testJWTSecret, AnonymousRole: "customer"},
			ConnectionLimit: ConnectionLimitConfig{Mode: "reject"},
		},
		Transport: TransportConfig{SendBuffer: 8, PingInterval: time.Second, PingTimeout: time.Second},
		Relay:     RelayConfig{QueueSize: 8},
		Cluster:   ClusterConfig{Backend: "none"},
		Log:       LogConfig{Format: "text"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config"},
		{
			name:    "missing secret",
			mutate:  func(c *Config) { c.Server.Auth.JWTSecret = " " },
			wantErr: "server.auth.jwtSecret is required when auth is enabled",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Server.Auth.JWTSecret = "default-secret-key-change-me" },
			wantErr: "server.auth.jwtSecret must be at least 32 bytes, got 28",
		},
		{
			name: "auth disabled ignores secret",
			mutate: func(c *Config) {
				c.Server.Auth.Enabled = false
				c.Server.Auth.JWTSecret = ""
			},
		},
		{
			name: "unknown anonymous role",
			mutate: func(c *Config) {
				c.Server.Auth.Enabled = false
				c.Server.Auth.AnonymousRole = "ghost"
			},
			wantErr: `server.auth.anonymousRole "ghost" is not a configured role`,
		},
		{
			name:    "bad limit mode",
			mutate:  func(c *Config) { c.Server.ConnectionLimit.Mode = "drop" },
			wantErr: `server.connectionLimit.mode must be 'reject' or 'cycle', got "drop"`,
		},
		{
			name:    "unknown cluster backend",
			mutate:  func(c *Config) { c.Cluster.Backend = "kafka" },
			wantErr: `cluster.backend must be one of none, redis, nats; got "kafka"`,
		},
		{
			name:    "redis without address",
			mutate:  func(c *Config) { c.Cluster.Backend = "redis" },
			wantErr: "cluster.redis.addr is required for the redis backend",
		},
		{
			name:    "zero queue",
			mutate:  func(c *Config) { c.Relay.QueueSize = 0 },
			wantErr: "relay.queueSize must be positive, got 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error %q, got nil", tt.wantErr)
			}
			if err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func noop(*pipeline.Cargo, ...string) error { return nil }

func provider(known ...string) func(string) (pipeline.ActionFunc, bool) {
	return func(name string) (pipeline.ActionFunc, bool) {
		for _, k := range known {
			if k == name {
				return noop, true
			}
		}
		return nil, false
	}
}

func modProvider(known ...string) func(string) (pipeline.ModifierFunc, bool) {
	return func(name string) (pipeline.ModifierFunc, bool) {
		fn, ok := provider(known...)(name)
		return pipeline.ModifierFunc(fn), ok
	}
}

func TestCompile(t *testing.T) {
	cfg := validConfig()
	cfg.Permissions = []string{"publish_eta"}
	cfg.Roles["dispatcher"] = RoleConfig{Permissions: []string{"publish_status", "publish_eta"}, Global: true}

	err := Compile(&cfg,
		provider("_join_order", "_relay_location", "_relay_status", "_log"),
		modProvider("authorize", "rate_limit"),
	)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	eta, ok := cfg.Registry.Lookup("publish_eta")
	if !ok {
		t.Fatal("custom permission was not registered")
	}
	dispatcher := cfg.RoleTable["dispatcher"]
	if !dispatcher.Permissions.Has(state.PermPublishStatus | eta) {
		t.Errorf("dispatcher permissions = %b", dispatcher.Permissions)
	}
	if !dispatcher.Global {
		t.Error("dispatcher should be global")
	}

	loc := cfg.Pipelines[tracking.EventCourierLocation]
	if len(loc.Modifiers) != 2 || len(loc.Actions) != 1 || loc.Actions[0].Name != "_relay_location" {
		t.Errorf("unexpected courier-location pipeline: %+v", loc)
	}
}

func TestCompileRejectsUnknownSteps(t *testing.T) {
	cfg := validConfig()
	if err := Compile(&cfg, provider(), modProvider("authorize", "rate_limit")); err == nil {
		t.Error("expected unknown action error")
	}

	cfg = validConfig()
	if err := Compile(&cfg, provider("_join_order", "_relay_location", "_relay_status", "_log"), modProvider()); err == nil {
		t.Error("expected unknown modifier error")
	}

	cfg = validConfig()
	cfg.Roles["broken"] = RoleConfig{Permissions: []string{"fly"}}
	if err := Compile(&cfg, provider("_join_order", "_relay_location", "_relay_status", "_log"), modProvider("authorize", "rate_limit")); err == nil {
		t.Error("expected unknown permission error")
	}
}

func TestPermissionRegistry(t *testing.T) {
	r := NewPermissionRegistry()
	if err := r.Register("join"); err == nil {
		t.Error("built-in names must be reserved")
	}
	if err := r.Register("custom"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("custom"); err == nil {
		t.Error("duplicate registration must fail")
	}
	custom, _ := r.Lookup("custom")
	if custom&(state.PermJoin|state.PermPublishLocation|state.PermPublishStatus) != 0 {
		t.Errorf("custom permission %b overlaps built-ins", custom)
	}
	all := r.All()
	if len(all) != 4 || all["custom"] != custom {
		t.Errorf("All() = %v", all)
	}
}
