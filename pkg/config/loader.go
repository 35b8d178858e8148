package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from .env, a YAML file and environment variables,
// in increasing order of precedence.
func Load(logger *slog.Logger, fileName string, paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("ORDERTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. relying on defaults/env vars", slog.String("name", fileName))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded",
		slog.String("file", v.ConfigFileUsed()),
		slog.String("cluster", cfg.Cluster.Backend),
		slog.Bool("auth", cfg.Server.Auth.Enabled),
	)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.allowedOrigin", DefaultAllowedOrigin)
	v.SetDefault("server.auth.enabled", true)
	// no default secret: auth stays unusable until one is configured
	v.SetDefault("server.auth.jwtSecret", "")
	v.SetDefault("server.auth.anonymousRole", DefaultAnonymousRole)
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", DefaultLimitMode)

	v.SetDefault("transport.pingInterval", DefaultPingInterval)
	v.SetDefault("transport.pingTimeout", DefaultPingTimeout)
	v.SetDefault("transport.writeTimeout", DefaultWriteTimeout)
	v.SetDefault("transport.sendBuffer", DefaultSendBuffer)
	v.SetDefault("transport.maxMessageBytes", DefaultMaxMessageBytes)

	v.SetDefault("relay.queueSize", DefaultQueueSize)
	v.SetDefault("relay.replayLastEvents", true)

	v.SetDefault("cluster.backend", DefaultClusterBackend)
	v.SetDefault("cluster.nodeId", "")
	v.SetDefault("cluster.channel", DefaultClusterChannel)
	v.SetDefault("cluster.redis.addr", DefaultRedisAddr)
	v.SetDefault("cluster.redis.password", "")
	v.SetDefault("cluster.redis.db", 0)
	v.SetDefault("cluster.nats.url", DefaultNATSURL)
	v.SetDefault("cluster.nats.name", "ordertrack")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", DefaultMetricsPath)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}
