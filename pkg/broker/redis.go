package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/railx/ordertrack/pkg/config"
)

type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedis(cfg config.RedisConfig, channel string, logger *slog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Redis{client: rdb, channel: channel, logger: logger}, nil
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	// wait for the subscription to be confirmed before reading
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("Subscribed to cluster channel", slog.String("channel", r.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("Dropping cluster message", slog.Any("error", err))
				continue
			}
			h(env)
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
