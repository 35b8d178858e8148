package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/railx/ordertrack/pkg/config"
)

type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

func NewNATS(cfg config.NATSConfig, subject string, logger *slog.Logger) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.Timeout(3 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	return &NATS{nc: nc, subject: subject, logger: logger}, nil
}

func (n *NATS) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return n.nc.Publish(n.subject, data)
}

func (n *NATS) Subscribe(ctx context.Context, h Handler) error {
	ch := make(chan *nats.Msg, 256)
	sub, err := n.nc.ChanSubscribe(n.subject, ch)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", n.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()
	n.logger.Info("Subscribed to cluster subject", slog.String("subject", n.subject))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			env, err := Decode(msg.Data)
			if err != nil {
				n.logger.Warn("Dropping cluster message", slog.Any("error", err))
				continue
			}
			h(env)
		}
	}
}

func (n *NATS) Close() error {
	return n.nc.Drain()
}
