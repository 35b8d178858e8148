package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/railx/ordertrack/pkg/config"
)

var ErrMalformedEnvelope = errors.New("broker: malformed envelope")

// Envelope carries one outbound frame between relay nodes.
type Envelope struct {
	Node  string          `json:"node"`
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Frame json.RawMessage `json:"frame"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Node == "" || env.Room == "" || len(env.Frame) == 0 {
		return Envelope{}, ErrMalformedEnvelope
	}
	return env, nil
}

type Handler func(Envelope)

// Broker fans frames out to the other nodes of a cluster.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes to h until ctx is cancelled.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.ClusterConfig, logger *slog.Logger) (Broker, error) {
	logger = logger.With(slog.String("component", "broker"), slog.String("backend", cfg.Backend))
	switch cfg.Backend {
	case "", "none":
		return Noop{}, nil
	case "redis":
		return NewRedis(cfg.Redis, cfg.Channel, logger)
	case "nats":
		return NewNATS(cfg.NATS, cfg.Channel, logger)
	default:
		return nil, fmt.Errorf("unknown cluster backend %q", cfg.Backend)
	}
}

// Noop is the single-node broker.
type Noop struct{}

func (Noop) Publish(context.Context, Envelope) error { return nil }

func (Noop) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (Noop) Close() error { return nil }
