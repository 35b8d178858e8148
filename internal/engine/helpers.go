package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/railx/ordertrack/pkg/broker"
	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/tracking"
)

// fanout delivers a frame to every local member of the room except the sender,
// caches it for late joiners and hands it to the cluster bus.
func (e *Registry) fanout(pctx *pipeline.Cargo, key state.RoomKey, kind state.EventKind, event string, frame []byte) error {
	var sender uuid.UUID
	if pctx.Connection != nil {
		sender = pctx.Connection.ID
	}
	delivered, dropped := e.deliver(pctx.StateManager, key, sender, frame)
	pctx.StateManager.RecordLastEvent(key, kind, sender, frame)
	e.deps.Metrics.EventRelayed(pctx.EventName)

	pctx.Logger.Debug("Relayed event",
		slog.String("room", key.String()),
		slog.String("event", event),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped),
	)

	if e.deps.Bus == nil {
		return nil
	}
	ctx := pctx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	env := broker.Envelope{Node: e.deps.NodeID, Room: key.String(), Event: event, Frame: frame}
	if err := e.deps.Bus.Publish(ctx, env); err != nil && !errors.Is(err, context.Canceled) {
		// local delivery already happened; the cluster copy is best effort
		pctx.Logger.Warn("Cluster publish failed", slog.String("room", key.String()), slog.Any("error", err))
	}
	return nil
}

func (e *Registry) deliver(sm state.Manager, key state.RoomKey, exclude uuid.UUID, frame []byte) (delivered, dropped int) {
	for _, t := range sm.RoomRecipients(key, exclude) {
		if t.Send(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	e.deps.Metrics.FramesDelivered(delivered)
	e.deps.Metrics.FramesDropped(dropped)
	return delivered, dropped
}

// RemoteHandler returns the broker handler that delivers frames relayed by
// other nodes to this node's members of the same room.
func (e *Registry) RemoteHandler(sm state.Manager) broker.Handler {
	logger := e.logger.With(slog.String("source", "cluster"))
	return func(env broker.Envelope) {
		if env.Node == e.deps.NodeID {
			return
		}
		key, err := state.ParseRoomKey(env.Room)
		if err != nil {
			logger.Warn("Dropping cluster frame with bad room", slog.String("room", env.Room), slog.Any("error", err))
			return
		}
		var kind state.EventKind
		switch env.Event {
		case tracking.EventLocationUpdate:
			kind = state.EventLocation
		case tracking.EventStatusChange:
			kind = state.EventStatus
		default:
			logger.Warn("Dropping cluster frame with unknown event", slog.String("event", env.Event))
			return
		}
		e.deps.Metrics.RemoteReceived(env.Event)
		delivered, dropped := e.deliver(sm, key, uuid.Nil, env.Frame)
		sm.RecordLastEvent(key, kind, uuid.Nil, env.Frame)
		logger.Debug("Delivered cluster frame",
			slog.String("node", env.Node),
			slog.String("room", key.String()),
			slog.Int("delivered", delivered),
			slog.Int("dropped", dropped),
		)
	}
}

// Reason classifies a pipeline error for metrics and error frames.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, tracking.ErrMissingOrderID),
		errors.Is(err, tracking.ErrInvalidLocation),
		errors.Is(err, tracking.ErrMissingStatus):
		return "malformed"
	default:
		return "error"
	}
}
