package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/tracking"
)

// actionJoinOrder subscribes the caller to the room of the target order.
func (e *Registry) actionJoinOrder(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_join_order does not accept any parameters")
	}
	if pctx.Connection == nil {
		return errors.New("_join_order requires a connection")
	}
	key := state.OrderRoom(pctx.TargetID)
	if key.IsZero() {
		return tracking.ErrMissingOrderID
	}
	_, joined, err := pctx.StateManager.Join(pctx.Connection.ID, key, pctx.Identity.Permissions)
	if err != nil {
		return fmt.Errorf("failed to join connection '%s' to room '%s': %w", pctx.Connection.ID, key, err)
	}
	if !joined {
		pctx.Logger.Debug("Connection already in room", slog.String("room", key.String()))
		return nil
	}
	pctx.Logger.Info("Connection joined room", slog.String("room", key.String()), slog.String("userID", pctx.Identity.UserID))

	if !e.deps.ReplayLastEvents {
		return nil
	}
	snap, ok := pctx.StateManager.FindRoom(key)
	if !ok {
		return nil
	}
	replayed := 0
	for _, last := range []state.LastEvent{snap.LastLocation, snap.LastStatus} {
		// a publisher never receives its own frame back
		if last.Frame == nil || last.Origin == pctx.Connection.ID {
			continue
		}
		if pctx.Connection.Transport.Send(last.Frame) {
			replayed++
		}
	}
	if replayed > 0 {
		e.deps.Metrics.FramesDelivered(replayed)
		pctx.Logger.Debug("Replayed last events", slog.String("room", key.String()), slog.Int("frames", replayed))
	}
	return nil
}

func (e *Registry) actionRelayLocation(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_relay_location does not accept any parameters")
	}
	orderID, loc, err := tracking.ParseLocation(pctx.Payload)
	if err != nil {
		return err
	}
	frame, err := tracking.Encode(tracking.EventLocationUpdate, tracking.LocationUpdate{
		OrderID:   orderID,
		Location:  loc,
		Timestamp: e.deps.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return e.fanout(pctx, state.OrderRoom(orderID), state.EventLocation, tracking.EventLocationUpdate, frame)
}

func (e *Registry) actionRelayStatus(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 0 {
		return errors.New("_relay_status does not accept any parameters")
	}
	orderID, status, message, err := tracking.ParseStatus(pctx.Payload)
	if err != nil {
		return err
	}
	frame, err := tracking.Encode(tracking.EventStatusChange, tracking.StatusChange{
		OrderID:   orderID,
		Status:    status,
		Message:   message,
		Timestamp: e.deps.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return e.fanout(pctx, state.OrderRoom(orderID), state.EventStatus, tracking.EventStatusChange, frame)
}

// actionLog writes params[0] as the log message; any further params are attached as details.
func actionLog(pctx *pipeline.Cargo, params ...string) error {
	if len(params) < 1 {
		return errors.New("_log requires at least 1 parameter: [message, details...]")
	}
	attrs := []any{
		slog.String("component", "action_log"),
		slog.String("event", pctx.EventName),
		slog.String("order", pctx.TargetID),
		slog.String("userID", pctx.Identity.UserID),
	}
	if len(params) > 1 {
		attrs = append(attrs, slog.Any("details", params[1:]))
	}
	pctx.Logger.Info(params[0], attrs...)
	return nil
}

// actionNotifyOrigin sends an arbitrary frame back to the sender.
func actionNotifyOrigin(pctx *pipeline.Cargo, params ...string) error {
	if len(params) != 2 {
		return errors.New("_notify_origin requires exactly 2 parameters: [eventName, payload]")
	}
	if pctx.Connection == nil {
		return errors.New("_notify_origin requires a connection")
	}
	payload := json.RawMessage(params[1])
	if !json.Valid(payload) {
		// plain strings are sent as JSON strings
		quoted, err := json.Marshal(params[1])
		if err != nil {
			return err
		}
		payload = quoted
	}
	msg, err := json.Marshal(tracking.Frame{Event: params[0], Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	pctx.Connection.Transport.Send(msg)
	return nil
}
