package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/railx/ordertrack/internal/engine"
	"github.com/railx/ordertrack/pkg/metrics"
	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/tracking"
)

var ErrUnknownEvent = errors.New("unknown event")

// ParamResolver looks up "{$name}" template variables.
type ParamResolver interface {
	GetParamResolver(name string) (engine.ResolverFunc, bool)
}

type inbound struct {
	ctx    context.Context
	connID uuid.UUID
	msg    []byte
}

// EventRouter serializes every inbound frame through one queue, so events
// addressed to the same room are relayed in the order they were dequeued.
type EventRouter struct {
	logger       *slog.Logger
	stateManager state.Manager
	pipelines    map[string]pipeline.Pipeline
	params       ParamResolver
	metrics      *metrics.Metrics
	queue        chan inbound
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager, pipelines map[string]pipeline.Pipeline, params ParamResolver, m *metrics.Metrics, queueSize int) *EventRouter {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &EventRouter{
		logger:       logger.With(slog.String("component", "event_router")),
		stateManager: stateManager,
		pipelines:    pipelines,
		params:       params,
		metrics:      m,
		queue:        make(chan inbound, queueSize),
	}
}

// HandleMessage enqueues a frame for dispatch. It blocks while the queue is
// full, until ctx is cancelled.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	select {
	case r.queue <- inbound{ctx: ctx, connID: connID, msg: msg}:
	case <-ctx.Done():
	}
}

// Run dispatches queued frames until ctx is cancelled.
func (r *EventRouter) Run(ctx context.Context) error {
	r.logger.Info("Event router started", slog.Int("queue", cap(r.queue)))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Event router stopped")
			return nil
		case in := <-r.queue:
			if in.ctx.Err() != nil {
				// sender disconnected while the frame was queued
				continue
			}
			r.Process(in.ctx, in.connID, in.msg)
		}
	}
}

// Process runs the pipeline of one frame synchronously.
func (r *EventRouter) Process(ctx context.Context, connID uuid.UUID, msg []byte) {
	logger := r.logger.With(slog.String("connID", connID.String()))

	conn, ok := r.stateManager.GetConnection(connID)
	if !ok {
		logger.Warn("Dropping frame from unregistered connection")
		return
	}

	var frame tracking.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		logger.Warn("Failed to unmarshal client message", slog.Any("error", err))
		r.reject(conn, "", "malformed", "malformed frame")
		return
	}
	logger = logger.With(slog.String("event", frame.Event))

	pipe, ok := r.pipelines[frame.Event]
	if !ok {
		logger.Warn("Received unknown event")
		r.reject(conn, frame.Event, "unknown_event", ErrUnknownEvent.Error())
		return
	}

	pctx := &pipeline.Cargo{
		Logger:       logger,
		Ctx:          ctx,
		EventName:    frame.Event,
		Connection:   conn,
		Identity:     conn.Identity,
		StateManager: r.stateManager,
		Payload:      frame.Payload,
	}
	targetID, err := tracking.OrderID(frame.Payload)
	if err != nil {
		logger.Warn("Rejected event", slog.Any("error", err))
		r.reject(conn, frame.Event, engine.Reason(err), err.Error())
		return
	}
	pctx.TargetID = targetID
	pctx.Logger = logger.With(slog.String("order", targetID))

	for _, step := range pipe.Modifiers {
		if err := r.runStep(pctx, step); err != nil {
			pctx.Logger.Warn("Modifier rejected event", slog.String("modifier", step.Name), slog.Any("error", err))
			r.fail(conn, frame.Event, err)
			return
		}
	}
	for _, step := range pipe.Actions {
		if err := r.runStep(pctx, step); err != nil {
			pctx.Logger.Warn("Action failed, halting pipeline", slog.String("action", step.Name), slog.Any("error", err))
			r.fail(conn, frame.Event, err)
			return
		}
	}
}

func (r *EventRouter) fail(conn *state.Connection, event string, err error) {
	reason := engine.Reason(err)
	message := err.Error()
	if reason == "error" {
		message = "internal error"
	}
	r.reject(conn, event, reason, message)
}

// reject reports a refused event back to its sender only.
func (r *EventRouter) reject(conn *state.Connection, event, reason, message string) {
	r.metrics.EventRejected(event, reason)
	frame, err := tracking.Encode(tracking.EventError, tracking.ErrorPayload{Event: event, Message: message})
	if err != nil {
		r.logger.Error("Failed to encode error frame", slog.Any("error", err))
		return
	}
	if !conn.Transport.Send(frame) {
		r.metrics.FramesDropped(1)
	}
}
