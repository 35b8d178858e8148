package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/railx/ordertrack/internal/engine"
	"github.com/railx/ordertrack/pkg/config"
	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/state/statemanager"
	"github.com/railx/ordertrack/pkg/state/statetest"
	"github.com/railx/ordertrack/pkg/tracking"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	router *EventRouter
	sm     *statemanager.InMemoryManager
	reg    *engine.Registry
}

func newHarness(t *testing.T, queueSize int) *harness {
	t.Helper()
	reg := engine.New(discardLogger(), engine.Deps{})
	reg.RegisterCore()

	cfg := &config.Config{}
	cfg.Roles = config.DefaultRoles()
	cfg.Events = config.DefaultEvents()
	require.NoError(t, config.Compile(cfg, reg.GetActionFunc, reg.GetModifierFunc))
	reg.UsePermissions(cfg.Registry)

	sm := statemanager.NewInMemoryManager(discardLogger())
	return &harness{
		router: NewEventRouter(discardLogger(), sm, cfg.Pipelines, reg, nil, queueSize),
		sm:     sm,
		reg:    reg,
	}
}

func (h *harness) connect(t *testing.T, userID, role string, orders ...string) (*state.Connection, *statetest.Transport) {
	t.Helper()
	perms := map[string]state.Permission{
		"customer": state.PermJoin,
		"courier":  state.PermJoin | state.PermPublishLocation | state.PermPublishStatus,
	}[role]
	scope := make(map[string]struct{}, len(orders))
	for _, o := range orders {
		scope[o] = struct{}{}
	}
	tr := statetest.NewTransport()
	conn, err := h.sm.RegisterConnection(tr, "127.0.0.1")
	require.NoError(t, err)
	_, _, err = h.sm.AssociateUser(conn.ID, state.Identity{UserID: userID, Role: role, Permissions: perms, Orders: scope}, state.ConnectionLimit{})
	require.NoError(t, err)
	return conn, tr
}

func (h *harness) send(conn *state.Connection, event string, payload string) {
	msg := fmt.Sprintf(`{"event":%q,"payload":%s}`, event, payload)
	h.router.Process(context.Background(), conn.ID, []byte(msg))
}

func errorFrame(t *testing.T, raw []byte) (event, message string) {
	t.Helper()
	f := gjson.ParseBytes(raw)
	require.Equal(t, tracking.EventError, f.Get("event").String(), string(raw))
	return f.Get("payload.event").String(), f.Get("payload.message").String()
}

func TestStatusRelayedToRoomOnly(t *testing.T) {
	h := newHarness(t, 8)
	courier, courierTr := h.connect(t, "c1", "courier", "42")
	customer, customerTr := h.connect(t, "u1", "customer")
	bystander, bystanderTr := h.connect(t, "u2", "customer")

	h.send(courier, tracking.EventJoinOrder, `"42"`)
	h.send(customer, tracking.EventJoinOrder, `{"orderId":"42"}`)
	h.send(bystander, tracking.EventJoinOrder, `"7"`)
	h.send(courier, tracking.EventOrderStatus, `{"orderId":"42","status":"picked_up","message":"Courier on the way"}`)

	assert.Empty(t, courierTr.Frames())
	assert.Empty(t, bystanderTr.Frames())
	frames := customerTr.Frames()
	require.Len(t, frames, 1)
	f := gjson.ParseBytes(frames[0])
	assert.Equal(t, tracking.EventStatusChange, f.Get("event").String())
	assert.Equal(t, "picked_up", f.Get("payload.status").String())
	assert.Equal(t, "Courier on the way", f.Get("payload.message").String())
	assert.True(t, f.Get("payload.timestamp").Exists())
}

func TestNumericOrderIDJoinsSameRoom(t *testing.T) {
	h := newHarness(t, 8)
	courier, _ := h.connect(t, "c1", "courier", "42")
	customer, customerTr := h.connect(t, "u1", "customer")

	h.send(customer, tracking.EventJoinOrder, `42`)
	h.send(courier, tracking.EventCourierLocation, `{"orderId":42,"location":{"lat":1.5,"lng":2.5}}`)

	require.Len(t, customerTr.Frames(), 1)
	assert.Equal(t, "42", gjson.GetBytes(customerTr.Frames()[0], "payload.orderId").String())
}

func TestRejectionsGoToOriginOnly(t *testing.T) {
	h := newHarness(t, 8)
	courier, courierTr := h.connect(t, "c1", "courier", "42")
	customer, customerTr := h.connect(t, "u1", "customer")
	h.send(customer, tracking.EventJoinOrder, `"42"`)
	h.send(courier, tracking.EventJoinOrder, `"43"`)

	tests := []struct {
		name      string
		conn      *state.Connection
		raw       string
		wantEvent string
	}{
		{"customer publishing status", customer, `{"event":"order-status-update","payload":{"orderId":"42","status":"delivered"}}`, tracking.EventOrderStatus},
		{"courier outside scope", courier, `{"event":"courier-location","payload":{"orderId":"43","location":{"lat":1,"lng":1}}}`, tracking.EventCourierLocation},
		{"missing order id", courier, `{"event":"order-status-update","payload":{"status":"delivered"}}`, tracking.EventOrderStatus},
		{"bad coordinates", courier, `{"event":"courier-location","payload":{"orderId":"42","location":{"lat":"north"}}}`, tracking.EventCourierLocation},
		{"unknown event", courier, `{"event":"chat","payload":{"orderId":"42"}}`, "chat"},
		{"not json", courier, `{"event":`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origin := courierTr
			if tt.conn == customer {
				origin = customerTr
			}
			before := len(origin.Frames())
			h.router.Process(context.Background(), tt.conn.ID, []byte(tt.raw))

			frames := origin.Frames()
			require.Len(t, frames, before+1)
			event, message := errorFrame(t, frames[before])
			assert.Equal(t, tt.wantEvent, event)
			assert.NotEmpty(t, message)
		})
	}
	// no relay frame reached the room
	for _, f := range customerTr.Frames() {
		assert.Equal(t, tracking.EventError, gjson.GetBytes(f, "event").String())
	}
}

func TestRateLimitedPublisherGetsError(t *testing.T) {
	h := newHarness(t, 8)
	courier, courierTr := h.connect(t, "c1", "courier", "42")
	customer, customerTr := h.connect(t, "u1", "customer")
	h.send(customer, tracking.EventJoinOrder, `"42"`)

	// default budget is 20/s with a burst of 20
	const sent = 30
	for i := 0; i < sent; i++ {
		h.send(courier, tracking.EventCourierLocation, `{"orderId":"42","location":{"lat":1,"lng":1}}`)
	}
	relayed := len(customerTr.Frames())
	assert.GreaterOrEqual(t, relayed, 20)
	assert.Less(t, relayed, sent)

	rejected := courierTr.Frames()
	require.Len(t, rejected, sent-relayed)
	_, message := errorFrame(t, rejected[0])
	assert.Contains(t, message, "rate limit exceeded")
}

func TestRunPreservesOrder(t *testing.T) {
	h := newHarness(t, 64)
	courier, _ := h.connect(t, "c1", "courier", "42")
	customer, customerTr := h.connect(t, "u1", "customer")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx) }()

	h.router.HandleMessage(ctx, customer.ID, []byte(`{"event":"join-order","payload":"42"}`))
	statuses := []string{"confirmed", "preparing", "picked_up", "delivered"}
	for _, s := range statuses {
		h.router.HandleMessage(ctx, courier.ID, []byte(fmt.Sprintf(`{"event":"order-status-update","payload":{"orderId":"42","status":%q}}`, s)))
	}

	require.Eventually(t, func() bool { return len(customerTr.Frames()) == len(statuses) }, 2*time.Second, 10*time.Millisecond)
	for i, f := range customerTr.Frames() {
		assert.Equal(t, statuses[i], gjson.GetBytes(f, "payload.status").String())
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestHandleMessageUnblocksOnCancel(t *testing.T) {
	h := newHarness(t, 1)
	conn, _ := h.connect(t, "u1", "customer")

	ctx, cancel := context.WithCancel(context.Background())
	h.router.HandleMessage(ctx, conn.ID, []byte(`{}`)) // fills the queue

	returned := make(chan struct{})
	go func() {
		h.router.HandleMessage(ctx, conn.ID, []byte(`{}`))
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("HandleMessage should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("HandleMessage did not return after cancel")
	}
}

func TestResolveParams(t *testing.T) {
	h := newHarness(t, 1)
	conn, _ := h.connect(t, "c1", "courier", "42")
	pctx := &pipeline.Cargo{
		Connection: conn,
		Identity:   state.Identity{UserID: "c1", Role: "courier"},
		Payload:    json.RawMessage(`{"orderId":"42","status":"picked_up","location":{"lat":1.5}}`),
		TargetID:   "42",
	}

	got, err := h.router.resolveParams(pctx, []string{
		"literal",
		"{.payload.status}",
		"{.payload.location.lat}",
		"{.payload.missing}",
		"{$order.id}",
		"{$user.role}",
		"{.payload}",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"literal", "picked_up", "1.5", "", "42", "courier", string(pctx.Payload)}, got)

	_, err = h.router.resolveParams(pctx, []string{"{$nope}"})
	assert.Error(t, err)
	_, err = h.router.resolveParams(pctx, []string{"{.headers.x}"})
	assert.Error(t, err)
}

func TestProcessUnknownConnection(t *testing.T) {
	h := newHarness(t, 1)
	tr := statetest.NewTransport()
	assert.NotPanics(t, func() {
		h.router.Process(context.Background(), tr.ID(), []byte(`{"event":"join-order","payload":"1"}`))
	})
	assert.Empty(t, tr.Frames())
}

func TestExampleConfigCompiles(t *testing.T) {
	t.Setenv("ORDERTRACK_SERVER_AUTH_JWTSECRET", "example-secret-example-secret-example")
	cfg, err := config.Load(discardLogger(), "config.example", "../..")
	require.NoError(t, err)

	reg := engine.New(discardLogger(), engine.Deps{})
	reg.RegisterCore()
	require.NoError(t, config.Compile(cfg, reg.GetActionFunc, reg.GetModifierFunc))

	for _, ev := range []string{tracking.EventJoinOrder, tracking.EventCourierLocation, tracking.EventOrderStatus} {
		assert.Contains(t, cfg.Pipelines, ev)
	}
	assert.True(t, cfg.RoleTable["system"].Global)
	assert.Equal(t, "cycle", cfg.Server.ConnectionLimit.Mode)
}
