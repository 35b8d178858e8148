package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/railx/ordertrack/pkg/broker"
	"github.com/railx/ordertrack/pkg/metrics"
	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
)

/*
* The central registry for all executable and context-aware components.
* It is a single, stateful object that holds all registered actions, modifiers, and parameters.
 */
type Registry struct {
	logger   *slog.Logger
	deps     Deps
	actions  map[string]pipeline.ActionFunc
	actionMu sync.RWMutex

	modifiers  map[string]pipeline.ModifierFunc
	modifierMu sync.RWMutex

	params   map[string]ResolverFunc
	paramsMu sync.RWMutex

	perms    PermissionLookup
	permsMu  sync.RWMutex
	limiters *limiterStore
}

// Deps are the collaborators the core actions fan out through.
type Deps struct {
	// Bus receives every locally relayed frame for other nodes. Nil disables cluster fanout.
	Bus    broker.Broker
	NodeID string
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Now     func() time.Time
	// replay the last location/status frame to late joiners
	ReplayLastEvents bool
}

// PermissionLookup resolves permission names used as modifier params.
type PermissionLookup interface {
	Lookup(name string) (state.Permission, bool)
}

type builtInPerms struct{}

func (builtInPerms) Lookup(name string) (state.Permission, bool) {
	p, ok := state.BuiltInPerms[name]
	return p, ok
}

// New creates and initializes a new Registry instance.
func New(logger *slog.Logger, deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Registry{
		actions:   make(map[string]pipeline.ActionFunc),
		modifiers: make(map[string]pipeline.ModifierFunc),
		params:    make(map[string]ResolverFunc),
		logger:    logger.With(slog.String("component", "engine")),
		deps:      deps,
		perms:     builtInPerms{},
		limiters:  newLimiterStore(),
	}
}

func (e *Registry) RegisterCore() {
	e.registerCoreParams()
	e.registerCoreActions()
	e.registerCoreModifiers()
}

func (e *Registry) registerCoreActions() {
	e.RegisterAction("_log", actionLog)
	e.RegisterAction("_join_order", e.actionJoinOrder)
	e.RegisterAction("_relay_location", e.actionRelayLocation)
	e.RegisterAction("_relay_status", e.actionRelayStatus)
	e.RegisterAction("_notify_origin", actionNotifyOrigin)
	e.logger.Info("Registered core actions", slog.Int("count", len(e.actions)))
}

func (e *Registry) registerCoreModifiers() {
	e.RegisterModifier("authorize", e.modifierAuthorize)
	e.RegisterModifier("rate_limit", e.modifierRateLimit)
	e.logger.Info("Registered core modifiers", slog.Int("count", len(e.modifiers)))
}

func (e *Registry) registerCoreParams() {
	e.RegisterParams("target.id", _target)
	e.RegisterParams("order.id", _target)
	e.RegisterParams("conn.id", _connID)
	e.RegisterParams("user.id", _userID)
	e.RegisterParams("user.role", _userRole)
	e.logger.Info("Registered core params", slog.Int("count", len(e.params)))
}

// UsePermissions swaps in the compiled permission registry so the authorize
// modifier understands custom permission names.
func (e *Registry) UsePermissions(lookup PermissionLookup) {
	e.permsMu.Lock()
	defer e.permsMu.Unlock()
	e.perms = lookup
}

func (e *Registry) lookupPermission(name string) (state.Permission, bool) {
	e.permsMu.RLock()
	defer e.permsMu.RUnlock()
	return e.perms.Lookup(name)
}

// --- Action Methods ---
func (e *Registry) RegisterAction(name string, fn pipeline.ActionFunc) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()
	if _, exists := e.actions[name]; exists {
		panic("action function already registered: " + name)
	}
	e.actions[name] = fn
}

func (e *Registry) GetActionFunc(name string) (pipeline.ActionFunc, bool) {
	e.actionMu.RLock()
	defer e.actionMu.RUnlock()
	fn, ok := e.actions[name]
	return fn, ok
}

// --- Modifier Methods ---

func (e *Registry) RegisterModifier(name string, fn pipeline.ModifierFunc) {
	e.modifierMu.Lock()
	defer e.modifierMu.Unlock()
	if _, exists := e.modifiers[name]; exists {
		panic("modifier function already registered: " + name)
	}
	e.modifiers[name] = fn
}

func (e *Registry) GetModifierFunc(name string) (pipeline.ModifierFunc, bool) {
	e.modifierMu.RLock()
	defer e.modifierMu.RUnlock()
	fn, ok := e.modifiers[name]
	return fn, ok
}

// --- Params Methods ---

func (e *Registry) RegisterParams(name string, resolver ResolverFunc) {
	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()
	if _, exists := e.params[name]; exists {
		panic("Param already registered: " + name)
	}
	e.params[name] = resolver
}

func (e *Registry) GetParamResolver(name string) (ResolverFunc, bool) {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	resolver, ok := e.params[name]
	return resolver, ok
}

// ForgetConnection drops per-connection modifier state once a connection is gone.
func (e *Registry) ForgetConnection(connID uuid.UUID) {
	e.limiters.forget(connID)
}
