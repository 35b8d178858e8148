package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/railx/ordertrack/internal/engine"
	"github.com/railx/ordertrack/internal/router"
	"github.com/railx/ordertrack/internal/server/middleware"
	"github.com/railx/ordertrack/pkg/broker"
	"github.com/railx/ordertrack/pkg/config"
	"github.com/railx/ordertrack/pkg/metrics"
	"github.com/railx/ordertrack/pkg/state"
	"github.com/railx/ordertrack/pkg/transport"
)

var (
	errConnectionCycled = errors.New("connection cycled by new connection")
	errShutdown         = errors.New("graceful shutdown")
	errLimitReached     = errors.New("user connection limit reached")
)

// Deps are the components the server wires together. Broker and Metrics may be nil.
type Deps struct {
	StateManager  state.Manager
	Router        *router.EventRouter
	Engine        *engine.Registry
	Authenticator middleware.Authenticator
	Broker        broker.Broker
	Metrics       *metrics.Metrics
	Version       string
}

type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	eventRouter  *router.EventRouter
	engine       *engine.Registry
	broker       broker.Broker
	metrics      *metrics.Metrics
	version      string
	wg           sync.WaitGroup
	http         *http.Server
	handler      http.Handler
	config       *config.Config
	startedAt    time.Time

	// mu guards closing; connections are only added to wg while it is held
	// and closing is false
	mu      sync.Mutex
	closing bool

	shutdownOnce sync.Once
	shutdownErr  error

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, deps Deps) *App {
	if deps.Broker == nil {
		deps.Broker = broker.Noop{}
	}
	app := &App{
		logger:       logger.With(slog.String("component", "server")),
		stateManager: deps.StateManager,
		eventRouter:  deps.Router,
		engine:       deps.Engine,
		broker:       deps.Broker,
		metrics:      deps.Metrics,
		version:      deps.Version,
		config:       cfg,
		startedAt:    time.Now(),
		ctx:          rootCtx,
	}
	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewOriginCheck(logger, middleware.NewOriginMatcher(cfg.Server.AllowedOrigin)),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth, deps.Authenticator),
			middleware.NewConnectionLimiter(
				logger,
				deps.StateManager.GetUserConnectionCount,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.HandleFunc("/health", app.healthHandler)
	mux.HandleFunc("/stats", app.statsHandler)
	if cfg.Metrics.Enabled && deps.Metrics != nil {
		mux.Handle(cfg.Metrics.Path, deps.Metrics.Handler())
	}
	app.handler = mux

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return app.ctx
		},
	}
	return app
}

// Handler exposes the routed endpoints, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run serves HTTP, dispatches events and consumes the cluster bus until the
// root context is cancelled or one of them fails.
func (a *App) Run() error {
	g, ctx := errgroup.WithContext(a.ctx)

	g.Go(func() error {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	a.startWorkers(ctx, g)
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown()
	})
	return g.Wait()
}

// startWorkers runs the event dispatcher and the cluster subscriber.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return a.eventRouter.Run(ctx)
	})
	g.Go(func() error {
		return a.broker.Subscribe(ctx, a.engine.RemoteHandler(a.stateManager))
	})
}

func (a *App) connectionLimit() state.ConnectionLimit {
	return state.ConnectionLimit{
		MaxPerUser:  a.config.Server.ConnectionLimit.MaxPerUser,
		EvictOldest: a.config.Server.ConnectionLimit.Mode == "cycle",
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	identity := reqMeta.Identity
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", identity.UserID),
	)

	// the origin was already checked by the middleware chain
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		connLogger.Warn("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn, stateConn, err := a.openConnection(r.Context(), wsConn, reqMeta.IP)
	if err != nil {
		if errors.Is(err, errShutdown) {
			connLogger.Info("Refusing connection during shutdown")
			_ = wsConn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// associate the authenticated user with the registered connection.
	_, evicted, err := a.stateManager.AssociateUser(stateConn.ID, identity, a.connectionLimit())
	if err != nil {
		_ = a.stateManager.DeregisterConnection(stateConn.ID)
		if errors.Is(err, state.ErrUserLimitReached) {
			connLogger.Warn("User connection limit reached after upgrade")
			conn.Close(errLimitReached)
			return
		}
		connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	if evicted != nil {
		connLogger.Info("Cycling connection: closing oldest", slog.String("connID", evicted.ID.String()))
		go evicted.Transport.Close(errConnectionCycled)
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()), slog.Any("reason", err))
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
		a.engine.ForgetConnection(id)
	})

	connLogger.Info("User connection fully established", slog.String("connID", stateConn.ID.String()), slog.String("role", identity.Role))
	conn.Run()
	<-conn.Done()
}

// openConnection wraps the socket and registers it unless shutdown has begun.
// On a registration error the returned connection must still be closed.
func (a *App) openConnection(ctx context.Context, wsConn *websocket.Conn, ip string) (*transport.Connection, *state.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return nil, nil, errShutdown
	}
	conn := transport.NewConnection(
		ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	stateConn, err := a.stateManager.RegisterConnection(conn, ip)
	if err != nil {
		return conn, nil, err
	}
	return conn, stateConn, nil
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown()
	})
	return a.shutdownErr
}

func (a *App) shutdown() error {
	a.logger.Info("Shutting down server...")
	// no connection joins wg after this point
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpErr := a.http.Shutdown(shutdownCtx)

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		// each close waits for the peer's close frame
		go conn.Transport.Close(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("Failed to close cluster broker", slog.Any("error", err))
	}
	if httpErr != nil {
		return httpErr
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
