// Package app wires parley's components and runs them under a suture
// supervisor.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/thejerf/suture/v4"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/chatroom"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/hub"
	"parley/internal/journal"
	"parley/internal/logging"
	"parley/internal/session"
	"parley/internal/transcript"
	"parley/internal/websocket"
	"parley/pkg/interfaces"
)

// Application owns every long-lived component.
// ARCHITECTURAL DISCOVERY: construction order is storage, then sessions and
// rooms, then push, then HTTP. Services are started only by Run; Close
// releases storage after the supervisor has stopped its writers.
type Application struct {
	config   *config.Config
	db       *database.Manager
	badger   *journal.Store
	journal  interfaces.Journal
	sessions *session.Registry
	rooms    *chatroom.Directory
	auth     *auth.Service
	hub      *hub.Hub
	conns    *websocket.Registry
	server   *api.Server

	httpServer *http.Server
	root       *suture.Supervisor

	closeOnce sync.Once
	closeErr  error
}

// NewApplication builds the component graph from cfg. A nil cfg means
// defaults.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Caller: cfg.Log.Caller})

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.NewManager(cfg.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	a := &Application{config: cfg, db: db, journal: db}
	if cfg.Journal.Backend == config.BackendBadger {
		store, err := journal.Open(cfg.Journal.Dir, cfg.Journal.QueueSize)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.badger = store
		a.journal = store
	}

	a.sessions = session.NewRegistry(a.journal,
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithSweepInterval(cfg.Session.SweepInterval),
	)
	a.rooms = chatroom.NewDirectory(chatroom.WithTranscript(transcript.NewRecorder(a.journal)))
	a.auth = auth.NewService(db).WithParams(cfg.AuthParams())

	a.hub = hub.NewHub(cfg.WebSocket.HubBuffer)
	a.conns = websocket.NewRegistry()
	push := websocket.NewHandler(a.conns, a.sessions, a.rooms, a.hub, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.PongWait,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	})

	deps := api.Deps{
		Sessions:    a.sessions,
		Rooms:       a.rooms,
		Auth:        a.auth,
		Health:      a.journal,
		Connections: a.conns,
		Push:        http.HandlerFunc(push.HandleWebSocket),
		LogRooms:    cfg.Room.Logged,
		CORS: api.CORSOptions{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			AllowedMethods: cfg.CORS.AllowedMethods,
			AllowedHeaders: cfg.CORS.AllowedHeaders,
			MaxAge:         cfg.CORS.MaxAge,
		},
	}
	if cfg.RateLimit.PerMinute > 0 {
		deps.Limiter = api.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.LoginPerMinute > 0 {
		deps.LoginLimiter = api.NewRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst)
	}
	a.server = api.NewServer(deps)

	a.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	a.root = a.buildSupervisor(deps)
	return a, nil
}

// buildSupervisor lays services out in three layers so a crash in push
// delivery does not restart the HTTP listener.
func (a *Application) buildSupervisor(deps api.Deps) *suture.Supervisor {
	spec := suture.Spec{Timeout: a.config.HTTP.ShutdownTimeout}
	root := suture.New("parley", suture.Spec{
		EventHook: logEvent,
		Timeout:   a.config.HTTP.ShutdownTimeout,
	})
	data := suture.New("data-layer", spec)
	messaging := suture.New("messaging-layer", spec)
	edge := suture.New("api-layer", spec)
	root.Add(data)
	root.Add(messaging)
	root.Add(edge)

	if a.badger != nil {
		data.Add(a.badger)
	}
	messaging.Add(a.sessions)
	messaging.Add(a.hub)
	if deps.Limiter != nil {
		messaging.Add(deps.Limiter)
	}
	if deps.LoginLimiter != nil {
		messaging.Add(&namedService{Service: deps.LoginLimiter, name: "login-rate-limiter-cleanup"})
	}
	edge.Add(newHTTPService(a.httpServer, a.config.HTTP.ShutdownTimeout))
	return root
}

func logEvent(e suture.Event) {
	logging.Warn().Fields(e.Map()).Msg(e.String())
}

// Run serves until ctx is cancelled and every service has stopped. It does
// not close storage; call Close afterwards.
func (a *Application) Run(ctx context.Context) error {
	logging.Info().Str("addr", a.httpServer.Addr).Str("journal", a.config.Journal.Backend).Msg("starting parley")

	err := a.root.Serve(ctx)

	if unstopped, _ := a.root.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logging.Info().Msg("parley stopped")
	return nil
}

// Close flushes the journals and closes storage. Safe to call more than once.
func (a *Application) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.badger != nil {
			errs = append(errs, a.badger.Close())
		}
		errs = append(errs, a.db.Close())
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// Handler is the HTTP handler Run serves.
func (a *Application) Handler() http.Handler { return a.server }

// Auth exposes account management for the CLI and tests.
func (a *Application) Auth() *auth.Service { return a.auth }

// Journal is the durable log rooms and sessions are mirrored to.
func (a *Application) Journal() interfaces.Journal { return a.journal }

func (a *Application) Addr() string { return a.httpServer.Addr }
