package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	api "github.com/GriffinCanCode/ragstudio/internal/api/http"
	"github.com/GriffinCanCode/ragstudio/internal/backend"
	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/domain/generation"
	"github.com/GriffinCanCode/ragstudio/internal/domain/registry"
	"github.com/GriffinCanCode/ragstudio/internal/domain/session"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/config"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/server"
	"github.com/GriffinCanCode/ragstudio/internal/shared/id"
	"github.com/GriffinCanCode/ragstudio/internal/ws"
)

// ClientIDHeader carries the runtime's client id on channel handshakes.
const ClientIDHeader = "X-Client-Id"

// statusTTL bounds how long a status snapshot is served without an
// invalidating transition.
const statusTTL = time.Minute

// Surfaces are the outputs a generation run writes to.
type Surfaces struct {
	Primary   generation.Surface
	Secondary generation.Surface
	Indicator generation.Indicator
}

// App owns every runtime component and their wiring.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	clientID id.ClientID

	Dispatcher  *events.Dispatcher
	Ingress     *events.Ingress
	Registry    *registry.Manager
	Backend     *backend.Client
	Status      *backend.StatusCache
	Sessions    *session.Factory
	Diagnostics *api.Handlers

	mu      sync.Mutex
	runners map[string]*generation.Runner
	server  *server.Server
}

// New wires the runtime for cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = logging.OrNop(logger)
	metrics := monitoring.NewMetrics()

	a := &App{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		clientID: id.NewClientID(),
		runners:  make(map[string]*generation.Runner),
	}

	a.Dispatcher = events.NewDispatcher(logger).WithMetrics(metrics)
	a.Ingress = events.NewIngress(a.Dispatcher, logger).WithMetrics(metrics)
	a.Registry = registry.NewManager(logger).WithMetrics(metrics)
	a.Backend = backend.New(cfg, logger, metrics)
	a.Status = backend.NewStatusCache(a.Backend, statusTTL, logger)
	a.Sessions = session.NewFactory(session.FactoryConfig{
		Registry:       a.Registry,
		Dispatcher:     a.Dispatcher,
		Backend:        a.Backend,
		Opener:         a.sessionChannel,
		ConnectTimeout: cfg.Channel.ConnectTimeout.Std(),
		Logger:         logger,
	})
	a.Diagnostics = api.NewHandlers(api.Deps{
		Dispatcher: a.Dispatcher,
		Ingress:    a.Ingress,
		Registry:   a.Registry,
		Sessions:   a.Sessions,
		Status:     a.Status,
		Backend:    a.Backend,
		Metrics:    metrics,
		Logger:     logger,
	})

	logger.Info("Client runtime initialized",
		zap.String("client_id", a.clientID.String()),
		zap.String("backend", cfg.Backend.URL),
		zap.String("channel_path", cfg.Channel.Path),
	)
	return a, nil
}

// ClientID returns the id this runtime presents to the backend.
func (a *App) ClientID() id.ClientID {
	return a.clientID
}

// Metrics returns the runtime metrics.
func (a *App) Metrics() *monitoring.Metrics {
	return a.metrics
}

// Runner returns the generation runner of resource, creating its machine
// on first use. Surfaces are only applied on creation.
func (a *App) Runner(resource string, out Surfaces) (*generation.Runner, error) {
	if resource == "" {
		return nil, errors.New("resource is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.runners[resource]; ok {
		return r, nil
	}

	machine := generation.NewMachine(generation.Config{
		Resource:    resource,
		Primary:     out.Primary,
		Secondary:   out.Secondary,
		Indicator:   out.Indicator,
		Invalidator: a.Status,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	if _, err := machine.Register(a.Dispatcher); err != nil {
		return nil, fmt.Errorf("register generation machine: %w", err)
	}

	r := generation.NewRunner(generation.RunnerConfig{
		Resource:       resource,
		Trigger:        a.Backend,
		Opener:         a.runChannel,
		Machine:        machine,
		ConnectTimeout: a.cfg.Channel.ConnectTimeout.Std(),
		Logger:         a.logger,
	})
	a.runners[resource] = r
	a.Diagnostics.TrackMachine(resource, machine)
	return r, nil
}

// StartDiagnostics serves the diagnostics API and returns its address.
func (a *App) StartDiagnostics() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		a.server = server.New(a.cfg, a.Diagnostics, a.metrics, a.logger)
	}
	return a.server.Start()
}

// Close disposes every session and stops the diagnostics server.
func (a *App) Close(ctx context.Context) error {
	a.Sessions.DisposeAll()

	a.mu.Lock()
	srv := a.server
	a.server = nil
	a.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}
	a.logger.Info("Client runtime stopped")
	return nil
}

func (a *App) sessionChannel(scope string) session.PushChannel {
	return a.channel(scope, map[string]string{"scope": scope}, nil)
}

func (a *App) runChannel(resource, taskID string, onDisconnect func(error)) generation.RunChannel {
	return a.channel(resource, map[string]string{
		"resource": resource,
		"task_id":  taskID,
	}, onDisconnect)
}

// channel builds a push channel. A bad URL is reported by Connect.
func (a *App) channel(origin string, query map[string]string, onDisconnect func(error)) *ws.Channel {
	url, err := ws.URLFor(a.cfg.Backend.URL, a.cfg.Channel.Path, query)
	if err != nil {
		a.logger.Error("Invalid channel url", zap.String("origin", origin), zap.Error(err))
	}
	return ws.New(ws.Options{
		URL:          url,
		Origin:       origin,
		Ingress:      a.Ingress,
		Header:       http.Header{ClientIDHeader: []string{a.clientID.String()}},
		WriteTimeout: a.cfg.Channel.WriteTimeout.Std(),
		Keepalive:    a.cfg.Channel.Keepalive.Std(),
		OnDisconnect: onDisconnect,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})
}
