package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldmesh/fieldcore/internal/alarm"
	"github.com/fieldmesh/fieldcore/internal/alert"
	"github.com/fieldmesh/fieldcore/internal/command"
	"github.com/fieldmesh/fieldcore/internal/device"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/config"
	"github.com/fieldmesh/fieldcore/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// CommandSender dispatches acknowledged commands to devices.
// Satisfied by the command.Dispatcher.
type CommandSender interface {
	Send(ctx context.Context, deviceID, name string, params map[string]any) (*command.PendingCommand, error)
}

// AlertReader serves alert history.
// Satisfied by the alert.Store.
type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]alert.Alert, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Tracker *device.Tracker
	Rules   alarm.Repository
	Alerts  AlertReader
	Sender  CommandSender
	Version string

	// ExternalHub lets the caller share one hub between the server and
	// the ingest pipeline's broadcaster.
	ExternalHub *Hub
}

// Server is the HTTP API server for fieldcore.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	tracker *device.Tracker
	rules   alarm.Repository
	alerts  AlertReader
	sender  CommandSender
	version string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Tracker == nil {
		return nil, fmt.Errorf("device tracker is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		tracker: deps.Tracker,
		rules:   deps.Rules,
		alerts:  deps.Alerts,
		sender:  deps.Sender,
		version: deps.Version,
		hub:     deps.ExternalHub,
	}
	return s, nil
}

// Hub returns the WebSocket hub, creating it if necessary. Exposed so the
// ingest pipeline can broadcast through the same hub before Start runs.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	hub := s.Hub()
	go hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
