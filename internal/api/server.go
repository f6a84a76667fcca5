package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harvestgrid/fieldgate-core/internal/gateway"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/config"
	"github.com/harvestgrid/fieldgate-core/internal/infrastructure/logging"
	"github.com/harvestgrid/fieldgate-core/internal/registry"
	"github.com/harvestgrid/fieldgate-core/internal/status"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// GatewayControl is the gateway surface the server depends on.
// Satisfied by *gateway.Gateway; narrowed for testing.
type GatewayControl interface {
	State() gateway.State
	Events() <-chan gateway.Event
	PublishCommand(deviceID string, payload []byte) error
}

// StatusSource provides the derived broker status.
// Satisfied by *status.Aggregator.
type StatusSource interface {
	Status() status.Broker
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *registry.Registry
	Gateway  GatewayControl
	Status   StatusSource
	Version  string
}

// Server is the HTTP API server for Fieldgate.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *registry.Registry
	gateway   GatewayControl
	status    StatusSource
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status aggregator is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		gateway:   deps.Gateway,
		status:    deps.Status,
		version:   deps.Version,
		startTime: time.Now(),
	}
	return s, nil
}

// Snapshot builds the full state payload for INIT and STATUS_UPDATE
// events: broker status plus every device and topic.
func (s *Server) Snapshot() Snapshot {
	return Snapshot{
		Status:  s.status.Status(),
		Devices: toDeviceDTOs(s.registry.Devices()),
		Topics:  toTopicDTOs(s.registry.Topics()),
	}
}

// Start begins listening for HTTP connections.
//
// It creates the WebSocket hub, wires it to the gateway's event channel,
// and launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger, s, s.gateway)
	go s.hub.Run(srvCtx, s.gateway.Events())

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

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

	// Cancel background goroutines (hub event loop)
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
