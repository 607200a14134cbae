package restapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/devmesh/meshnode"
	"github.com/devmesh/meshnode/internal/config"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Server is the optional REST adapter. It sits entirely outside the node
// engine: every request is served by performing
// a short-lived Connect / operate / Disconnect cycle against the Node, the
// same Proxy abstraction a live link peer uses, so a remote device behind
// a gateway answers identically to a local one.
type Server struct {
	node   *meshnode.Node
	cfg    config.RESTConfig
	log    meshnode.Logger
	authMW func(http.Handler) http.Handler

	server *http.Server
	cancel context.CancelFunc
}

// New creates a REST adapter bound to node. authMW, if non-nil, wraps every
// /dapi route (see internal/node/authmw).
func New(node *meshnode.Node, cfg config.RESTConfig, log meshnode.Logger, authMW func(http.Handler) http.Handler) *Server {
	return &Server{node: node, cfg: cfg, log: log, authMW: authMW}
}

// Start builds the router and begins listening in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	_ = srvCtx

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("restapi: server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down restapi server: %w", err)
	}
	return nil
}
