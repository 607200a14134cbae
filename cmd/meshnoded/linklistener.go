package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/devmesh/meshnode"
	"github.com/devmesh/meshnode/internal/audit"
	"github.com/devmesh/meshnode/internal/config"
	"github.com/devmesh/meshnode/internal/link"
	"github.com/devmesh/meshnode/internal/node/authmw"
)

// linkListenerShutdownTimeout is the maximum time to wait for in-flight
// link sessions to drain during shutdown.
const linkListenerShutdownTimeout = 10 * time.Second

// linkListener accepts inbound link connections from other nodes and runs a
// link.Session for each one, which answers the peer's registration,
// connection and request frames against node. Inbound sessions are not
// added to the node's gateway table.
type linkListener struct {
	node     *meshnode.Node
	cfg      config.LinkConfig
	jwt      config.JWTConfig
	log      meshnode.Logger
	recorder audit.Repository

	server *http.Server

	mu       sync.Mutex
	sessions map[*link.Session]struct{}
}

func newLinkListener(node *meshnode.Node, cfg *config.Config, log meshnode.Logger, recorder audit.Repository) *linkListener {
	return &linkListener{
		node:     node,
		cfg:      cfg.Link,
		jwt:      cfg.Security.JWT,
		log:      log,
		recorder: recorder,
		sessions: make(map[*link.Session]struct{}),
	}
}

// Start begins listening for inbound link connections in the background.
func (l *linkListener) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.cfg.Path, l.handleUpgrade)

	l.server = &http.Server{
		Addr:    l.cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := l.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("link listener: server error", "error", err)
		}
	}()

	return nil
}

func (l *linkListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var claims *authmw.Claims
	if l.jwt.Enabled {
		c, err := authmw.Authenticate(r, l.jwt.Secret)
		if err != nil {
			l.log.Warn("link listener: peer authentication failed", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims = c
	}

	conn, err := link.Accept(w, r)
	if err != nil {
		l.log.Warn("link listener: upgrade failed", "error", err)
		return
	}

	session := link.NewSession(conn, l.node, link.DefaultTransportConfig(), l.log)
	if claims != nil {
		session.SetClaims(claims)
	}
	if l.recorder != nil {
		session.SetRecorder(l.recorder, "inbound:"+r.RemoteAddr)
	}

	l.mu.Lock()
	l.sessions[session] = struct{}{}
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.sessions, session)
			l.mu.Unlock()
		}()
		if err := session.Run(r.Context()); err != nil {
			l.log.Warn("link listener: session closed", "remote", r.RemoteAddr, "error", err)
		}
	}()
}

// Close stops accepting new connections and closes every active session.
func (l *linkListener) Close() error {
	if l.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), linkListenerShutdownTimeout)
	defer cancel()

	var errs []error
	if err := l.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down link listener: %w", err))
	}

	l.mu.Lock()
	for session := range l.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.mu.Unlock()

	return errors.Join(errs...)
}
