// Command meshnoded runs a single mesh node: the device registry, proxy
// registry, gateway table and dispatcher of the root meshnode package,
// exposed over an inbound link listener (internal/link), an optional REST
// adapter (internal/restapi), and wired to the node's ambient concerns --
// audit logging, telemetry, and MQTT-bridged devices.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/devmesh/meshnode"
	"github.com/devmesh/meshnode/internal/audit"
	"github.com/devmesh/meshnode/internal/bridge/mqttdevice"
	"github.com/devmesh/meshnode/internal/config"
	"github.com/devmesh/meshnode/internal/coredevice"
	"github.com/devmesh/meshnode/internal/link"
	"github.com/devmesh/meshnode/internal/logging"
	"github.com/devmesh/meshnode/internal/node/authmw"
	"github.com/devmesh/meshnode/internal/restapi"
	"github.com/devmesh/meshnode/internal/telemetry"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "./config.yaml"

func main() {
	fmt.Printf("meshnoded %s (%s) built %s\n", version, commit, date)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "meshnoded: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath resolves the configuration file path: MESHNODE_CONFIG if
// set, otherwise defaultConfigPath.
func getConfigPath() string {
	if v := os.Getenv("MESHNODE_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

// run wires every component together and blocks until ctx is cancelled.
// Returning an error lets main control the process exit code consistently.
func run(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, cfg.Node.ID)
	log.Info("starting meshnoded", "node_id", cfg.Node.ID, "version", version)

	shutdown := newShutdownList()
	defer shutdown.runAll(log)

	node := meshnode.NewNode(meshnode.NodeConfig{
		DefaultDomain: cfg.Node.DefaultDomain,
		ClaimUnowned:  cfg.Node.ClaimUnowned,
		Log:           log,
	})
	if _, err := node.Register(ctx, coredevice.DeviceID, coredevice.New(cfg.Node.ID, node.Registry)); err != nil {
		return fmt.Errorf("registering core device: %w", err)
	}

	var recorder audit.Repository
	if cfg.Audit.Enabled {
		auditDB, err := audit.Open(audit.Config{Path: cfg.Audit.Path, WALMode: true, BusyTimeout: 5})
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		shutdown.add("audit", auditDB.Close)
		recorder = audit.NewSQLiteRepository(auditDB.DB)
	}

	if cfg.Security.JWT.Enabled {
		node.Use(authmw.Middleware(cfg.Security.JWT.Secret))
	}

	if cfg.Telemetry.Enabled {
		telemetryClient, err := telemetry.Connect(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("connecting telemetry: %w", err)
		}
		telemetryClient.SetOnError(func(err error) {
			log.Error("telemetry write error", "error", err)
		})
		node.Use(telemetryClient.Middleware())
		shutdown.add("telemetry", telemetryClient.Close)
	}

	if cfg.MQTT.Enabled {
		broker, err := mqttdevice.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting mqtt broker: %w", err)
		}
		shutdown.add("mqtt", broker.Close)

		for _, id := range cfg.MQTT.Devices {
			dev, err := mqttdevice.NewDevice(broker, id, cfg.MQTT.QoS)
			if err != nil {
				return fmt.Errorf("bridging mqtt device %q: %w", id, err)
			}
			if _, err := node.Register(ctx, id, dev); err != nil {
				return fmt.Errorf("registering mqtt device %q: %w", id, err)
			}
		}
	}

	for _, peer := range cfg.Peers {
		session, err := dialPeer(peer, node, cfg, log, recorder)
		if err != nil {
			return fmt.Errorf("dialling peer %q: %w", peer.Domain, err)
		}
		if err := node.RegisterGateway(peer.Domain, session); err != nil {
			return fmt.Errorf("registering gateway for %q: %w", peer.Domain, err)
		}
		shutdown.add("peer:"+peer.Domain, session.Close)
	}

	linkListener := newLinkListener(node, cfg, log, recorder)
	shutdown.add("link listener", linkListener.Close)
	if err := linkListener.Start(); err != nil {
		return fmt.Errorf("starting link listener: %w", err)
	}

	if cfg.REST.Enabled {
		var authMW func(http.Handler) http.Handler
		if cfg.Security.JWT.Enabled {
			authMW = authmw.New(cfg.Security.JWT.Secret)
		}
		restServer := restapi.New(node, cfg.REST, log, authMW)
		if err := restServer.Start(ctx); err != nil {
			return fmt.Errorf("starting rest adapter: %w", err)
		}
		shutdown.add("restapi", restServer.Close)
	}

	log.Info("meshnoded ready")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping")

	return nil
}

// dialPeer opens an outbound link to peer and returns a Session suitable
// for installing as the GatewayAdapter for peer.Domain. When JWT auth is
// enabled, it presents a bearer token minted from this node's own secret at
// the handshake, authenticating the link the same way an inbound peer
// would authenticate itself to our link listener.
func dialPeer(peer config.PeerConfig, node *meshnode.Node, cfg *config.Config, log meshnode.Logger, recorder audit.Repository) (*link.Session, error) {
	var header http.Header
	var claims *authmw.Claims
	if cfg.Security.JWT.Enabled {
		token, err := authmw.GenerateToken(cfg.Security.JWT.Secret, cfg.Node.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("minting peer link token: %w", err)
		}
		header = http.Header{"Authorization": []string{"Bearer " + token}}
		claims = &authmw.Claims{Caller: cfg.Node.ID}
	}

	conn, err := link.Dial(peer.URL, header)
	if err != nil {
		return nil, err
	}
	session := link.NewSession(conn, node, link.DefaultTransportConfig(), log)
	if claims != nil {
		session.SetClaims(claims)
	}
	if recorder != nil {
		session.SetRecorder(recorder, "peer:"+peer.Domain)
	}
	go func() {
		if err := session.Run(context.Background()); err != nil {
			log.Warn("peer link closed", "domain", peer.Domain, "error", err)
		}
	}()
	return session, nil
}

// shutdownList runs registered cleanup funcs in reverse order, the way
// deferred statements would, but with each step logged and named.
type shutdownList struct {
	mu    sync.Mutex
	names []string
	fns   []func() error
}

func newShutdownList() *shutdownList {
	return &shutdownList{}
}

func (s *shutdownList) add(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

func (s *shutdownList) runAll(log meshnode.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](); err != nil {
			log.Error("shutdown step failed", "component", s.names[i], "error", err)
		}
	}
}
