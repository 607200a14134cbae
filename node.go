package meshnode

import (
	"context"
	"fmt"
)

// NodeConfig controls a Node's authority behavior.
type NodeConfig struct {
	// DefaultDomain is applied to raw device ids with no explicit domain
	// prefix. Defaults to "." when empty.
	DefaultDomain string
	// ClaimUnowned makes the node authoritative for any domain that has no
	// registered gateway, rather than rejecting ids in that domain.
	ClaimUnowned bool
	Log          Logger
}

// Node is the composition root of a single mesh node: it owns the gateway
// table, authority resolver, device registry, proxy registry and
// dispatcher, and wires them together the way a real deployment would.
type Node struct {
	Gateways   *GatewayTable
	Resolver   *AuthorityResolver
	Registry   *DeviceRegistry
	Proxies    *ProxyRegistry
	Dispatcher *Dispatcher
	log        Logger
}

// NewNode builds a fully wired Node from cfg.
func NewNode(cfg NodeConfig) *Node {
	log := cfg.Log
	if log == nil {
		log = noopLogger{}
	}

	gateways := NewGatewayTable()
	resolver := NewAuthorityResolver(cfg.DefaultDomain, cfg.ClaimUnowned, gateways)
	proxies := NewProxyRegistry()
	registry := NewDeviceRegistry(resolver, proxies, nil, log)
	dispatcher := NewDispatcher(registry, proxies, log)
	registry.dispatch = dispatcher

	return &Node{
		Gateways:   gateways,
		Resolver:   resolver,
		Registry:   registry,
		Proxies:    proxies,
		Dispatcher: dispatcher,
		log:        log,
	}
}

// Use installs a middleware layer on the node's dispatcher.
func (n *Node) Use(h HandlerFunc) {
	n.Dispatcher.Use(h)
}

// RegisterGateway makes gw authoritative for domain.
func (n *Node) RegisterGateway(domain string, gw GatewayAdapter) error {
	return n.Gateways.Register(domain, gw)
}

// Register makes dev reachable under rawID, either locally or by forwarding
// to the owning domain's gateway.
func (n *Node) Register(ctx context.Context, rawID string, dev Device) (string, error) {
	return n.Registry.Register(ctx, rawID, dev)
}

// Deregister removes rawID from this node.
func (n *Node) Deregister(ctx context.Context, rawID string) error {
	return n.Registry.Deregister(ctx, rawID)
}

// Connect resolves rawID and returns a Proxy for it: a LocalProxy when this
// node is authoritative, or the owning gateway's Connect result otherwise.
func (n *Node) Connect(ctx context.Context, rawID string) (Proxy, error) {
	rec := n.Resolver.Resolve(rawID)
	if !rec.IsValid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeviceID, rec.Err)
	}

	if rec.IsLocal {
		if !n.Registry.Has(rec.ID) {
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotConnected, rec.ID)
		}
		return NewLocalProxy(rec.ID, n.Dispatcher, n.Proxies), nil
	}

	proxy, err := rec.Gateway.Connect(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to %q via gateway: %w", rec.ID, err)
	}
	return proxy, nil
}

// Disconnect tears a proxy returned by Connect back down.
func (n *Node) Disconnect(ctx context.Context, proxy Proxy) error {
	return proxy.Close(ctx)
}
