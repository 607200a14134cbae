package meshnode

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// WildcardDomain is the fallback gateway entry consulted when no
// exact-domain gateway is registered.
const WildcardDomain = "*"

// GatewayAdapter is the thin strategy interface a Link Session implements to
// act as this node's gateway for one domain. Each method sends the
// corresponding peer verb and returns the reply's result.
type GatewayAdapter interface {
	Register(ctx context.Context, id string, dev Device) (string, error)
	Deregister(ctx context.Context, id string) error
	Connect(ctx context.Context, id string) (Proxy, error)
	Disconnect(ctx context.Context, proxy Proxy) error
}

// GatewayTable maps a lowercased domain (or the wildcard "*") to the
// GatewayAdapter responsible for it. At most one entry per domain.
type GatewayTable struct {
	mu   sync.RWMutex
	byID map[string]GatewayAdapter
}

// NewGatewayTable creates an empty gateway table.
func NewGatewayTable() *GatewayTable {
	return &GatewayTable{byID: make(map[string]GatewayAdapter)}
}

// Register adds a gateway for a domain. Re-registering an occupied domain
// is an error.
func (t *GatewayTable) Register(domain string, gw GatewayAdapter) error {
	domain = strings.ToLower(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[domain]; exists {
		return fmt.Errorf("%w: %q", ErrGatewayDomainTaken, domain)
	}
	t.byID[domain] = gw
	return nil
}

// Deregister removes the gateway for a domain.
func (t *GatewayTable) Deregister(domain string) error {
	domain = strings.ToLower(domain)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[domain]; !exists {
		return fmt.Errorf("%w: %q", ErrNoGatewayForDomain, domain)
	}
	delete(t.byID, domain)
	return nil
}

// Lookup returns the gateway for a domain, or ok=false if none is registered.
func (t *GatewayTable) Lookup(domain string) (GatewayAdapter, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	gw, ok := t.byID[strings.ToLower(domain)]
	return gw, ok
}

// AuthorityRecord is the result of resolving a raw device id.
type AuthorityRecord struct {
	ID         string // normalized "domain:name" (or ":name" for local ids)
	Domain     string
	IsLocal    bool
	IsRoutable bool
	Gateway    GatewayAdapter
	IsValid    bool
	Err        string
}

// AuthorityResolver parses and normalizes device identifiers and decides
// whether the local node is authoritative or which gateway is. It is
// stateless beyond the configuration and gateway table it reads.
type AuthorityResolver struct {
	defaultDomain string
	claimUnowned  bool
	gateways      *GatewayTable
}

// NewAuthorityResolver creates a resolver. defaultDomain is applied to raw
// ids with no colon; claimUnowned controls whether the node becomes
// authoritative for a domain that has no gateway entry.
func NewAuthorityResolver(defaultDomain string, claimUnowned bool, gateways *GatewayTable) *AuthorityResolver {
	if defaultDomain == "" {
		defaultDomain = "."
	}
	return &AuthorityResolver{
		defaultDomain: strings.ToLower(defaultDomain),
		claimUnowned:  claimUnowned,
		gateways:      gateways,
	}
}

// Resolve lowercases and normalizes a raw device id and decides authority.
//
// Resolution is idempotent: Resolve(Resolve(x).ID) agrees with Resolve(x),
// since the normalized ID is already in canonical "domain:name" form.
func (r *AuthorityResolver) Resolve(raw string) AuthorityRecord {
	lower := strings.ToLower(raw)

	var domain, name string
	if idx := strings.IndexByte(lower, ':'); idx >= 0 {
		domain = lower[:idx]
		name = lower[idx+1:]
	} else {
		domain = r.defaultDomain
		name = lower
	}

	if name == "" {
		return AuthorityRecord{IsValid: false, Err: "empty device name"}
	}

	if domain == "" {
		// Explicit leading colon: local, non-routed namespace.
		return AuthorityRecord{
			ID:         ":" + name,
			Domain:     "",
			IsLocal:    true,
			IsRoutable: false,
			IsValid:    true,
		}
	}

	id := domain + ":" + name

	if gw, found := r.gateways.Lookup(domain); found {
		return AuthorityRecord{ID: id, Domain: domain, IsLocal: false, IsRoutable: true, Gateway: gw, IsValid: true}
	}
	if gw, found := r.gateways.Lookup(WildcardDomain); found {
		return AuthorityRecord{ID: id, Domain: domain, IsLocal: false, IsRoutable: true, Gateway: gw, IsValid: true}
	}

	if r.claimUnowned {
		return AuthorityRecord{ID: id, Domain: domain, IsLocal: true, IsRoutable: false, IsValid: true}
	}

	return AuthorityRecord{
		ID:         id,
		Domain:     domain,
		IsLocal:    false,
		IsRoutable: true,
		IsValid:    false,
		Err:        fmt.Sprintf("%s: %q", ErrNoGateway, domain),
	}
}
