package meshnode

import (
	"context"
	"fmt"
	"sync"
)

// registration holds everything the registry needs to unwind at deregister
// time: the device itself, its notification-source detach funcs (native
// devices only), and whether it was registered locally or forwarded to a
// gateway.
type registration struct {
	id           string
	device       Device
	detachPut    func()
	detachNotify func()
	gateway      GatewayAdapter // non-nil when forwarded upstream
	connID       string         // gateway-assigned handle, when forwarded
}

// DeviceRegistry is the authoritative map of device id to registered device
// on this node. It owns the resolve-then-register decision: ids this node is
// authoritative for are stored locally; ids owned by a remote domain are
// forwarded to that domain's gateway.
type DeviceRegistry struct {
	resolver *AuthorityResolver
	proxies  *ProxyRegistry
	dispatch *Dispatcher
	log      Logger

	mu   sync.Mutex
	regs map[string]*registration
}

// NewDeviceRegistry creates a device registry bound to the given resolver,
// proxy registry and dispatcher. All three are shared with the owning Node.
func NewDeviceRegistry(resolver *AuthorityResolver, proxies *ProxyRegistry, dispatch *Dispatcher, log Logger) *DeviceRegistry {
	if log == nil {
		log = noopLogger{}
	}
	return &DeviceRegistry{
		resolver: resolver,
		proxies:  proxies,
		dispatch: dispatch,
		log:      log,
		regs:     make(map[string]*registration),
	}
}

// Register makes dev reachable under rawID. In both cases below, if dev is a
// NotificationSource its listeners are attached so PUT/NOTIFY fan out
// through the Dispatcher. If this node is authoritative for the resolved
// domain, dev is stored locally. If another domain owns it, Register
// creates a LocalProxy for the id, forwards the registration to that
// domain's gateway with it, and keeps the bookkeeping needed to deregister
// later.
func (r *DeviceRegistry) Register(ctx context.Context, rawID string, dev Device) (string, error) {
	rec := r.resolver.Resolve(rawID)
	if !rec.IsValid {
		return "", fmt.Errorf("%w: %s", ErrInvalidDeviceID, rec.Err)
	}

	r.mu.Lock()
	if _, exists := r.regs[rec.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrAlreadyRegistered, rec.ID)
	}
	r.mu.Unlock()

	if rec.IsLocal {
		reg := &registration{id: rec.ID, device: dev}
		if src, ok := dev.(NotificationSource); ok {
			reg.detachPut = src.OnPut(func(metric string, value any) {
				r.dispatch.DispatchUpstream(ctx, &Request{DeviceID: rec.ID, Method: Put, Identifier: metric, Value: value})
			})
			reg.detachNotify = src.OnNotify(func(event string, params []any) {
				r.dispatch.DispatchUpstream(ctx, &Request{DeviceID: rec.ID, Method: Notify, Identifier: event, Params: params})
			})
		}

		r.mu.Lock()
		r.regs[rec.ID] = reg
		r.mu.Unlock()

		r.log.Info("device registered", "id", rec.ID, "local", true)
		return rec.ID, nil
	}

	lp := NewLocalProxy(rec.ID, r.dispatch, r.proxies)
	connID, err := rec.Gateway.Register(ctx, rec.ID, lp)
	if err != nil {
		r.proxies.RemoveAll(rec.ID)
		return "", fmt.Errorf("forwarding registration for %q: %w", rec.ID, err)
	}

	reg := &registration{id: rec.ID, device: dev, gateway: rec.Gateway, connID: connID}
	if src, ok := dev.(NotificationSource); ok {
		reg.detachPut = src.OnPut(func(metric string, value any) {
			r.dispatch.DispatchUpstream(ctx, &Request{DeviceID: rec.ID, Method: Put, Identifier: metric, Value: value})
		})
		reg.detachNotify = src.OnNotify(func(event string, params []any) {
			r.dispatch.DispatchUpstream(ctx, &Request{DeviceID: rec.ID, Method: Notify, Identifier: event, Params: params})
		})
	}

	r.mu.Lock()
	r.regs[rec.ID] = reg
	r.mu.Unlock()

	r.log.Info("device registered", "id", rec.ID, "local", false, "domain", rec.Domain)
	return rec.ID, nil
}

// Deregister removes rawID from the registry, detaching any notification
// listeners and, for forwarded registrations, deregistering with the owning
// gateway.
func (r *DeviceRegistry) Deregister(ctx context.Context, rawID string) error {
	rec := r.resolver.Resolve(rawID)
	if !rec.IsValid {
		return fmt.Errorf("%w: %s", ErrInvalidDeviceID, rec.Err)
	}

	r.mu.Lock()
	reg, exists := r.regs[rec.ID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotRegistered, rec.ID)
	}
	delete(r.regs, rec.ID)
	r.mu.Unlock()

	if reg.detachPut != nil {
		reg.detachPut()
	}
	if reg.detachNotify != nil {
		reg.detachNotify()
	}
	r.proxies.RemoveAll(rec.ID)

	if reg.gateway != nil {
		if err := reg.gateway.Deregister(ctx, rec.ID); err != nil {
			return fmt.Errorf("forwarding deregistration for %q: %w", rec.ID, err)
		}
	}

	r.log.Info("device deregistered", "id", rec.ID)
	return nil
}

// Has reports whether rawID currently resolves to a local registration on
// this node (forwarded registrations do not count).
func (r *DeviceRegistry) Has(rawID string) bool {
	rec := r.resolver.Resolve(rawID)
	if !rec.IsValid {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, exists := r.regs[rec.ID]
	return exists && reg.gateway == nil
}

// IDs returns a snapshot of every normalized device id currently registered
// on this node, including forwarded registrations.
func (r *DeviceRegistry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.regs))
	for id := range r.regs {
		ids = append(ids, id)
	}
	return ids
}

// lookup returns the registered device for an already-normalized id, used
// by the Dispatcher's final downstream handler.
func (r *DeviceRegistry) lookup(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, exists := r.regs[id]
	if !exists {
		return nil, false
	}
	return reg.device, true
}
