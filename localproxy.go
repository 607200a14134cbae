package meshnode

import (
	"context"
	"sync"
)

// LocalProxy is the Proxy handed back by connect() when the caller and the
// target device live on the same node, and is also the object a
// DeviceRegistry attaches to a domain's gateway when forwarding a local
// device upstream during register(). Both uses re-enter the same
// Dispatcher, so every downstream capability call behaves identically
// regardless of which caller is holding the proxy.
type LocalProxy struct {
	id       string
	dispatch *Dispatcher
	proxies  *ProxyRegistry

	mu        sync.Mutex
	nextToken uint64
	putSubs   map[uint64]func(metric string, value any)
	notifySubs map[uint64]func(event string, params []any)
	closed    bool
}

// NewLocalProxy creates a proxy for id that re-enters dispatch for every
// Device call and registers itself with proxies so upstream fan-out reaches
// it. The caller is responsible for calling Close when done.
func NewLocalProxy(id string, dispatch *Dispatcher, proxies *ProxyRegistry) *LocalProxy {
	p := &LocalProxy{
		id:         id,
		dispatch:   dispatch,
		proxies:    proxies,
		putSubs:    make(map[uint64]func(metric string, value any)),
		notifySubs: make(map[uint64]func(event string, params []any)),
	}
	proxies.Attach(id, p)
	return p
}

// DeviceID returns the normalized id this proxy was created for.
func (p *LocalProxy) DeviceID() string { return p.id }

func (p *LocalProxy) Get(ctx context.Context, property string) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Get, Identifier: property})
}

func (p *LocalProxy) Set(ctx context.Context, property string, value any) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Set, Identifier: property, Value: value})
}

func (p *LocalProxy) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Invoke, Identifier: method, Params: params})
}

func (p *LocalProxy) Subscribe(ctx context.Context, event string) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Subscribe, Identifier: event})
}

func (p *LocalProxy) Describe(ctx context.Context, property string) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Describe, Identifier: property})
}

func (p *LocalProxy) Config(ctx context.Context, property string, value any) (any, error) {
	return p.dispatch.Dispatch(ctx, &Request{DeviceID: p.id, Method: Config, Identifier: property, Value: value})
}

// ReceivePut is called by the Dispatcher's upstream fan-out; it forwards to
// every OnPut listener currently subscribed.
func (p *LocalProxy) ReceivePut(metric string, value any) {
	p.mu.Lock()
	listeners := make([]func(string, any), 0, len(p.putSubs))
	for _, l := range p.putSubs {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()
	for _, l := range listeners {
		l(metric, value)
	}
}

// ReceiveNotify is called by the Dispatcher's upstream fan-out; it forwards
// to every OnNotify listener currently subscribed.
func (p *LocalProxy) ReceiveNotify(event string, params []any) {
	p.mu.Lock()
	listeners := make([]func(string, []any), 0, len(p.notifySubs))
	for _, l := range p.notifySubs {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()
	for _, l := range listeners {
		l(event, params)
	}
}

// OnPut subscribes listener to PUT notifications for this proxy's device.
// The returned detach func is safe to call at most once; subsequent calls
// are no-ops.
func (p *LocalProxy) OnPut(listener func(metric string, value any)) func() {
	p.mu.Lock()
	token := p.nextToken
	p.nextToken++
	p.putSubs[token] = listener
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.putSubs, token)
		p.mu.Unlock()
	}
}

// OnNotify subscribes listener to NOTIFY events for this proxy's device.
// The returned detach func is safe to call at most once; subsequent calls
// are no-ops.
func (p *LocalProxy) OnNotify(listener func(event string, params []any)) func() {
	p.mu.Lock()
	token := p.nextToken
	p.nextToken++
	p.notifySubs[token] = listener
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.notifySubs, token)
		p.mu.Unlock()
	}
}

// Close detaches this proxy from the proxy registry. Safe to call more than
// once.
func (p *LocalProxy) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.proxies.Detach(p.id, p)
	return nil
}
