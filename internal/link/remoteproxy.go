package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/devmesh/meshnode"
)

// RemoteDeviceProxy is returned by Session.Connect (and therefore by
// node.Connect, when the resolved domain is owned by this link's peer). It
// satisfies meshnode.Proxy by turning every Device call into a wire
// request/response round trip, and exposes OnPut/OnNotify so a caller can
// subscribe to the device's upstream notifications exactly as it would with
// a LocalProxy.
type RemoteDeviceProxy struct {
	session *Session
	id      string
	connID  string

	mu         sync.Mutex
	nextToken  uint64
	putSubs    map[uint64]func(metric string, value any)
	notifySubs map[uint64]func(event string, params []any)
}

func newRemoteDeviceProxy(session *Session, id, connID string) *RemoteDeviceProxy {
	return &RemoteDeviceProxy{
		session:    session,
		id:         id,
		connID:     connID,
		putSubs:    make(map[uint64]func(metric string, value any)),
		notifySubs: make(map[uint64]func(event string, params []any)),
	}
}

func (p *RemoteDeviceProxy) DeviceID() string { return p.id }

func (p *RemoteDeviceProxy) call(ctx context.Context, verb meshnode.Verb, identifier string, value any, params []any) (any, error) {
	resp, err := p.session.request(ctx, Frame{Method: verb, DeviceID: p.id, Identifier: identifier, Value: value, Params: params})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}
	return resp.Res, nil
}

func (p *RemoteDeviceProxy) Get(ctx context.Context, property string) (any, error) {
	return p.call(ctx, meshnode.Get, property, nil, nil)
}

func (p *RemoteDeviceProxy) Set(ctx context.Context, property string, value any) (any, error) {
	return p.call(ctx, meshnode.Set, property, value, nil)
}

func (p *RemoteDeviceProxy) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return p.call(ctx, meshnode.Invoke, method, nil, params)
}

func (p *RemoteDeviceProxy) Subscribe(ctx context.Context, event string) (any, error) {
	return p.call(ctx, meshnode.Subscribe, event, nil, nil)
}

func (p *RemoteDeviceProxy) Describe(ctx context.Context, property string) (any, error) {
	return p.call(ctx, meshnode.Describe, property, nil, nil)
}

func (p *RemoteDeviceProxy) Config(ctx context.Context, property string, value any) (any, error) {
	return p.call(ctx, meshnode.Config, property, value, nil)
}

// ReceivePut is invoked by the Session when an upstream PUT frame arrives
// for this device; it fans out to every OnPut subscriber.
func (p *RemoteDeviceProxy) ReceivePut(metric string, value any) {
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

// ReceiveNotify is invoked by the Session when an upstream NOTIFY frame
// arrives for this device; it fans out to every OnNotify subscriber.
func (p *RemoteDeviceProxy) ReceiveNotify(event string, params []any) {
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

// OnPut subscribes listener to PUT notifications forwarded from the peer.
func (p *RemoteDeviceProxy) OnPut(listener func(metric string, value any)) func() {
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

// OnNotify subscribes listener to NOTIFY events forwarded from the peer.
func (p *RemoteDeviceProxy) OnNotify(listener func(event string, params []any)) func() {
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

// Close disconnects from the peer, tearing down the remote connection.
func (p *RemoteDeviceProxy) Close(ctx context.Context) error {
	return p.session.Disconnect(ctx, p)
}

// RemoteHostedDevice represents a device the peer physically hosts and has
// registered with us via REGISTER, with us as its authority. It satisfies
// only meshnode.Device, deliberately not meshnode.NotificationSource: the
// peer's own native PUT/NOTIFY emissions arrive as independent upstream
// wire frames handled by Session.handleUpstream, not through a listener
// subscribed at registration time.
type RemoteHostedDevice struct {
	session *Session
	id      string
}

func newRemoteHostedDevice(session *Session, id string) *RemoteHostedDevice {
	return &RemoteHostedDevice{session: session, id: id}
}

func (d *RemoteHostedDevice) call(ctx context.Context, verb meshnode.Verb, identifier string, value any, params []any) (any, error) {
	resp, err := d.session.request(ctx, Frame{Method: verb, DeviceID: d.id, Identifier: identifier, Value: value, Params: params})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}
	return resp.Res, nil
}

func (d *RemoteHostedDevice) Get(ctx context.Context, property string) (any, error) {
	return d.call(ctx, meshnode.Get, property, nil, nil)
}

func (d *RemoteHostedDevice) Set(ctx context.Context, property string, value any) (any, error) {
	return d.call(ctx, meshnode.Set, property, value, nil)
}

func (d *RemoteHostedDevice) Invoke(ctx context.Context, method string, params []any) (any, error) {
	return d.call(ctx, meshnode.Invoke, method, nil, params)
}

func (d *RemoteHostedDevice) Subscribe(ctx context.Context, event string) (any, error) {
	return d.call(ctx, meshnode.Subscribe, event, nil, nil)
}

func (d *RemoteHostedDevice) Describe(ctx context.Context, property string) (any, error) {
	return d.call(ctx, meshnode.Describe, property, nil, nil)
}

func (d *RemoteHostedDevice) Config(ctx context.Context, property string, value any) (any, error) {
	return d.call(ctx, meshnode.Config, property, value, nil)
}
