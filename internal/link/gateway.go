package link

import (
	"context"
	"fmt"

	"github.com/devmesh/meshnode"
	"github.com/google/uuid"
)

// Register implements meshnode.GatewayAdapter: it mints the connid (this
// side is the container physically hosting dev), sends the REGISTER frame,
// and keeps dev locally so inbound application requests for id can be
// executed directly. If dev also emits native notifications, they are
// subscribed and forwarded upstream over the wire.
func (s *Session) Register(ctx context.Context, id string, dev meshnode.Device) (string, error) {
	connID := uuid.NewString()

	resp, err := s.request(ctx, Frame{Method: meshnode.Register, ConnID: connID, DeviceID: id})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}

	s.mu.Lock()
	s.registeredDevices[id] = dev
	s.registeredConnIDs[id] = connID
	s.mu.Unlock()

	if src, ok := dev.(meshnode.NotificationSource); ok {
		detachPut := src.OnPut(func(metric string, value any) {
			s.writeFrame(Frame{Method: meshnode.Put, DeviceID: id, Identifier: metric, Value: value})
		})
		detachNotify := src.OnNotify(func(event string, params []any) {
			s.writeFrame(Frame{Method: meshnode.Notify, DeviceID: id, Identifier: event, Params: params})
		})
		s.mu.Lock()
		s.registeredDetach[id] = [2]func(){detachPut, detachNotify}
		s.mu.Unlock()
	}

	return connID, nil
}

// Deregister implements meshnode.GatewayAdapter.
func (s *Session) Deregister(ctx context.Context, id string) error {
	s.mu.Lock()
	connID, ok := s.registeredConnIDs[id]
	detach := s.registeredDetach[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", meshnode.ErrNotRegistered, id)
	}

	resp, err := s.request(ctx, Frame{Method: meshnode.Deregister, ConnID: connID, DeviceID: id})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}

	if detach[0] != nil {
		detach[0]()
	}
	if detach[1] != nil {
		detach[1]()
	}

	s.mu.Lock()
	delete(s.registeredDevices, id)
	delete(s.registeredConnIDs, id)
	delete(s.registeredDetach, id)
	s.mu.Unlock()

	return nil
}

// Connect implements meshnode.GatewayAdapter: the peer is authoritative for
// id, so the peer mints the connid and returns it in the RESPONSE.
func (s *Session) Connect(ctx context.Context, id string) (meshnode.Proxy, error) {
	resp, err := s.request(ctx, Frame{Method: meshnode.Connect, DeviceID: id})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}

	proxy := newRemoteDeviceProxy(s, id, resp.ConnID)

	s.mu.Lock()
	s.connectedProxies[id] = proxy
	s.mu.Unlock()

	return proxy, nil
}

// Disconnect implements meshnode.GatewayAdapter.
func (s *Session) Disconnect(ctx context.Context, proxy meshnode.Proxy) error {
	remote, ok := proxy.(*RemoteDeviceProxy)
	if !ok {
		return fmt.Errorf("link: Disconnect called with a non-remote proxy")
	}

	resp, err := s.request(ctx, Frame{Method: meshnode.Disconnect, ConnID: remote.connID, DeviceID: remote.id})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrRemoteError, resp.Err)
	}

	s.mu.Lock()
	delete(s.connectedProxies, remote.id)
	s.mu.Unlock()
	return nil
}
