package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devmesh/meshnode"
	"github.com/devmesh/meshnode/internal/audit"
	"github.com/devmesh/meshnode/internal/node/authmw"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is one peer-to-peer link: a persistent connection to another mesh
// node carrying REGISTER/DEREGISTER/CONNECT/DISCONNECT lifecycle frames,
// application-originated request/response frames, and upstream PUT/NOTIFY
// frames. A Session plays both roles a link can play simultaneously: it can
// be installed as the GatewayAdapter for a domain the peer is authoritative
// for, and it independently answers lifecycle frames the peer sends when
// treating us as its own gateway.
type Session struct {
	conn wireConn
	node *meshnode.Node
	cfg  TransportConfig
	log  meshnode.Logger

	// recorder logs session lifecycle events for operational forensics.
	// Nil when no audit log is configured.
	recorder audit.Repository
	source   string

	// claims holds the identity this link's peer authenticated as at
	// handshake time (see SetClaims). Nil when JWT auth is disabled or the
	// peer hasn't been authenticated, in which case requests forwarded to
	// the Dispatcher carry no claims and authmw.Middleware rejects them if
	// installed.
	claims *authmw.Claims

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	nextReqID int64
	pending   map[int64]chan Frame

	// registeredDevices holds the devices this node physically hosts and
	// has registered with the peer (we are container, peer is authority).
	// Keyed by device id.
	registeredDevices map[string]meshnode.Device
	// registeredConnIDs is the connid we minted for each such registration,
	// needed to build the DEREGISTER frame.
	registeredConnIDs map[string]string
	// registeredDetach holds the OnPut/OnNotify detach funcs for native
	// devices in registeredDevices, run at deregister time.
	registeredDetach map[string][2]func()

	// hostedByPeer maps a peer-minted connid to the device id the peer
	// registered with us (we are authority, peer is container).
	hostedByPeer map[string]string

	// proxiesForPeer maps a connid we minted to the Proxy we created when
	// the peer CONNECTed to a device we are authoritative for, plus the
	// detach funcs used to stop forwarding its notifications over the wire.
	proxiesForPeer map[string]*peerConnection

	// connectedProxies maps a device id to the RemoteDeviceProxy created
	// when we CONNECTed to a device the peer is authoritative for. Upstream
	// PUT/NOTIFY frames for such an id are delivered directly here rather
	// than through the local Dispatcher's fan-out.
	connectedProxies map[string]*RemoteDeviceProxy
}

type peerConnection struct {
	proxy        meshnode.Proxy
	detachPut    func()
	detachNotify func()
}

// NewSession wraps conn as a link Session bound to node. node supplies the
// Dispatcher and DeviceRegistry used to answer inbound frames.
func NewSession(conn wireConn, node *meshnode.Node, cfg TransportConfig, log meshnode.Logger) *Session {
	return &Session{
		conn:              conn,
		node:              node,
		cfg:               cfg,
		log:               log,
		send:              make(chan []byte, 256),
		closed:            make(chan struct{}),
		pending:           make(map[int64]chan Frame),
		registeredDevices: make(map[string]meshnode.Device),
		registeredConnIDs: make(map[string]string),
		registeredDetach:  make(map[string][2]func()),
		hostedByPeer:      make(map[string]string),
		proxiesForPeer:    make(map[string]*peerConnection),
		connectedProxies:  make(map[string]*RemoteDeviceProxy),
	}
}

// SetRecorder installs an audit repository that session lifecycle events
// (REGISTER/DEREGISTER/CONNECT/DISCONNECT, session open/close) are recorded
// to. source identifies this link in the audit trail, e.g. a peer address.
// Must be called before Run. A Session with no recorder simply skips
// recording.
func (s *Session) SetRecorder(r audit.Repository, source string) {
	s.recorder = r
	s.source = source
}

// SetClaims records the identity this link's peer authenticated as at
// handshake time. Every application request subsequently forwarded to the
// node's Dispatcher carries these claims on its context, so a
// authmw.Middleware layer installed there treats this link the same way it
// treats an authenticated REST caller. Must be called before Run.
func (s *Session) SetClaims(claims *authmw.Claims) {
	s.claims = claims
}

func (s *Session) record(action audit.Action, deviceID, connID string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	go s.recorder.Record(context.Background(), &audit.Event{
		Action:   action,
		DeviceID: deviceID,
		ConnID:   connID,
		Source:   s.source,
		Details:  details,
	})
}

// Run starts the write pump and blocks in the read pump until the
// connection closes or ctx is cancelled. It always returns with the
// session closed.
func (s *Session) Run(ctx context.Context) error {
	s.record(audit.ActionSessionOpen, "", "", nil)
	go s.writePump()
	defer s.Close()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()

	return s.readPump(ctx)
}

// Close tears the session down, unblocking any pending requests with
// ErrSessionClosed. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.record(audit.ActionSessionClose, "", "", nil)
		close(s.closed)
		s.conn.Close()

		s.mu.Lock()
		for id, ch := range s.pending {
			delete(s.pending, id)
			close(ch)
		}
		s.mu.Unlock()
	})
	return nil
}

func (s *Session) readPump(ctx context.Context) error {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	deadline := s.cfg.PingInterval + s.cfg.PongTimeout
	s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			if s.log != nil {
				s.log.Warn("link: rejected non-text frame")
			}
			continue
		}
		s.conn.SetReadDeadline(time.Now().Add(deadline))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			if s.log != nil {
				s.log.Warn("link: dropping malformed frame", "error", err)
			}
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.PongTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.PongTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Session) writeFrame(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

// request sends frame with a freshly minted ReqID and blocks for the
// matching RESPONSE, honoring ctx cancellation and session closure.
func (s *Session) request(ctx context.Context, frame Frame) (Frame, error) {
	s.mu.Lock()
	s.nextReqID++
	reqID := s.nextReqID
	ch := make(chan Frame, 1)
	s.pending[reqID] = ch
	s.mu.Unlock()

	frame.ReqID = reqID

	cleanup := func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}

	if err := s.writeFrame(frame); err != nil {
		cleanup()
		return Frame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Frame{}, ErrSessionClosed
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return Frame{}, fmt.Errorf("%w: %w", ErrRequestTimeout, ctx.Err())
	case <-s.closed:
		cleanup()
		return Frame{}, ErrSessionClosed
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Method {
	case meshnode.Response:
		s.mu.Lock()
		ch, ok := s.pending[frame.ReqID]
		if ok {
			delete(s.pending, frame.ReqID)
		}
		s.mu.Unlock()
		if ok {
			ch <- frame
			close(ch)
		}
	case meshnode.Register:
		s.handleRegister(ctx, frame)
	case meshnode.Deregister:
		s.handleDeregister(ctx, frame)
	case meshnode.Connect:
		s.handleConnect(ctx, frame)
	case meshnode.Disconnect:
		s.handleDisconnect(ctx, frame)
	case meshnode.Put, meshnode.Notify:
		s.handleUpstream(ctx, frame)
	default:
		if isApplicationVerb(frame.Method) {
			s.handleApplicationRequest(ctx, frame)
		} else if s.log != nil {
			s.log.Warn("link: unrecognised verb", "verb", frame.Method)
		}
	}
}

// handleApplicationRequest answers a GET/SET/INVOKE/SUBSCRIBE/DESCRIBE/
// CONFIG frame sent by the peer. If we physically host the target device
// (it was registered with the peer via our GatewayAdapter), we invoke it
// directly; otherwise we must be authoritative for it locally, so we run it
// through the node's Dispatcher.
func (s *Session) handleApplicationRequest(ctx context.Context, frame Frame) {
	result, err := s.executeApplicationRequest(ctx, frame)
	resp := Frame{Method: meshnode.Response, ReqID: frame.ReqID}
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.Success = true
		resp.Res = result
	}
	if werr := s.writeFrame(resp); werr != nil && s.log != nil {
		s.log.Warn("link: failed to write response", "error", werr)
	}
}

func (s *Session) executeApplicationRequest(ctx context.Context, frame Frame) (any, error) {
	s.mu.Lock()
	dev, hosted := s.registeredDevices[frame.DeviceID]
	s.mu.Unlock()

	if hosted {
		switch frame.Method {
		case meshnode.Get:
			return dev.Get(ctx, frame.Identifier)
		case meshnode.Set:
			return dev.Set(ctx, frame.Identifier, frame.Value)
		case meshnode.Invoke:
			return dev.Invoke(ctx, frame.Identifier, frame.Params)
		case meshnode.Subscribe:
			return dev.Subscribe(ctx, frame.Identifier)
		case meshnode.Describe:
			return dev.Describe(ctx, frame.Identifier)
		case meshnode.Config:
			return dev.Config(ctx, frame.Identifier, frame.Value)
		}
	}

	if s.claims != nil {
		ctx = authmw.ContextWithClaims(ctx, s.claims)
	}
	return s.node.Dispatcher.Dispatch(ctx, &meshnode.Request{
		DeviceID:   frame.DeviceID,
		Method:     frame.Method,
		Identifier: frame.Identifier,
		Value:      frame.Value,
		Params:     frame.Params,
	})
}

// handleUpstream delivers an inbound PUT/NOTIFY frame. If we connected to
// this device ourselves (we are the caller, peer is authority) delivery
// goes straight to that connection's proxy; otherwise we must be
// authoritative for the device, so it is run through the Dispatcher's
// upstream fan-out to every locally attached proxy.
func (s *Session) handleUpstream(_ context.Context, frame Frame) {
	s.mu.Lock()
	proxy, direct := s.connectedProxies[frame.DeviceID]
	s.mu.Unlock()

	if direct {
		if frame.Method == meshnode.Put {
			proxy.ReceivePut(frame.Identifier, frame.Value)
		} else {
			proxy.ReceiveNotify(frame.Identifier, frame.Params)
		}
		return
	}

	s.node.Dispatcher.DispatchUpstream(context.Background(), &meshnode.Request{
		DeviceID:   frame.DeviceID,
		Method:     frame.Method,
		Identifier: frame.Identifier,
		Value:      frame.Value,
		Params:     frame.Params,
	})
}

func (s *Session) handleRegister(ctx context.Context, frame Frame) {
	hosted := newRemoteHostedDevice(s, frame.DeviceID)
	_, err := s.node.Registry.Register(ctx, frame.DeviceID, hosted)
	resp := Frame{Method: meshnode.Response, ReqID: frame.ReqID}
	if err != nil {
		resp.Err = err.Error()
	} else {
		resp.Success = true
		s.mu.Lock()
		s.hostedByPeer[frame.ConnID] = frame.DeviceID
		s.mu.Unlock()
		s.record(audit.ActionRegister, frame.DeviceID, frame.ConnID, nil)
	}
	s.writeFrame(resp)
}

func (s *Session) handleDeregister(ctx context.Context, frame Frame) {
	s.mu.Lock()
	deviceID, ok := s.hostedByPeer[frame.ConnID]
	if ok {
		delete(s.hostedByPeer, frame.ConnID)
	}
	s.mu.Unlock()

	resp := Frame{Method: meshnode.Response, ReqID: frame.ReqID}
	if !ok {
		resp.Err = ErrUnknownConnID.Error()
	} else if err := s.node.Registry.Deregister(ctx, deviceID); err != nil {
		resp.Err = err.Error()
	} else {
		resp.Success = true
		s.record(audit.ActionDeregister, deviceID, frame.ConnID, nil)
	}
	s.writeFrame(resp)
}

func (s *Session) handleConnect(ctx context.Context, frame Frame) {
	proxy, err := s.node.Connect(ctx, frame.DeviceID)
	resp := Frame{Method: meshnode.Response, ReqID: frame.ReqID}
	if err != nil {
		resp.Err = err.Error()
		s.writeFrame(resp)
		return
	}

	connID := uuid.NewString()
	pc := &peerConnection{proxy: proxy}

	if src, ok := proxy.(interface {
		OnPut(func(string, any)) func()
		OnNotify(func(string, []any)) func()
	}); ok {
		pc.detachPut = src.OnPut(func(metric string, value any) {
			s.writeFrame(Frame{Method: meshnode.Put, DeviceID: frame.DeviceID, Identifier: metric, Value: value})
		})
		pc.detachNotify = src.OnNotify(func(event string, params []any) {
			s.writeFrame(Frame{Method: meshnode.Notify, DeviceID: frame.DeviceID, Identifier: event, Params: params})
		})
	}

	s.mu.Lock()
	s.proxiesForPeer[connID] = pc
	s.mu.Unlock()

	s.record(audit.ActionConnect, frame.DeviceID, connID, nil)

	resp.Success = true
	resp.ConnID = connID
	s.writeFrame(resp)
}

func (s *Session) handleDisconnect(ctx context.Context, frame Frame) {
	s.mu.Lock()
	pc, ok := s.proxiesForPeer[frame.ConnID]
	if ok {
		delete(s.proxiesForPeer, frame.ConnID)
	}
	s.mu.Unlock()

	resp := Frame{Method: meshnode.Response, ReqID: frame.ReqID}
	if !ok {
		resp.Err = ErrUnknownConnID.Error()
		s.writeFrame(resp)
		return
	}

	if pc.detachPut != nil {
		pc.detachPut()
	}
	if pc.detachNotify != nil {
		pc.detachNotify()
	}
	if err := s.node.Disconnect(ctx, pc.proxy); err != nil {
		resp.Err = err.Error()
	} else {
		resp.Success = true
		s.record(audit.ActionDisconnect, "", frame.ConnID, nil)
	}
	s.writeFrame(resp)
}
