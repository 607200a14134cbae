package link

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// fakeConn is an in-process duplex pipe satisfying wireConn, letting two
// Sessions exchange frames without a real socket.
type fakeConn struct {
	mu     sync.Mutex
	peer   *fakeConn
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConnPair() (*fakeConn, *fakeConn) {
	a := &fakeConn{inbox: make(chan []byte, 64), closed: make(chan struct{})}
	b := &fakeConn{inbox: make(chan []byte, 64), closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbox:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("fakeConn: closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	select {
	case peer.inbox <- data:
		return nil
	case <-c.closed:
		return errors.New("fakeConn: closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadLimit(int64)               {}
func (c *fakeConn) SetPongHandler(func(string) error) {}
