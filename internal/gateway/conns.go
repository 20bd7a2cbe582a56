package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MuhammadArhumDev/Raidware/internal/protocol"
	"github.com/MuhammadArhumDev/Raidware/internal/relay"
)

// deviceConn is one device WebSocket. Reads happen only on the owning
// goroutine; writes from any goroutine go through writeMu.
type deviceConn struct {
	handle       string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newDeviceConn(ws *websocket.Conn, writeTimeout time.Duration) *deviceConn {
	return &deviceConn{
		handle:       uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *deviceConn) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *deviceConn) send(msgType string, payload any) error {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// close says goodbye with a disconnect event and a close frame, then
// drops the transport. Safe to call more than once.
func (c *deviceConn) close() {
	c.closeOnce.Do(func() {
		_ = c.send(protocol.TypeDisconnect, nil)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

// connTable maps routing handles to live device connections. It is the
// relay's Dispatcher.
type connTable struct {
	mu    sync.RWMutex
	conns map[string]*deviceConn
}

func newConnTable() *connTable {
	return &connTable{conns: make(map[string]*deviceConn)}
}

func (t *connTable) add(c *deviceConn) {
	t.mu.Lock()
	t.conns[c.handle] = c
	t.mu.Unlock()
}

func (t *connTable) remove(handle string) {
	t.mu.Lock()
	delete(t.conns, handle)
	t.mu.Unlock()
}

func (t *connTable) get(handle string) *deviceConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns[handle]
}

func (t *connTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Deliver implements relay.Dispatcher.
func (t *connTable) Deliver(handle string, frame []byte) error {
	c := t.get(handle)
	if c == nil {
		return relay.ErrNoRoute
	}
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("write to %s: %w", handle, err)
	}
	return nil
}

func (t *connTable) closeAll() {
	t.mu.RLock()
	conns := make([]*deviceConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}
