package wsrelay

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DialTransport is a reference event.Transport that dials a companion
// bridge process over WebSocket instead of talking to real BLE hardware:
// binary frames equal exactly the GATT notification/write payloads. Its
// connect/reconnect loop is client.go's connectionLoop/connect pair,
// adapted from JSON envelope messages to raw binary frames.
type DialTransport struct {
	url            string
	reconnectDelay time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	notifyCh    chan []byte
	stopCh      chan struct{}
	stopOnce    sync.Once
	onDisconnect func()
	disconnecting bool
}

// NewDialTransport starts dialing url in the background and returns
// immediately; until a connection is established, Write returns an error.
func NewDialTransport(url string) *DialTransport {
	t := &DialTransport{
		url:            url,
		reconnectDelay: 5 * time.Second,
		notifyCh:       make(chan []byte, 64),
		stopCh:         make(chan struct{}),
	}
	go t.connectionLoop()
	return t
}

// OnDisconnect registers fn to run once if the bridge connection drops
// for a reason other than a caller-initiated Disconnect.
func (t *DialTransport) OnDisconnect(fn func()) {
	t.mu.Lock()
	t.onDisconnect = fn
	t.mu.Unlock()
}

// Write sends payload as a single binary WebSocket frame.
func (t *DialTransport) Write(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsrelay: not connected")
	}
	return conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Notifications returns the channel of raw bridge-relayed frames.
func (t *DialTransport) Notifications() <-chan []byte {
	return t.notifyCh
}

// Disconnect tears down the bridge connection. Idempotent.
func (t *DialTransport) Disconnect(ctx context.Context) error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.disconnecting = true
		conn := t.conn
		t.mu.Unlock()
		close(t.stopCh)
		if conn != nil {
			conn.Close()
		}
	})
	return nil
}

func (t *DialTransport) connectionLoop() {
	defer close(t.notifyCh)

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
		if err != nil {
			log.Printf("wsrelay: dial %s failed: %v", t.url, err)
			select {
			case <-t.stopCh:
				return
			case <-time.After(t.reconnectDelay):
				continue
			}
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.readLoop(conn)

		t.mu.Lock()
		t.conn = nil
		unexpected := !t.disconnecting
		cb := t.onDisconnect
		if unexpected {
			t.onDisconnect = nil
		}
		t.mu.Unlock()

		if unexpected && cb != nil {
			cb()
		}

		select {
		case <-t.stopCh:
			return
		default:
		}
	}
}

func (t *DialTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.notifyCh <- data:
		case <-t.stopCh:
			return
		}
	}
}
