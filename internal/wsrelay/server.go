// Package wsrelay re-broadcasts a session's decoded event stream to
// browser/devtool clients over WebSocket, and separately offers a
// reference event.Transport implementation that dials a companion bridge
// process instead of real BLE hardware. Both halves are grounded on the
// teacher repo's internal/cloud/client.go Gorilla WebSocket shape: Server
// is client.go's read/write-loop pair run from the accepting side instead
// of the dialing side; DialTransport keeps client.go's
// connect/reconnect-backoff loop almost verbatim.
package wsrelay

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/ganlink/ganble/internal/event"
	"github.com/gorilla/websocket"
)

// envelope mirrors bus.Envelope's shape; wsrelay doesn't import bus to
// avoid a needless package coupling for a four-field struct.
type envelope struct {
	SessionID string      `json:"session_id"`
	Seq       uint64      `json:"seq"`
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload"`
}

// Server accepts WebSocket clients and re-broadcasts every event given to
// Broadcast as a JSON text frame.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewServer returns a Server ready to be mounted as an http.Handler.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// recipient until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsrelay: upgrade failed: %v", err)
		return
	}

	send := make(chan []byte, 64)
	s.mu.Lock()
	s.clients[conn] = send
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for data := range send {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// Broadcast hand-marshals ev into the envelope shape and fans it out to
// every connected client. A client whose send buffer is full is dropped
// from the broadcast rather than stalling the others.
func (s *Server) Broadcast(sessionID string, seq uint64, ev event.Event) {
	data, err := json.Marshal(envelope{SessionID: sessionID, Seq: seq, Kind: kindOf(ev), Payload: payloadOf(ev)})
	if err != nil {
		log.Printf("wsrelay: marshal event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- data:
		default:
			log.Printf("wsrelay: client send buffer full, dropping")
			delete(s.clients, conn)
		}
	}
}

func kindOf(ev event.Event) string {
	switch {
	case ev.Move != nil:
		return "move"
	case ev.Facelet != nil:
		return "facelet"
	case ev.Gyro != nil:
		return "gyro"
	case ev.Hardware != nil:
		return "hardware"
	case ev.Battery != nil:
		return "battery"
	case ev.Timer != nil:
		return "timer"
	case ev.Disconnect != nil:
		return "disconnect"
	default:
		return "unknown"
	}
}

func payloadOf(ev event.Event) interface{} {
	switch {
	case ev.Move != nil:
		return ev.Move
	case ev.Facelet != nil:
		return ev.Facelet
	case ev.Gyro != nil:
		return ev.Gyro
	case ev.Hardware != nil:
		return ev.Hardware
	case ev.Battery != nil:
		return ev.Battery
	case ev.Timer != nil:
		return ev.Timer
	case ev.Disconnect != nil:
		return ev.Disconnect
	default:
		return nil
	}
}
