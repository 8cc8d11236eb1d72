// Package bus mirrors decoded session events out-of-process over a
// ZeroMQ PUB socket. It is the GAN-domain analogue of the teacher repo's
// internal/lora/concentratord.go event-socket plumbing: the same
// "ZeroMQ socket carrying small self-describing frames" shape, a PUB
// broadcast rather than Concentratord's SUB/REQ pair, and a hand-marshaled
// wire format rather than gw.UnmarshalEvent's — grounded on gw.go's own
// "manually defined to avoid requiring protoc compilation" rationale.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ganlink/ganble/internal/event"
	"github.com/go-zeromq/zmq4"
)

// Envelope is the thin wrapper every event gets when it crosses the ZMQ
// boundary. The payload is always one of the event package's own structs;
// the envelope itself carries no protocol semantics.
type Envelope struct {
	SessionID string      `json:"session_id"`
	Seq       uint64      `json:"seq"`
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload"`
}

// Publisher wraps a ZeroMQ PUB socket. A full high-water-mark drops the
// event rather than blocking the decode path; the in-process sink is the
// one guaranteed delivery path, this is an optional mirror of it.
type Publisher struct {
	sock    zmq4.Socket
	warned  bool
}

// NewPublisher binds a PUB socket at endpoint (e.g. "tcp://*:5556").
func NewPublisher(ctx context.Context, endpoint string) (*Publisher, error) {
	sock := zmq4.NewPub(ctx)
	if err := sock.Listen(endpoint); err != nil {
		return nil, fmt.Errorf("bus: listen %s: %w", endpoint, err)
	}
	return &Publisher{sock: sock}, nil
}

// Close releases the PUB socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// Publish hand-marshals ev into a self-describing JSON frame and sends it
// non-blocking. A send failure (typically a full HWM) is logged once per
// burst and otherwise swallowed: publishing is a side effect of decoding,
// never a gate on it.
func (p *Publisher) Publish(sessionID string, seq uint64, ev event.Event) {
	env := Envelope{SessionID: sessionID, Seq: seq, Kind: kindOf(ev), Payload: payloadOf(ev)}
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("bus: marshal event: %v", err)
		return
	}
	if err := p.sock.Send(zmq4.NewMsg(data)); err != nil {
		if !p.warned {
			log.Printf("bus: publish dropped (socket busy): %v", err)
			p.warned = true
		}
		return
	}
	p.warned = false
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
