// Package reconcile implements the move-ordering and lost-move-recovery
// logic shared by the Gen3 and Gen4 cube drivers. It plays the role the
// teacher repo's internal/ota.DeviceUpdate state machine plays for
// firmware rollout: track pending work, detect a gap, and trigger a
// recovery request — reshaped here for BLE move-serial gaps instead of
// OTA chunk timeouts.
package reconcile

import (
	"context"

	"github.com/ganlink/ganble/internal/event"
)

// maxBufferLen is the safety bail-out threshold: once the pending-move
// buffer grows past this, the protocol is considered desynchronized.
const maxBufferLen = 16

// historyDebounceMs is how long after the last real-time move a facelet
// snapshot must wait before it's allowed to trigger a history request.
const historyDebounceMs = 500

// CommandEncoder is the subset of a Driver a MoveReconciler needs to turn
// a history request into wire bytes.
type CommandEncoder interface {
	EncodeCommand(cmd event.Command) ([]byte, error)
}

// MoveReconciler buffers moves until they can be delivered in strict
// serial order, requesting missing history from the device when a gap
// appears and bailing out the session when the gap can't be closed.
type MoveReconciler struct {
	encoder   CommandEncoder
	transport event.Transport

	buffer        []event.Move
	lastSerial    int // -1 sentinel: no move evicted yet
	currentSerial int
	lastLocalTs   *int64
}

// New returns a MoveReconciler that encodes history-request commands via
// encoder and writes/disconnects through transport. transport may be nil
// in contexts (tests) that only exercise buffering logic.
func New(encoder CommandEncoder, transport event.Transport) *MoveReconciler {
	return &MoveReconciler{encoder: encoder, transport: transport, lastSerial: -1}
}

// LastSerial returns the most recently evicted serial, or -1 if none yet.
func (r *MoveReconciler) LastSerial() int { return r.lastSerial }

// BufferLen returns the number of moves currently buffered awaiting
// contiguous-serial eviction.
func (r *MoveReconciler) BufferLen() int { return len(r.buffer) }

// OnRealtimeMove appends a freshly decoded move to the buffer tail and
// evicts everything now in contiguous order, returning the moves to
// emit in oldest-first order.
func (r *MoveReconciler) OnRealtimeMove(ctx context.Context, m event.Move) []event.Move {
	if m.HostTs != nil {
		r.lastLocalTs = m.HostTs
	}
	r.buffer = append(r.buffer, m)
	return r.evict(ctx)
}

// Evict runs the eviction loop without adding a new move first — used
// after Inject delivers history moves that may now make the buffer head
// contiguous.
func (r *MoveReconciler) Evict(ctx context.Context) []event.Move {
	return r.evict(ctx)
}

// evict repeatedly pops the buffer head while it is exactly one serial
// past last_serial, requesting history and/or disconnecting when it's
// not.
func (r *MoveReconciler) evict(ctx context.Context) []event.Move {
	var emitted []event.Move
	for len(r.buffer) > 0 {
		head := r.buffer[0]
		diff := 1
		if r.lastSerial != -1 {
			diff = mod256(int(head.Serial) - r.lastSerial)
		}
		if diff == 1 {
			r.buffer = r.buffer[1:]
			emitted = append(emitted, head)
			r.lastSerial = int(head.Serial)
			continue
		}
		if diff > 1 {
			r.requestHistory(ctx, head.Serial, diff)
		}
		break
	}
	if len(r.buffer) > maxBufferLen && r.transport != nil {
		_ = r.transport.Disconnect(ctx)
	}
	return emitted
}

// requestHistory sends a move-history request for count moves counting
// back from serial, after applying the firmware's odd-start and
// wrap-avoidance quirks. Write errors are swallowed: the next real-time
// move will retry via evict.
func (r *MoveReconciler) requestHistory(ctx context.Context, serial uint8, count int) {
	if r.transport == nil {
		return
	}
	s := int(serial)
	if s%2 == 0 {
		s = mod256(s - 1)
	}
	if count%2 != 0 {
		count++
	}
	if count > s+1 {
		count = s + 1
	}

	cmd := event.NewMoveHistoryCommand(uint8(s), count)
	payload, err := r.encoder.EncodeCommand(cmd)
	if err != nil {
		return
	}
	_ = r.transport.Write(ctx, payload)
}

// Inject delivers one move from a history-response frame. History is
// delivered newest-first, so callers inject in that same (reverse)
// order and Inject walks the buffer head backwards to produce ascending
// order.
func (r *MoveReconciler) Inject(m event.Move) {
	for _, b := range r.buffer {
		if b.Serial == m.Serial {
			return
		}
	}

	if len(r.buffer) > 0 {
		head := r.buffer[0]
		if !inOpenInterval(r.lastSerial, int(m.Serial), int(head.Serial)) {
			return
		}
		if int(m.Serial) == mod256(int(head.Serial)-1) {
			r.buffer = append([]event.Move{m}, r.buffer...)
		}
		return
	}

	if inHalfOpenInterval(r.lastSerial, int(m.Serial), r.currentSerial) {
		r.buffer = append(r.buffer, m)
	}
}

// OnFacelet updates current_serial from a facelet snapshot's serial and,
// if the snapshot arrives well after the last real-time move and reveals
// a gap, requests the missing history.
func (r *MoveReconciler) OnFacelet(ctx context.Context, serial uint8, nowMs int64) {
	r.currentSerial = int(serial)

	if r.lastSerial == -1 || r.lastLocalTs == nil {
		return
	}
	if nowMs-*r.lastLocalTs <= historyDebounceMs {
		return
	}

	diff := mod256(r.currentSerial - r.lastSerial)
	if diff <= 0 || r.currentSerial == 0 {
		return
	}

	reqSerial := mod256(r.currentSerial + 1)
	if len(r.buffer) > 0 {
		reqSerial = int(r.buffer[0].Serial)
	}
	r.requestHistory(ctx, uint8(reqSerial), diff+1)
}

func mod256(v int) int {
	return ((v % 256) + 256) % 256
}

// mod256Dist is the forward (non-negative) distance walking from a to b
// around the 0..255 ring.
func mod256Dist(a, b int) int {
	return mod256(b - a)
}

// inOpenInterval reports whether v lies strictly between lo and hi,
// walking forward from lo, mod 256.
func inOpenInterval(lo, v, hi int) bool {
	d := mod256Dist(lo, v)
	span := mod256Dist(lo, hi)
	return d > 0 && d < span
}

// inHalfOpenInterval reports whether v lies in (lo, hi], walking forward
// from lo, mod 256.
func inHalfOpenInterval(lo, v, hi int) bool {
	d := mod256Dist(lo, v)
	span := mod256Dist(lo, hi)
	return d > 0 && d <= span
}
