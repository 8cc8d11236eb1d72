// Package gen2 implements the first-generation GAN cube wire protocol:
// fixed 20-byte command frames and bit-packed state notifications with no
// separate history sub-protocol — a Gen2 frame carries its own backlog of
// up to seven recent moves, so lost-move recovery is self-contained and
// MoveReconciler is not used. Grounded on the teacher repo's
// internal/protocol message encode/decode pairs, generalized from one
// fixed header+payload shape to the bit-packed, multi-event-type Gen2
// frame.
package gen2

import (
	"fmt"
	"time"

	"github.com/ganlink/ganble/internal/bitview"
	"github.com/ganlink/ganble/internal/event"
	"github.com/ganlink/ganble/internal/facelet"
)

// Event-type nibble values, the first 4 bits of every Gen2 state frame.
const (
	eventGyro       = 0x1
	eventMove       = 0x2
	eventFacelets   = 0x4
	eventHardware   = 0x5
	eventBattery    = 0x9
	eventDisconnect = 0xD
)

// Command opcodes for Gen2's fixed 20-byte command frame.
const (
	cmdFacelets uint8 = 0x04
	cmdHardware uint8 = 0x05
	cmdBattery  uint8 = 0x09
	cmdReset    uint8 = 0x0A
)

const commandFrameLen = 20

// resetLiteral is the 12-byte "reset to solved" payload shared across
// every driver generation, embedded at a generation-specific offset.
var resetLiteral = [12]byte{0x39, 0x77, 0x00, 0x00, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x00, 0x00}

const maxMovesPerFrame = 7

// The 4-bit face code in a Gen2 move record is used directly as
// event.Face (U,R,F,D,L,B order matches the face code 1:1).

// Driver is the Gen2 protocol driver. One instance is owned per Session
// and holds all per-connection Gen2 state.
type Driver struct {
	now func() time.Time

	lastSerial   int // -1 sentinel: no facelet snapshot seen yet
	cubeTsAccum  int64
	lastLocalTs  *int64
}

// New returns a fresh Gen2 driver. nowFn overrides the clock for tests;
// pass nil to use time.Now.
func New(nowFn func() time.Time) *Driver {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Driver{now: nowFn, lastSerial: -1}
}

// EncodeCommand renders cmd as a 20-byte Gen2 command frame.
func (d *Driver) EncodeCommand(cmd event.Command) ([]byte, error) {
	buf := make([]byte, commandFrameLen)
	switch cmd.Kind {
	case event.CmdRequestFacelets:
		buf[0] = cmdFacelets
	case event.CmdRequestHardware:
		buf[0] = cmdHardware
	case event.CmdRequestBattery:
		buf[0] = cmdBattery
	case event.CmdRequestReset:
		buf[0] = cmdReset
		buf[1] = 0x05
		copy(buf[2:14], resetLiteral[:])
	default:
		// Unknown command type (including the internal history-request
		// kind Gen2 never uses): no-op, yields no wire message.
		return nil, nil
	}
	return buf, nil
}

// HandleStateFrame decodes one Gen2 state notification into zero or more
// events.
func (d *Driver) HandleStateFrame(frame []byte) ([]event.Event, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("gen2: empty frame")
	}
	bv := bitview.New(frame)
	eventType := bv.BitWord(0, 4, false)

	switch eventType {
	case eventGyro:
		return []event.Event{d.decodeGyro(bv)}, nil
	case eventMove:
		return d.decodeMove(bv), nil
	case eventFacelets:
		return []event.Event{d.decodeFacelets(bv)}, nil
	case eventHardware:
		return []event.Event{d.decodeHardware(bv)}, nil
	case eventBattery:
		return []event.Event{d.decodeBattery(bv)}, nil
	case eventDisconnect:
		return []event.Event{{Disconnect: &event.Disconnect{}}}, nil
	default:
		// Unknown event type: drop the frame, disturb nothing.
		return nil, nil
	}
}

func (d *Driver) decodeGyro(bv *bitview.View) event.Event {
	readComponent16 := func(start int) float64 {
		raw := bv.BitWord(start, 16, false)
		sign := (raw >> 15) & 1
		mag := raw & 0x7FFF
		v := float64(mag) / float64(0x7FFF)
		if sign == 1 {
			v = -v
		}
		return v
	}
	readVelocity4 := func(start int) int8 {
		raw := bv.BitWord(start, 4, false)
		sign := (raw >> 3) & 1
		mag := int8(raw & 0x7)
		if sign == 1 {
			mag = -mag
		}
		return mag
	}

	g := &event.Gyro{
		W: readComponent16(4),
		X: readComponent16(20),
		Y: readComponent16(36),
		Z: readComponent16(52),
	}
	if bv.Len() >= 80 {
		g.HasVel = true
		g.VX = readVelocity4(68)
		g.VY = readVelocity4(72)
		g.VZ = readVelocity4(76)
	}
	return event.Event{Gyro: g}
}

func (d *Driver) decodeMove(bv *bitview.View) []event.Event {
	serial := uint8(bv.BitWord(4, 8, false))
	if d.lastSerial == -1 {
		// Accept only once a baseline serial has been established by a
		// facelet snapshot.
		return nil
	}

	nowMs := d.now().UnixMilli()
	diff := mod256(int(serial) - d.lastSerial)
	if diff > maxMovesPerFrame {
		diff = maxMovesPerFrame
	}

	var events []event.Event
	// i counts back from the freshest move (i==0) to the oldest recovered
	// move still carried in this frame (i==diff-1); emitting from the
	// oldest down to the freshest yields strictly ascending serial order.
	for i := diff - 1; i >= 0; i-- {
		faceBits := bv.BitWord(12+5*i, 4, false)
		dirBit := bv.BitWord(16+5*i, 1, false)
		elapsed := bv.BitWord(47+16*i, 16, true)
		if elapsed == 0 && d.lastLocalTs != nil {
			elapsed = uint32(nowMs - *d.lastLocalTs)
		}
		d.cubeTsAccum += int64(elapsed)
		cubeTs := d.cubeTsAccum

		var hostTs *int64
		if i == 0 {
			h := nowMs
			hostTs = &h
			d.lastLocalTs = &h
		}

		moveSerial := uint8(mod256(int(serial) - i))
		m := event.Move{
			Face:   event.Face(faceBits),
			Dir:    event.Direction(dirBit),
			Serial: moveSerial,
			HostTs: hostTs,
			CubeTs: &cubeTs,
		}
		events = append(events, event.Event{Move: &m})
	}

	d.lastSerial = int(serial)
	return events
}

func (d *Driver) decodeFacelets(bv *bitview.View) event.Event {
	serial := uint8(bv.BitWord(4, 8, false))

	var cp7 [7]int
	var co7 [7]int
	for i := 0; i < 7; i++ {
		cp7[i] = int(bv.BitWord(12+3*i, 3, false))
		co7[i] = int(bv.BitWord(33+2*i, 2, false))
	}
	var ep11 [11]int
	var eo11 [11]int
	for i := 0; i < 11; i++ {
		ep11[i] = int(bv.BitWord(47+4*i, 4, false))
		eo11[i] = int(bv.BitWord(91+i, 1, false))
	}

	cp, co := facelet.CompleteCorners(cp7, co7)
	ep, eo := facelet.CompleteEdges(ep11, eo11)

	if d.lastSerial == -1 {
		d.lastSerial = int(serial)
	}

	f := &event.Facelet{
		Serial:   serial,
		Facelets: facelet.ToFacelets(cp, co, ep, eo),
		CP:       cp,
		CO:       co,
		EP:       ep,
		EO:       eo,
	}
	return event.Event{Facelet: f}
}

func (d *Driver) decodeHardware(bv *bitview.View) event.Event {
	nameBytes := make([]byte, 8)
	for i := range nameBytes {
		nameBytes[i] = byte(bv.BitWord(40+8*i, 8, false))
	}
	h := &event.Hardware{
		HardwareMajor: uint8(bv.BitWord(8, 8, false)),
		HardwareMinor: uint8(bv.BitWord(16, 8, false)),
		SoftwareMajor: uint8(bv.BitWord(24, 8, false)),
		SoftwareMinor: uint8(bv.BitWord(32, 8, false)),
		Name:          trimNulls(nameBytes),
		GyroSupported: bv.BitWord(104, 1, false) == 1,
	}
	return event.Event{Hardware: h}
}

func (d *Driver) decodeBattery(bv *bitview.View) event.Event {
	pct := bv.BitWord(8, 8, false)
	if pct > 100 {
		pct = 100
	}
	return event.Event{Battery: &event.Battery{Percent: uint8(pct)}}
}

func trimNulls(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

func mod256(v int) int {
	return ((v % 256) + 256) % 256
}
