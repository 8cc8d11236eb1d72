// Package gen3 implements the second-generation GAN cube wire protocol:
// a magic-byte-framed, 16-byte-command wire format that, unlike Gen2,
// delegates lost-move recovery to a shared MoveReconciler instead of
// self-reporting backlog inside every move frame. Grounded on the
// teacher repo's internal/protocol message framing (magic+type+length
// preamble) and internal/ota.Manager's gap-detection/retry shape,
// reused here via reconcile.MoveReconciler instead of duplicated.
package gen3

import (
	"context"
	"fmt"
	"time"

	"github.com/ganlink/ganble/internal/bitview"
	"github.com/ganlink/ganble/internal/event"
	"github.com/ganlink/ganble/internal/facelet"
	"github.com/ganlink/ganble/internal/reconcile"
)

const (
	magicByte = 0x55

	evTypeMove       = 0x01
	evTypeFacelets   = 0x02
	evTypeHistory    = 0x06
	evTypeHardware   = 0x07
	evTypeBattery    = 0x10
	evTypeDisconnect = 0x11
)

const (
	cmdPrefix         uint8 = 0x68
	subFacelets       uint8 = 0x01
	subHardware       uint8 = 0x04
	subBattery        uint8 = 0x07
	subReset          uint8 = 0x05
	subHistoryRequest uint8 = 0x03
)

const commandFrameLen = 16

var resetLiteral = [12]byte{0x39, 0x77, 0x00, 0x00, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x00, 0x00}

// faceMaskTable maps the live-move 6-bit one-hot face mask to event.Face.
var faceMaskTable = [6]uint32{2, 32, 8, 1, 16, 4}

// historyFaceTable maps a history frame's compact 3-bit face code to
// event.Face.
var historyFaceTable = [6]event.Face{1, 5, 3, 0, 4, 2}

// facelets on the Gen3 wire sit behind a 24-bit magic+type+len preamble
// instead of Gen2's 4-bit event-type nibble, so every offset Gen2 uses is
// shifted by the extra 20 bits of preamble.
const faceletPreambleShift = 20

// Driver is the Gen3 protocol driver.
type Driver struct {
	now    func() time.Time
	recon  *reconcile.MoveReconciler
	serial int // current_serial mirror kept for facelet decoding convenience
}

// New returns a fresh Gen3 driver. transport must already transparently
// AES-envelope-encrypt writes (see session.newEnvelopeTransport); nowFn
// overrides the clock for tests, nil uses time.Now.
func New(transport event.Transport, nowFn func() time.Time) *Driver {
	if nowFn == nil {
		nowFn = time.Now
	}
	d := &Driver{now: nowFn}
	d.recon = reconcile.New(d, transport)
	return d
}

// EncodeCommand renders cmd as a 16-byte Gen3 command frame.
func (d *Driver) EncodeCommand(cmd event.Command) ([]byte, error) {
	if serial, count, ok := cmd.MoveHistoryParams(); ok {
		buf := make([]byte, commandFrameLen)
		buf[0], buf[1] = cmdPrefix, subHistoryRequest
		buf[2] = serial
		buf[3] = 0
		buf[4] = byte(count)
		buf[5] = 0
		return buf, nil
	}

	buf := make([]byte, commandFrameLen)
	buf[0] = cmdPrefix
	switch cmd.Kind {
	case event.CmdRequestFacelets:
		buf[1] = subFacelets
	case event.CmdRequestHardware:
		buf[1] = subHardware
	case event.CmdRequestBattery:
		buf[1] = subBattery
	case event.CmdRequestReset:
		buf[1] = subReset
		copy(buf[2:14], resetLiteral[:])
	default:
		return nil, nil
	}
	return buf, nil
}

// HandleStateFrame decodes one Gen3 state notification.
func (d *Driver) HandleStateFrame(frame []byte) ([]event.Event, error) {
	if len(frame) < 3 {
		return nil, fmt.Errorf("gen3: frame too short: %d bytes", len(frame))
	}
	bv := bitview.New(frame)
	if bv.BitWord(0, 8, false) != magicByte {
		return nil, nil
	}
	evType := bv.BitWord(8, 8, false)
	dataLen := bv.BitWord(16, 8, false)
	if dataLen == 0 {
		return nil, nil
	}

	ctx := context.Background()
	switch evType {
	case evTypeMove:
		return d.decodeMove(ctx, bv), nil
	case evTypeHistory:
		d.decodeHistory(bv, dataLen)
		return toEvents(d.recon.Evict(ctx)), nil
	case evTypeFacelets:
		return []event.Event{d.decodeFacelets(ctx, bv)}, nil
	case evTypeHardware:
		return []event.Event{d.decodeHardware(bv)}, nil
	case evTypeBattery:
		return []event.Event{d.decodeBattery(bv)}, nil
	case evTypeDisconnect:
		return []event.Event{{Disconnect: &event.Disconnect{}}}, nil
	default:
		return nil, nil
	}
}

func (d *Driver) decodeMove(ctx context.Context, bv *bitview.View) []event.Event {
	cubeTs := int64(bv.BitWord(24, 32, true))
	serial := uint8(bv.BitWord(56, 16, true))
	dirBits := bv.BitWord(72, 2, false)
	faceMask := bv.BitWord(74, 6, false)

	face := faceFromMask(faceMask)
	now := d.now().UnixMilli()

	m := event.Move{
		Face:   face,
		Dir:    event.Direction(dirBits & 1),
		Serial: serial,
		HostTs: &now,
		CubeTs: &cubeTs,
	}
	return toEvents(d.recon.OnRealtimeMove(ctx, m))
}

func (d *Driver) decodeHistory(bv *bitview.View, dataLen uint32) {
	start := int(bv.BitWord(24, 16, true))
	count := int(2 * (dataLen - 1))
	for i := 0; i < count; i++ {
		faceCode := bv.BitWord(32+4*i, 3, false)
		dirBit := bv.BitWord(35+4*i, 1, false)
		serial := uint8(mod256(start - i))
		d.recon.Inject(event.Move{
			Face:   historyFaceTable[faceCode],
			Dir:    event.Direction(dirBit),
			Serial: serial,
		})
	}
}

func (d *Driver) decodeFacelets(ctx context.Context, bv *bitview.View) event.Event {
	base := faceletPreambleShift
	serial := uint8(bv.BitWord(4+base, 8, false))
	d.serial = int(serial)

	var cp7 [7]int
	var co7 [7]int
	for i := 0; i < 7; i++ {
		cp7[i] = int(bv.BitWord(12+base+3*i, 3, false))
		co7[i] = int(bv.BitWord(33+base+2*i, 2, false))
	}
	var ep11 [11]int
	var eo11 [11]int
	for i := 0; i < 11; i++ {
		ep11[i] = int(bv.BitWord(47+base+4*i, 4, false))
		eo11[i] = int(bv.BitWord(91+base+i, 1, false))
	}

	cp, co := facelet.CompleteCorners(cp7, co7)
	ep, eo := facelet.CompleteEdges(ep11, eo11)

	d.recon.OnFacelet(ctx, serial, d.now().UnixMilli())

	return event.Event{Facelet: &event.Facelet{
		Serial:   serial,
		Facelets: facelet.ToFacelets(cp, co, ep, eo),
		CP:       cp,
		CO:       co,
		EP:       ep,
		EO:       eo,
	}}
}

func (d *Driver) decodeHardware(bv *bitview.View) event.Event {
	nameBytes := make([]byte, 5)
	for i := range nameBytes {
		nameBytes[i] = byte(bv.BitWord(32+8*i, 8, false))
	}
	base := 32 + 8*5
	h := &event.Hardware{
		Name:          trimNulls(nameBytes),
		HardwareMajor: uint8(bv.BitWord(base, 4, false)),
		HardwareMinor: uint8(bv.BitWord(base+4, 4, false)),
		SoftwareMajor: uint8(bv.BitWord(base+8, 4, false)),
		SoftwareMinor: uint8(bv.BitWord(base+12, 4, false)),
		GyroSupported: false,
	}
	return event.Event{Hardware: h}
}

func (d *Driver) decodeBattery(bv *bitview.View) event.Event {
	pct := bv.BitWord(24, 8, false)
	if pct > 100 {
		pct = 100
	}
	return event.Event{Battery: &event.Battery{Percent: uint8(pct)}}
}

func faceFromMask(mask uint32) event.Face {
	for i, v := range faceMaskTable {
		if v == mask {
			return event.Face(i)
		}
	}
	return event.FaceU
}

func toEvents(moves []event.Move) []event.Event {
	if len(moves) == 0 {
		return nil
	}
	out := make([]event.Event, len(moves))
	for i := range moves {
		m := moves[i]
		out[i] = event.Event{Move: &m}
	}
	return out
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
