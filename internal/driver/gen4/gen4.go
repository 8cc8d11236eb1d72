// Package gen4 implements the third-generation GAN cube wire protocol:
// same MoveReconciler-backed lost-move recovery as Gen3, a 20-byte
// command frame with Gen4-specific opcodes, and multi-sub-frame
// hardware-info aggregation (date/name/software/hardware arrive as four
// separate notifications that must be collected before one HARDWARE
// event is emitted). Grounded on reconcile.MoveReconciler (shared with
// gen3) and the teacher repo's internal/ota.Manager pattern of
// accumulating partial state across several chunked messages before
// acting on it.
package gen4

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
	evTypeMove       = 0x01
	evTypeHistory    = 0xD1
	evTypeFacelets   = 0xED
	evTypeGyro       = 0xEC
	evTypeBattery    = 0xEF
	evTypeDisconnect = 0xEA
	evTypeHWDate     = 0xFA
	evTypeHWName     = 0xFC
	evTypeHWSoftware = 0xFD
	evTypeHWHardware = 0xFE
)

const (
	cmdFacelets uint8 = 0xDD
	cmdHardware uint8 = 0xDF
	cmdBattery  uint8 = 0xD2
	cmdReset    uint8 = 0xD1

	// cmdHistoryRequest is MoveReconciler's internal "send me moves from
	// this serial" command. It is deliberately not evTypeHistory (0xD1,
	// the *incoming* notification tag for a history response) and not
	// cmdReset (which already owns 0xD1 among the four user-facing
	// command opcodes) — reusing either would make a reset command and a
	// history request bit-identical on the wire.
	cmdHistoryRequest uint8 = 0xD0
)

const commandFrameLen = 20

var resetLiteral = [12]byte{0x39, 0x77, 0x00, 0x00, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0x00, 0x00}

var faceMaskTable = [6]uint32{2, 32, 8, 1, 16, 4}
var historyFaceTable = [6]event.Face{1, 5, 3, 0, 4, 2}

const gyroSupportedName = "GAN12uiM"

// hwPartial accumulates the four hardware-info sub-frames until all are
// present.
type hwPartial struct {
	date, name       *string
	swMajor, swMinor *uint8
	hwMajor, hwMinor *uint8
}

func (p *hwPartial) complete() bool {
	return p.date != nil && p.name != nil && p.swMajor != nil && p.hwMajor != nil
}

// Driver is the Gen4 protocol driver.
type Driver struct {
	now   func() time.Time
	recon *reconcile.MoveReconciler
	hw    hwPartial
}

// New returns a fresh Gen4 driver. transport must already transparently
// AES-envelope-encrypt writes; nowFn overrides the clock for tests, nil
// uses time.Now.
func New(transport event.Transport, nowFn func() time.Time) *Driver {
	if nowFn == nil {
		nowFn = time.Now
	}
	d := &Driver{now: nowFn}
	d.recon = reconcile.New(d, transport)
	return d
}

// EncodeCommand renders cmd as a 20-byte Gen4 command frame.
func (d *Driver) EncodeCommand(cmd event.Command) ([]byte, error) {
	if serial, count, ok := cmd.MoveHistoryParams(); ok {
		buf := make([]byte, commandFrameLen)
		buf[0] = cmdHistoryRequest
		buf[1] = serial
		buf[2] = byte(count)
		return buf, nil
	}

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
		copy(buf[2:14], resetLiteral[:])
	default:
		return nil, nil
	}
	return buf, nil
}

// HandleStateFrame decodes one Gen4 state notification.
func (d *Driver) HandleStateFrame(frame []byte) ([]event.Event, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("gen4: empty frame")
	}
	bv := bitview.New(frame)
	evType := bv.BitWord(0, 8, false)
	ctx := context.Background()

	switch evType {
	case evTypeMove:
		return d.decodeMove(ctx, bv), nil
	case evTypeHistory:
		d.decodeHistory(bv)
		return toEvents(d.recon.Evict(ctx)), nil
	case evTypeFacelets:
		return []event.Event{d.decodeFacelets(ctx, bv)}, nil
	case evTypeGyro:
		return []event.Event{d.decodeGyro(bv)}, nil
	case evTypeBattery:
		return []event.Event{d.decodeBattery(bv)}, nil
	case evTypeDisconnect:
		return []event.Event{{Disconnect: &event.Disconnect{}}}, nil
	case evTypeHWDate:
		d.decodeHWDate(bv)
		return d.maybeEmitHardware(), nil
	case evTypeHWName:
		d.decodeHWName(bv)
		return d.maybeEmitHardware(), nil
	case evTypeHWSoftware:
		d.decodeHWVersion(bv, &d.hw.swMajor, &d.hw.swMinor)
		return d.maybeEmitHardware(), nil
	case evTypeHWHardware:
		d.decodeHWVersion(bv, &d.hw.hwMajor, &d.hw.hwMinor)
		return d.maybeEmitHardware(), nil
	default:
		return nil, nil
	}
}

func (d *Driver) decodeMove(ctx context.Context, bv *bitview.View) []event.Event {
	serial := uint8(bv.BitWord(8, 16, true))
	cubeTs := int64(bv.BitWord(24, 32, true))
	dirBits := bv.BitWord(56, 2, false)
	faceMask := bv.BitWord(58, 6, false)
	now := d.now().UnixMilli()

	m := event.Move{
		Face:   faceFromMask(faceMask),
		Dir:    event.Direction(dirBits & 1),
		Serial: serial,
		HostTs: &now,
		CubeTs: &cubeTs,
	}
	return toEvents(d.recon.OnRealtimeMove(ctx, m))
}

func (d *Driver) decodeHistory(bv *bitview.View) {
	start := int(bv.BitWord(8, 16, true))
	dataLen := bv.BitWord(24, 8, false)
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
	serial := uint8(bv.BitWord(8, 8, false))

	var cp7 [7]int
	var co7 [7]int
	for i := 0; i < 7; i++ {
		cp7[i] = int(bv.BitWord(16+3*i, 3, false))
		co7[i] = int(bv.BitWord(37+2*i, 2, false))
	}
	var ep11 [11]int
	var eo11 [11]int
	for i := 0; i < 11; i++ {
		ep11[i] = int(bv.BitWord(51+4*i, 4, false))
		eo11[i] = int(bv.BitWord(95+i, 1, false))
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
		W: readComponent16(8),
		X: readComponent16(24),
		Y: readComponent16(40),
		Z: readComponent16(56),
	}
	if bv.Len() >= 84 {
		g.HasVel = true
		g.VX = readVelocity4(72)
		g.VY = readVelocity4(76)
		g.VZ = readVelocity4(80)
	}
	return event.Event{Gyro: g}
}

func (d *Driver) decodeBattery(bv *bitview.View) event.Event {
	pct := bv.BitWord(8, 8, false)
	if pct > 100 {
		pct = 100
	}
	return event.Event{Battery: &event.Battery{Percent: uint8(pct)}}
}

func (d *Driver) decodeHWDate(bv *bitview.View) {
	year := bv.BitWord(8, 16, false)
	month := bv.BitWord(24, 8, false)
	day := bv.BitWord(32, 8, false)
	s := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	d.hw.date = &s
}

func (d *Driver) decodeHWName(bv *bitview.View) {
	nameBytes := make([]byte, 8)
	for i := range nameBytes {
		nameBytes[i] = byte(bv.BitWord(8+8*i, 8, false))
	}
	s := trimNulls(nameBytes)
	d.hw.name = &s
}

func (d *Driver) decodeHWVersion(bv *bitview.View, major, minor **uint8) {
	maj := uint8(bv.BitWord(8, 8, false))
	min := uint8(bv.BitWord(16, 8, false))
	*major = &maj
	*minor = &min
}

func (d *Driver) maybeEmitHardware() []event.Event {
	if !d.hw.complete() {
		return nil
	}
	h := &event.Hardware{
		Name:           *d.hw.name,
		HardwareMajor:  *d.hw.hwMajor,
		HardwareMinor:  *d.hw.hwMinor,
		SoftwareMajor:  *d.hw.swMajor,
		SoftwareMinor:  *d.hw.swMinor,
		ProductionDate: *d.hw.date,
		GyroSupported:  *d.hw.name == gyroSupportedName,
	}
	d.hw = hwPartial{}
	return []event.Event{{Hardware: h}}
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
