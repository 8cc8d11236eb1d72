// Package timer implements the TimerDriver: decoding of CRC-validated,
// magic-byte-framed state-change notifications from the GAN smart timer,
// and decoding of the 16-byte recorded-times blob its time
// characteristic returns on read. Grounded on the teacher repo's
// internal/ota.Manager pattern of validating a frame's integrity before
// trusting its contents, with CRC-16/CCITT-FALSE swapped in for the
// firmware-image CRC-32 the teacher uses.
package timer

import (
	"encoding/binary"
	"fmt"

	"github.com/ganlink/ganble/internal/crc16"
	"github.com/ganlink/ganble/internal/event"
)

// stateMagic is the required first byte of every state-characteristic
// frame.
const stateMagic = 0xFE

// Minimum frame length: 2-byte prefix + 1 reserved body byte + 1 state
// byte + 2-byte CRC.
const minFrameLen = 6

// stoppedFrameLen is the minimum length a STOPPED frame must reach to
// carry its 4-byte recorded time.
const stoppedFrameLen = 10

// Driver is the timer protocol driver. The timer has no user-facing
// commands of its own (REQUEST_FACELETS/HARDWARE/BATTERY/RESET don't
// apply), so EncodeCommand always yields no wire message.
type Driver struct{}

// New returns a fresh timer driver.
func New() *Driver { return &Driver{} }

// EncodeCommand is a no-op: the timer accepts no commands.
func (d *Driver) EncodeCommand(cmd event.Command) ([]byte, error) {
	return nil, nil
}

// HandleStateFrame decodes one timer state-characteristic notification.
// Any structural or CRC failure silently drops the frame rather than
// disturbing session state.
func (d *Driver) HandleStateFrame(frame []byte) ([]event.Event, error) {
	if len(frame) < minFrameLen || frame[0] != stateMagic {
		return nil, nil
	}

	body := frame[2 : len(frame)-2]
	wantCRC := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	if crc16.Checksum(body) != wantCRC {
		return nil, nil
	}

	state := event.TimerState(frame[3])
	ev := event.Timer{State: state}

	if state == event.TimerStopped {
		if len(frame) < stoppedFrameLen {
			return nil, nil
		}
		ev.RecordedTime = event.RecordedTime{
			Min: int(frame[4]),
			Sec: int(frame[5]),
			Ms:  int(binary.LittleEndian.Uint16(frame[6:8])),
		}
	}

	return []event.Event{{Timer: &ev}}, nil
}

// DecodeRecordedTimes parses the 16-byte blob returned by a read of the
// timer's time characteristic into (display, prev1, prev2, prev3), each
// a 4-byte (min, sec, ms-LE16) record.
func DecodeRecordedTimes(blob []byte) ([4]event.RecordedTime, error) {
	var out [4]event.RecordedTime
	if len(blob) != 16 {
		return out, fmt.Errorf("timer: recorded-times blob must be 16 bytes, got %d", len(blob))
	}
	for i := 0; i < 4; i++ {
		base := i * 4
		out[i] = event.RecordedTime{
			Min: int(blob[base]),
			Sec: int(blob[base+1]),
			Ms:  int(binary.LittleEndian.Uint16(blob[base+2 : base+4])),
		}
	}
	return out, nil
}
