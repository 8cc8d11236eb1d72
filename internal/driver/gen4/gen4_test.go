package gen4

import (
	"context"
	"testing"
	"time"

	"github.com/ganlink/ganble/internal/event"
)

func setBits(buf []byte, start, length int, value uint32) {
	for i := 0; i < length; i++ {
		bitIdx := start + i
		bitVal := (value >> uint(length-1-i)) & 1
		byteIdx := bitIdx / 8
		bitInByte := 7 - uint(bitIdx%8)
		if bitVal == 1 {
			buf[byteIdx] |= 1 << bitInByte
		} else {
			buf[byteIdx] &^= 1 << bitInByte
		}
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakeTransport struct{}

func (fakeTransport) Write(ctx context.Context, payload []byte) error { return nil }
func (fakeTransport) Notifications() <-chan []byte                   { return nil }
func (fakeTransport) Disconnect(ctx context.Context) error           { return nil }
func (fakeTransport) OnDisconnect(fn func())                         {}

func buildHWNameFrame(name string) []byte {
	buf := make([]byte, 12)
	setBits(buf, 0, 8, evTypeHWName)
	for i := 0; i < 8 && i < len(name); i++ {
		setBits(buf, 8+8*i, 8, uint32(name[i]))
	}
	return buf
}

func buildHWDateFrame(year, month, day int) []byte {
	buf := make([]byte, 8)
	setBits(buf, 0, 8, evTypeHWDate)
	setBits(buf, 8, 16, uint32(year))
	setBits(buf, 24, 8, uint32(month))
	setBits(buf, 32, 8, uint32(day))
	return buf
}

func buildHWVersionFrame(evType uint32, major, minor uint8) []byte {
	buf := make([]byte, 4)
	setBits(buf, 0, 8, evType)
	setBits(buf, 8, 8, uint32(major))
	setBits(buf, 16, 8, uint32(minor))
	return buf
}

func TestGen4HardwareAggregation(t *testing.T) {
	d := New(fakeTransport{}, fixedClock(time.Unix(1700000000, 0)))

	frames := []struct {
		name string
		data []byte
	}{
		{"name", buildHWNameFrame("GAN12uiM")},
		{"date", buildHWDateFrame(2024, 3, 15)},
		{"hw", buildHWVersionFrame(evTypeHWHardware, 1, 2)},
		{"sw", buildHWVersionFrame(evTypeHWSoftware, 3, 4)},
	}

	var last []event.Event
	for i, f := range frames {
		events, err := d.HandleStateFrame(f.data)
		if err != nil {
			t.Fatalf("frame %s: %v", f.name, err)
		}
		if i < len(frames)-1 {
			if len(events) != 0 {
				t.Fatalf("frame %s: expected no event yet, got %+v", f.name, events)
			}
			continue
		}
		last = append(last, events...)
	}

	if len(last) != 1 || last[0].Hardware == nil {
		t.Fatalf("expected exactly one HARDWARE event after the fourth sub-frame, got %+v", last)
	}
	hw := last[0].Hardware
	if hw.Name != "GAN12uiM" {
		t.Fatalf("Name = %q, want GAN12uiM", hw.Name)
	}
	if !hw.GyroSupported {
		t.Fatal("GyroSupported should be true for name GAN12uiM")
	}
	if hw.ProductionDate != "2024-03-15" {
		t.Fatalf("ProductionDate = %q, want 2024-03-15", hw.ProductionDate)
	}
	if hw.HardwareMajor != 1 || hw.HardwareMinor != 2 {
		t.Fatalf("hw version = %d.%d, want 1.2", hw.HardwareMajor, hw.HardwareMinor)
	}
	if hw.SoftwareMajor != 3 || hw.SoftwareMinor != 4 {
		t.Fatalf("sw version = %d.%d, want 3.4", hw.SoftwareMajor, hw.SoftwareMinor)
	}
}

func TestGen4HardwareGyroUnsupportedForOtherNames(t *testing.T) {
	d := New(fakeTransport{}, fixedClock(time.Unix(1700000000, 0)))
	var last []event.Event
	for _, f := range [][]byte{
		buildHWNameFrame("GAN356iC"),
		buildHWDateFrame(2024, 1, 1),
		buildHWVersionFrame(evTypeHWHardware, 1, 0),
		buildHWVersionFrame(evTypeHWSoftware, 1, 0),
	} {
		last, _ = d.HandleStateFrame(f)
	}
	if len(last) != 1 || last[0].Hardware == nil {
		t.Fatalf("expected one HARDWARE event after the fourth sub-frame, got %+v", last)
	}
	if last[0].Hardware.GyroSupported {
		t.Fatal("GyroSupported should be false for name GAN356iC")
	}
	if d.hw.complete() {
		t.Fatal("hw_info_partial should reset after the HARDWARE event fired")
	}
}

func TestGen4EncodeResetCommand(t *testing.T) {
	d := New(fakeTransport{}, fixedClock(time.Unix(1700000000, 0)))
	buf, err := d.EncodeCommand(event.Command{Kind: event.CmdRequestReset})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if buf[0] != cmdReset {
		t.Fatalf("buf[0] = 0x%02X, want cmdReset 0x%02X", buf[0], cmdReset)
	}
}

// TestGen4EncodeHistoryRequestDoesNotCollideWithReset pins down that the
// internal move-history request MoveReconciler issues and a user-issued
// reset command are distinguishable on the wire: both are full-opcode
// 20-byte frames with no shared prefix byte, so they must not share
// buf[0], or a real cube would be unable to tell them apart.
func TestGen4EncodeHistoryRequestDoesNotCollideWithReset(t *testing.T) {
	d := New(fakeTransport{}, fixedClock(time.Unix(1700000000, 0)))

	historyBuf, err := d.EncodeCommand(event.NewMoveHistoryCommand(5, 3))
	if err != nil {
		t.Fatalf("EncodeCommand(history): %v", err)
	}
	if historyBuf[0] != cmdHistoryRequest {
		t.Fatalf("historyBuf[0] = 0x%02X, want cmdHistoryRequest 0x%02X", historyBuf[0], cmdHistoryRequest)
	}
	if historyBuf[1] != 5 || historyBuf[2] != 3 {
		t.Fatalf("historyBuf = %X, want serial=5 count=3 at bytes 1-2", historyBuf)
	}

	resetBuf, err := d.EncodeCommand(event.Command{Kind: event.CmdRequestReset})
	if err != nil {
		t.Fatalf("EncodeCommand(reset): %v", err)
	}

	if historyBuf[0] == resetBuf[0] {
		t.Fatalf("history-request and reset share opcode 0x%02X", historyBuf[0])
	}
}
