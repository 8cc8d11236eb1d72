package bitview

import (
	"math/rand"
	"testing"
)

// naiveBitWord is a reference implementation that extracts bits one at a
// time regardless of length, used only to property-test the 1..8 path.
func naiveBitWord(buf []byte, start, length int) uint32 {
	var val uint32
	for i := 0; i < length; i++ {
		idx := start + i
		byteIdx := idx / 8
		bitInByte := 7 - uint(idx%8)
		bit := uint32(buf[byteIdx]>>bitInByte) & 1
		val = (val << 1) | bit
	}
	return val
}

func TestBitWordRoundTripSmallLengths(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	buf := make([]byte, 16)
	for trial := 0; trial < 200; trial++ {
		for i := range buf {
			buf[i] = byte(r.Intn(256))
		}
		for length := 1; length <= 8; length++ {
			maxStart := len(buf)*8 - length
			start := r.Intn(maxStart + 1)
			got := New(buf).BitWord(start, length, false)
			want := naiveBitWord(buf, start, length)
			if got != want {
				t.Fatalf("BitWord(%d,%d) = %d, want %d (buf=%x)", start, length, got, want, buf)
			}
		}
	}
}

func TestBitWord16And32ByteOrder(t *testing.T) {
	buf := []byte{0x12, 0x34, 0x56, 0x78}
	v := New(buf)

	if got := v.BitWord(0, 16, false); got != 0x1234 {
		t.Errorf("BE16 = %#x, want 0x1234", got)
	}
	if got := v.BitWord(0, 16, true); got != 0x3412 {
		t.Errorf("LE16 = %#x, want 0x3412", got)
	}
	if got := v.BitWord(0, 32, false); got != 0x12345678 {
		t.Errorf("BE32 = %#x, want 0x12345678", got)
	}
	if got := v.BitWord(0, 32, true); got != 0x78563412 {
		t.Errorf("LE32 = %#x, want 0x78563412", got)
	}
}

func TestBitWordUnalignedWithinByte(t *testing.T) {
	// 0xA5 = 1010 0101
	buf := []byte{0xA5}
	v := New(buf)
	if got := v.BitWord(0, 4, false); got != 0xA {
		t.Errorf("high nibble = %#x, want 0xA", got)
	}
	if got := v.BitWord(4, 4, false); got != 0x5 {
		t.Errorf("low nibble = %#x, want 0x5", got)
	}
	if got := v.BitWord(1, 1, false); got != 0 {
		t.Errorf("bit 1 = %d, want 0", got)
	}
	if got := v.BitWord(2, 1, false); got != 1 {
		t.Errorf("bit 2 = %d, want 1", got)
	}
}

func TestBitWordInvalidLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for invalid bit length")
		}
	}()
	New([]byte{0, 0}).BitWord(0, 9, false)
}
