// Package bitview reads arbitrary-length bit words out of a fixed byte
// buffer. Cube frames pack fields that are not byte-aligned (a 4-bit face
// code followed by a 1-bit direction, repeated five bits apart) alongside
// fields that are byte-aligned but whose byte order within the field is
// reversed relative to the rest of the frame. View replicates both.
package bitview

import "fmt"

// View is a read-only bit-addressable window over a byte buffer. Bit 0 is
// the most significant bit of buf[0]; bit indices increase toward the end
// of the buffer.
type View struct {
	buf []byte
}

// New wraps buf for bit-addressed reads. The buffer is not copied; callers
// must not mutate it while the View is in use.
func New(buf []byte) *View {
	return &View{buf: buf}
}

// Len returns the number of addressable bits in the buffer.
func (v *View) Len() int {
	return len(v.buf) * 8
}

func (v *View) bit(i int) uint32 {
	byteIdx := i / 8
	bitInByte := 7 - uint(i%8)
	return uint32(v.buf[byteIdx]>>bitInByte) & 1
}

// bits extracts an up-to-8-bit big-endian-within-byte value starting at
// bit offset start.
func (v *View) bits(start, length int) uint32 {
	var val uint32
	for i := 0; i < length; i++ {
		val = (val << 1) | v.bit(start+i)
	}
	return val
}

// BitWord reads a bit-aligned word of the given length starting at
// startBit. length must be 1..8, 16, or 32 — anything else is a
// programming error in the calling driver, not bad external input, and
// panics per this package's contract.
//
// For length in {16, 32}, eight bits are extracted at startBit+8*i for
// i in 0..length/8-1 into successive bytes of a scratch word, which is
// then interpreted as big-endian (default) or little-endian according to
// littleEndian. This is the byte-order-reversal path: the field is
// byte-aligned, but its constituent bytes may be transmitted in reverse
// order.
func (v *View) BitWord(startBit, length int, littleEndian bool) uint32 {
	switch {
	case length >= 1 && length <= 8:
		return v.bits(startBit, length)
	case length == 16 || length == 32:
		nbytes := length / 8
		scratch := make([]byte, nbytes)
		for i := 0; i < nbytes; i++ {
			scratch[i] = byte(v.bits(startBit+8*i, 8))
		}
		if littleEndian {
			for l, r := 0, nbytes-1; l < r; l, r = l+1, r-1 {
				scratch[l], scratch[r] = scratch[r], scratch[l]
			}
		}
		var val uint32
		for _, b := range scratch {
			val = (val << 8) | uint32(b)
		}
		return val
	default:
		panic(fmt.Sprintf("bitview: invalid bit length %d (must be 1..8, 16, or 32)", length))
	}
}

// Bytes returns the raw buffer this View was constructed over.
func (v *View) Bytes() []byte {
	return v.buf
}
