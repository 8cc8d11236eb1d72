// Package aescbc implements the overlapping-chunk AES-128-CBC envelope
// every GAN smart-cube protocol generation (Gen2/Gen3/Gen4) uses to pack
// variable-length frames into a block cipher. It is the cube-frame
// analogue of the teacher repo's internal/lora/crypto.go per-device AEAD
// envelope: same "derive an effective key from a device-specific salt,
// then wrap/unwrap a frame" shape, different (legacy, device-mandated)
// cipher construction.
package aescbc

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

const (
	// KeySize and IVSize are both one AES-128 block.
	KeySize = 16
	IVSize  = 16
	// SaltSize is the length of the MAC-derived salt folded into the
	// key and IV. Reverse byte order of the device MAC, per spec.
	SaltSize = 6

	// saltModulus is intentionally 255, not 256 — a firmware quirk
	// preserved exactly rather than "fixed", since every real device
	// salts its key/iv the same (slightly) lossy way.
	saltModulus = 255
)

// Envelope holds the salted, per-connection effective key and IV derived
// from the device's two fixed (key, iv) constants and its MAC-derived
// salt.
type Envelope struct {
	key [KeySize]byte
	iv  [IVSize]byte
}

// New derives the effective key/IV from the given base key, base iv, and
// salt, and returns an Envelope ready to Encrypt/Decrypt frames.
func New(key [KeySize]byte, iv [IVSize]byte, salt [SaltSize]byte) *Envelope {
	e := &Envelope{key: key, iv: iv}
	for i := 0; i < SaltSize; i++ {
		e.key[i] = byte((int(e.key[i]) + int(salt[i])) % saltModulus)
		e.iv[i] = byte((int(e.iv[i]) + int(salt[i])) % saltModulus)
	}
	return e
}

// Encrypt returns a copy of buf with its head chunk (and, for buf longer
// than one block, its tail chunk) AES-128-CBC-encrypted under the
// envelope's effective key/IV. buf must be at least 16 bytes.
//
// The two chunks are encrypted in place and in order (head, then tail):
// for frames between 17 and 31 bytes the chunks overlap, so the tail
// encryption step operates on bytes that already include the head's
// freshly-written ciphertext in the overlapping region. Decrypt reverses
// this exactly by undoing the chunks in the opposite order.
func (e *Envelope) Encrypt(buf []byte) ([]byte, error) {
	if len(buf) < KeySize {
		return nil, fmt.Errorf("aescbc: frame too short to encrypt: %d bytes", len(buf))
	}
	out := append([]byte(nil), buf...)
	if err := e.cryptChunk(out, 0, true); err != nil {
		return nil, err
	}
	if len(out) > KeySize {
		if err := e.cryptChunk(out, len(out)-KeySize, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Decrypt reverses Encrypt: the tail chunk is decrypted first, then the
// head chunk, undoing the overlap in the order it was created.
func (e *Envelope) Decrypt(buf []byte) ([]byte, error) {
	if len(buf) < KeySize {
		return nil, fmt.Errorf("aescbc: frame too short to decrypt: %d bytes", len(buf))
	}
	out := append([]byte(nil), buf...)
	if len(out) > KeySize {
		if err := e.cryptChunk(out, len(out)-KeySize, false); err != nil {
			return nil, err
		}
	}
	if err := e.cryptChunk(out, 0, false); err != nil {
		return nil, err
	}
	return out, nil
}

// cryptChunk en/decrypts the 16-byte chunk of buf at offset, in place,
// using a fresh single-block AES-128-CBC pass under the envelope's
// effective key/IV.
func (e *Envelope) cryptChunk(buf []byte, offset int, encrypt bool) error {
	block, err := aes.NewCipher(e.key[:])
	if err != nil {
		return fmt.Errorf("aescbc: new cipher: %w", err)
	}
	chunk := buf[offset : offset+KeySize]
	if encrypt {
		cipher.NewCBCEncrypter(block, e.iv[:]).CryptBlocks(chunk, chunk)
	} else {
		cipher.NewCBCDecrypter(block, e.iv[:]).CryptBlocks(chunk, chunk)
	}
	return nil
}
