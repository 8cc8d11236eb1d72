// Package ganconfig is the constant table every GAN device identity is
// resolved through: GATT service/characteristic UUIDs per protocol
// generation, the two fixed AES key/iv pairs the firmware ships with, and
// the MAC-to-salt derivation the envelope needs. It plays the role the
// teacher repo's internal/lora/crypto.go SecretSalt/key-derivation
// constants play, generalized from one shared secret to a small
// per-generation table.
package ganconfig

import (
	"fmt"

	"github.com/ganlink/ganble/internal/aescbc"
)

// ProtocolKind identifies which driver a connected device speaks.
type ProtocolKind uint8

const (
	ProtocolGen2 ProtocolKind = iota
	ProtocolGen3
	ProtocolGen4
	ProtocolTimer
)

func (k ProtocolKind) String() string {
	switch k {
	case ProtocolGen2:
		return "gen2"
	case ProtocolGen3:
		return "gen3"
	case ProtocolGen4:
		return "gen4"
	case ProtocolTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// serviceUUID is a device's advertised GATT service UUID, as reported by
// the Transport's discovery step. The core treats it as an opaque key
// into this table.
type serviceUUID = string

// deviceProfile pairs a protocol's GATT UUIDs with the key/iv pair its
// firmware encrypts frames under. Timer profiles have no key/iv: the
// timer path uses the CRC-16 envelope, not AES.
type deviceProfile struct {
	kind           ProtocolKind
	service        serviceUUID
	commandChar    string
	stateChar      string
	timeChar       string // non-empty only for the timer profile
	key            [aescbc.KeySize]byte
	iv             [aescbc.IVSize]byte
}

// Two fixed (key, iv) pairs the GAN firmware ships with, one for the
// Gen2/Gen3 family and one Gen4 introduced. WARNING: these must match the
// values the firmware's manufacturing image was flashed with — changing
// them here does not change what a real cube accepts.
var (
	keyV1 = [aescbc.KeySize]byte{
		0x01, 0x02, 0x42, 0x28, 0x31, 0x91, 0x16, 0x07,
		0x20, 0x05, 0x18, 0x54, 0x42, 0x11, 0x12, 0x53,
	}
	ivV1 = [aescbc.IVSize]byte{
		0x01, 0x44, 0x28, 0x06, 0x86, 0x21, 0x22, 0x28,
		0x51, 0x05, 0x08, 0x31, 0x82, 0x63, 0x80, 0x68,
	}

	keyV2 = [aescbc.KeySize]byte{
		0x05, 0x12, 0x72, 0x58, 0x21, 0x11, 0x06, 0x47,
		0x30, 0x35, 0x38, 0x24, 0x62, 0x41, 0x52, 0x23,
	}
	ivV2 = [aescbc.IVSize]byte{
		0x11, 0x24, 0x08, 0x16, 0x26, 0x31, 0x42, 0x38,
		0x11, 0x15, 0x18, 0x41, 0x12, 0x03, 0x40, 0x18,
	}
)

// profiles is the dispatch table: one entry per protocol generation.
var profiles = []deviceProfile{
	{
		kind:        ProtocolGen2,
		service:     "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		commandChar: "28be4cb6-cd67-11e9-a32f-2a2ae2dbcce4",
		stateChar:   "28be4a4a-cd67-11e9-a32f-2a2ae2dbcce4",
		key:         keyV1,
		iv:          ivV1,
	},
	{
		kind:        ProtocolGen3,
		service:     "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		commandChar: "28be4cb6-cd67-11e9-a32f-2a2ae2dbcce4",
		stateChar:   "28be4a4a-cd67-11e9-a32f-2a2ae2dbcce4",
		key:         keyV1,
		iv:          ivV1,
	},
	{
		kind:        ProtocolGen4,
		service:     "8653000a-43e6-47b7-9cb0-5fc21d4ae340",
		commandChar: "8653000c-43e6-47b7-9cb0-5fc21d4ae340",
		stateChar:   "8653000b-43e6-47b7-9cb0-5fc21d4ae340",
		key:         keyV2,
		iv:          ivV2,
	},
	{
		kind:      ProtocolTimer,
		service:   "0000fff0-0000-1000-8000-00805f9b34fb",
		stateChar: "0000fff5-0000-1000-8000-00805f9b34fb",
		timeChar:  "0000fff6-0000-1000-8000-00805f9b34fb",
	},
}

// DriverForService resolves a GATT service UUID to the protocol
// generation it speaks. ok is false for an unrecognized service.
func DriverForService(uuid string) (kind ProtocolKind, ok bool) {
	for _, p := range profiles {
		if p.service == uuid {
			return p.kind, true
		}
	}
	return 0, false
}

// Profile looks up the full device profile for a protocol kind.
func Profile(kind ProtocolKind) (deviceProfile, error) {
	for _, p := range profiles {
		if p.kind == kind {
			return p, nil
		}
	}
	return deviceProfile{}, fmt.Errorf("ganconfig: no profile for protocol kind %v", kind)
}

// CommandCharacteristic returns the profile's command-write characteristic
// UUID.
func (p deviceProfile) CommandCharacteristic() string { return p.commandChar }

// StateCharacteristic returns the profile's state-notify characteristic
// UUID.
func (p deviceProfile) StateCharacteristic() string { return p.stateChar }

// TimeCharacteristic returns the timer's time-blob read characteristic
// UUID. Empty for non-timer profiles.
func (p deviceProfile) TimeCharacteristic() string { return p.timeChar }

// KeyIV returns the profile's fixed AES key/iv pair. Zero-valued for the
// timer profile, which has none.
func (p deviceProfile) KeyIV() (key [aescbc.KeySize]byte, iv [aescbc.IVSize]byte) {
	return p.key, p.iv
}

// Salt derives the envelope salt from a device MAC address given in its
// usual colon-hex "AA:BB:CC:DD:EE:FF" presentation: the six address bytes
// in reverse order.
func Salt(mac string) ([aescbc.SaltSize]byte, error) {
	var salt [aescbc.SaltSize]byte
	var b [aescbc.SaltSize]byte
	n, err := fmt.Sscanf(mac, "%02x:%02x:%02x:%02x:%02x:%02x",
		&b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != aescbc.SaltSize {
		return salt, fmt.Errorf("ganconfig: malformed MAC address %q", mac)
	}
	for i := 0; i < aescbc.SaltSize; i++ {
		salt[i] = b[aescbc.SaltSize-1-i]
	}
	return salt, nil
}
