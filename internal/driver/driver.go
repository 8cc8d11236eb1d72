// Package driver defines the per-generation protocol driver seam. A
// Driver owns all per-connection cube state (serial tracking, timestamp
// accumulation, the move buffer, partial hardware-info) and is created
// fresh per Session — mirroring the teacher repo's internal/lora.Driver
// lifecycle (one Driver instance per radio session, no global state),
// generalized here to dispatch across three wire-incompatible cube
// generations instead of one LoRa radio profile.
package driver

import "github.com/ganlink/ganble/internal/event"

// Driver decodes state-characteristic notification frames into events and
// encodes user commands into command-characteristic frames. Exactly one
// concrete Driver (Gen2/Gen3/Gen4/Timer) is active per Session, chosen by
// the GATT service UUID the device exposes.
type Driver interface {
	// EncodeCommand renders cmd as wire bytes ready for the envelope, or
	// nil for a command kind this driver doesn't support.
	EncodeCommand(cmd event.Command) ([]byte, error)
	// HandleStateFrame decodes one already-decrypted state-characteristic
	// frame into zero or more events, in emission order.
	HandleStateFrame(frame []byte) ([]event.Event, error)
}
