package session

import (
	"context"

	"github.com/ganlink/ganble/internal/aescbc"
	"github.com/ganlink/ganble/internal/event"
)

// envelopeTransport wraps a raw event.Transport so that every Write is
// transparently AES-envelope-encrypted before it reaches the device.
// Both a Session's own SendCommand writes and a gen3/gen4 Driver's
// internal MoveReconciler history-request writes go through this same
// wrapper, so neither has to know encryption exists.
//
// Notifications are deliberately passed through undecrypted: framing and
// decryption of inbound data happens once, in Session.handleFrame, so a
// Driver's HandleStateFrame always receives plaintext regardless of which
// protocol generation is in play.
type envelopeTransport struct {
	raw      event.Transport
	envelope *aescbc.Envelope
}

func newEnvelopeTransport(raw event.Transport, envelope *aescbc.Envelope) *envelopeTransport {
	return &envelopeTransport{raw: raw, envelope: envelope}
}

func (t *envelopeTransport) Write(ctx context.Context, payload []byte) error {
	encrypted, err := t.envelope.Encrypt(payload)
	if err != nil {
		return err
	}
	return t.raw.Write(ctx, encrypted)
}

func (t *envelopeTransport) Notifications() <-chan []byte { return t.raw.Notifications() }

func (t *envelopeTransport) Disconnect(ctx context.Context) error { return t.raw.Disconnect(ctx) }

func (t *envelopeTransport) OnDisconnect(fn func()) { t.raw.OnDisconnect(fn) }
