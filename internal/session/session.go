// Package session is the glue component every driver plugs into: a
// Transport, an optional AES envelope (cube generations) or none (timer,
// which CRC-checks itself), a Driver, an event.Sink, and the optional
// storage/bus mirrors. It generalizes the five-way wiring the teacher
// repo's internal/engine.Engine does for LoRa+cloud+storage+OTA to the
// GAN protocol's Transport+Envelope+Driver+Sink+storage/bus shape, using
// errgroup in place of the teacher's sync.WaitGroup+stopChan pair as the
// idiomatic realization of spec.md's "single cooperative executor".
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ganlink/ganble/internal/aescbc"
	"github.com/ganlink/ganble/internal/bus"
	"github.com/ganlink/ganble/internal/driver"
	"github.com/ganlink/ganble/internal/driver/gen2"
	"github.com/ganlink/ganble/internal/driver/gen3"
	"github.com/ganlink/ganble/internal/driver/gen4"
	"github.com/ganlink/ganble/internal/event"
	"github.com/ganlink/ganble/internal/ganconfig"
	"github.com/ganlink/ganble/internal/storage"
	"github.com/ganlink/ganble/internal/timer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Config describes one Session's identity and optional side effects.
type Config struct {
	DeviceName string
	DeviceMAC  string // "AA:BB:CC:DD:EE:FF", used to derive the AES salt
	Service    string // GATT service UUID, resolved via ganconfig.DriverForService

	Store     *storage.Store // optional: persisted event log
	Publisher *bus.Publisher // optional: ZMQ mirror
}

// Session owns one Transport, one envelope, one Driver, and the sink
// events are delivered to. Construction picks the driver and envelope via
// ganconfig.DriverForService; Run drives the notification-drain and
// command-writer loops until Disconnect or a driver-signaled DISCONNECT.
type Session struct {
	id       string
	cfg      Config
	kind     ganconfig.ProtocolKind
	raw      event.Transport
	writable event.Transport // raw, or an AES-encrypting wrapper over raw
	drv      driver.Driver
	sink     event.Sink

	cmdCh          chan event.Command
	seq            uint64
	disconnectOnce sync.Once
}

// New resolves cfg.Service to a protocol generation, constructs the
// matching driver and envelope, and returns a Session ready for Run.
// transport must already be connected: New performs no discovery/pairing.
func New(cfg Config, transport event.Transport, sink event.Sink) (*Session, error) {
	kind, ok := ganconfig.DriverForService(cfg.Service)
	if !ok {
		return nil, fmt.Errorf("session: unrecognized GATT service %q", cfg.Service)
	}
	profile, err := ganconfig.Profile(kind)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:    uuid.NewString(),
		cfg:   cfg,
		kind:  kind,
		raw:   transport,
		sink:  sink,
		cmdCh: make(chan event.Command, 16),
	}

	switch kind {
	case ganconfig.ProtocolGen2, ganconfig.ProtocolGen3, ganconfig.ProtocolGen4:
		salt, err := ganconfig.Salt(cfg.DeviceMAC)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		key, iv := profile.KeyIV()
		env := aescbc.New(key, iv, salt)
		s.writable = newEnvelopeTransport(transport, env)

		switch kind {
		case ganconfig.ProtocolGen2:
			s.drv = gen2.New(nil)
		case ganconfig.ProtocolGen3:
			s.drv = gen3.New(s.writable, nil)
		case ganconfig.ProtocolGen4:
			s.drv = gen4.New(s.writable, nil)
		}
	case ganconfig.ProtocolTimer:
		s.writable = transport
		s.drv = timer.New()
	}

	transport.OnDisconnect(s.handleUnexpectedDisconnect)
	return s, nil
}

// ID returns this session's correlation id, used in the storage and bus
// envelopes.
func (s *Session) ID() string { return s.id }

// Run starts the notification-drain and command-writer loops and blocks
// until both have returned (on ctx cancellation, a driver-signaled
// DISCONNECT, or Disconnect being called).
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Store != nil {
		if err := s.cfg.Store.CreateSession(&storage.SessionRecord{
			ID: s.id, DeviceName: s.cfg.DeviceName, DeviceMAC: s.cfg.DeviceMAC,
			ProtocolGeneration: s.kind.String(), StartedAt: time.Now(),
		}); err != nil {
			log.Printf("session %s: record create failed: %v", s.id, err)
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.drainLoop(ctx) })
	eg.Go(func() error { return s.commandLoop(ctx) })

	err := eg.Wait()

	if s.cfg.Store != nil {
		if closeErr := s.cfg.Store.CloseSession(s.id, time.Now()); closeErr != nil {
			log.Printf("session %s: record close failed: %v", s.id, closeErr)
		}
	}
	return err
}

// SendCommand encodes and writes a user-facing command. It does not block
// on the transport write completing; ctx governs enqueueing only.
func (s *Session) SendCommand(ctx context.Context, cmd event.Command) error {
	select {
	case s.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect runs the spec's disconnect sequence: emit a DISCONNECT
// event, close the sink, stop the command loop, then tear down the
// transport. Idempotent; a spurious transport-level disconnect
// (handleUnexpectedDisconnect) and a driver-decoded DISCONNECT frame
// (handleFrame) both funnel through teardown so every trigger runs
// exactly the same sequence, exactly once.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.teardown(ctx, event.Event{Disconnect: &event.Disconnect{}})
}

func (s *Session) teardown(ctx context.Context, disconnectEv event.Event) error {
	var err error
	s.disconnectOnce.Do(func() {
		s.emit(ctx, disconnectEv)
		if closeErr := s.sink.Close(); closeErr != nil {
			log.Printf("session %s: sink close failed: %v", s.id, closeErr)
		}
		close(s.cmdCh)
		err = s.raw.Disconnect(ctx)
	})
	return err
}

func (s *Session) drainLoop(ctx context.Context) error {
	for {
		select {
		case frame, ok := <-s.raw.Notifications():
			if !ok {
				return nil
			}
			s.handleFrame(ctx, frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	decoded := frame
	if env, ok := s.writable.(*envelopeTransport); ok {
		plain, err := env.envelope.Decrypt(frame)
		if err != nil {
			log.Printf("session %s: frame decrypt failed, dropping: %v", s.id, err)
			return
		}
		decoded = plain
	}

	events, err := s.drv.HandleStateFrame(decoded)
	if err != nil {
		log.Printf("session %s: frame rejected: %v", s.id, err)
		return
	}
	for _, ev := range events {
		if ev.Disconnect != nil {
			log.Printf("session %s: protocol signaled disconnect", s.id)
			if err := s.teardown(ctx, ev); err != nil {
				log.Printf("session %s: disconnect failed: %v", s.id, err)
			}
			return
		}
		s.emit(ctx, ev)
	}
}

func (s *Session) emit(ctx context.Context, ev event.Event) {
	s.sink.Emit(ev)
	s.seq++

	if s.cfg.Store != nil {
		s.persist(ev)
	}
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(s.id, s.seq, ev)
	}
}

func (s *Session) persist(ev event.Event) {
	now := time.Now()
	var err error
	switch {
	case ev.Move != nil:
		_, err = s.cfg.Store.InsertMove(&storage.MoveRecord{
			SessionID: s.id, Serial: ev.Move.Serial, Notation: ev.Move.Notation(),
			HostTs: ev.Move.HostTs, CubeTs: ev.Move.CubeTs, Timestamp: now,
		})
	case ev.Facelet != nil:
		_, err = s.cfg.Store.InsertFacelet(&storage.FaceletRecord{
			SessionID: s.id, Serial: ev.Facelet.Serial, Facelets: ev.Facelet.Facelets, Timestamp: now,
		})
	case ev.Hardware != nil:
		_, err = s.cfg.Store.InsertHardware(&storage.HardwareRecord{
			SessionID: s.id, Name: ev.Hardware.Name,
			HardwareVer:    fmt.Sprintf("%d.%d", ev.Hardware.HardwareMajor, ev.Hardware.HardwareMinor),
			SoftwareVer:    fmt.Sprintf("%d.%d", ev.Hardware.SoftwareMajor, ev.Hardware.SoftwareMinor),
			ProductionDate: ev.Hardware.ProductionDate, GyroSupported: ev.Hardware.GyroSupported, Timestamp: now,
		})
	case ev.Timer != nil:
		_, err = s.cfg.Store.InsertTimerEvent(&storage.TimerEventRecord{
			SessionID: s.id, State: uint8(ev.Timer.State),
			RecordedTimeMs: ev.Timer.RecordedTime.AsTimestamp(), Timestamp: now,
		})
	}
	if err != nil {
		log.Printf("session %s: persist failed: %v", s.id, err)
	}
}

func (s *Session) commandLoop(ctx context.Context) error {
	for {
		select {
		case cmd, ok := <-s.cmdCh:
			if !ok {
				return nil
			}
			payload, err := s.drv.EncodeCommand(cmd)
			if err != nil {
				log.Printf("session %s: encode command failed: %v", s.id, err)
				continue
			}
			if payload == nil {
				continue
			}
			if err := s.writable.Write(ctx, payload); err != nil {
				log.Printf("session %s: write command failed: %v", s.id, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleUnexpectedDisconnect is registered with the transport's
// OnDisconnect hook and fires for any non-caller-initiated disconnect
// (e.g. a raw BLE link drop the timer protocol has no wire-level frame
// for). It funnels through the same teardown every other disconnect
// trigger uses, so a spurious transport-level disconnect "triggers the
// same sequence" as a caller-initiated one.
func (s *Session) handleUnexpectedDisconnect() {
	if err := s.teardown(context.Background(), event.Event{Disconnect: &event.Disconnect{}}); err != nil {
		log.Printf("session %s: disconnect after unexpected transport loss: %v", s.id, err)
	}
}
