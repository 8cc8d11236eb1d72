package reconcile

import (
	"context"
	"testing"

	"github.com/ganlink/ganble/internal/event"
)

type fakeTransport struct {
	writes        [][]byte
	disconnected  bool
	disconnectErr error
}

func (f *fakeTransport) Write(ctx context.Context, payload []byte) error {
	f.writes = append(f.writes, payload)
	return nil
}
func (f *fakeTransport) Notifications() <-chan []byte { return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return f.disconnectErr
}
func (f *fakeTransport) OnDisconnect(fn func()) {}

type fakeEncoder struct{}

func (fakeEncoder) EncodeCommand(cmd event.Command) ([]byte, error) {
	serial, count, _ := cmd.MoveHistoryParams()
	return []byte{serial, byte(count)}, nil
}

func move(serial uint8) event.Move {
	ts := int64(1000) + int64(serial)
	return event.Move{Serial: serial, HostTs: &ts}
}

func TestReconcilerOrderingAcrossPermutations(t *testing.T) {
	// Deliver serials 5..8 in several arrival orders (appended straight to
	// the buffer, no gaps) and confirm eviction only ever proceeds in
	// strict ascending order with no event emitted out of turn.
	serials := []uint8{5, 6, 7, 8}
	orders := [][]int{
		{0, 1, 2, 3},
		{3, 2, 1, 0},
		{0, 2, 1, 3},
		{1, 0, 3, 2},
	}

	for _, order := range orders {
		r := New(fakeEncoder{}, nil)
		// Prime last_serial so 5 is recognized as the next expected serial.
		r.lastSerial = 4

		var emitted []uint8
		ctx := context.Background()

		// Feed moves in the given arrival order; any move that can't
		// evict yet just sits in the buffer (simulated here by directly
		// appending out of order then running evict once all are in,
		// since OnRealtimeMove evicts immediately and our fake transport
		// has no history path wired for this ordering test).
		for _, idx := range order {
			r.buffer = append(r.buffer, move(serials[idx]))
		}
		emitted = append(emitted, evictAll(r, ctx)...)

		if len(emitted) != len(serials) {
			t.Fatalf("order %v: emitted %d moves, want %d", order, len(emitted), len(serials))
		}
		for i, s := range emitted {
			if s != serials[i] {
				t.Fatalf("order %v: emitted[%d] = %d, want %d", order, i, s, serials[i])
			}
		}
	}
}

// evictAll sorts the buffer once to simulate eventual arrival, then runs
// the reconciler's eviction loop once (this exercises the
// contiguous-eviction logic directly, not arrival timing).
func evictAll(r *MoveReconciler, ctx context.Context) []uint8 {
	// Sort the buffer by serial distance from last_serial so evict() can
	// walk it in order, mirroring how Inject would have assembled it.
	for i := 0; i < len(r.buffer); i++ {
		for j := i + 1; j < len(r.buffer); j++ {
			di := mod256Dist(r.lastSerial, int(r.buffer[i].Serial))
			dj := mod256Dist(r.lastSerial, int(r.buffer[j].Serial))
			if dj < di {
				r.buffer[i], r.buffer[j] = r.buffer[j], r.buffer[i]
			}
		}
	}
	var out []uint8
	for _, m := range r.evict(ctx) {
		out = append(out, m.Serial)
	}
	return out
}

func TestReconcilerGapTriggersHistoryRequest(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	r := New(fakeEncoder{}, transport)
	r.lastSerial = 4

	r.OnRealtimeMove(ctx, move(7)) // gap: diff = 3

	if r.BufferLen() != 1 {
		t.Fatalf("buffer len = %d, want 1 (move held pending history)", r.BufferLen())
	}
	if len(transport.writes) != 1 {
		t.Fatalf("history requests sent = %d, want 1", len(transport.writes))
	}
}

func TestReconcilerLostMoveRecovery(t *testing.T) {
	// Arrival: serial 5, serial 8, then a history response covering 6,7
	// (delivered newest-first: 7 then 6). Expect ascending eviction 5..8.
	ctx := context.Background()
	transport := &fakeTransport{}
	r := New(fakeEncoder{}, transport)
	r.lastSerial = 4

	got5 := r.OnRealtimeMove(ctx, move(5))
	if len(got5) != 1 || got5[0].Serial != 5 {
		t.Fatalf("expected serial 5 emitted immediately, got %+v", got5)
	}

	got8 := r.OnRealtimeMove(ctx, move(8)) // gap, buffered + history requested
	if len(got8) != 0 {
		t.Fatalf("serial 8 should not evict yet, got %+v", got8)
	}

	r.Inject(event.Move{Serial: 7})
	r.Inject(event.Move{Serial: 6})

	emitted := r.evict(ctx)
	var serials []uint8
	for _, m := range emitted {
		serials = append(serials, m.Serial)
	}
	want := []uint8{6, 7, 8}
	if len(serials) != len(want) {
		t.Fatalf("emitted %v, want %v", serials, want)
	}
	for i := range want {
		if serials[i] != want[i] {
			t.Fatalf("emitted %v, want %v", serials, want)
		}
	}
}

func TestReconcilerBufferOverflowDisconnects(t *testing.T) {
	ctx := context.Background()
	transport := &fakeTransport{}
	r := New(fakeEncoder{}, transport)
	r.lastSerial = 4

	// A 2-serial gap at the head (expecting 5, got 7) followed by 16 more
	// moves that can never evict without the missing history: buffer
	// should exceed 16 and trigger a disconnect.
	r.OnRealtimeMove(ctx, move(7))
	for s := 9; s < 9+16; s++ {
		r.OnRealtimeMove(ctx, move(uint8(s)))
	}

	if !transport.disconnected {
		t.Fatal("expected transport.Disconnect to be invoked on buffer overflow")
	}
}
