package event

import "testing"

func TestNotation(t *testing.T) {
	cases := []struct {
		face Face
		dir  Direction
		want string
	}{
		{FaceF, DirCW, "F "},
		{FaceR, DirCCW, "R'"},
		{FaceU, DirCW, "U "},
	}
	for _, c := range cases {
		if got := Notation(c.face, c.dir); got != c.want {
			t.Errorf("Notation(%v,%v) = %q, want %q", c.face, c.dir, got, c.want)
		}
	}
}

func TestRecordedTimeAsTimestamp(t *testing.T) {
	rt := RecordedTime{Min: 0, Sec: 12, Ms: 100}
	if got := rt.AsTimestamp(); got != 12100 {
		t.Fatalf("AsTimestamp() = %d, want 12100", got)
	}
}

func TestMoveHistoryCommandRoundTrip(t *testing.T) {
	cmd := NewMoveHistoryCommand(7, 4)
	serial, count, ok := cmd.MoveHistoryParams()
	if !ok || serial != 7 || count != 4 {
		t.Fatalf("MoveHistoryParams() = (%d, %d, %v), want (7, 4, true)", serial, count, ok)
	}

	other := Command{Kind: CmdRequestBattery}
	if _, _, ok := other.MoveHistoryParams(); ok {
		t.Fatal("MoveHistoryParams() on a non-history command should return ok=false")
	}
}

func TestSinkFunc(t *testing.T) {
	var got Event
	var sink Sink = SinkFunc(func(e Event) { got = e })
	sink.Emit(Event{Battery: &Battery{Percent: 42}})
	if got.Battery == nil || got.Battery.Percent != 42 {
		t.Fatalf("SinkFunc did not deliver event: %+v", got)
	}
}
