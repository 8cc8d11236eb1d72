package storage

import (
	"os"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "ganble-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := Open(tmpFile.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)

	sess := &SessionRecord{
		ID:                 "11111111-1111-1111-1111-111111111111",
		DeviceName:         "GAN12ui",
		DeviceMAC:          "AA:BB:CC:DD:EE:FF",
		ProtocolGeneration: "gen4",
		StartedAt:          time.Unix(1700000000, 0).UTC(),
	}
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.CloseSession(sess.ID, time.Unix(1700000100, 0).UTC()); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
}

func TestInsertAndQueryMoves(t *testing.T) {
	store := openTestStore(t)
	sess := &SessionRecord{
		ID:                 "session-moves",
		DeviceName:         "GAN12ui",
		DeviceMAC:          "AA:BB:CC:DD:EE:FF",
		ProtocolGeneration: "gen3",
		StartedAt:          time.Unix(1700000000, 0).UTC(),
	}
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	hostTs := int64(1700000001000)
	cubeTs := int64(1000)
	if _, err := store.InsertMove(&MoveRecord{
		SessionID: sess.ID, Serial: 5, Notation: "F",
		HostTs: &hostTs, CubeTs: &cubeTs, Timestamp: time.Unix(1700000001, 0).UTC(),
	}); err != nil {
		t.Fatalf("InsertMove: %v", err)
	}
	if _, err := store.InsertMove(&MoveRecord{
		SessionID: sess.ID, Serial: 6, Notation: "R'",
		Timestamp: time.Unix(1700000002, 0).UTC(),
	}); err != nil {
		t.Fatalf("InsertMove: %v", err)
	}

	moves, err := store.MovesForSession(sess.ID)
	if err != nil {
		t.Fatalf("MovesForSession: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("len(moves) = %d, want 2", len(moves))
	}
	if moves[0].Serial != 5 || moves[0].HostTs == nil || *moves[0].HostTs != hostTs {
		t.Fatalf("moves[0] = %+v", moves[0])
	}
	if moves[1].Serial != 6 || moves[1].HostTs != nil {
		t.Fatalf("moves[1] = %+v", moves[1])
	}
}

func TestLatestFaceletForSession(t *testing.T) {
	store := openTestStore(t)
	sess := &SessionRecord{
		ID: "session-facelets", DeviceName: "GAN12ui", DeviceMAC: "AA:BB:CC:DD:EE:FF",
		ProtocolGeneration: "gen4", StartedAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if got, err := store.LatestFaceletForSession(sess.ID); err != nil || got != nil {
		t.Fatalf("LatestFaceletForSession on empty session = (%+v, %v), want (nil, nil)", got, err)
	}

	older := "U" + "UUUUUUUURRRRRRRRRFFFFFFFFFDDDDDDDDDLLLLLLLLLBBBBBBBB"
	newer := "D" + "UUUUUUUURRRRRRRRRFFFFFFFFFDDDDDDDDDLLLLLLLLLBBBBBBBB"
	if _, err := store.InsertFacelet(&FaceletRecord{SessionID: sess.ID, Serial: 1, Facelets: older, Timestamp: time.Unix(1700000001, 0).UTC()}); err != nil {
		t.Fatalf("InsertFacelet: %v", err)
	}
	if _, err := store.InsertFacelet(&FaceletRecord{SessionID: sess.ID, Serial: 2, Facelets: newer, Timestamp: time.Unix(1700000002, 0).UTC()}); err != nil {
		t.Fatalf("InsertFacelet: %v", err)
	}

	got, err := store.LatestFaceletForSession(sess.ID)
	if err != nil {
		t.Fatalf("LatestFaceletForSession: %v", err)
	}
	if got == nil || got.Facelets != newer {
		t.Fatalf("LatestFaceletForSession() = %+v, want facelets %q", got, newer)
	}
}

func TestInsertHardwareAndTimerEvent(t *testing.T) {
	store := openTestStore(t)
	sess := &SessionRecord{
		ID: "session-hw", DeviceName: "GAN12ui", DeviceMAC: "AA:BB:CC:DD:EE:FF",
		ProtocolGeneration: "gen4", StartedAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := store.InsertHardware(&HardwareRecord{
		SessionID: sess.ID, Name: "GAN12uiM", HardwareVer: "1.2", SoftwareVer: "3.4",
		ProductionDate: "2024-03-15", GyroSupported: true, Timestamp: time.Unix(1700000001, 0).UTC(),
	}); err != nil {
		t.Fatalf("InsertHardware: %v", err)
	}

	if _, err := store.InsertTimerEvent(&TimerEventRecord{
		SessionID: sess.ID, State: 4, RecordedTimeMs: 12100, Timestamp: time.Unix(1700000002, 0).UTC(),
	}); err != nil {
		t.Fatalf("InsertTimerEvent: %v", err)
	}
}
