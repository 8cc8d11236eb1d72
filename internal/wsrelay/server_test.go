package wsrelay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ganlink/ganble/internal/event"
	"github.com/gorilla/websocket"
)

func TestServerBroadcastsToConnectedClient(t *testing.T) {
	srv := NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the client before broadcasting.
	time.Sleep(50 * time.Millisecond)

	hostTs := int64(1700000001000)
	srv.Broadcast("sess-1", 7, event.Event{Move: &event.Move{Face: event.FaceR, Serial: 3, HostTs: &hostTs}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}

	var got envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if got.SessionID != "sess-1" || got.Seq != 7 || got.Kind != "move" {
		t.Fatalf("envelope = %+v", got)
	}
}

func TestKindOfDiscriminatesEventVariant(t *testing.T) {
	cases := []struct {
		ev   event.Event
		want string
	}{
		{event.Event{Move: &event.Move{}}, "move"},
		{event.Event{Facelet: &event.Facelet{}}, "facelet"},
		{event.Event{Timer: &event.Timer{}}, "timer"},
		{event.Event{}, "unknown"},
	}
	for _, c := range cases {
		if got := kindOf(c.ev); got != c.want {
			t.Fatalf("kindOf() = %q, want %q", got, c.want)
		}
	}
}
