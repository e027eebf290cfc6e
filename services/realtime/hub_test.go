package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maktabahq/maktaba/core"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing hub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(core.NopLogger())
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dialHub(t, srv)
	c2 := dialHub(t, srv)
	waitClients(t, hub, 2)

	sent := core.Event{
		Type:      core.EventAttendanceState,
		StudentID: "stu-1",
		State:     "IN",
		Timestamp: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	hub.Publish(sent)

	for _, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("reading broadcast: %v", err)
		}
		var got core.Event
		if err = json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshaling broadcast: %v", err)
		}
		if got.Type != sent.Type || got.StudentID != sent.StudentID || got.State != sent.State {
			t.Errorf("event = %+v, want %+v", got, sent)
		}
	}
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub(core.NopLogger())
	defer hub.Close()

	// must be a no-op, not a panic or a block
	hub.Publish(core.Event{Type: core.EventScan, Code: "STU-001"})
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(core.NopLogger())
	defer hub.Close()

	// a client whose send buffer is already full
	c := &client{send: make(chan []byte)}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	// the hub must shed the client rather than block the publisher
	hub.Publish(core.Event{Type: core.EventScan, Code: "STU-001"})

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after dropping slow client", hub.ClientCount())
	}
	if _, open := <-c.send; open {
		t.Error("send channel left open for dropped client")
	}
}

func TestHubDisconnect(t *testing.T) {
	hub := NewHub(core.NopLogger())
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	waitClients(t, hub, 1)

	_ = conn.Close()
	waitClients(t, hub, 0)
}
