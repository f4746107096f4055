package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// fakeRelay is a minimal stand-in for the relay server: it upgrades one
// connection, records every client envelope it receives, and lets the
// test push server envelopes back down at will.
type fakeRelay struct {
	upgrader websocket.Upgrader
	received chan clientEnvelope
	conn     chan *websocket.Conn
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		received: make(chan clientEnvelope, 16),
		conn:     make(chan *websocket.Conn, 1),
	}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.conn <- conn
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env clientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		f.received <- env
	}
}

func (f *fakeRelay) sendTo(conn *websocket.Conn, typ ServerMessageType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(serverEnvelope{Type: typ, Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func waitForClientEnvelope(t *testing.T, ch <-chan clientEnvelope) clientEnvelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a client envelope")
	}
	return clientEnvelope{}
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return Event{}
}

func TestDialRegistersDeviceID(t *testing.T) {
	relay := newFakeRelay()
	server := httptest.NewServer(relay)
	defer server.Close()

	client, err := Dial(wsURL(server), "device-a", zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	env := waitForClientEnvelope(t, relay.received)
	if env.Type != ClientRegister {
		t.Fatalf("expected a register message first, got %s", env.Type)
	}
	var p registerPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshaling register payload: %v", err)
	}
	if p.DeviceID != "device-a" {
		t.Fatalf("registered as %q, want %q", p.DeviceID, "device-a")
	}
}

func TestRelaySendsToAndDataFields(t *testing.T) {
	relay := newFakeRelay()
	server := httptest.NewServer(relay)
	defer server.Close()

	client, err := Dial(wsURL(server), "device-a", zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	waitForClientEnvelope(t, relay.received) // register

	payload := json.RawMessage(`{"type":"dkg_round1"}`)
	if err := client.Relay("device-b", payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	env := waitForClientEnvelope(t, relay.received)
	if env.Type != ClientRelay {
		t.Fatalf("expected a relay message, got %s", env.Type)
	}
	var p relayOutPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshaling relay payload: %v", err)
	}
	if p.To != "device-b" {
		t.Fatalf("relayed to %q, want %q", p.To, "device-b")
	}
	if string(p.Data) != string(payload) {
		t.Fatalf("relayed data %s, want %s", p.Data, payload)
	}
}

func TestEventsDeliversDevicesRelaySessionAvailableAndStatus(t *testing.T) {
	relay := newFakeRelay()
	server := httptest.NewServer(relay)
	defer server.Close()

	client, err := Dial(wsURL(server), "device-a", zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	waitForClientEnvelope(t, relay.received) // register
	serverConn := <-relay.conn

	if err := relay.sendTo(serverConn, ServerDevices, devicesPayload{IDs: []string{"device-a", "device-b"}}); err != nil {
		t.Fatalf("sendTo Devices: %v", err)
	}
	e := waitForEvent(t, client.Events())
	if e.Kind != EventDevices || len(e.Devices) != 2 {
		t.Fatalf("unexpected devices event: %+v", e)
	}

	if err := relay.sendTo(serverConn, ServerRelay, relayInPayload{From: "device-b", Data: json.RawMessage(`{"type":"dkg_round1"}`)}); err != nil {
		t.Fatalf("sendTo Relay: %v", err)
	}
	e = waitForEvent(t, client.Events())
	if e.Kind != EventRelay || e.From != "device-b" {
		t.Fatalf("unexpected relay event: %+v", e)
	}

	if err := relay.sendTo(serverConn, ServerSessionAvailable, SessionAnnouncement{SessionID: "s1", SessionType: "dkg", Total: 3, Threshold: 2, Initiator: "device-b"}); err != nil {
		t.Fatalf("sendTo SessionAvailable: %v", err)
	}
	e = waitForEvent(t, client.Events())
	if e.Kind != EventSessionAvailable || e.Session.SessionID != "s1" {
		t.Fatalf("unexpected session available event: %+v", e)
	}

	if err := relay.sendTo(serverConn, ServerSessionStatus, SessionStatusUpdate{SessionID: "s1", Status: "complete"}); err != nil {
		t.Fatalf("sendTo SessionStatus: %v", err)
	}
	e = waitForEvent(t, client.Events())
	if e.Kind != EventSessionStatus || e.Status.Status != "complete" {
		t.Fatalf("unexpected session status event: %+v", e)
	}
}

func TestDisconnectEmitsTerminalEventAndClosesChannel(t *testing.T) {
	relay := newFakeRelay()
	server := httptest.NewServer(relay)
	defer server.Close()

	client, err := Dial(wsURL(server), "device-a", zap.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitForClientEnvelope(t, relay.received) // register
	serverConn := <-relay.conn
	serverConn.Close()

	e := waitForEvent(t, client.Events())
	if e.Kind != EventDisconnected {
		t.Fatalf("expected EventDisconnected, got %+v", e)
	}

	if _, ok := <-client.Events(); ok {
		t.Fatal("expected the events channel to be closed after disconnect")
	}
}
