package wstransport

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/transport"
)

type staticResolver map[string]string

func (s staticResolver) Resolve(deviceID string) (string, error) {
	addr, ok := s[deviceID]
	if !ok {
		return "", errNoRoute(deviceID)
	}
	return addr, nil
}

type errNoRoute string

func (e errNoRoute) Error() string { return "no route to " + string(e) }

func waitForEvent(t *testing.T, events <-chan transport.Event, kind transport.EventKind) transport.Event {
	t.Helper()
	select {
	case e := <-events:
		if e.Kind != kind {
			t.Fatalf("expected event kind %v, got %v", kind, e.Kind)
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event kind %v", kind)
	}
	return transport.Event{}
}

func TestCreateAndSendRoundTripsBetweenTwoTransports(t *testing.T) {
	server, err := Listen("device-b", "127.0.0.1:0", staticResolver{}, zap.NewNop())
	if err != nil {
		t.Fatalf("Listen (server): %v", err)
	}
	defer server.Shutdown(context.Background())

	clientResolver := staticResolver{"device-b": "ws://" + server.Addr() + "/peer"}
	client, err := Listen("device-a", "127.0.0.1:0", clientResolver, zap.NewNop())
	if err != nil {
		t.Fatalf("Listen (client): %v", err)
	}
	defer client.Shutdown(context.Background())

	if err := client.Create("device-b"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitForEvent(t, server.Events(), transport.EventOpened)
	waitForEvent(t, client.Events(), transport.EventOpened)

	if err := client.Send("device-b", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := waitForEvent(t, server.Events(), transport.EventMessage)
	if string(msg.Payload) != "hello" {
		t.Fatalf("received payload %q, want %q", msg.Payload, "hello")
	}
}
