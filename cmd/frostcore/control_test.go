package main

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeControlMessageAcceptsKnownTypes(t *testing.T) {
	raw := json.RawMessage(`{"type":"peer_addr","device_id":"device-b","addr":"127.0.0.1:4001"}`)
	msg, err := decodeControlMessage(raw)
	if err != nil {
		t.Fatalf("decodeControlMessage: %v", err)
	}
	if msg.Type != controlPeerAddr || msg.DeviceID != "device-b" || msg.Addr != "127.0.0.1:4001" {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeControlMessageRejectsUnknownType(t *testing.T) {
	raw := json.RawMessage(`{"type":"not_a_real_type"}`)
	if _, err := decodeControlMessage(raw); err == nil {
		t.Fatal("expected an error for an unrecognized control message type")
	}
}

func TestDecodeControlMessageRejectsInvalidJSON(t *testing.T) {
	raw := json.RawMessage(`not json`)
	if _, err := decodeControlMessage(raw); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestAddrResolverResolvesAlreadyKnownAddress(t *testing.T) {
	r := newAddrResolver()
	r.set("device-b", "127.0.0.1:4001")

	addr, err := r.Resolve("device-b")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr != "127.0.0.1:4001" {
		t.Fatalf("addr = %q, want %q", addr, "127.0.0.1:4001")
	}
}

func TestAddrResolverBlocksUntilSet(t *testing.T) {
	r := newAddrResolver()

	done := make(chan struct{})
	var addr string
	var resolveErr error
	go func() {
		addr, resolveErr = r.Resolve("device-c")
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.set("device-c", "127.0.0.1:4002")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve did not return after set")
	}
	if resolveErr != nil {
		t.Fatalf("Resolve: %v", resolveErr)
	}
	if addr != "127.0.0.1:4002" {
		t.Fatalf("addr = %q, want %q", addr, "127.0.0.1:4002")
	}
}
