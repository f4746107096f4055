package router

import (
	"fmt"
	"testing"

	"github.com/stars-labs/mpc-wallet-sub007/internal/envelope"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

type fakeDKGSink struct {
	state      frost.DkgState
	applied    []frost.ParticipantIndex
	failSender frost.ParticipantIndex
}

func (f *fakeDKGSink) State() frost.DkgState { return f.state }

func (f *fakeDKGSink) HandleIncoming(sender frost.ParticipantIndex, pkg []byte) ([]frost.OutgoingMessage, error) {
	if sender == f.failSender {
		return nil, fmt.Errorf("forced failure for sender %d", sender)
	}
	f.applied = append(f.applied, sender)
	return nil, nil
}

type fakeSigningSink struct {
	state   frost.SigningState
	applied []frost.ParticipantIndex
}

func (f *fakeSigningSink) State() frost.SigningState { return f.state }

func (f *fakeSigningSink) HandleIncoming(sender frost.ParticipantIndex, pkg []byte) ([]frost.OutgoingMessage, error) {
	f.applied = append(f.applied, sender)
	return nil, nil
}

type fakeMeshSink struct {
	channelOpens []frost.ParticipantIndex
	meshReadies  []frost.ParticipantIndex
}

func (f *fakeMeshSink) HandleChannelOpen(sender frost.ParticipantIndex, payload []byte) {
	f.channelOpens = append(f.channelOpens, sender)
}

func (f *fakeMeshSink) HandleMeshReady(sender frost.ParticipantIndex, payload []byte) {
	f.meshReadies = append(f.meshReadies, sender)
}

func TestDispatchDKGDeliversImmediately(t *testing.T) {
	r := New("session-1")
	sink := &fakeDKGSink{state: frost.DkgInProgress}
	r.SetDKGSink(sink)

	e := envelope.Broadcast(envelope.TypeDKGMessage, "session-1", 2, 1, []byte{0x01})
	if _, err := r.Dispatch(e); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sink.applied) != 1 || sink.applied[0] != 2 {
		t.Fatalf("expected package applied for sender 2, got %v", sink.applied)
	}
}

func TestDispatchSigningDeliversImmediately(t *testing.T) {
	r := New("session-1")
	sink := &fakeSigningSink{state: frost.SigningInProgress}
	r.SetSigningSink(sink)

	e := envelope.Targeted(envelope.TypeSigningMessage, "session-1", 2, 1, 1, []byte{0x01})
	if _, err := r.Dispatch(e); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(sink.applied) != 1 || sink.applied[0] != 2 {
		t.Fatalf("expected package applied for sender 2, got %v", sink.applied)
	}
}

func TestDispatchDeduplicatesRepeatedPackages(t *testing.T) {
	r := New("session-1")
	sink := &fakeDKGSink{state: frost.DkgInProgress}
	r.SetDKGSink(sink)

	e := envelope.Broadcast(envelope.TypeDKGMessage, "session-1", 2, 1, []byte{0x01})
	if _, err := r.Dispatch(e); err != nil {
		t.Fatalf("Dispatch (first): %v", err)
	}
	if _, err := r.Dispatch(e); err != nil {
		t.Fatalf("Dispatch (repeat): %v", err)
	}
	if len(sink.applied) != 1 {
		t.Fatalf("expected the repeat to be dropped silently, got %d applications", len(sink.applied))
	}
}

func TestDispatchSelfLoopbackUsesSamePath(t *testing.T) {
	r := New("session-1")
	sink := &fakeDKGSink{state: frost.DkgInProgress}
	r.SetDKGSink(sink)

	self := envelope.Broadcast(envelope.TypeDKGMessage, "session-1", 1, 1, []byte{0x01})
	if _, err := r.Dispatch(self); err != nil {
		t.Fatalf("Dispatch (self): %v", err)
	}
	if len(sink.applied) != 1 || sink.applied[0] != 1 {
		t.Fatalf("expected the local participant's own package to be applied identically, got %v", sink.applied)
	}
}

func TestDispatchMeshEnvelopesReachMeshSink(t *testing.T) {
	r := New("session-1")
	mesh := &fakeMeshSink{}
	r.SetMeshSink(mesh)

	if _, err := r.Dispatch(envelope.Broadcast(envelope.TypeChannelOpen, "session-1", 2, 0, nil)); err != nil {
		t.Fatalf("Dispatch(channel_open): %v", err)
	}
	if _, err := r.Dispatch(envelope.Broadcast(envelope.TypeMeshReady, "session-1", 2, 0, nil)); err != nil {
		t.Fatalf("Dispatch(mesh_ready): %v", err)
	}
	if len(mesh.channelOpens) != 1 || len(mesh.meshReadies) != 1 {
		t.Fatalf("expected one of each mesh event, got %+v", mesh)
	}
}

func TestDispatchEngineErrorEmitsStatus(t *testing.T) {
	r := New("session-1")
	sink := &fakeDKGSink{state: frost.DkgInProgress, failSender: 2}
	r.SetDKGSink(sink)

	e := envelope.Broadcast(envelope.TypeDKGMessage, "session-1", 2, 1, []byte{0x01})
	if _, err := r.Dispatch(e); err == nil {
		t.Fatal("expected the engine's error to propagate")
	}

	select {
	case status := <-r.Statuses():
		if status.SessionID != "session-1" || status.Err == nil {
			t.Fatalf("unexpected status: %+v", status)
		}
	default:
		t.Fatal("expected a status to be emitted on engine failure")
	}
}

func TestDispatchRejectsMismatchedSession(t *testing.T) {
	r := New("session-1")
	r.SetDKGSink(&fakeDKGSink{state: frost.DkgInProgress})

	e := envelope.Broadcast(envelope.TypeDKGMessage, "session-2", 1, 1, []byte{0x01})
	if _, err := r.Dispatch(e); err == nil {
		t.Fatal("expected an error dispatching an envelope for a different session")
	}
}
