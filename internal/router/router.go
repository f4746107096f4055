// Package router dispatches protocol envelopes to the right engine for
// one session: deduplicating repeats and reporting engine errors as
// failures to anyone watching the session.
package router

import (
	"fmt"
	"sync"

	"github.com/stars-labs/mpc-wallet-sub007/internal/envelope"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

// DKGSink is the subset of frost.DKGEngine the router needs to route
// DKG envelopes. HandleIncoming absorbs one wire batch and returns
// whatever the pump produced in response, ready for the caller to send
// onward.
type DKGSink interface {
	State() frost.DkgState
	HandleIncoming(sender frost.ParticipantIndex, payload []byte) ([]frost.OutgoingMessage, error)
}

// SigningSink is the subset of frost.SigningEngine the router needs to
// route signing envelopes.
type SigningSink interface {
	State() frost.SigningState
	HandleIncoming(sender frost.ParticipantIndex, payload []byte) ([]frost.OutgoingMessage, error)
}

// MeshSink receives the two mesh-handshake envelope types. It never
// returns an error to the router: a malformed mesh message degrades
// the mesh controller's own state, not the DKG/signing session.
type MeshSink interface {
	HandleChannelOpen(sender frost.ParticipantIndex, payload []byte)
	HandleMeshReady(sender frost.ParticipantIndex, payload []byte)
}

// Status is an asynchronous failure notice emitted when an underlying
// engine rejects a routed package.
type Status struct {
	SessionID string
	Err       error
}

// dedupKey identifies one envelope for deduplication. targeted keeps a
// pump step's broadcast apart from its point-to-point message to this
// participant, since the sender gives both the same Seq.
type dedupKey struct {
	typ      envelope.Type
	seq      uint32
	sender   frost.ParticipantIndex
	targeted bool
}

// Router dispatches envelopes belonging to one session_id. It holds no
// protocol state of its own beyond deduplication; all cryptographic
// state lives in the engines it forwards to.
type Router struct {
	sessionID string

	mu      sync.Mutex
	seen    map[dedupKey]struct{}
	dkg     DKGSink
	signing SigningSink
	mesh    MeshSink

	statuses chan Status
}

// New creates a Router scoped to sessionID. Sinks are wired in
// afterward with SetDKGSink/SetSigningSink/SetMeshSink as each phase
// of the session becomes active.
func New(sessionID string) *Router {
	return &Router{
		sessionID: sessionID,
		seen:      make(map[dedupKey]struct{}),
		statuses:  make(chan Status, 16),
	}
}

func (r *Router) SetDKGSink(s DKGSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dkg = s
}

func (r *Router) SetSigningSink(s SigningSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signing = s
}

func (r *Router) SetMeshSink(s MeshSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mesh = s
}

// Statuses reports engine failures as they occur. Subscribers should
// drain it continuously; the channel is buffered but not unbounded.
func (r *Router) Statuses() <-chan Status {
	return r.statuses
}

// Dispatch routes one envelope, returning any outgoing messages the
// local engine produced in response so the caller can send them onward.
// An envelope whose sender is the local participant gets no special
// treatment: it reaches the sink like any other, and frost's engines
// reject sender == self with an error, which Dispatch returns.
func (r *Router) Dispatch(e envelope.Envelope) ([]frost.OutgoingMessage, error) {
	if e.SessionID != r.sessionID {
		return nil, fmt.Errorf("router: envelope for session %q delivered to router for %q", e.SessionID, r.sessionID)
	}

	r.mu.Lock()
	key := dedupKey{typ: e.Type, seq: e.Seq, sender: e.SenderIndex, targeted: e.RecipientIndex != nil}
	if _, dup := r.seen[key]; dup {
		r.mu.Unlock()
		return nil, nil
	}
	r.seen[key] = struct{}{}
	r.mu.Unlock()

	var out []frost.OutgoingMessage
	var err error
	switch e.Type {
	case envelope.TypeDKGMessage:
		out, err = r.dispatchDKG(e)
	case envelope.TypeSigningMessage:
		out, err = r.dispatchSigning(e)
	case envelope.TypeChannelOpen:
		r.mu.Lock()
		mesh := r.mesh
		r.mu.Unlock()
		if mesh != nil {
			mesh.HandleChannelOpen(e.SenderIndex, e.Data)
		}
	case envelope.TypeMeshReady:
		r.mu.Lock()
		mesh := r.mesh
		r.mu.Unlock()
		if mesh != nil {
			mesh.HandleMeshReady(e.SenderIndex, e.Data)
		}
	default:
		err = fmt.Errorf("router: unhandled envelope type %q", e.Type)
	}

	if err != nil {
		r.emitFailed(err)
	}
	return out, err
}

func (r *Router) dispatchDKG(e envelope.Envelope) ([]frost.OutgoingMessage, error) {
	r.mu.Lock()
	dkg := r.dkg
	r.mu.Unlock()
	if dkg == nil {
		return nil, fmt.Errorf("router: no DKG sink registered for session %q", r.sessionID)
	}
	return dkg.HandleIncoming(e.SenderIndex, e.Data)
}

func (r *Router) dispatchSigning(e envelope.Envelope) ([]frost.OutgoingMessage, error) {
	r.mu.Lock()
	signing := r.signing
	r.mu.Unlock()
	if signing == nil {
		return nil, fmt.Errorf("router: no signing sink registered for session %q", r.sessionID)
	}
	return signing.HandleIncoming(e.SenderIndex, e.Data)
}

func (r *Router) emitFailed(err error) {
	select {
	case r.statuses <- Status{SessionID: r.sessionID, Err: err}:
	default:
	}
}
