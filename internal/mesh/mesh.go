// Package mesh establishes and tracks the full-mesh set of pairwise
// peer channels a session needs before its FROST Engine may run, via
// the ChannelOpen/MeshReady application-level handshake.
package mesh

import (
	"sort"
	"sync"

	"github.com/stars-labs/mpc-wallet-sub007/internal/envelope"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

// Status is the mesh's aggregate readiness.
type Status int

const (
	StatusConnecting Status = iota
	StatusReady
	StatusPartiallyReady
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusReady:
		return "Ready"
	case StatusPartiallyReady:
		return "PartiallyReady"
	default:
		return "Unknown"
	}
}

// Event reports a mesh status transition, naming the peer responsible
// when the transition was caused by a disconnect.
type Event struct {
	Status   Status
	LostPeer frost.ParticipantIndex
	IsLoss   bool
}

// ConnCreator is the half of the transport contract the mesh
// controller drives directly: creating the connection to a peer when
// the initiator tie-break rule says this device goes first.
type ConnCreator interface {
	Create(peer frost.ParticipantIndex, deviceID string) error
}

// Sender delivers an application envelope to one peer over its (by
// then open) transport channel.
type Sender interface {
	Send(recipient frost.ParticipantIndex, e envelope.Envelope) error
}

type peerState struct {
	deviceID      string
	localOpen     bool
	openSent      bool
	openReceived  bool
	readySent     bool
	readyReceived bool
	lost          bool
}

func (p *peerState) ready() bool { return p.localOpen && p.openReceived }

// Controller tracks one session's pairwise peer channels and the
// ChannelOpen/MeshReady handshake layered on top of them.
type Controller struct {
	sessionID    string
	selfDeviceID string
	selfIndex    frost.ParticipantIndex

	creator ConnCreator
	sender  Sender

	mu     sync.Mutex
	peers  map[frost.ParticipantIndex]*peerState
	status Status
	events chan Event
}

// New creates a Controller for sessionID. participants maps every
// OTHER participant's index to its device id; self is excluded. The
// initiator tie-break rule (create toward devices with a
// lexicographically greater DeviceId, wait for the others) is applied
// immediately: peers this device must initiate get ConnCreator.Create
// called before New returns.
func New(sessionID, selfDeviceID string, selfIndex frost.ParticipantIndex, participants map[frost.ParticipantIndex]string, creator ConnCreator, sender Sender) (*Controller, error) {
	c := &Controller{
		sessionID:    sessionID,
		selfDeviceID: selfDeviceID,
		selfIndex:    selfIndex,
		creator:      creator,
		sender:       sender,
		peers:        make(map[frost.ParticipantIndex]*peerState, len(participants)),
		events:       make(chan Event, 16),
	}

	var initiateTo []frost.ParticipantIndex
	for idx, deviceID := range participants {
		c.peers[idx] = &peerState{deviceID: deviceID}
		if deviceID > selfDeviceID {
			initiateTo = append(initiateTo, idx)
		}
	}
	sort.Slice(initiateTo, func(i, j int) bool { return initiateTo[i] < initiateTo[j] })
	for _, idx := range initiateTo {
		if err := creator.Create(idx, c.peers[idx].deviceID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Events reports mesh status transitions. Subscribers should drain it
// continuously; it is buffered but not unbounded.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Status returns the controller's current aggregate status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// OnChannelOpened is called by the transport once the local channel to
// peer is usable (either end having created it). It sends this
// device's ChannelOpen to peer.
func (c *Controller) OnChannelOpened(peer frost.ParticipantIndex) error {
	c.mu.Lock()
	p, ok := c.peers[peer]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	p.localOpen = true
	p.lost = false
	shouldSend := !p.openSent
	p.openSent = true
	c.mu.Unlock()

	if shouldSend {
		if err := c.sender.Send(peer, envelope.Broadcast(envelope.TypeChannelOpen, c.sessionID, c.selfIndex, 0, nil)); err != nil {
			return err
		}
	}
	c.maybeAnnounceReady()
	return nil
}

// HandleChannelOpen absorbs a peer's ChannelOpen announcement.
func (c *Controller) HandleChannelOpen(sender frost.ParticipantIndex, _ []byte) {
	c.mu.Lock()
	if p, ok := c.peers[sender]; ok {
		p.openReceived = true
	}
	c.mu.Unlock()
	c.maybeAnnounceReady()
}

// maybeAnnounceReady sends MeshReady to every peer exactly once, the
// moment every peer's channel is both locally open and has announced
// its own ChannelOpen.
func (c *Controller) maybeAnnounceReady() {
	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	for _, p := range c.peers {
		if !p.ready() {
			c.mu.Unlock()
			return
		}
	}
	var toNotify []frost.ParticipantIndex
	for idx, p := range c.peers {
		if !p.readySent {
			p.readySent = true
			toNotify = append(toNotify, idx)
		}
	}
	c.mu.Unlock()

	for _, idx := range toNotify {
		_ = c.sender.Send(idx, envelope.Broadcast(envelope.TypeMeshReady, c.sessionID, c.selfIndex, 0, nil))
	}
	c.maybeTransitionReady()
}

// HandleMeshReady absorbs a peer's MeshReady announcement.
func (c *Controller) HandleMeshReady(sender frost.ParticipantIndex, _ []byte) {
	c.mu.Lock()
	if p, ok := c.peers[sender]; ok {
		p.readyReceived = true
	}
	c.mu.Unlock()
	c.maybeTransitionReady()
}

func (c *Controller) maybeTransitionReady() {
	c.mu.Lock()
	if c.status != StatusConnecting {
		c.mu.Unlock()
		return
	}
	for _, p := range c.peers {
		if !p.readySent || !p.readyReceived {
			c.mu.Unlock()
			return
		}
	}
	c.status = StatusReady
	c.mu.Unlock()

	select {
	case c.events <- Event{Status: StatusReady}:
	default:
	}
}

// OnChannelClosed is called by the transport when a peer's channel
// drops. If the mesh was Ready, it downgrades to PartiallyReady and
// reports the peer as lost; whether the session can still proceed
// (the round already has everything it needs from that peer) is the
// caller's decision, not the mesh controller's.
func (c *Controller) OnChannelClosed(peer frost.ParticipantIndex) {
	c.mu.Lock()
	p, ok := c.peers[peer]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.localOpen = false
	p.lost = true
	wasReady := c.status == StatusReady
	if wasReady {
		c.status = StatusPartiallyReady
	}
	c.mu.Unlock()

	if wasReady {
		select {
		case c.events <- Event{Status: StatusPartiallyReady, LostPeer: peer, IsLoss: true}:
		default:
		}
	}
}
