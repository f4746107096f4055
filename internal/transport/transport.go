// Package transport defines the peer datagram-channel contract the
// core depends on (SPEC_FULL.md §6): one ordered, reliable,
// bidirectional channel per unordered device pair. Concrete transports
// (internal/transport/wstransport) implement Transport; WebRTC
// offer/answer/ICE exchange, where used, travels opaquely inside
// signaling Relay payloads and never appears in this interface.
package transport

// EventKind identifies what happened to a peer channel.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventClosed
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "Opened"
	case EventClosed:
		return "Closed"
	case EventMessage:
		return "Message"
	default:
		return "Unknown"
	}
}

// Event reports one occurrence on a peer's channel.
type Event struct {
	Kind    EventKind
	Peer    string // DeviceId
	Payload []byte // set only for EventMessage
}

// Resolver maps a DeviceId to a dialable network address. A concrete
// transport's caller supplies this — it is out of the core's scope how
// addresses are discovered (signaling device list, static config, DNS).
type Resolver interface {
	Resolve(deviceID string) (string, error)
}

// Transport is the peer-channel contract the mesh controller and
// session layer depend on.
type Transport interface {
	// Create establishes this device's end of the channel to peer. Per
	// the initiator tie-break rule, only the lexicographically lesser
	// DeviceId calls Create, toward the greater one; the greater waits
	// for the incoming connection and still receives an EventOpened.
	Create(peer string) error

	// Send writes payload to peer's channel. Peer must have an open
	// channel (Create called, or an inbound connection accepted).
	Send(peer string, payload []byte) error

	// Close tears down the channel to peer, if any.
	Close(peer string) error

	// Events delivers Opened/Closed/Message occurrences for every peer
	// this transport knows about. Callers should drain it continuously.
	Events() <-chan Event
}
