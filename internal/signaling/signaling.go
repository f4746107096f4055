// Package signaling implements the WebSocket client for the signaling
// relay (SPEC_FULL.md §6): a connection keyed by DeviceId that carries
// device discovery, opaque peer-to-peer relaying, and session discovery
// announcements. The relay itself is out of scope — only the client
// side that the core dials out to.
package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientMessageType identifies a client→server message.
type ClientMessageType string

const (
	ClientRegister              ClientMessageType = "register"
	ClientRelay                 ClientMessageType = "relay"
	ClientListDevices           ClientMessageType = "list_devices"
	ClientAnnounceSession       ClientMessageType = "announce_session"
	ClientRequestActiveSessions ClientMessageType = "request_active_sessions"
)

// ServerMessageType identifies a server→client message.
type ServerMessageType string

const (
	ServerDevices          ServerMessageType = "devices"
	ServerRelay            ServerMessageType = "relay"
	ServerSessionAvailable ServerMessageType = "session_available"
	ServerSessionStatus    ServerMessageType = "session_status"
)

type clientEnvelope struct {
	Type    ClientMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

type serverEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

type registerPayload struct {
	DeviceID string `json:"device_id"`
}

type relayOutPayload struct {
	To   string          `json:"to"`
	Data json.RawMessage `json:"data"`
}

type announceSessionPayload struct {
	SessionID   string `json:"session_id"`
	SessionType string `json:"session_type"`
	Total       int    `json:"total"`
	Threshold   int    `json:"threshold"`
}

type devicesPayload struct {
	IDs []string `json:"ids"`
}

type relayInPayload struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

// SessionAnnouncement is a discovered in-progress session, reported by
// the relay to late joiners so they can request to participate.
type SessionAnnouncement struct {
	SessionID   string `json:"session_id"`
	SessionType string `json:"session_type"`
	Total       int    `json:"total"`
	Threshold   int    `json:"threshold"`
	Initiator   string `json:"initiator"`
}

// SessionStatusUpdate reports a change in a previously announced
// session's lifecycle (e.g. it completed or its creator disconnected).
type SessionStatusUpdate struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// EventKind identifies which server→client message an Event carries.
type EventKind int

const (
	EventDevices EventKind = iota + 1
	EventRelay
	EventSessionAvailable
	EventSessionStatus
	EventDisconnected
)

// Event is one occurrence delivered from the relay connection.
type Event struct {
	Kind    EventKind
	Devices []string
	From    string
	Data    json.RawMessage
	Session SessionAnnouncement
	Status  SessionStatusUpdate
	Err     error // set on EventDisconnected
}

const writeTimeout = 10 * time.Second

// Client is a single relay connection for one DeviceId. Writes are
// serialized through writeMu, matching the "single writer queue"
// discipline SPEC_FULL.md §5 requires of the signaling connection.
type Client struct {
	deviceID string
	logger   *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	events chan Event
}

// Dial connects to the relay at url, registers deviceID, and starts
// delivering server messages on Events().
func Dial(url, deviceID string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dialing %s: %w", url, err)
	}

	c := &Client{
		deviceID: deviceID,
		logger:   logger,
		conn:     conn,
		events:   make(chan Event, 64),
	}

	if err := c.send(ClientRegister, registerPayload{DeviceID: deviceID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("signaling: registering %s: %w", deviceID, err)
	}

	go c.readLoop()
	return c, nil
}

// Events delivers server messages and the terminal EventDisconnected.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Relay asks the relay to forward an opaque payload (an application
// protocol envelope, already marshaled) to the peer identified by to.
func (c *Client) Relay(to string, data json.RawMessage) error {
	return c.send(ClientRelay, relayOutPayload{To: to, Data: data})
}

// ListDevices requests the current device roster.
func (c *Client) ListDevices() error {
	return c.send(ClientListDevices, nil)
}

// AnnounceSession publishes a session so late joiners can discover it.
func (c *Client) AnnounceSession(sessionID, sessionType string, total, threshold int) error {
	return c.send(ClientAnnounceSession, announceSessionPayload{
		SessionID:   sessionID,
		SessionType: sessionType,
		Total:       total,
		Threshold:   threshold,
	})
}

// RequestActiveSessions asks the relay to resend every session
// announcement it still holds for this device's benefit.
func (c *Client) RequestActiveSessions() error {
	return c.send(ClientRequestActiveSessions, nil)
}

// Close tears down the relay connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(typ ClientMessageType, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("signaling: marshaling %s payload: %w", typ, err)
		}
		raw = b
	}

	msg, err := json.Marshal(clientEnvelope{Type: typ, Payload: raw})
	if err != nil {
		return fmt.Errorf("signaling: marshaling envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.emit(Event{Kind: EventDisconnected, Err: err})
			close(c.events)
			return
		}

		var env serverEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("signaling: malformed server message", zap.Error(err))
			continue
		}

		event, err := decodeServerEnvelope(env)
		if err != nil {
			c.logger.Warn("signaling: decoding server message", zap.String("type", string(env.Type)), zap.Error(err))
			continue
		}
		c.emit(event)
	}
}

func decodeServerEnvelope(env serverEnvelope) (Event, error) {
	switch env.Type {
	case ServerDevices:
		var p devicesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventDevices, Devices: p.IDs}, nil

	case ServerRelay:
		var p relayInPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventRelay, From: p.From, Data: p.Data}, nil

	case ServerSessionAvailable:
		var p SessionAnnouncement
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventSessionAvailable, Session: p}, nil

	case ServerSessionStatus:
		var p SessionStatusUpdate
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, err
		}
		return Event{Kind: EventSessionStatus, Status: p}, nil

	default:
		return Event{}, fmt.Errorf("unknown server message type %q", env.Type)
	}
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Warn("signaling: events channel full, dropping event", zap.Int("kind", int(e.Kind)))
	}
}
