// Package wstransport implements transport.Transport over raw
// WebSocket connections: this device listens for inbound peer
// connections and dials out to peers the initiator tie-break rule
// assigns it, exchanging one plaintext handshake frame to identify the
// dialing device before treating the socket as an open channel.
package wstransport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/transport"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

type peerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes; gorilla/websocket forbids concurrent writers
}

// Transport is a transport.Transport backed by gorilla/websocket. A
// single instance both listens for inbound peer connections (as the
// lexicographically greater device in a pair) and dials outbound ones
// (as the lesser device), per the initiator tie-break rule.
type Transport struct {
	selfDeviceID string
	resolver     transport.Resolver
	logger       *zap.Logger

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu    sync.Mutex
	peers map[string]*peerConn

	events chan transport.Event
}

// Listen starts a Transport accepting inbound peer connections on
// listenAddr (e.g. ":7443"). resolver maps a peer DeviceId to its
// dialable address for outbound Create calls.
func Listen(selfDeviceID, listenAddr string, resolver transport.Resolver, logger *zap.Logger) (*Transport, error) {
	t := &Transport{
		selfDeviceID: selfDeviceID,
		resolver:     resolver,
		logger:       logger,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		peers:        make(map[string]*peerConn),
		events:       make(chan transport.Event, 64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/peer", t.handleInbound)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("wstransport: listening on %s: %w", listenAddr, err)
	}
	t.server = &http.Server{Handler: mux}
	t.listener = listener
	go func() {
		if err := t.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			t.logger.Error("wstransport listener stopped", zap.Error(err))
		}
	}()
	return t, nil
}

// Addr returns the address this Transport is listening on, useful for
// advertising a dialable address (e.g. via the signaling relay) when
// listenAddr was given as ":0".
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

func (t *Transport) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("wstransport: upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, handshake, err := conn.ReadMessage()
	if err != nil {
		t.logger.Warn("wstransport: handshake read failed", zap.Error(err))
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})
	peerID := string(handshake)

	t.registerPeer(peerID, conn)
}

// Create dials out to peer, resolved via the Transport's Resolver, and
// sends the local device id as the handshake frame.
func (t *Transport) Create(peer string) error {
	addr, err := t.resolver.Resolve(peer)
	if err != nil {
		return fmt.Errorf("wstransport: resolving %s: %w", peer, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("wstransport: dialing %s at %s: %w", peer, addr, err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(t.selfDeviceID)); err != nil {
		conn.Close()
		return fmt.Errorf("wstransport: handshake write to %s: %w", peer, err)
	}

	t.registerPeer(peer, conn)
	return nil
}

func (t *Transport) registerPeer(peerID string, conn *websocket.Conn) {
	pc := &peerConn{conn: conn}

	t.mu.Lock()
	t.peers[peerID] = pc
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.EventOpened, Peer: peerID})
	go t.readLoop(peerID, pc)
}

func (t *Transport) readLoop(peerID string, pc *peerConn) {
	for {
		_, payload, err := pc.conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			delete(t.peers, peerID)
			t.mu.Unlock()
			t.emit(transport.Event{Kind: transport.EventClosed, Peer: peerID})
			return
		}
		t.emit(transport.Event{Kind: transport.EventMessage, Peer: peerID, Payload: payload})
	}
}

// Send writes payload to peer's channel.
func (t *Transport) Send(peer string, payload []byte) error {
	t.mu.Lock()
	pc, ok := t.peers[peer]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("wstransport: no open channel to %s", peer)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return pc.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Close tears down the channel to peer, if any.
func (t *Transport) Close(peer string) error {
	t.mu.Lock()
	pc, ok := t.peers[peer]
	delete(t.peers, peer)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return pc.conn.Close()
}

// Events delivers Opened/Closed/Message occurrences for every peer.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Shutdown stops accepting inbound connections and closes every open
// peer channel.
func (t *Transport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	peers := make([]string, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	t.mu.Unlock()
	for _, id := range peers {
		t.Close(id)
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) emit(e transport.Event) {
	select {
	case t.events <- e:
	default:
		t.logger.Warn("wstransport: events channel full, dropping event", zap.String("peer", e.Peer), zap.String("kind", e.Kind.String()))
	}
}
