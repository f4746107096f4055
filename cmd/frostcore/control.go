package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stars-labs/mpc-wallet-sub007/internal/keystore"
	"github.com/stars-labs/mpc-wallet-sub007/internal/session"
	"github.com/stars-labs/mpc-wallet-sub007/internal/signaling"
)

// controlType distinguishes the application-level messages this device
// exchanges with peers over the signaling relay's Relay envelope,
// before a session has a peer mesh of its own to carry them on.
type controlType string

const (
	controlSessionProposal controlType = "session_proposal"
	controlSessionResponse controlType = "session_response"
	controlPeerAddr        controlType = "peer_addr"
)

type controlParticipant struct {
	Index    uint16 `json:"index"`
	DeviceID string `json:"device_id"`
}

// controlMessage is the union of every control-plane payload this
// device sends or receives via the relay. Only the fields relevant to
// Type are populated.
type controlMessage struct {
	Type                   controlType          `json:"type"`
	SessionID              string               `json:"session_id,omitempty"`
	Kind                   string               `json:"kind,omitempty"`
	Threshold              int                  `json:"threshold,omitempty"`
	Total                  int                  `json:"total,omitempty"`
	Participants           []controlParticipant `json:"participants,omitempty"`
	Suite                  string               `json:"suite,omitempty"`
	WalletID               string               `json:"wallet_id,omitempty"`
	MessageHex             string               `json:"message_hex,omitempty"`
	ExpectedGroupPublicKey string               `json:"expected_group_public_key,omitempty"`
	From                   int                  `json:"from,omitempty"`
	Available              bool                 `json:"available,omitempty"`
	Reason                 string               `json:"reason,omitempty"`
	DeviceID               string               `json:"device_id,omitempty"`
	Addr                   string               `json:"addr,omitempty"`
}

func decodeControlMessage(raw json.RawMessage) (controlMessage, error) {
	var m controlMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return controlMessage{}, err
	}
	switch m.Type {
	case controlSessionProposal, controlSessionResponse, controlPeerAddr:
		return m, nil
	default:
		return controlMessage{}, fmt.Errorf("control: unknown message type %q", m.Type)
	}
}

// relayerAdapter lets internal/session broadcast SessionResponse
// payloads without depending on the signaling package directly.
type relayerAdapter struct {
	sig *signaling.Client
}

func (r *relayerAdapter) Relay(to string, payload []byte) error {
	return r.sig.Relay(to, json.RawMessage(payload))
}

// keystoreWalletLookup adapts *keystore.Keystore to session.WalletLookup,
// translating the keystore's richer WalletMetadata down to the narrow
// shape the session controller validates proposals against.
type keystoreWalletLookup struct {
	ks *keystore.Keystore
}

func (k *keystoreWalletLookup) Wallets() ([]session.WalletMetadata, error) {
	wallets, err := k.ks.Wallets()
	if err != nil {
		return nil, err
	}
	out := make([]session.WalletMetadata, len(wallets))
	for i, w := range wallets {
		out[i] = session.WalletMetadata{
			WalletID:          w.WalletID,
			CurveType:         w.CurveType,
			Threshold:         w.Threshold,
			TotalParticipants: w.TotalParticipants,
			GroupPublicKey:    w.GroupPublicKey,
		}
	}
	return out, nil
}

// addrResolver maps a DeviceId to its wstransport listen address,
// populated as peer_addr control messages arrive. Resolve blocks until
// an address is known or the wait times out, since a session's mesh
// controller may ask for a peer's address before that peer's
// announcement has arrived.
type addrResolver struct {
	mu      sync.Mutex
	addrs   map[string]string
	waiters map[string][]chan string
}

func newAddrResolver() *addrResolver {
	return &addrResolver{addrs: make(map[string]string), waiters: make(map[string][]chan string)}
}

func (r *addrResolver) set(deviceID, addr string) {
	r.mu.Lock()
	r.addrs[deviceID] = addr
	waiters := r.waiters[deviceID]
	delete(r.waiters, deviceID)
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- addr
		close(ch)
	}
}

func (r *addrResolver) Resolve(deviceID string) (string, error) {
	r.mu.Lock()
	if addr, ok := r.addrs[deviceID]; ok {
		r.mu.Unlock()
		return addr, nil
	}
	ch := make(chan string, 1)
	r.waiters[deviceID] = append(r.waiters[deviceID], ch)
	r.mu.Unlock()

	select {
	case addr := <-ch:
		return addr, nil
	case <-time.After(30 * time.Second):
		return "", fmt.Errorf("signaling: timed out waiting for %s's transport address", deviceID)
	}
}
