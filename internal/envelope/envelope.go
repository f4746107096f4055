// Package envelope defines the peer-to-peer application message format
// and the small set of message types the protocol router dispatches on.
package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

// Type identifies the kind of payload an Envelope carries.
type Type string

const (
	// TypeDKGMessage carries one opaque FROST DKG wire batch. tss-lib's
	// keygen protocols run a variable number of internal message-exchange
	// rounds; a single type covers every one of them, and the Seq field
	// orders batches for dedup rather than naming a protocol round.
	TypeDKGMessage Type = "dkg_message"
	// TypeSigningMessage carries one opaque FROST signing wire batch, the
	// signing-side counterpart of TypeDKGMessage.
	TypeSigningMessage Type = "signing_message"
	TypeChannelOpen    Type = "channel_open"
	TypeMeshReady      Type = "mesh_ready"
)

// Envelope is the peer-to-peer wire message: a typed, session-scoped
// package addressed to one peer (point-to-point) or all of them
// (recipient index unset). Seq is a per-sender, per-session monotonic
// sequence number assigned to each outgoing pump step's batch; it exists
// for router dedup, not to name a fixed protocol round.
type Envelope struct {
	Type           Type                    `json:"type"`
	SessionID      string                  `json:"session_id"`
	SenderIndex    frost.ParticipantIndex  `json:"sender_index"`
	RecipientIndex *frost.ParticipantIndex `json:"recipient_index"`
	Seq            uint32                  `json:"seq"`
	Data           hexBytes                `json:"data"`
}

// hexBytes marshals as a lowercase hex string rather than base64, per
// the wire schema's "data": "<hex string>" field.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("envelope: invalid hex data: %w", err)
	}
	*h = decoded
	return nil
}

// Broadcast builds an Envelope with no recipient, addressed to every
// peer in the session.
func Broadcast(typ Type, sessionID string, sender frost.ParticipantIndex, seq uint32, payload []byte) Envelope {
	return Envelope{
		Type:        typ,
		SessionID:   sessionID,
		SenderIndex: sender,
		Seq:         seq,
		Data:        payload,
	}
}

// Targeted builds an Envelope addressed to a single recipient.
func Targeted(typ Type, sessionID string, sender, recipient frost.ParticipantIndex, seq uint32, payload []byte) Envelope {
	r := recipient
	return Envelope{
		Type:           typ,
		SessionID:      sessionID,
		SenderIndex:    sender,
		RecipientIndex: &r,
		Seq:            seq,
		Data:           payload,
	}
}

// Marshal serializes the envelope to its wire JSON form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a wire JSON envelope, rejecting unknown types so the
// router never dispatches a message it doesn't understand.
func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	switch e.Type {
	case TypeDKGMessage, TypeSigningMessage, TypeChannelOpen, TypeMeshReady:
	default:
		return Envelope{}, fmt.Errorf("envelope: unknown type %q", e.Type)
	}
	return e, nil
}
