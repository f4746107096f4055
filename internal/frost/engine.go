// Package frost implements component C of SPEC_FULL.md: the FROST
// protocol engine, one instance per active DKG or signing run, over
// either of the two supported ciphersuites.
//
// Both ciphersuites are backed by github.com/bnb-chain/tss-lib/v2 (the
// teacher's own cryptographic dependency, generalized here from
// ECDSA-only to ECDSA+EdDSA): secp256k1DKGEngine/secp256k1SigningEngine
// drive tss-lib's ecdsa/keygen and ecdsa/signing packages,
// ed25519DKGEngine/ed25519SigningEngine drive eddsa/keygen and
// eddsa/signing. tss-lib's internal sub-round cadence is opaque from the
// outside and does not line up with a fixed round count: ecdsa/eddsa
// keygen each take three message-exchange rounds, ecdsa/signing (GG18)
// takes about nine. Rather than bucket tss-lib's output into a fixed
// number of named rounds, every engine here drives its LocalParty with a
// generic pump — start it, absorb whatever arrives, drain whatever it
// queues in response, repeat until it reports completion or failure —
// the same shape as the teacher's own ProcessRound.
package frost

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bnb-chain/tss-lib/v2/tss"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

// ParticipantIndex is a 1..n index assigned at session-acceptance time
// (SPEC_FULL.md §3). It is the sole identity inside FROST packages.
type ParticipantIndex uint16

// DkgState is the DKG engine's state. tss-lib's own round machinery
// owns every intermediate transition; callers only ever observe
// "still running" versus a terminal outcome.
type DkgState int

const (
	DkgInProgress DkgState = iota
	DkgComplete
	DkgFailed
	DkgKeystoreImported
)

func (s DkgState) String() string {
	switch s {
	case DkgInProgress:
		return "InProgress"
	case DkgComplete:
		return "Complete"
	case DkgFailed:
		return "Failed"
	case DkgKeystoreImported:
		return "KeystoreImported"
	default:
		return "Unknown"
	}
}

// SigningState is the per-signing-instance state, equally collapsed
// from the fixed commitment/share/aggregate phases the spec names into
// "running" versus a terminal outcome.
type SigningState int

const (
	SigningInProgress SigningState = iota
	SigningComplete
	SigningFailed
)

func (s SigningState) String() string {
	switch s {
	case SigningInProgress:
		return "InProgress"
	case SigningComplete:
		return "Complete"
	case SigningFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// KeyPackage is the opaque (outside this package and internal/keystore)
// serialized FROST key package bound to a participant index, ciphersuite,
// and group public key (SPEC_FULL.md §3).
type KeyPackage struct {
	Suite            ciphersuite.Suite `json:"suite"`
	ParticipantIndex ParticipantIndex  `json:"participant_index"`
	Threshold        int               `json:"threshold"`
	TotalParties     int               `json:"total_parties"`
	GroupPublicKey   []byte            `json:"group_public_key"`
	// SaveData is the ciphersuite-specific tss-lib LocalPartySaveData,
	// JSON-marshaled. Opaque outside this package and internal/keystore.
	SaveData []byte `json:"save_data"`
}

// Zeroize overwrites the secret-bearing bytes of the key package in
// place. This is the closest approximation of SPEC_FULL.md §5's
// "zeroize secret state" available without a secure-memory library (no
// example repo in the corpus imports one).
func (k *KeyPackage) Zeroize() {
	for i := range k.SaveData {
		k.SaveData[i] = 0
	}
}

// OutgoingMessage is one wire batch an engine wants sent onward: either
// to a single recipient, or (Recipient == nil) broadcast to every other
// participant. A single Start/HandleIncoming call can return more than
// one of these, e.g. a broadcast plus distinct point-to-point messages
// tss-lib happened to queue in the same pump step.
type OutgoingMessage struct {
	Recipient *ParticipantIndex
	Payload   []byte
}

// DKGEngine is the DKG half of component C (SPEC_FULL.md §4.C),
// generalized from the spec's named generate_round1/add_round1_package/
// generate_round2/add_round2_package/finalize operations to a
// round-count-agnostic pump: tss-lib's ecdsa/eddsa keygen both take
// three message-exchange rounds internally, which a fixed two-round
// mapping cannot drive to completion.
type DKGEngine interface {
	// Start begins the local party and returns its first batch of
	// outgoing messages, if any are ready before the caller needs to
	// return control (key generation's safe-prime/Paillier setup is
	// CPU-bound and can take tens of seconds).
	Start() ([]OutgoingMessage, error)

	// HandleIncoming absorbs one wire batch from a peer and returns
	// whatever new outgoing messages that produced. A duplicate sender
	// for the same logical step is the caller's responsibility to
	// filter (see internal/router's dedup); this absorbs unconditionally.
	HandleIncoming(sender ParticipantIndex, wireMsg []byte) ([]OutgoingMessage, error)

	// ExportKeyPackage serializes the finalized KeyPackage (only valid
	// once State() reports DkgComplete).
	ExportKeyPackage() (*KeyPackage, error)

	State() DkgState
	Cancel()
	Release()
}

// SigningEngine is the signing half of component C (SPEC_FULL.md §4.C),
// generalized the same way: GG18 ECDSA signing takes on the order of
// nine rounds, far more than a single commitment exchange plus a single
// share exchange can carry.
type SigningEngine interface {
	// Start begins the local party and returns its first batch of
	// outgoing messages, if any.
	Start() ([]OutgoingMessage, error)

	// HandleIncoming absorbs one wire batch from a co-signer and
	// returns whatever new outgoing messages that produced.
	HandleIncoming(sender ParticipantIndex, wireMsg []byte) ([]OutgoingMessage, error)

	// Signature returns the final, verified group signature (only
	// valid once State() reports SigningComplete).
	Signature() ([]byte, error)

	State() SigningState
	Cancel()
	Release()
}

// NewDKGEngine constructs a DKGEngine for the given ciphersuite.
func NewDKGEngine(suite ciphersuite.Suite, index ParticipantIndex, total, threshold int, logger *zap.Logger) (DKGEngine, error) {
	if index < 1 || int(index) > total {
		return nil, newError(ErrInvalidParams, "participant index %d out of range [1,%d]", index, total)
	}
	if threshold < 1 || threshold > total {
		return nil, newError(ErrInvalidParams, "invalid threshold %d of %d", threshold, total)
	}
	switch suite {
	case ciphersuite.Secp256k1:
		return newSecp256k1DKGEngine(index, total, threshold, logger)
	case ciphersuite.Ed25519:
		return newEd25519DKGEngine(index, total, threshold, logger)
	default:
		return nil, newError(ErrInvalidParams, "unsupported ciphersuite %v", suite)
	}
}

// NewSigningEngine constructs a SigningEngine for the given key package
// and signer set (which must include the key package's own participant
// index and have size >= the key package's threshold, per SPEC_FULL.md §4.C).
func NewSigningEngine(kp *KeyPackage, message []byte, signers []ParticipantIndex, logger *zap.Logger) (SigningEngine, error) {
	if len(signers) < kp.Threshold {
		return nil, newError(ErrInvalidParams, "signer set of size %d is smaller than threshold %d", len(signers), kp.Threshold)
	}
	self := false
	for _, s := range signers {
		if s == kp.ParticipantIndex {
			self = true
			break
		}
	}
	if !self {
		return nil, newError(ErrInvalidParams, "signer set does not include this participant (%d)", kp.ParticipantIndex)
	}
	switch kp.Suite {
	case ciphersuite.Secp256k1:
		return newSecp256k1SigningEngine(kp, message, signers, logger)
	case ciphersuite.Ed25519:
		return newEd25519SigningEngine(kp, message, signers, logger)
	default:
		return nil, newError(ErrInvalidParams, "unsupported ciphersuite %v", kp.Suite)
	}
}

// cancelFlag implements the cooperative-cancellation contract from
// SPEC_FULL.md §4.C: the caller sets it, the next method entry on any
// engine returns ErrCancelled.
type cancelFlag struct {
	mu        sync.Mutex
	cancelled bool
}

func (c *cancelFlag) set() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

func (c *cancelFlag) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return newError(ErrCancelled, "operation cancelled")
	}
	return nil
}

// messageDrainTimeout bounds how long a pump step waits for further
// sibling messages once the first one has arrived, so that everything
// tss-lib queues in one internal advance is shipped out together.
const messageDrainTimeout = 200 * time.Millisecond

// dkgStartTimeout bounds the wait for the first message Start() produces.
// Key generation's Paillier modulus and safe-prime generation is
// CPU-bound but can legitimately run for tens of seconds without
// precomputed parameters.
const dkgStartTimeout = 60 * time.Second

// signingStartTimeout is the equivalent bound for Start() on a signing
// engine, which reuses an already-generated key and so has no
// safe-prime generation to wait out.
const signingStartTimeout = 15 * time.Second

// wireEntry is one tss-lib wire message, stripped of its routing down to
// the single bit this package needs to replay it (broadcast vs
// targeted). Every OutgoingMessage/HandleIncoming payload is a JSON
// array of these.
type wireEntry struct {
	Broadcast bool   `json:"broadcast"`
	Payload   []byte `json:"payload"`
}

func marshalEntries(entries []wireEntry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	return json.Marshal(entries)
}

func unmarshalEntries(pkg []byte) ([]wireEntry, error) {
	if len(pkg) == 0 {
		return nil, nil
	}
	var entries []wireEntry
	if err := json.Unmarshal(pkg, &entries); err != nil {
		return nil, newError(ErrInvalidPackage, "malformed package: %w", err)
	}
	return entries, nil
}

// partyIndexOf maps a tss.PartyID back to its 1..n ParticipantIndex
// within a sorted party list.
func partyIndexOf(parties tss.SortedPartyIDs, id *tss.PartyID) (ParticipantIndex, bool) {
	for i, p := range parties {
		if p.Id == id.Id {
			return ParticipantIndex(i + 1), true
		}
	}
	return 0, false
}

// drainOutgoing collects every message tss-lib has queued since the last
// call, waiting up to firstTimeout for the first one and
// messageDrainTimeout for each sibling after that. done, when non-nil,
// is a channel that is closed once the party has reached a terminal
// outcome (success or failure); if it fires before or during the wait,
// drainOutgoing returns immediately with completed=true so the caller
// doesn't block out the full firstTimeout waiting for messages a
// finished party will never send. This is the teacher's
// collectOutgoingMessages, generalized to report per-message routing
// and to race against completion instead of assuming a fixed round
// count.
func drainOutgoing(outCh <-chan tss.Message, done <-chan struct{}, parties tss.SortedPartyIDs, firstTimeout time.Duration) (broadcastAll []wireEntry, targeted map[ParticipantIndex][]wireEntry, completed bool, err error) {
	targeted = make(map[ParticipantIndex][]wireEntry)

	first := true
	timer := time.NewTimer(firstTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-outCh:
			if !ok {
				return broadcastAll, targeted, false, nil
			}
			wireBytes, routing, werr := msg.WireBytes()
			if werr != nil {
				return nil, nil, false, newError(ErrInvalidPackage, "serializing outgoing message: %w", werr)
			}
			entry := wireEntry{Broadcast: routing.IsBroadcast, Payload: wireBytes}
			if routing.IsBroadcast {
				broadcastAll = append(broadcastAll, entry)
			} else {
				for _, to := range routing.To {
					idx, found := partyIndexOf(parties, to)
					if !found {
						continue
					}
					targeted[idx] = append(targeted[idx], entry)
				}
			}
			if first {
				// Give tss-lib a moment to flush any sibling messages it
				// queued in the same internal sub-round before returning.
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(messageDrainTimeout)
				first = false
			}
		case <-done:
			return broadcastAll, targeted, true, nil
		case <-timer.C:
			return broadcastAll, targeted, false, nil
		}
	}
}

// toOutgoing converts a drained batch into the OutgoingMessage list
// callers send onward: at most one broadcast entry, plus one targeted
// entry per addressed recipient.
func toOutgoing(broadcastAll []wireEntry, targeted map[ParticipantIndex][]wireEntry, self ParticipantIndex, total int) ([]OutgoingMessage, error) {
	var out []OutgoingMessage
	if len(broadcastAll) > 0 {
		pkg, err := marshalEntries(broadcastAll)
		if err != nil {
			return nil, newError(ErrInvalidPackage, "marshaling broadcast message: %w", err)
		}
		out = append(out, OutgoingMessage{Payload: pkg})
	}
	for i := 1; i <= total; i++ {
		idx := ParticipantIndex(i)
		if idx == self {
			continue
		}
		entries := targeted[idx]
		if len(entries) == 0 {
			continue
		}
		pkg, err := marshalEntries(entries)
		if err != nil {
			return nil, newError(ErrInvalidPackage, "marshaling message for participant %d: %w", idx, err)
		}
		recipient := idx
		out = append(out, OutgoingMessage{Recipient: &recipient, Payload: pkg})
	}
	return out, nil
}

// marshalSaveData and unmarshalSaveData serialize a ciphersuite's
// tss-lib LocalPartySaveData for the KeyPackage.SaveData envelope.
func marshalSaveData(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, newError(ErrInvalidPackage, "serializing save data: %w", err)
	}
	return raw, nil
}

func unmarshalSaveData(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return newError(ErrInvalidPackage, "deserializing save data: %w", err)
	}
	return nil
}
