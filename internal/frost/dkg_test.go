package frost

import (
	"bytes"
	"testing"

	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

// pendingMessage is one hop of an in-process message exchange: who sent
// it, who it's addressed to (nil means every other participant), and the
// opaque wire payload.
type pendingMessage struct {
	from    ParticipantIndex
	to      *ParticipantIndex
	payload []byte
}

func toPending(from ParticipantIndex, msgs []OutgoingMessage) []pendingMessage {
	out := make([]pendingMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, pendingMessage{from: from, to: m.Recipient, payload: m.Payload})
	}
	return out
}

// runDKG drives `total` in-process engines to completion using the
// generic Start/HandleIncoming pump, delivering each engine's outgoing
// batch to whichever peers it's addressed to and looping until nothing
// is left to exchange, and returns each participant's finalized key
// package.
func runDKG(t *testing.T, suite ciphersuite.Suite, total, threshold int) ([]*KeyPackage, []byte) {
	t.Helper()
	logger := zap.NewNop()

	engines := make([]DKGEngine, total)
	for i := 0; i < total; i++ {
		e, err := NewDKGEngine(suite, ParticipantIndex(i+1), total, threshold, logger)
		if err != nil {
			t.Fatalf("NewDKGEngine(%d): %v", i+1, err)
		}
		engines[i] = e
	}

	var outbox []pendingMessage
	for i, e := range engines {
		msgs, err := e.Start()
		if err != nil {
			t.Fatalf("participant %d Start: %v", i+1, err)
		}
		outbox = append(outbox, toPending(ParticipantIndex(i+1), msgs)...)
	}

	for round := 0; len(outbox) > 0; round++ {
		if round > 500 {
			t.Fatalf("dkg did not converge after %d pump rounds", round)
		}
		next := outbox
		outbox = nil
		for _, pending := range next {
			for i := 0; i < total; i++ {
				recipient := ParticipantIndex(i + 1)
				if recipient == pending.from {
					continue
				}
				if pending.to != nil && *pending.to != recipient {
					continue
				}
				msgs, err := engines[i].HandleIncoming(pending.from, pending.payload)
				if err != nil {
					t.Fatalf("participant %d HandleIncoming from %d: %v", recipient, pending.from, err)
				}
				outbox = append(outbox, toPending(recipient, msgs)...)
			}
		}
	}

	keyPackages := make([]*KeyPackage, total)
	var groupPub []byte
	for i, e := range engines {
		if e.State() != DkgComplete {
			t.Fatalf("participant %d did not reach DkgComplete (state=%v)", i+1, e.State())
		}
		kp, err := e.ExportKeyPackage()
		if err != nil {
			t.Fatalf("participant %d ExportKeyPackage: %v", i+1, err)
		}
		if groupPub == nil {
			groupPub = kp.GroupPublicKey
		} else if !bytes.Equal(groupPub, kp.GroupPublicKey) {
			t.Fatalf("participant %d produced a different group public key than participant 1", i+1)
		}
		keyPackages[i] = kp
	}

	return keyPackages, groupPub
}

func TestDKGEngineSecp256k1ProducesConsistentKeyPackages(t *testing.T) {
	keyPackages, groupPub := runDKG(t, ciphersuite.Secp256k1, 3, 2)

	if len(groupPub) != 65 || groupPub[0] != 0x04 {
		t.Fatalf("expected a 65-byte uncompressed secp256k1 point, got %d bytes", len(groupPub))
	}
	for i, kp := range keyPackages {
		if kp.Suite != ciphersuite.Secp256k1 {
			t.Errorf("participant %d: expected suite secp256k1, got %v", i+1, kp.Suite)
		}
		if kp.ParticipantIndex != ParticipantIndex(i+1) {
			t.Errorf("participant %d: wrong index recorded: %d", i+1, kp.ParticipantIndex)
		}
		if kp.Threshold != 2 || kp.TotalParties != 3 {
			t.Errorf("participant %d: unexpected threshold/total %d/%d", i+1, kp.Threshold, kp.TotalParties)
		}
		if !bytes.Equal(kp.GroupPublicKey, groupPub) {
			t.Errorf("participant %d: group public key mismatch", i+1)
		}
		if len(kp.SaveData) == 0 {
			t.Errorf("participant %d: empty save data", i+1)
		}
	}
}

func TestDKGEngineEd25519ProducesConsistentKeyPackages(t *testing.T) {
	keyPackages, groupPub := runDKG(t, ciphersuite.Ed25519, 3, 2)

	if len(groupPub) != 32 {
		t.Fatalf("expected a 32-byte compressed ed25519 point, got %d bytes", len(groupPub))
	}
	for i, kp := range keyPackages {
		if kp.Suite != ciphersuite.Ed25519 {
			t.Errorf("participant %d: expected suite ed25519, got %v", i+1, kp.Suite)
		}
		if !bytes.Equal(kp.GroupPublicKey, groupPub) {
			t.Errorf("participant %d: group public key mismatch", i+1)
		}
	}
}

func TestDKGEngineRejectsSelfPackage(t *testing.T) {
	logger := zap.NewNop()
	e, err := NewDKGEngine(ciphersuite.Secp256k1, 1, 3, 2, logger)
	if err != nil {
		t.Fatalf("NewDKGEngine: %v", err)
	}
	if _, err := e.HandleIncoming(1, []byte("{}")); err == nil {
		t.Fatal("expected an error absorbing a package attributed to this participant's own index")
	}
}

func TestDKGEngineRejectsInvalidParticipantIndex(t *testing.T) {
	logger := zap.NewNop()
	if _, err := NewDKGEngine(ciphersuite.Secp256k1, 0, 3, 2, logger); err == nil {
		t.Fatal("expected an error for participant index 0")
	}
	if _, err := NewDKGEngine(ciphersuite.Secp256k1, 4, 3, 2, logger); err == nil {
		t.Fatal("expected an error for participant index beyond total")
	}
	if _, err := NewDKGEngine(ciphersuite.Secp256k1, 1, 3, 4, logger); err == nil {
		t.Fatal("expected an error for a threshold above total")
	}
}
