package frost

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	tssecdsa "github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
	tsssigning "github.com/bnb-chain/tss-lib/v2/ecdsa/signing"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

func sortedPartyIDs(total int) tss.SortedPartyIDs {
	ids := make([]*tss.PartyID, total)
	for i := 0; i < total; i++ {
		ids[i] = tss.NewPartyID(fmt.Sprintf("participant-%d", i+1), fmt.Sprintf("Participant %d", i+1), big.NewInt(int64(i+1)))
	}
	return tss.SortPartyIDs(ids)
}

// secp256k1DKGEngine drives tss-lib's ecdsa/keygen LocalParty through its
// three message-exchange rounds via the generic pump in drainOutgoing,
// instead of assuming a fixed round count.
type secp256k1DKGEngine struct {
	mu sync.Mutex

	self      ParticipantIndex
	total     int
	threshold int
	parties   tss.SortedPartyIDs

	party  tss.Party
	outCh  chan tss.Message
	endCh  chan tssecdsa.LocalPartySaveData
	errCh  chan *tss.Error
	doneCh chan struct{}

	state    DkgState
	saveData *tssecdsa.LocalPartySaveData
	pub      *ecdsa.PublicKey
	failure  error
	cancel   cancelFlag
	logger   *zap.Logger
}

func newSecp256k1DKGEngine(self ParticipantIndex, total, threshold int, logger *zap.Logger) (DKGEngine, error) {
	parties := sortedPartyIDs(total)
	thisParty := parties[self-1]
	ctx := tss.NewPeerContext(parties)
	params := tss.NewParameters(tss.S256(), ctx, thisParty, total, threshold)

	outCh := make(chan tss.Message, total*total+8)
	endCh := make(chan tssecdsa.LocalPartySaveData, 1)
	errCh := make(chan *tss.Error, 1)

	party := tssecdsa.NewLocalParty(params, outCh, endCh)

	e := &secp256k1DKGEngine{
		self:      self,
		total:     total,
		threshold: threshold,
		parties:   parties,
		party:     party,
		outCh:     outCh,
		endCh:     endCh,
		errCh:     errCh,
		doneCh:    make(chan struct{}),
		state:     DkgInProgress,
		logger:    logger,
	}

	logger.Debug("secp256k1 dkg party starting",
		zap.Int("participant", int(self)),
		zap.Int("total", total),
		zap.Int("threshold", threshold),
	)

	go func() {
		if err := party.Start(); err != nil {
			errCh <- err
		}
	}()
	go e.awaitResult()

	return e, nil
}

// awaitResult watches this party's terminal channels for the rest of its
// lifetime and records the outcome once, closing doneCh so any pump step
// in flight stops waiting on outCh immediately rather than riding out
// its full drain timeout.
func (e *secp256k1DKGEngine) awaitResult() {
	select {
	case saveData := <-e.endCh:
		e.mu.Lock()
		if saveData.ECDSAPub == nil {
			e.failure = newError(ErrVerificationFailure, "key generation completed without a public key")
			e.state = DkgFailed
		} else if pub, err := saveData.ECDSAPub.ToECDSAPubKey(); err != nil {
			e.failure = newError(ErrVerificationFailure, "deriving group public key: %w", err)
			e.state = DkgFailed
		} else {
			e.saveData = &saveData
			e.pub = pub
			e.state = DkgComplete
			e.logger.Info("secp256k1 dkg complete", zap.Int("participant", int(e.self)))
		}
		e.mu.Unlock()
	case tssErr := <-e.errCh:
		e.mu.Lock()
		e.failure = newError(ErrVerificationFailure, "key generation failed: %w", tssErr)
		e.state = DkgFailed
		e.mu.Unlock()
	}
	close(e.doneCh)
}

func (e *secp256k1DKGEngine) Start() ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, dkgStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, e.total)
}

func (e *secp256k1DKGEngine) HandleIncoming(sender ParticipantIndex, pkg []byte) ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	if sender == e.self {
		return nil, newError(ErrInvalidParams, "cannot absorb a package from self")
	}
	e.mu.Lock()
	if e.state != DkgInProgress {
		e.mu.Unlock()
		return nil, nil
	}
	e.mu.Unlock()

	entries, err := unmarshalEntries(pkg)
	if err != nil {
		return nil, err
	}
	fromID := e.parties[sender-1]
	for _, entry := range entries {
		parsed, perr := tss.ParseWireMessage(entry.Payload, fromID, entry.Broadcast)
		if perr != nil {
			return nil, newError(ErrInvalidPackage, "parsing package from participant %d: %w", sender, perr)
		}
		if _, uerr := e.party.Update(parsed); uerr != nil {
			return nil, newError(ErrInvalidPackage, "applying package from participant %d: %w", sender, uerr)
		}
	}

	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, dkgStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, e.total)
}

func (e *secp256k1DKGEngine) ExportKeyPackage() (*KeyPackage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != DkgComplete || e.saveData == nil {
		return nil, newError(ErrInvalidParams, "dkg not complete")
	}
	raw, err := marshalSaveData(e.saveData)
	if err != nil {
		return nil, err
	}
	return &KeyPackage{
		Suite:            ciphersuite.Secp256k1,
		ParticipantIndex: e.self,
		Threshold:        e.threshold,
		TotalParties:     e.total,
		GroupPublicKey:   serializeUncompressed(e.pub),
		SaveData:         raw,
	}, nil
}

func (e *secp256k1DKGEngine) State() DkgState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *secp256k1DKGEngine) Cancel()  { e.cancel.set() }
func (e *secp256k1DKGEngine) Release() {}

// secp256k1SigningEngine drives tss-lib's ecdsa/signing (GG18) LocalParty
// over the signer subset a signing instance was initialized with. GG18
// takes on the order of nine message-exchange rounds; the generic pump
// below drives all of them without assuming any particular count.
type secp256k1SigningEngine struct {
	mu sync.Mutex

	self    ParticipantIndex
	signers []ParticipantIndex
	parties tss.SortedPartyIDs

	party  tss.Party
	outCh  chan tss.Message
	endCh  chan tsssigning.SignatureData
	errCh  chan *tss.Error
	doneCh chan struct{}

	state   SigningState
	pub     *ecdsa.PublicKey
	message []byte
	sig     []byte
	failure error
	cancel  cancelFlag
	logger  *zap.Logger
}

func newSecp256k1SigningEngine(kp *KeyPackage, message []byte, signers []ParticipantIndex, logger *zap.Logger) (SigningEngine, error) {
	var saveData tssecdsa.LocalPartySaveData
	if err := unmarshalSaveData(kp.SaveData, &saveData); err != nil {
		return nil, newError(ErrInvalidParams, "deserializing key package: %w", err)
	}
	var pub *ecdsa.PublicKey
	if saveData.ECDSAPub != nil {
		p, err := saveData.ECDSAPub.ToECDSAPubKey()
		if err != nil {
			return nil, newError(ErrInvalidParams, "deserializing group public key: %w", err)
		}
		pub = p
	}

	allParties := sortedPartyIDs(kp.TotalParties)
	signerParties := make(tss.SortedPartyIDs, 0, len(signers))
	var selfInSigners *tss.PartyID
	for _, idx := range sortedIndexes(signers) {
		p := allParties[idx-1]
		signerParties = append(signerParties, p)
		if idx == kp.ParticipantIndex {
			selfInSigners = p
		}
	}
	if selfInSigners == nil {
		return nil, newError(ErrInvalidParams, "signer set does not include this participant")
	}

	ctx := tss.NewPeerContext(signerParties)
	params := tss.NewParameters(tss.S256(), ctx, selfInSigners, len(signerParties), kp.Threshold)

	outCh := make(chan tss.Message, len(signerParties)*len(signerParties)*16+8)
	endCh := make(chan tsssigning.SignatureData, 1)
	errCh := make(chan *tss.Error, 1)

	msgHash := new(big.Int).SetBytes(message)
	party := tsssigning.NewLocalParty(msgHash, params, saveData, outCh, endCh)

	self, _ := partyIndexOf(signerParties, selfInSigners)

	e := &secp256k1SigningEngine{
		self:    self,
		signers: sortedIndexes(signers),
		parties: signerParties,
		party:   party,
		outCh:   outCh,
		endCh:   endCh,
		errCh:   errCh,
		doneCh:  make(chan struct{}),
		state:   SigningInProgress,
		pub:     pub,
		message: message,
		logger:  logger,
	}

	logger.Debug("secp256k1 signing party starting",
		zap.Int("participant", int(kp.ParticipantIndex)),
		zap.Int("signers", len(signerParties)),
	)

	go func() {
		if err := party.Start(); err != nil {
			errCh <- err
		}
	}()
	go e.awaitResult()

	return e, nil
}

func (e *secp256k1SigningEngine) awaitResult() {
	select {
	case sigData := <-e.endCh:
		e.mu.Lock()
		r := padToBytes(sigData.R, 32)
		s := padToBytes(sigData.S, 32)
		sig := make([]byte, 65)
		copy(sig[0:32], r)
		copy(sig[32:64], s)
		recovery := byte(27)
		if len(sigData.SignatureRecovery) > 0 && sigData.SignatureRecovery[0] == 1 {
			recovery = 28
		}
		sig[64] = recovery

		if e.pub != nil && !ecdsa.Verify(e.pub, e.message, new(big.Int).SetBytes(r), new(big.Int).SetBytes(s)) {
			e.failure = newError(ErrAggregationFailure, "aggregated signature failed verification against the group public key")
			e.state = SigningFailed
		} else {
			e.sig = sig
			e.state = SigningComplete
			e.logger.Info("secp256k1 signature complete", zap.Int("participant", int(e.self)))
		}
		e.mu.Unlock()
	case tssErr := <-e.errCh:
		e.mu.Lock()
		e.failure = newError(ErrAggregationFailure, "signing failed: %w", tssErr)
		e.state = SigningFailed
		e.mu.Unlock()
	}
	close(e.doneCh)
}

func (e *secp256k1SigningEngine) fromID(sender ParticipantIndex) *tss.PartyID {
	for _, p := range e.parties {
		idx, _ := partyIndexOf(e.parties, p)
		if idx == sender {
			return p
		}
	}
	return nil
}

func (e *secp256k1SigningEngine) Start() ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, signingStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, len(e.parties))
}

func (e *secp256k1SigningEngine) HandleIncoming(sender ParticipantIndex, pkg []byte) ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	if sender == e.self {
		return nil, newError(ErrInvalidParams, "cannot absorb a package from self")
	}
	e.mu.Lock()
	if e.state != SigningInProgress {
		e.mu.Unlock()
		return nil, nil
	}
	e.mu.Unlock()

	fromID := e.fromID(sender)
	if fromID == nil {
		return nil, newError(ErrInvalidParams, "sender %d is not part of this signing instance", sender)
	}
	entries, err := unmarshalEntries(pkg)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		parsed, perr := tss.ParseWireMessage(entry.Payload, fromID, entry.Broadcast)
		if perr != nil {
			return nil, newError(ErrInvalidPackage, "parsing package from participant %d: %w", sender, perr)
		}
		if _, uerr := e.party.Update(parsed); uerr != nil {
			return nil, newError(ErrInvalidPackage, "applying package from participant %d: %w", sender, uerr)
		}
	}

	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, signingStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, len(e.parties))
}

func (e *secp256k1SigningEngine) Signature() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != SigningComplete {
		if e.failure != nil {
			return nil, e.failure
		}
		return nil, newError(ErrInvalidParams, "signing not complete")
	}
	return e.sig, nil
}

func (e *secp256k1SigningEngine) State() SigningState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *secp256k1SigningEngine) Cancel()  { e.cancel.set() }
func (e *secp256k1SigningEngine) Release() {}

func serializeUncompressed(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 65)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out
}

// padToBytes left-pads a big-endian byte slice (as tss-lib's GG18 signing
// produces for R/S) out to length, truncating from the front if it's
// already longer.
func padToBytes(data []byte, length int) []byte {
	if len(data) >= length {
		return data[:length]
	}
	out := make([]byte, length)
	copy(out[length-len(data):], data)
	return out
}

func sortedIndexes(in []ParticipantIndex) []ParticipantIndex {
	out := append([]ParticipantIndex{}, in...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
