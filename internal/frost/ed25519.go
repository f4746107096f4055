package frost

import (
	"crypto/ed25519"
	"math/big"
	"sync"

	tsseddsa "github.com/bnb-chain/tss-lib/v2/eddsa/keygen"
	tsssigning "github.com/bnb-chain/tss-lib/v2/eddsa/signing"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
)

// ed25519DKGEngine drives tss-lib's eddsa/keygen LocalParty. The pump
// mirrors secp256k1DKGEngine exactly; only the curve, the save-data type,
// and the public-key encoding differ.
type ed25519DKGEngine struct {
	mu sync.Mutex

	self      ParticipantIndex
	total     int
	threshold int
	parties   tss.SortedPartyIDs

	party  tss.Party
	outCh  chan tss.Message
	endCh  chan tsseddsa.LocalPartySaveData
	errCh  chan *tss.Error
	doneCh chan struct{}

	state    DkgState
	saveData *tsseddsa.LocalPartySaveData
	pub      ed25519.PublicKey
	failure  error
	cancel   cancelFlag
	logger   *zap.Logger
}

func newEd25519DKGEngine(self ParticipantIndex, total, threshold int, logger *zap.Logger) (DKGEngine, error) {
	parties := sortedPartyIDs(total)
	thisParty := parties[self-1]
	ctx := tss.NewPeerContext(parties)
	params := tss.NewParameters(tss.Edwards(), ctx, thisParty, total, threshold)

	outCh := make(chan tss.Message, total*total+8)
	endCh := make(chan tsseddsa.LocalPartySaveData, 1)
	errCh := make(chan *tss.Error, 1)

	party := tsseddsa.NewLocalParty(params, outCh, endCh)

	e := &ed25519DKGEngine{
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

	logger.Debug("ed25519 dkg party starting",
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

func (e *ed25519DKGEngine) awaitResult() {
	select {
	case saveData := <-e.endCh:
		e.mu.Lock()
		if saveData.EDDSAPub == nil {
			e.failure = newError(ErrVerificationFailure, "key generation completed without a public key")
			e.state = DkgFailed
		} else {
			e.saveData = &saveData
			e.pub = elliptic25519PublicKeyBytes(saveData.EDDSAPub.X(), saveData.EDDSAPub.Y())
			e.state = DkgComplete
			e.logger.Info("ed25519 dkg complete", zap.Int("participant", int(e.self)))
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

func (e *ed25519DKGEngine) Start() ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, dkgStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, e.total)
}

func (e *ed25519DKGEngine) HandleIncoming(sender ParticipantIndex, pkg []byte) ([]OutgoingMessage, error) {
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

func (e *ed25519DKGEngine) ExportKeyPackage() (*KeyPackage, error) {
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
		Suite:            ciphersuite.Ed25519,
		ParticipantIndex: e.self,
		Threshold:        e.threshold,
		TotalParties:     e.total,
		GroupPublicKey:   e.pub,
		SaveData:         raw,
	}, nil
}

func (e *ed25519DKGEngine) State() DkgState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *ed25519DKGEngine) Cancel()  { e.cancel.set() }
func (e *ed25519DKGEngine) Release() {}

// ed25519SigningEngine drives tss-lib's eddsa/signing LocalParty through
// its multi-round message exchange via the same generic pump.
type ed25519SigningEngine struct {
	mu sync.Mutex

	self    ParticipantIndex
	parties tss.SortedPartyIDs

	party  tss.Party
	outCh  chan tss.Message
	endCh  chan tsssigning.SignatureData
	errCh  chan *tss.Error
	doneCh chan struct{}

	state   SigningState
	pub     ed25519.PublicKey
	message []byte
	sig     []byte
	failure error
	cancel  cancelFlag
	logger  *zap.Logger
}

func newEd25519SigningEngine(kp *KeyPackage, message []byte, signers []ParticipantIndex, logger *zap.Logger) (SigningEngine, error) {
	var saveData tsseddsa.LocalPartySaveData
	if err := unmarshalSaveData(kp.SaveData, &saveData); err != nil {
		return nil, newError(ErrInvalidParams, "deserializing key package: %w", err)
	}
	var pub ed25519.PublicKey
	if saveData.EDDSAPub != nil {
		pub = elliptic25519PublicKeyBytes(saveData.EDDSAPub.X(), saveData.EDDSAPub.Y())
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
	params := tss.NewParameters(tss.Edwards(), ctx, selfInSigners, len(signerParties), kp.Threshold)

	outCh := make(chan tss.Message, len(signerParties)*len(signerParties)*16+8)
	endCh := make(chan tsssigning.SignatureData, 1)
	errCh := make(chan *tss.Error, 1)

	msgHash := new(big.Int).SetBytes(message)
	party := tsssigning.NewLocalParty(msgHash, params, saveData, outCh, endCh)

	self, _ := partyIndexOf(signerParties, selfInSigners)

	e := &ed25519SigningEngine{
		self:    self,
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

	logger.Debug("ed25519 signing party starting",
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

func (e *ed25519SigningEngine) awaitResult() {
	select {
	case sigData := <-e.endCh:
		e.mu.Lock()
		// tss-lib's eddsa/signing already produces R/S in the
		// little-endian form RFC 8032 expects; copy them verbatim
		// rather than round-tripping through a big-endian big.Int,
		// which would silently reorder the bytes.
		sig := make([]byte, 64)
		copy(sig[0:32], padToLen(sigData.R, 32))
		copy(sig[32:64], padToLen(sigData.S, 32))

		if e.pub != nil && !ed25519.Verify(e.pub, e.message, sig) {
			e.failure = newError(ErrAggregationFailure, "aggregated signature failed verification against the group public key")
			e.state = SigningFailed
		} else {
			e.sig = sig
			e.state = SigningComplete
			e.logger.Info("ed25519 signature complete", zap.Int("participant", int(e.self)))
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

func (e *ed25519SigningEngine) fromID(sender ParticipantIndex) *tss.PartyID {
	for _, p := range e.parties {
		idx, _ := partyIndexOf(e.parties, p)
		if idx == sender {
			return p
		}
	}
	return nil
}

func (e *ed25519SigningEngine) Start() ([]OutgoingMessage, error) {
	if err := e.cancel.check(); err != nil {
		return nil, err
	}
	broadcast, targeted, _, err := drainOutgoing(e.outCh, e.doneCh, e.parties, signingStartTimeout)
	if err != nil {
		return nil, err
	}
	return toOutgoing(broadcast, targeted, e.self, len(e.parties))
}

func (e *ed25519SigningEngine) HandleIncoming(sender ParticipantIndex, pkg []byte) ([]OutgoingMessage, error) {
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

func (e *ed25519SigningEngine) Signature() ([]byte, error) {
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

func (e *ed25519SigningEngine) State() SigningState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *ed25519SigningEngine) Cancel()  { e.cancel.set() }
func (e *ed25519SigningEngine) Release() {}

// padToLen right-pads data with trailing zero bytes until it reaches
// length, preserving byte order. Used for little-endian signature
// components, where zero-padding belongs on the high-order (trailing)
// end rather than the leading end padToBytes pads for big-endian values.
func padToLen(data []byte, length int) []byte {
	if len(data) >= length {
		return data[:length]
	}
	out := make([]byte, length)
	copy(out, data)
	return out
}

// elliptic25519PublicKeyBytes re-encodes an affine curve point produced
// by tss-lib's eddsa save data into the compressed 32-byte form
// crypto/ed25519 and the rest of the ecosystem expect.
func elliptic25519PublicKeyBytes(x, y *big.Int) ed25519.PublicKey {
	// Edwards25519 compressed encoding: little-endian y with the sign of
	// x folded into the top bit.
	out := make([]byte, 32)
	yb := y.Bytes()
	for i := 0; i < len(yb) && i < 32; i++ {
		out[i] = yb[len(yb)-1-i]
	}
	if x.Bit(0) == 1 {
		out[31] |= 0x80
	}
	return ed25519.PublicKey(out)
}
