package main

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/address"
	"github.com/stars-labs/mpc-wallet-sub007/internal/envelope"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
	"github.com/stars-labs/mpc-wallet-sub007/internal/keystore"
	"github.com/stars-labs/mpc-wallet-sub007/internal/mesh"
	"github.com/stars-labs/mpc-wallet-sub007/internal/router"
	"github.com/stars-labs/mpc-wallet-sub007/internal/session"
)

// sessionRuntime owns the mesh controller, router, and FROST engine for
// one AllAccepted session, from mesh formation through to a finalized
// wallet or signature.
type sessionRuntime struct {
	app    *application
	logger *zap.Logger
	info   *session.Info

	indexToDevice map[frost.ParticipantIndex]string

	router  *router.Router
	meshCtl *mesh.Controller

	mu         sync.Mutex
	dkgEngine  frost.DKGEngine
	signEngine frost.SigningEngine
	dkgSeq     uint32
	signSeq    uint32
	completed  bool
}

func (app *application) startRuntime(info *session.Info) {
	rt := &sessionRuntime{
		app:           app,
		logger:        app.logger.With(zap.String("session_id", info.SessionID)),
		info:          info,
		indexToDevice: make(map[frost.ParticipantIndex]string, len(info.Participants)),
		router:        router.New(info.SessionID),
	}

	others := make(map[frost.ParticipantIndex]string, len(info.Participants)-1)
	for _, p := range info.Participants {
		rt.indexToDevice[p.Index] = p.DeviceID
		if p.Index != info.Self {
			others[p.Index] = p.DeviceID
		}
	}

	for _, deviceID := range others {
		go app.announceAddr(deviceID)
	}

	meshCtl, err := mesh.New(info.SessionID, app.deviceID, info.Self, others, connCreatorAdapter{app: app}, meshSenderAdapter{rt: rt})
	if err != nil {
		rt.logger.Error("failed to start the peer mesh", zap.Error(err))
		return
	}
	rt.meshCtl = meshCtl
	rt.router.SetMeshSink(meshCtl)

	app.mu.Lock()
	app.runtimes[info.SessionID] = rt
	app.mu.Unlock()

	go rt.watchMesh()
	go rt.watchRouterStatuses()
}

func (app *application) announceAddr(deviceID string) {
	raw, err := json.Marshal(controlMessage{
		Type:     controlPeerAddr,
		DeviceID: app.deviceID,
		Addr:     app.tr.Addr(),
	})
	if err != nil {
		app.logger.Error("failed to marshal a peer address announcement", zap.Error(err))
		return
	}
	if err := app.sig.Relay(deviceID, raw); err != nil {
		app.logger.Warn("failed to relay a peer address announcement", zap.String("to", deviceID), zap.Error(err))
	}
}

func (rt *sessionRuntime) watchMesh() {
	for ev := range rt.meshCtl.Events() {
		switch {
		case ev.Status == mesh.StatusReady:
			rt.startEngine()
		case ev.IsLoss:
			rt.logger.Warn("lost a peer channel mid-session", zap.Uint16("peer_index", uint16(ev.LostPeer)))
		}
	}
}

func (rt *sessionRuntime) watchRouterStatuses() {
	for st := range rt.router.Statuses() {
		rt.logger.Error("protocol engine rejected a package", zap.Error(st.Err))
	}
}

func (rt *sessionRuntime) startEngine() {
	if rt.info.Kind == session.KindDKG {
		rt.startDKG()
		return
	}
	rt.startSigning()
}

func (rt *sessionRuntime) startDKG() {
	engine, err := frost.NewDKGEngine(rt.info.Suite, rt.info.Self, rt.info.Total, rt.info.Threshold, rt.logger)
	if err != nil {
		rt.logger.Error("failed to start the DKG engine", zap.Error(err))
		return
	}

	rt.mu.Lock()
	rt.dkgEngine = engine
	rt.mu.Unlock()
	rt.router.SetDKGSink(dkgSinkAdapter{rt: rt})

	msgs, err := engine.Start()
	if err != nil {
		rt.logger.Error("failed to start key generation", zap.Error(err))
		return
	}
	rt.sendOutgoing(envelope.TypeDKGMessage, msgs)
	rt.checkDKGComplete()
}

// sendOutgoing assigns one shared sequence number to every message in a
// pump step's batch and dispatches each onward: one call per addressed
// recipient, or a broadcast to every other participant if the engine
// left Recipient unset.
func (rt *sessionRuntime) sendOutgoing(typ envelope.Type, msgs []frost.OutgoingMessage) {
	if len(msgs) == 0 {
		return
	}
	var seq uint32
	switch typ {
	case envelope.TypeDKGMessage:
		rt.mu.Lock()
		rt.dkgSeq++
		seq = rt.dkgSeq
		rt.mu.Unlock()
	case envelope.TypeSigningMessage:
		rt.mu.Lock()
		rt.signSeq++
		seq = rt.signSeq
		rt.mu.Unlock()
	}
	for _, m := range msgs {
		if m.Recipient == nil {
			rt.broadcast(typ, seq, m.Payload)
		} else {
			rt.send(*m.Recipient, typ, seq, m.Payload)
		}
	}
}

// checkDKGComplete polls the DKG engine's terminal state and, the first
// time it reports DkgComplete, exports the key package and finishes the
// session. Safe to call after every pump step; it's a no-op once the
// session has already completed.
func (rt *sessionRuntime) checkDKGComplete() {
	rt.mu.Lock()
	if rt.completed {
		rt.mu.Unlock()
		return
	}
	engine := rt.dkgEngine
	rt.mu.Unlock()
	if engine == nil {
		return
	}

	switch engine.State() {
	case frost.DkgComplete:
		kp, err := engine.ExportKeyPackage()
		if err != nil {
			rt.logger.Error("failed to export the finalized key package", zap.Error(err))
			return
		}
		rt.mu.Lock()
		if rt.completed {
			rt.mu.Unlock()
			return
		}
		rt.completed = true
		rt.mu.Unlock()
		rt.completeDKG(kp)
	case frost.DkgFailed:
		rt.logger.Error("DKG failed")
	}
}

func (rt *sessionRuntime) completeDKG(kp *frost.KeyPackage) {
	metadata := keystore.WalletMetadata{
		WalletID:          uuid.New().String(),
		CurveType:         rt.info.Suite.String(),
		Threshold:         uint16(rt.info.Threshold),
		TotalParticipants: uint16(rt.info.Total),
		ParticipantIndex:  uint16(rt.info.Self),
		GroupPublicKey:    hex.EncodeToString(kp.GroupPublicKey),
		CreatedAt:         time.Now().UTC(),
		LastModified:      time.Now().UTC(),
	}

	if addr, err := address.Derive(rt.info.Suite, kp.GroupPublicKey); err == nil {
		chain := keystore.Blockchain{Address: addr, Enabled: true}
		switch rt.info.Suite.String() {
		case "secp256k1":
			chain.Blockchain, chain.Network, chain.AddressFormat = "ethereum", "mainnet", "eip55"
		case "ed25519":
			chain.Blockchain, chain.Network, chain.AddressFormat = "solana", "mainnet-beta", "base58"
		}
		metadata.Blockchains = []keystore.Blockchain{chain}
	} else {
		rt.logger.Warn("could not derive a chain address for the new wallet", zap.Error(err))
	}

	if _, err := rt.app.ks.AddWallet(metadata, kp); err != nil {
		rt.logger.Error("failed to persist the new wallet", zap.Error(err))
	} else {
		rt.logger.Info("DKG complete; wallet saved",
			zap.String("wallet_id", metadata.WalletID),
			zap.String("group_public_key", metadata.GroupPublicKey))
	}

	rt.app.finishRuntime(rt.info.SessionID)
}

func (rt *sessionRuntime) startSigning() {
	kp, err := rt.app.ks.GetKeyShare(rt.info.WalletID)
	if err != nil {
		rt.logger.Error("failed to load the key share for signing", zap.Error(err))
		return
	}

	signers := make([]frost.ParticipantIndex, 0, len(rt.info.Participants))
	for _, p := range rt.info.Participants {
		signers = append(signers, p.Index)
	}

	engine, err := frost.NewSigningEngine(kp, rt.info.Message, signers, rt.logger)
	if err != nil {
		rt.logger.Error("failed to start the signing engine", zap.Error(err))
		return
	}

	rt.mu.Lock()
	rt.signEngine = engine
	rt.mu.Unlock()
	rt.router.SetSigningSink(signingSinkAdapter{rt: rt})

	msgs, err := engine.Start()
	if err != nil {
		rt.logger.Error("failed to start signing", zap.Error(err))
		return
	}
	rt.sendOutgoing(envelope.TypeSigningMessage, msgs)
	rt.checkSigningComplete()
}

// checkSigningComplete mirrors checkDKGComplete for the signing engine.
func (rt *sessionRuntime) checkSigningComplete() {
	rt.mu.Lock()
	if rt.completed {
		rt.mu.Unlock()
		return
	}
	engine := rt.signEngine
	rt.mu.Unlock()
	if engine == nil {
		return
	}

	switch engine.State() {
	case frost.SigningComplete:
		sig, err := engine.Signature()
		if err != nil {
			rt.logger.Error("failed to retrieve the aggregated signature", zap.Error(err))
			return
		}
		rt.mu.Lock()
		if rt.completed {
			rt.mu.Unlock()
			return
		}
		rt.completed = true
		rt.mu.Unlock()
		rt.logger.Info("signing complete", zap.String("signature", hex.EncodeToString(sig)))
		rt.app.finishRuntime(rt.info.SessionID)
	case frost.SigningFailed:
		rt.logger.Error("signing failed")
	}
}

func (rt *sessionRuntime) broadcast(typ envelope.Type, seq uint32, payload []byte) {
	for idx, deviceID := range rt.indexToDevice {
		if idx == rt.info.Self {
			continue
		}
		e := envelope.Broadcast(typ, rt.info.SessionID, rt.info.Self, seq, payload)
		rt.sendEnvelope(deviceID, e)
	}
}

func (rt *sessionRuntime) send(recipient frost.ParticipantIndex, typ envelope.Type, seq uint32, payload []byte) {
	deviceID, ok := rt.indexToDevice[recipient]
	if !ok {
		rt.logger.Warn("no known device for participant index", zap.Uint16("index", uint16(recipient)))
		return
	}
	e := envelope.Targeted(typ, rt.info.SessionID, rt.info.Self, recipient, seq, payload)
	rt.sendEnvelope(deviceID, e)
}

func (rt *sessionRuntime) sendEnvelope(deviceID string, e envelope.Envelope) {
	wire, err := e.Marshal()
	if err != nil {
		rt.logger.Error("failed to marshal an outgoing envelope", zap.Error(err))
		return
	}
	if err := rt.app.tr.Send(deviceID, wire); err != nil {
		rt.logger.Error("failed to send an envelope", zap.String("peer", deviceID), zap.Error(err))
	}
}

// connCreatorAdapter bridges mesh.ConnCreator to the shared transport,
// keyed by DeviceId directly — the transport has no notion of session.
type connCreatorAdapter struct {
	app *application
}

func (c connCreatorAdapter) Create(_ frost.ParticipantIndex, deviceID string) error {
	return c.app.tr.Create(deviceID)
}

// meshSenderAdapter bridges mesh.Sender to the shared transport via the
// owning session's participant index -> device id map.
type meshSenderAdapter struct {
	rt *sessionRuntime
}

func (s meshSenderAdapter) Send(recipient frost.ParticipantIndex, e envelope.Envelope) error {
	deviceID, ok := s.rt.indexToDevice[recipient]
	if !ok {
		return nil
	}
	wire, err := e.Marshal()
	if err != nil {
		return err
	}
	return s.rt.app.tr.Send(deviceID, wire)
}

// dkgSinkAdapter satisfies router.DKGSink, forwarding to the real engine
// and re-sending whatever the pump step produced before checking for
// completion.
type dkgSinkAdapter struct {
	rt *sessionRuntime
}

func (d dkgSinkAdapter) State() frost.DkgState { return d.rt.dkgEngine.State() }

func (d dkgSinkAdapter) HandleIncoming(sender frost.ParticipantIndex, pkg []byte) ([]frost.OutgoingMessage, error) {
	msgs, err := d.rt.dkgEngine.HandleIncoming(sender, pkg)
	if err != nil {
		return nil, err
	}
	d.rt.sendOutgoing(envelope.TypeDKGMessage, msgs)
	d.rt.checkDKGComplete()
	return msgs, nil
}

// signingSinkAdapter satisfies router.SigningSink the same way.
type signingSinkAdapter struct {
	rt *sessionRuntime
}

func (s signingSinkAdapter) State() frost.SigningState { return s.rt.signEngine.State() }

func (s signingSinkAdapter) HandleIncoming(sender frost.ParticipantIndex, pkg []byte) ([]frost.OutgoingMessage, error) {
	msgs, err := s.rt.signEngine.HandleIncoming(sender, pkg)
	if err != nil {
		return nil, err
	}
	s.rt.sendOutgoing(envelope.TypeSigningMessage, msgs)
	s.rt.checkSigningComplete()
	return msgs, nil
}
