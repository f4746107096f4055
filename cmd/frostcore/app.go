package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
	"github.com/stars-labs/mpc-wallet-sub007/internal/envelope"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
	"github.com/stars-labs/mpc-wallet-sub007/internal/keystore"
	"github.com/stars-labs/mpc-wallet-sub007/internal/session"
	"github.com/stars-labs/mpc-wallet-sub007/internal/signaling"
	"github.com/stars-labs/mpc-wallet-sub007/internal/transport"
	"github.com/stars-labs/mpc-wallet-sub007/internal/transport/wstransport"
)

const proposalTimeout = 120 * time.Second

// application is the root object SPEC_FULL.md §9 describes: the one
// place process-wide state lives, owning every long-lived component
// this device runs. There is no other package-level mutable state.
type application struct {
	logger       *zap.Logger
	deviceID     string
	defaultSuite ciphersuite.Suite

	ks       *keystore.Keystore
	sessions *session.Controller
	sig      *signaling.Client
	tr       *wstransport.Transport
	resolver *addrResolver

	mu       sync.Mutex
	runtimes map[string]*sessionRuntime
	pending  map[string]*controlMessage // session_id -> proposal awaiting a local accept/decline
}

func newApplication(logger *zap.Logger, deviceID string, defaultSuite ciphersuite.Suite, ks *keystore.Keystore, signalURL, listenAddr string) (*application, error) {
	app := &application{
		logger:       logger,
		deviceID:     deviceID,
		defaultSuite: defaultSuite,
		ks:           ks,
		resolver:     newAddrResolver(),
		runtimes:     make(map[string]*sessionRuntime),
		pending:      make(map[string]*controlMessage),
	}

	tr, err := wstransport.Listen(deviceID, listenAddr, app.resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("listening for peer channels: %w", err)
	}
	app.tr = tr

	sig, err := signaling.Dial(signalURL, deviceID, logger)
	if err != nil {
		tr.Shutdown(context.Background())
		return nil, fmt.Errorf("dialing signaling relay: %w", err)
	}
	app.sig = sig

	app.sessions = session.New(deviceID, &keystoreWalletLookup{ks: ks}, &relayerAdapter{sig: sig}, proposalTimeout)

	go app.signalingEventLoop()
	go app.transportEventLoop()
	go app.sessionReadyLoop()
	go app.timeoutSweepLoop()

	return app, nil
}

func (app *application) signalingEventLoop() {
	for ev := range app.sig.Events() {
		switch ev.Kind {
		case signaling.EventDevices:
			app.logger.Debug("known devices", zap.Strings("devices", ev.Devices))
		case signaling.EventSessionAvailable:
			app.logger.Info("a session is available to join",
				zap.String("session_id", ev.Session.SessionID),
				zap.String("initiator", ev.Session.Initiator))
		case signaling.EventSessionStatus:
			app.logger.Info("session status update", zap.String("session_id", ev.Status.SessionID), zap.String("status", ev.Status.Status))
		case signaling.EventRelay:
			app.handleControlMessage(ev.From, ev.Data)
		case signaling.EventDisconnected:
			app.logger.Error("disconnected from the signaling relay", zap.Error(ev.Err))
		}
	}
}

func (app *application) handleControlMessage(from string, raw json.RawMessage) {
	msg, err := decodeControlMessage(raw)
	if err != nil {
		app.logger.Warn("malformed control message", zap.String("from", from), zap.Error(err))
		return
	}

	switch msg.Type {
	case controlPeerAddr:
		app.resolver.set(msg.DeviceID, msg.Addr)

	case controlSessionProposal:
		app.handleIncomingProposal(msg)

	case controlSessionResponse:
		status := session.WalletStatus{Available: msg.Available, Reason: msg.Reason}
		if err := app.sessions.OnResponse(msg.SessionID, frost.ParticipantIndex(msg.From), status); err != nil {
			app.logger.Warn("rejecting session response", zap.String("session_id", msg.SessionID), zap.Error(err))
		}
	}
}

func (app *application) handleIncomingProposal(msg controlMessage) {
	suite, err := ciphersuite.Parse(msg.Suite)
	if err != nil {
		app.logger.Warn("proposal names an unsupported ciphersuite", zap.String("suite", msg.Suite))
		return
	}
	kind := session.KindDKG
	if msg.Kind == "signing" {
		kind = session.KindSigning
	}
	participants := make([]session.Participant, len(msg.Participants))
	for i, p := range msg.Participants {
		participants[i] = session.Participant{Index: frost.ParticipantIndex(p.Index), DeviceID: p.DeviceID}
	}
	var message []byte
	if msg.MessageHex != "" {
		message, err = hex.DecodeString(msg.MessageHex)
		if err != nil {
			app.logger.Warn("proposal has invalid message hex", zap.String("session_id", msg.SessionID), zap.Error(err))
			return
		}
	}

	params := session.Params{
		SessionID:              msg.SessionID,
		Kind:                   kind,
		Threshold:              msg.Threshold,
		Total:                  msg.Total,
		Participants:           participants,
		Suite:                  suite,
		WalletID:               msg.WalletID,
		Message:                message,
		ExpectedGroupPublicKey: msg.ExpectedGroupPublicKey,
	}

	if _, err := app.sessions.Propose(params); err != nil {
		app.logger.Warn("rejecting incoming session proposal", zap.String("session_id", msg.SessionID), zap.Error(err))
		return
	}

	app.mu.Lock()
	app.pending[msg.SessionID] = &msg
	app.mu.Unlock()
	app.logger.Info("new session proposal received; use \"accept <session-id>\" to join",
		zap.String("session_id", msg.SessionID), zap.String("kind", msg.Kind))
}

func (app *application) transportEventLoop() {
	for ev := range app.tr.Events() {
		switch ev.Kind {
		case transport.EventOpened:
			app.forEachRuntimeWithPeer(ev.Peer, func(rt *sessionRuntime, idx frost.ParticipantIndex) {
				if err := rt.meshCtl.OnChannelOpened(idx); err != nil {
					app.logger.Warn("mesh channel-opened handling failed", zap.Error(err))
				}
			})
		case transport.EventClosed:
			app.forEachRuntimeWithPeer(ev.Peer, func(rt *sessionRuntime, idx frost.ParticipantIndex) {
				rt.meshCtl.OnChannelClosed(idx)
			})
		case transport.EventMessage:
			e, err := envelope.Unmarshal(ev.Payload)
			if err != nil {
				app.logger.Warn("malformed envelope from peer", zap.String("peer", ev.Peer), zap.Error(err))
				continue
			}
			app.mu.Lock()
			rt := app.runtimes[e.SessionID]
			app.mu.Unlock()
			if rt == nil {
				app.logger.Warn("envelope for unknown or finished session", zap.String("session_id", e.SessionID))
				continue
			}
			if _, err := rt.router.Dispatch(e); err != nil {
				app.logger.Warn("envelope dispatch failed", zap.String("session_id", e.SessionID), zap.Error(err))
			}
		}
	}
}

func (app *application) forEachRuntimeWithPeer(deviceID string, fn func(rt *sessionRuntime, idx frost.ParticipantIndex)) {
	app.mu.Lock()
	runtimes := make([]*sessionRuntime, 0, len(app.runtimes))
	for _, rt := range app.runtimes {
		runtimes = append(runtimes, rt)
	}
	app.mu.Unlock()

	for _, rt := range runtimes {
		for idx, dID := range rt.indexToDevice {
			if dID == deviceID && idx != rt.info.Self {
				fn(rt, idx)
			}
		}
	}
}

func (app *application) sessionReadyLoop() {
	for info := range app.sessions.Ready() {
		app.startRuntime(info)
	}
}

func (app *application) timeoutSweepLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		app.sessions.SweepTimeouts(time.Now())
	}
}

func (app *application) finishRuntime(sessionID string) {
	app.mu.Lock()
	delete(app.runtimes, sessionID)
	delete(app.pending, sessionID)
	app.mu.Unlock()
}
