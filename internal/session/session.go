// Package session implements the session controller: proposing and
// accepting DKG/signing sessions, validating proposals against the
// local keystore, and handing control to the mesh controller once
// every participant has accepted.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
)

// Kind distinguishes a key-generation session from a signing session.
type Kind int

const (
	KindDKG Kind = iota + 1
	KindSigning
)

// Status is a session's lifecycle state.
type Status int

const (
	StatusProposed Status = iota + 1
	StatusAccepting
	StatusAllAccepted
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusProposed:
		return "Proposed"
	case StatusAccepting:
		return "Accepting"
	case StatusAllAccepted:
		return "AllAccepted"
	case StatusFailed:
		return "Failed"
	case StatusTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Participant names one member of a session: its protocol-level
// ParticipantIndex and the DeviceId it is reachable at.
type Participant struct {
	Index    frost.ParticipantIndex
	DeviceID string
}

// Params describes a proposed session. WalletID and Message only
// apply to KindSigning; ExpectedGroupPublicKey, when non-empty, is
// checked against the local keystore's copy of the wallet.
type Params struct {
	SessionID              string
	Kind                   Kind
	Threshold              int
	Total                  int
	Participants           []Participant
	Suite                  ciphersuite.Suite
	WalletID               string
	Message                []byte
	ExpectedGroupPublicKey string
}

// WalletStatus is what a participant truthfully reports about its own
// ability to take part in a signing session.
type WalletStatus struct {
	Available bool
	Reason    string
}

// Info is a session's current state as tracked by this controller.
type Info struct {
	Params
	Self       frost.ParticipantIndex
	Status     Status
	Accepted   map[frost.ParticipantIndex]bool
	proposedAt time.Time
}

// WalletMetadata is the subset of keystore.WalletMetadata the session
// controller needs to validate a signing proposal — defined locally so
// this package does not need to import internal/keystore just for one
// struct shape; WalletLookup implementations adapt their real type to
// this one.
type WalletMetadata struct {
	WalletID          string
	CurveType         string
	Threshold         uint16
	TotalParticipants uint16
	GroupPublicKey    string
}

// WalletLookup is the keystore capability the controller needs: find
// the metadata of a wallet by id, without needing to unlock it.
type WalletLookup interface {
	Wallets() ([]WalletMetadata, error)
}

// Relayer delivers an opaque session-control payload to one device via
// the signaling relay, before any peer mesh exists.
type Relayer interface {
	Relay(to string, payload []byte) error
}

// Controller is the session controller for one device. It is safe for
// concurrent use.
type Controller struct {
	selfDeviceID string
	keystore     WalletLookup
	relayer      Relayer
	timeout      time.Duration
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Info
	ready    chan *Info
}

// New creates a Controller. timeout is the proposal window after
// which a session with fewer than all participants' acceptances is
// dropped (spec default: 120s).
func New(selfDeviceID string, keystore WalletLookup, relayer Relayer, timeout time.Duration) *Controller {
	return &Controller{
		selfDeviceID: selfDeviceID,
		keystore:     keystore,
		relayer:      relayer,
		timeout:      timeout,
		now:          time.Now,
		sessions:     make(map[string]*Info),
		ready:        make(chan *Info, 4),
	}
}

// Ready reports sessions that just reached AllAccepted, for the caller
// to hand off to a mesh.Controller.
func (c *Controller) Ready() <-chan *Info {
	return c.ready
}

// Propose validates and registers a new session. For signing sessions
// it additionally checks the proposer's own keystore for a matching
// wallet.
func (c *Controller) Propose(p Params) (*Info, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}

	var self frost.ParticipantIndex
	found := false
	for _, participant := range p.Participants {
		if participant.DeviceID == c.selfDeviceID {
			self = participant.Index
			found = true
			break
		}
	}
	if !found {
		return nil, newError(ErrInvalidParams, "self device %q is not among the proposed participants", c.selfDeviceID)
	}

	if p.Kind == KindSigning {
		if status := c.checkWallet(p); !status.Available {
			if status.Reason == reasonMissing {
				return nil, newError(ErrWalletMissing, "no keystore entry matches wallet %q", p.WalletID)
			}
			return nil, newError(ErrWalletMismatch, "%s", status.Reason)
		}
	}

	info := &Info{
		Params:     p,
		Self:       self,
		Status:     StatusProposed,
		Accepted:   make(map[frost.ParticipantIndex]bool),
		proposedAt: c.now(),
	}

	c.mu.Lock()
	c.sessions[p.SessionID] = info
	c.mu.Unlock()
	return info, nil
}

const (
	reasonMissing = "no matching wallet in keystore"
)

// checkWallet truthfully reports whether this device's keystore holds
// a wallet compatible with p.
func (c *Controller) checkWallet(p Params) WalletStatus {
	wallets, err := c.keystore.Wallets()
	if err != nil {
		return WalletStatus{Available: false, Reason: err.Error()}
	}
	for _, wf := range wallets {
		if wf.WalletID != p.WalletID {
			continue
		}
		if int(wf.Threshold) != p.Threshold || int(wf.TotalParticipants) != p.Total || wf.CurveType != p.Suite.String() {
			return WalletStatus{Available: false, Reason: fmt.Sprintf(
				"wallet %q has (t=%d,n=%d,curve=%s), session proposes (t=%d,n=%d,curve=%s)",
				p.WalletID, wf.Threshold, wf.TotalParticipants, wf.CurveType, p.Threshold, p.Total, p.Suite)}
		}
		if p.ExpectedGroupPublicKey != "" && wf.GroupPublicKey != p.ExpectedGroupPublicKey {
			return WalletStatus{Available: false, Reason: fmt.Sprintf("wallet %q group_public_key does not match the session's", p.WalletID)}
		}
		return WalletStatus{Available: true}
	}
	return WalletStatus{Available: false, Reason: reasonMissing}
}

// Accept appends self to the session's accepted set and broadcasts a
// SessionResponse to every other participant via the signaling relay.
func (c *Controller) Accept(sessionID string) (WalletStatus, error) {
	c.mu.Lock()
	info, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return WalletStatus{}, newError(ErrInvalidParams, "unknown session %q", sessionID)
	}

	status := WalletStatus{Available: true}
	if info.Kind == KindSigning {
		status = c.checkWallet(info.Params)
	}

	c.mu.Lock()
	info.Accepted[info.Self] = true
	if info.Status == StatusProposed {
		info.Status = StatusAccepting
	}
	c.mu.Unlock()

	payload := []byte(fmt.Sprintf(`{"type":"session_response","session_id":%q,"from":%d,"available":%t,"reason":%q}`,
		sessionID, info.Self, status.Available, status.Reason))

	for _, participant := range info.Participants {
		if participant.DeviceID == c.selfDeviceID {
			continue
		}
		if err := c.relayer.Relay(participant.DeviceID, payload); err != nil {
			return status, err
		}
	}
	c.checkAllAccepted(info)
	return status, nil
}

// OnResponse merges a peer's SessionResponse into the session's
// accepted set. A reported unavailable wallet aborts the session for
// everyone: the proposer is responsible for surfacing this as an
// actionable error (request share, import backup, observe, decline).
func (c *Controller) OnResponse(sessionID string, from frost.ParticipantIndex, status WalletStatus) error {
	c.mu.Lock()
	info, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return newError(ErrInvalidParams, "unknown session %q", sessionID)
	}

	if !status.Available {
		c.mu.Lock()
		info.Status = StatusFailed
		c.mu.Unlock()
		return newError(ErrWalletMismatch, "participant at index %d reports: %s", from, status.Reason)
	}

	c.mu.Lock()
	info.Accepted[from] = true
	c.mu.Unlock()
	c.checkAllAccepted(info)
	return nil
}

func (c *Controller) checkAllAccepted(info *Info) {
	c.mu.Lock()
	if info.Status == StatusFailed || info.Status == StatusTimedOut || info.Status == StatusAllAccepted {
		c.mu.Unlock()
		return
	}
	for _, participant := range info.Participants {
		if !info.Accepted[participant.Index] {
			c.mu.Unlock()
			return
		}
	}
	info.Status = StatusAllAccepted
	c.mu.Unlock()

	select {
	case c.ready <- info:
	default:
	}
}

// SweepTimeouts marks every still-pending session older than the
// configured timeout, as of now, TimedOut. Call this periodically from
// the application's main loop.
func (c *Controller) SweepTimeouts(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range c.sessions {
		if info.Status != StatusProposed && info.Status != StatusAccepting {
			continue
		}
		if now.Sub(info.proposedAt) >= c.timeout {
			info.Status = StatusTimedOut
		}
	}
}

// Session returns the tracked info for sessionID, if any.
func (c *Controller) Session(sessionID string) (*Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.sessions[sessionID]
	return info, ok
}

func validateParams(p Params) error {
	if p.Threshold < 1 {
		return newError(ErrInvalidParams, "threshold must be >= 1, got %d", p.Threshold)
	}
	if p.Threshold > p.Total {
		return newError(ErrInvalidParams, "threshold %d exceeds total participants %d", p.Threshold, p.Total)
	}
	if len(p.Participants) != p.Total {
		return newError(ErrInvalidParams, "expected %d participants, got %d", p.Total, len(p.Participants))
	}

	seen := make(map[string]bool, len(p.Participants))
	indexes := make([]int, 0, len(p.Participants))
	for _, participant := range p.Participants {
		if seen[participant.DeviceID] {
			return newError(ErrInvalidParams, "duplicate device id %q among participants", participant.DeviceID)
		}
		seen[participant.DeviceID] = true
		indexes = append(indexes, int(participant.Index))
	}
	sort.Ints(indexes)
	for i, idx := range indexes {
		if idx != i+1 {
			return newError(ErrInvalidParams, "participant indexes must be a dense 1..n range, got %v", indexes)
		}
	}
	return nil
}
