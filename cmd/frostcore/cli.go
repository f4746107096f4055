package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
	"github.com/stars-labs/mpc-wallet-sub007/internal/frost"
	"github.com/stars-labs/mpc-wallet-sub007/internal/keystore"
	"github.com/stars-labs/mpc-wallet-sub007/internal/session"
)

// unlockKeystore prompts for a password on stdin. The teacher's stack
// carries no terminal-echo-suppression library, so the prompt is read
// in plain text like any other command.
func unlockKeystore(ks *keystore.Keystore) error {
	fmt.Print("keystore password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	return ks.Unlock(strings.TrimSpace(line))
}

// runCLIOffline serves wallets/export/import/quit against the local
// keystore only, with no signaling or peer mesh involved.
func runCLIOffline(ks *keystore.Keystore, logger *zap.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("offline mode: wallets, export <id>, import <path>, quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "wallets":
			printWallets(ks, logger)
		case "export":
			if len(fields) != 2 {
				fmt.Println("usage: export <wallet-id>")
				continue
			}
			exportWallet(ks, fields[1], logger)
		case "import":
			if len(fields) != 2 {
				fmt.Println("usage: import <path>")
				continue
			}
			importWallet(ks, fields[1], logger)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// runCLI serves the full interactive command set while app is
// connected to the signaling relay. It returns when stdin closes or
// shutdown fires.
func runCLI(app *application, shutdown chan os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: propose, accept <id>, wallets, sign <wallet-id> <hex-message>, acceptSign <id>, export <id>, import <path>, quit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "propose":
			app.cmdPropose(fields[1:])
		case "accept":
			app.cmdAccept(fields[1:])
		case "acceptSign":
			app.cmdAccept(fields[1:])
		case "wallets":
			printWallets(app.ks, app.logger)
		case "sign":
			app.cmdSign(fields[1:])
		case "export":
			if len(fields) != 2 {
				fmt.Println("usage: export <wallet-id>")
				continue
			}
			exportWallet(app.ks, fields[1], app.logger)
		case "import":
			if len(fields) != 2 {
				fmt.Println("usage: import <path>")
				continue
			}
			importWallet(app.ks, fields[1], app.logger)
		case "quit", "exit":
			shutdown <- os.Interrupt
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

// cmdPropose reads "propose <threshold> <total> <device1> <device2> ..."
// and proposes a DKG session over the device's default ciphersuite.
func (app *application) cmdPropose(args []string) {
	if len(args) < 3 {
		fmt.Println("usage: propose <threshold> <total> <device-id>...")
		return
	}
	threshold, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("threshold must be a number")
		return
	}
	total, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("total must be a number")
		return
	}
	deviceIDs := args[2:]
	if len(deviceIDs)+1 != total {
		fmt.Printf("expected %d peer device ids plus this device, got %d\n", total-1, len(deviceIDs))
		return
	}

	// Participant indexes follow ascending DeviceId order, this device included.
	sortedIDs := append([]string{app.deviceID}, deviceIDs...)
	sort.Strings(sortedIDs)
	participants := make([]session.Participant, 0, total)
	for i, d := range sortedIDs {
		participants = append(participants, session.Participant{Index: frost.ParticipantIndex(i + 1), DeviceID: d})
	}

	params := session.Params{
		SessionID:    uuid.New().String(),
		Kind:         session.KindDKG,
		Threshold:    threshold,
		Total:        total,
		Participants: participants,
		Suite:        app.defaultSuite,
	}

	info, err := app.sessions.Propose(params)
	if err != nil {
		fmt.Printf("propose failed: %v\n", err)
		return
	}

	raw, err := json.Marshal(controlMessage{
		Type:         controlSessionProposal,
		SessionID:    info.SessionID,
		Kind:         "dkg",
		Threshold:    threshold,
		Total:        total,
		Participants: toControlParticipants(participants),
		Suite:        app.defaultSuite.String(),
	})
	if err != nil {
		app.logger.Error("failed to marshal a session proposal", zap.Error(err))
		return
	}
	for _, p := range participants {
		if p.DeviceID == app.deviceID {
			continue
		}
		if err := app.sig.Relay(p.DeviceID, raw); err != nil {
			app.logger.Warn("failed to relay a session proposal", zap.String("to", p.DeviceID), zap.Error(err))
		}
	}
	fmt.Printf("proposed session %s\n", info.SessionID)
}

// cmdSign reads "sign <wallet-id> <hex-message> <device-id:index>..." and
// proposes a signing session with the named co-signers.
func (app *application) cmdSign(args []string) {
	if len(args) < 3 {
		fmt.Println("usage: sign <wallet-id> <hex-message> <device-id:index>...")
		return
	}
	walletID, messageHex, peerArgs := args[0], args[1], args[2:]

	peers := make([]session.Participant, 0, len(peerArgs))
	for _, a := range peerArgs {
		deviceID, idxStr, ok := strings.Cut(a, ":")
		if !ok {
			fmt.Printf("%q is not in device-id:index form\n", a)
			return
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			fmt.Printf("%q has a non-numeric index\n", a)
			return
		}
		peers = append(peers, session.Participant{Index: frost.ParticipantIndex(idx), DeviceID: deviceID})
	}

	message, err := hex.DecodeString(messageHex)
	if err != nil {
		fmt.Println("message must be hex-encoded")
		return
	}

	wallets, err := app.ks.Wallets()
	if err != nil {
		fmt.Printf("could not load wallets: %v\n", err)
		return
	}
	var meta *keystore.WalletMetadata
	for i := range wallets {
		if wallets[i].WalletID == walletID {
			meta = &wallets[i]
			break
		}
	}
	if meta == nil {
		fmt.Printf("no such wallet %q\n", walletID)
		return
	}

	total := len(peers) + 1
	if total != int(meta.Threshold) {
		fmt.Printf("wallet %s requires exactly %d signers, got %d\n", walletID, meta.Threshold, total)
		return
	}

	participants := append([]session.Participant{{Index: frost.ParticipantIndex(meta.ParticipantIndex), DeviceID: app.deviceID}}, peers...)

	suite, err := ciphersuite.Parse(meta.CurveType)
	if err != nil {
		fmt.Printf("wallet has an unrecognized ciphersuite %q\n", meta.CurveType)
		return
	}

	params := session.Params{
		SessionID:              uuid.New().String(),
		Kind:                   session.KindSigning,
		Threshold:              int(meta.Threshold),
		Total:                  total,
		Participants:           participants,
		Suite:                  suite,
		WalletID:               walletID,
		Message:                message,
		ExpectedGroupPublicKey: meta.GroupPublicKey,
	}

	info, err := app.sessions.Propose(params)
	if err != nil {
		fmt.Printf("propose failed: %v\n", err)
		return
	}

	raw, err := json.Marshal(controlMessage{
		Type:                   controlSessionProposal,
		SessionID:              info.SessionID,
		Kind:                   "signing",
		Threshold:              params.Threshold,
		Total:                  params.Total,
		Participants:           toControlParticipants(participants),
		Suite:                  suite.String(),
		WalletID:               walletID,
		MessageHex:             messageHex,
		ExpectedGroupPublicKey: meta.GroupPublicKey,
	})
	if err != nil {
		app.logger.Error("failed to marshal a signing proposal", zap.Error(err))
		return
	}
	for _, p := range participants {
		if p.DeviceID == app.deviceID {
			continue
		}
		if err := app.sig.Relay(p.DeviceID, raw); err != nil {
			app.logger.Warn("failed to relay a signing proposal", zap.String("to", p.DeviceID), zap.Error(err))
		}
	}
	fmt.Printf("proposed signing session %s\n", info.SessionID)
}

func (app *application) cmdAccept(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: accept <session-id>")
		return
	}
	status, err := app.sessions.Accept(args[0])
	if err != nil {
		fmt.Printf("accept failed: %v\n", err)
		return
	}
	app.mu.Lock()
	delete(app.pending, args[0])
	app.mu.Unlock()
	if !status.Available {
		fmt.Printf("accepted, but this device reports: %s\n", status.Reason)
		return
	}
	fmt.Printf("accepted session %s\n", args[0])
}

func toControlParticipants(ps []session.Participant) []controlParticipant {
	out := make([]controlParticipant, len(ps))
	for i, p := range ps {
		out[i] = controlParticipant{Index: uint16(p.Index), DeviceID: p.DeviceID}
	}
	return out
}

func printWallets(ks *keystore.Keystore, logger *zap.Logger) {
	wallets, err := ks.Wallets()
	if err != nil {
		logger.Error("failed to list wallets", zap.Error(err))
		return
	}
	if len(wallets) == 0 {
		fmt.Println("no wallets")
		return
	}
	for _, w := range wallets {
		fmt.Printf("%s  %s  threshold=%d/%d  pubkey=%s\n", w.WalletID, w.CurveType, w.Threshold, w.TotalParticipants, w.GroupPublicKey)
		for _, c := range w.Blockchains {
			fmt.Printf("    %s/%s: %s\n", c.Blockchain, c.Network, c.Address)
		}
	}
}

func exportWallet(ks *keystore.Keystore, walletID string, logger *zap.Logger) {
	wf, err := ks.ExportWallet(walletID)
	if err != nil {
		fmt.Printf("export failed: %v\n", err)
		return
	}
	raw, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		logger.Error("failed to marshal wallet export", zap.Error(err))
		return
	}
	path := walletID + ".json"
	if err := os.WriteFile(path, raw, 0600); err != nil {
		fmt.Printf("export failed: %v\n", err)
		return
	}
	fmt.Printf("exported to %s\n", path)
}

func importWallet(ks *keystore.Keystore, path string, logger *zap.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("import failed: %v\n", err)
		return
	}
	var wf keystore.WalletFile
	if err := json.Unmarshal(raw, &wf); err != nil {
		fmt.Printf("import failed: invalid wallet file: %v\n", err)
		return
	}
	fmt.Print("password for the imported wallet file: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("import failed: %v\n", err)
		return
	}
	if err := ks.ImportWallet(&wf, strings.TrimSpace(line)); err != nil {
		fmt.Printf("import failed: %v\n", err)
		return
	}
	fmt.Println("wallet imported")
}
