package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stars-labs/mpc-wallet-sub007/internal/ciphersuite"
	"github.com/stars-labs/mpc-wallet-sub007/internal/keystore"
)

// Exit codes.
const (
	exitOK             = 0
	exitUsageError     = 2
	exitKeystoreError  = 3
	exitProtocolFailed = 4
	exitPeerLost       = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	deviceID := flag.String("device-id", "", "this device's identifier (required)")
	curve := flag.String("curve", "secp256k1", "default ciphersuite for new sessions (secp256k1, ed25519)")
	signalURL := flag.String("signal", envOr("FROST_SIGNAL_URL", "ws://localhost:9000/ws"), "signaling relay URL")
	home, _ := os.UserHomeDir()
	keystorePath := flag.String("keystore", envOr("FROST_KEYSTORE", filepath.Join(home, ".frost_keystore", "wallets")), "keystore directory")
	listenAddr := flag.String("listen", ":0", "address to listen on for peer channels")
	offline := flag.Bool("offline", false, "skip dialing the signaling relay; local wallet operations only")
	flag.Parse()

	logger := setupLogger(envOr("FROST_LOG", "info"))
	defer logger.Sync()

	if *deviceID == "" {
		fmt.Fprintln(os.Stderr, "frostcore: --device-id is required")
		flag.Usage()
		return exitUsageError
	}

	suite, err := ciphersuite.Parse(*curve)
	if err != nil {
		fmt.Fprintf(os.Stderr, "frostcore: %v\n", err)
		return exitUsageError
	}

	store, err := keystore.NewFileStore(*keystorePath)
	if err != nil {
		logger.Error("failed to open the keystore", zap.Error(err))
		return exitKeystoreError
	}
	ks := keystore.New(*deviceID, *deviceID, store)

	if err := unlockKeystore(ks); err != nil {
		logger.Error("failed to unlock the keystore", zap.Error(err))
		return exitKeystoreError
	}
	defer ks.Lock()

	if *offline {
		logger.Info("running offline; entering local command loop")
		runCLIOffline(ks, logger)
		return exitOK
	}

	app, err := newApplication(logger, *deviceID, suite, ks, *signalURL, *listenAddr)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return exitProtocolFailed
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go runCLI(app, shutdown)

	<-shutdown
	logger.Info("shutting down")
	return exitOK
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
