package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"arbitrable/config"
	"arbitrable/core/state"
	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
	"arbitrable/native/escrow"
	"arbitrable/native/quiz"
	"arbitrable/observability/logging"
	"arbitrable/rpc"
	"arbitrable/storage"
)

func serviceAddress(label string) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte(label))[12:])
	return addr
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ARBITRABLE_ENV"))
	logger := logging.Setup("arbitrabled", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	kv := state.NewKV(db)

	arbitrator := arbitration.NewAppealable(big.NewInt(cfg.ArbitrationFee), cfg.AppealTimeout)
	policy := appeal.Policy{
		SharedBps: cfg.SharedStakeMultiplier,
		WinnerBps: cfg.WinnerStakeMultiplier,
		LoserBps:  cfg.LoserStakeMultiplier,
	}
	if err := policy.Validate(); err != nil {
		logger.Error("Invalid appeal policy", slog.Any("error", err))
		os.Exit(1)
	}

	vault := serviceAddress("arbitrable/vault")
	arbAccount := serviceAddress("arbitrable/arbitrator")

	escrowEngine := escrow.NewEngine()
	escrowEngine.SetState(kv)
	escrowEngine.SetArbitrator(arbitrator)
	escrowEngine.SetArbitratorAccount(arbAccount)
	escrowEngine.SetVault(vault)
	escrowEngine.SetPolicy(policy)
	escrowEngine.SetFeeTimeout(cfg.FeeTimeout)

	quizEngine := quiz.NewEngine()
	quizEngine.SetState(kv)
	quizEngine.SetArbitrator(arbitrator)
	quizEngine.SetArbitratorAccount(arbAccount)
	quizEngine.SetVault(vault)
	quizEngine.SetPolicy(policy)

	server := rpc.NewServer(escrowEngine, quizEngine, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("rpc server listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
	}
}
