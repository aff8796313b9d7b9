package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"keystore/go-backend/internal/composition/relayserver"
	"keystore/go-backend/internal/config"
	"keystore/go-backend/internal/platform/privacylog"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to relayer.yaml (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("keystore-relayer version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("keystore-relayer config: %v", err)
	}
	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, err := relayserver.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("keystore-relayer failed to initialize: %v", err)
	}
	defer func() { _ = relay.Close() }()

	logger.Info("keystore-relayer starting", "addr", cfg.ListenAddr(), "version", version)
	if err := relay.Server.Run(ctx); err != nil {
		_ = relay.Close()
		log.Fatalf("keystore-relayer failed: %v", err)
	}
	logger.Info("keystore-relayer stopped")
}
