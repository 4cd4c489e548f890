package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/mixminus/external/audio"
	configloader "github.com/foxseedlab/mixminus/external/config"
	"github.com/foxseedlab/mixminus/external/discord"
	repositoryimpl "github.com/foxseedlab/mixminus/external/repository"
	transcriberimpl "github.com/foxseedlab/mixminus/external/transcriber"
	webhookimpl "github.com/foxseedlab/mixminus/external/webhook"
	"github.com/foxseedlab/mixminus/internal/bridge"
	"github.com/foxseedlab/mixminus/internal/config"
	discordpkg "github.com/foxseedlab/mixminus/internal/discord"
	"github.com/samber/do/v2"
)

const (
	discordConnectTimeout = 20 * time.Second
	bridgeStartTimeout    = 30 * time.Second
	bridgeStopTimeout     = 15 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded",
		"env", cfg.Env,
		"format", cfg.Format().String(),
		"channels", len(cfg.DiscordBridgeChannelIDs),
		"transcribe", cfg.TranscribeEnabled)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching bridge")
	runBridge(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	bridge.RegisterDI(injector)

	return injector
}

func runBridge(injector do.Injector) {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		slog.Error("failed to resolve discord client", "error", err)
		os.Exit(1)
	}
	manager, err := do.Invoke[*bridge.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve bridge manager", "error", err)
		os.Exit(1)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancelConnect()
	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(connectCtx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), bridgeStartTimeout)
	defer cancelStart()
	if err := manager.Start(startCtx); err != nil {
		slog.Error("bridge start failed", "error", err)
		_ = dc.Close()
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	reason := bridge.StopReasonShutdown
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-done:
		reason = "discord session ended"
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), bridgeStopTimeout)
	defer cancelStop()
	if _, err := manager.Stop(stopCtx, reason); err != nil {
		slog.Error("bridge stop failed", "error", err)
	}
}
