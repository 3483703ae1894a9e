package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/playtable/gameserver/internal/config"
	"github.com/playtable/gameserver/internal/framework"
	"github.com/playtable/gameserver/internal/game"
	"github.com/playtable/gameserver/internal/games"
	"github.com/playtable/gameserver/internal/server"
)

const ConfigPath = "config/gameserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("GAMESERVER_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Configure slog
	level := slog.LevelInfo
	if cfg.Log.ServerInfo {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("game server starting", "bind", cfg.BindAddress, "port", cfg.Port,
		"game_timeout", cfg.GameTimeout, "request_size_max", cfg.RequestSizeMax)

	// Build the game registry and the framework
	registry := game.NewRegistry(games.List()...)
	fw := framework.NewFramework(cfg, registry)

	// Create the TCP server
	srv := server.NewServer(cfg, fw)

	// Run server and session reaper in parallel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("tcp server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := fw.RunReaper(gctx); err != nil {
			return fmt.Errorf("session reaper: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
