// Command aiosd is the runtime daemon: it loads configuration,
// constructs a runtime.Runtime, registers whichever reference drivers
// are configured, and serves until a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/aios-runtime/internal/buildinfo"
	"github.com/nugget/aios-runtime/internal/config"
	"github.com/nugget/aios-runtime/internal/driverwire"
	"github.com/nugget/aios-runtime/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Printf("aiosd %s\n", buildinfo.Version)
		for k, v := range buildinfo.Info() {
			fmt.Printf("  %-12s %s\n", k+":", v)
		}
		return
	}

	cfgPath, err := config.FindConfig(*configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting aiosd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "config", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		logger.Error("failed to construct runtime", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driverwire.RegisterConfigured(ctx, rt, cfg, logger)

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}

	var wsServer *http.Server
	if cfg.WSBridge.Enabled && rt.WSBridge != nil {
		mux := http.NewServeMux()
		rt.WSBridge.RegisterRoutes(mux, "/debug/events")
		addr := fmt.Sprintf("%s:%d", cfg.WSBridge.Address, cfg.WSBridge.Port)
		wsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("debug websocket bridge listening", "addr", addr)
			if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("debug websocket bridge failed", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	if wsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = wsServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	rt.Stop(context.Background())
	logger.Info("aiosd stopped")
}
