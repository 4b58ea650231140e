package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/aios-runtime/internal/buildinfo"
	"github.com/nugget/aios-runtime/internal/config"
	"github.com/nugget/aios-runtime/internal/driverwire"
	"github.com/nugget/aios-runtime/internal/runtime"
	"github.com/spf13/cobra"
)

func buildinfoVersion() string {
	return buildinfo.Version
}

// openRuntime loads the config named by --config (or the default
// search path), constructs a fresh runtime.Runtime, registers its
// configured reference drivers, and starts it. The caller must call
// the returned close func before exiting so the scheduler loop and
// every owned store shut down cleanly.
func openRuntime(cmd *cobra.Command) (*runtime.Runtime, func(), error) {
	configPath, _ := cmd.Flags().GetString("config")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("construct runtime: %w", err)
	}

	ctx := context.Background()
	driverwire.RegisterConfigured(ctx, rt, cfg, logger)

	if err := rt.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start runtime: %w", err)
	}

	return rt, func() { rt.Stop(context.Background()) }, nil
}
