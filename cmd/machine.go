package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	machinecfg "github.com/hapi-systems/hapi-core/internal/machine/config"
	"github.com/hapi-systems/hapi-core/internal/machine/connection"
	"github.com/hapi-systems/hapi-core/internal/machine/registration"
	"github.com/hapi-systems/hapi-core/internal/telemetry"
)

func machineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "machine",
		Short: "run the machine agent service",
		Run: func(cmd *cobra.Command, args []string) {
			runMachine()
		},
	}
}

func runMachine() {
	setupLogging()

	cfg, err := machinecfg.Load()
	if err != nil {
		slog.Error("failed to load machine config", "error", err)
		os.Exit(1)
	}
	slog.Info("hapi-core machine starting", "machine_id", cfg.MachineID, "api_url", cfg.APIURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "hapi-machine",
		Endpoint:    os.Getenv("HAPI_MACHINE_OTEL_ENDPOINT"),
		Insecure:    true,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	watcher, err := machinecfg.WatchSettings(cfg.HapiHome, func(updated *machinecfg.Config) {
		slog.Info("settings.json changed, reload observed", "machine_id", updated.MachineID)
	})
	if err != nil {
		slog.Warn("failed to start settings watcher", "error", err)
	} else {
		defer watcher.Close()
	}

	meta := registration.BuildMetadata(cfg)
	if err := registration.Register(ctx, cfg, meta); err != nil {
		slog.Error("machine registration failed", "error", err)
		os.Exit(1)
	}

	if err := connection.Run(ctx, cfg); err != nil {
		slog.Error("connection loop exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("hapi-core machine stopped")
}
