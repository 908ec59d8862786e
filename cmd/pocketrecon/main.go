// Command pocketrecon boots the radio, hopper, frame pipeline,
// handshake engine, and deauth emitter behind the orchestrator state
// machine, then serves its command/query surface over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyra-sec/pocketrecon/internal/adapters/attack/deauth"
	"github.com/lyra-sec/pocketrecon/internal/adapters/hopping"
	"github.com/lyra-sec/pocketrecon/internal/adapters/radio"
	"github.com/lyra-sec/pocketrecon/internal/adapters/sniffer/classifier"
	"github.com/lyra-sec/pocketrecon/internal/adapters/sniffer/handshake"
	"github.com/lyra-sec/pocketrecon/internal/adapters/sniffer/registry"
	"github.com/lyra-sec/pocketrecon/internal/adapters/sniffer/source"
	"github.com/lyra-sec/pocketrecon/internal/adapters/storage"
	"github.com/lyra-sec/pocketrecon/internal/adapters/web"
	"github.com/lyra-sec/pocketrecon/internal/config"
	"github.com/lyra-sec/pocketrecon/internal/core/orchestrator"
	"github.com/lyra-sec/pocketrecon/internal/core/ports"
	"github.com/lyra-sec/pocketrecon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	slog.Info("pocketrecon starting", "interface", cfg.Interface, "mode", cfg.Mode)

	shutdownTracer, err := initTracing()
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	captureStore, err := storage.NewCaptureStore(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open capture store", "error", err)
		os.Exit(1)
	}
	defer captureStore.Close()

	radioCtrl := radio.New(cfg.Interface, nil)
	hopper := hopping.New(cfg.Channels, cfg.DwellTime, radioCtrl, false)
	classifierEngine := classifier.New(metrics)
	store := registry.New(cfg.NProbes)
	handshakeEngine := handshake.New(cfg.HandshakeDir, metrics)

	deauthEmitter, err := deauth.New(cfg.Interface, metrics)
	if err != nil {
		slog.Warn("deauth emitter unavailable", "error", err)
	}

	orchCfg := orchestrator.Config{
		Mode:              cfg.Mode,
		AutoStop:          cfg.AutoStop,
		AutoStartOnTarget: cfg.AutoStartOnTarget,
		CaptureDeadline:   cfg.CaptureDeadline,
		SetupTimeout:      cfg.SetupTimeout,
		SetupSSID:         cfg.SetupSSID,
		SetupPSK:          cfg.SetupPSK,
		SetupChannel:      cfg.SetupChannel,
		SetupHidden:       cfg.SetupHidden,
		StartInAP:         cfg.StartInAP,
	}

	newSource := func(iface string) ports.FrameSource {
		return source.New(iface, cfg.FrameChannelCapacity, metrics)
	}

	orch := orchestrator.New(orchCfg, radioCtrl, hopper, classifierEngine, store, handshakeEngine, deauthEmitter, newSource, metrics)

	if err := orch.Run(ctx); err != nil {
		slog.Error("orchestrator failed to start", "error", err)
		os.Exit(1)
	}

	go persistHandshakes(ctx, orch, captureStore)

	server := web.NewServer(cfg.Addr, orch)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	slog.Info("pocketrecon ready", "addr", cfg.Addr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errChan:
		slog.Error("fatal error", "error", err)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := orch.Stop(shutdownCtx); err != nil {
		slog.Warn("orchestrator stop error", "error", err)
	}
}

// persistHandshakes mirrors every handshake of the orchestrator's
// current capture session into the durable capture store, deduped on
// (sessionID, bssid, client, kind) by CaptureStore.SaveHandshake itself.
func persistHandshakes(ctx context.Context, orch ports.Orchestrator, store *storage.CaptureStore) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			session := orch.CaptureSession(ctx)
			if session.ID == "" {
				continue
			}
			for _, h := range session.Handshakes {
				if err := store.SaveHandshake(ctx, session.ID, h); err != nil {
					slog.Warn("failed to persist handshake", "bssid", h.BSSID, "error", err)
				}
			}
		}
	}
}

func initTracing() (func(context.Context) error, error) {
	_, shutdown, err := telemetry.InitTracer(os.Stderr, "pocketrecon")
	if err != nil {
		return nil, err
	}
	return shutdown, nil
}
