package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Daemon wiring
// ============================================================================
//
// Goroutines and what they own:
//   - one DeviceSource per input device: writes to the aggregator only
//   - IPC server (optional): writes to the aggregator, reads the status board
//   - state hub, broadcaster and HTTP server (optional): read broadcasts
//   - the engine, on the calling goroutine: owns the reconciler and the
//     brightness service
//
// Cancellation of ctx stops everything. runController waits for the
// goroutines above; per-connection WebSocket pumps are not joined but end
// once the stopped hub has closed their connections.
// ============================================================================

const stateBroadcastBuf = 64

// maxBrightnessReader is implemented by backends that expose their maximum.
type maxBrightnessReader interface {
	GetMaxBrightness(ctx context.Context) (int, error)
}

// runDaemon connects to the real devices and UPower, then runs the controller
// until ctx is canceled or the brightness service fails for good.
func runDaemon(ctx context.Context, cfg Config, logger *slog.Logger) error {
	agg := NewActivityAggregator()

	sources, err := openSources(cfg, agg, logger)
	if err != nil {
		return err
	}

	client, err := NewUPowerClient(time.Duration(cfg.UPower.CallTimeoutMS) * time.Millisecond)
	if err != nil {
		closeSources(sources)
		return fmt.Errorf("connect to UPower: %w", err)
	}
	defer client.Close()

	checkMaxBrightness(ctx, client, cfg.Backlight.Brightness, logger)

	return runController(ctx, cfg, agg, sources, client, logger)
}

// openSources opens every configured device. Any failure is fatal; sources
// opened before it are released.
func openSources(cfg Config, agg *ActivityAggregator, logger *slog.Logger) ([]*DeviceSource, error) {
	settle := time.Duration(cfg.Input.SettleMS) * time.Millisecond

	sources := make([]*DeviceSource, 0, len(cfg.Input.Devices))
	for _, dev := range cfg.Input.Devices {
		src, err := OpenDeviceSource(ExpandPath(dev), agg, settle, logger)
		if err != nil {
			closeSources(sources)
			logger.Error("failed to open input device", "device", dev, "error", err,
				"tip", "run as root or add user to 'input' group")
			return nil, fmt.Errorf("open input device: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func closeSources(sources []*DeviceSource) {
	for _, s := range sources {
		_ = s.Close()
	}
}

// checkMaxBrightness warns when the configured full level exceeds what the
// hardware reports. The level is not clamped; the service decides.
func checkMaxBrightness(ctx context.Context, r maxBrightnessReader, full int, logger *slog.Logger) {
	maxLevel, err := r.GetMaxBrightness(ctx)
	if err != nil {
		logger.Warn("could not read max brightness", "error", err)
		return
	}
	logger.Info("keyboard backlight", "max_brightness", maxLevel, "full_brightness", full)
	if full > maxLevel {
		logger.Warn("configured brightness exceeds hardware maximum", "brightness", full, "max_brightness", maxLevel)
	}
}

// runController runs the engine against svc along with the optional IPC and
// state servers. It takes ownership of sources.
func runController(
	ctx context.Context,
	cfg Config,
	agg *ActivityAggregator,
	sources []*DeviceSource,
	svc BrightnessService,
	logger *slog.Logger,
) error {
	// Helpers log their own failures; the group only joins them.
	var g errgroup.Group
	defer g.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	spawn := func(fn func()) {
		g.Go(func() error {
			fn()
			return nil
		})
	}

	for _, src := range sources {
		spawn(func() { src.Run(ctx) })
	}

	board := &StatusBoard{}

	if path := cfg.IPC.SocketPath; path != "" {
		ln, err := listenIPC(ExpandPath(path))
		if err != nil {
			return fmt.Errorf("start IPC server: %w", err)
		}
		spawn(func() {
			if err := serveIPC(ctx, ln, ExpandPath(path), agg, board, logger); err != nil {
				logger.Error("IPC server error", "error", err)
			}
		})
	}

	var broadcasts chan StateBroadcast
	if addr := cfg.State.Listen; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("start state server: listen on %s: %w", addr, err)
		}

		broadcasts = make(chan StateBroadcast, stateBroadcastBuf)
		ws := NewStateServer(logger, board, HubConfig{})

		spawn(func() { ws.Hub().Run(ctx) })
		spawn(func() { RunBroadcaster(ctx, ws.Hub(), broadcasts, logger) })
		spawn(func() {
			if err := serveState(ctx, ln, newStateMux(ws), logger); err != nil {
				logger.Error("state server error", "error", err)
			}
		})
	}

	rec := NewReconciler(svc, cfg.Backlight.Lazy, cfg.Loop.ReadEveryTicks, broadcasts, logger)
	engine := NewEngine(cfg.ToEngineConfig(), agg, rec, board, logger)

	logger.Info("kbdlightd started",
		"devices", cfg.Input.Devices,
		"brightness", cfg.Backlight.Brightness,
		"timeout_sec", cfg.Backlight.TimeoutSec,
		"dim", cfg.Backlight.Dim,
		"lazy", cfg.Backlight.Lazy)

	return engine.Run(ctx)
}
