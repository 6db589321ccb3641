package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

type rootOptions struct {
	configPath string

	devices    []string
	brightness int
	timeoutSec int
	noDim      bool
	lazy       bool

	ipcSocket   string
	stateListen string
	logLevel    string
}

// daemonFunc runs the controller until ctx is canceled.
type daemonFunc func(ctx context.Context, cfg Config, logger *slog.Logger) error

func newRootCmd(run daemonFunc) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kbdlightd",
		Short: "Keyboard backlight controller",
		Long: `kbdlightd turns the keyboard backlight on while you type and dims it,
then switches it off, once the keyboard has been idle for a while.

Brightness is set through UPower on the system bus. Input devices are read
directly, so the daemon needs read access to /dev/input (run as root or add
the user to the 'input' group).`,
		Example: `  # Default device, full brightness 2, 15s timeout
  kbdlightd

  # Two devices, brightest level, no dim stage
  kbdlightd -d /dev/input/event3 -d /dev/input/event5 -b 3 -n

  # Expose /ws and /metrics
  kbdlightd --state-listen 127.0.0.1:9120`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd, opts)
			if err != nil {
				return err
			}

			level, _ := parseLogLevel(cfg.Logging.Level) // checked by Validate
			logger := setupLogger(level, os.Stdout)
			logger.Debug("starting kbdlightd", "version", version)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.SetVersionTemplate("kbdlightd v{{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.StringSliceVarP(&opts.devices, "device", "d", []string{defaultDevice}, "input event device (repeatable or comma separated)")
	f.IntVarP(&opts.brightness, "brightness", "b", defaultBrightness, "full brightness level")
	f.IntVarP(&opts.timeoutSec, "timeout", "t", defaultTimeoutSec, "inactivity timeout in seconds")
	f.BoolVarP(&opts.noDim, "no-dim", "n", false, "disable the dim stage")
	f.BoolVarP(&opts.lazy, "lazy", "l", false, "never read back hardware brightness")
	f.StringVar(&opts.ipcSocket, "ipc-socket", defaultIPCSocket, `unix socket for IPC ("" disables)`)
	f.StringVar(&opts.stateListen, "state-listen", "", `listen address for /ws and /metrics ("" disables)`)
	f.StringVar(&opts.logLevel, "log-level", "info", "log level: error, warn, info, debug")

	return cmd
}

// buildConfig layers defaults, the optional config file and explicitly set
// flags, then validates the result.
func buildConfig(cmd *cobra.Command, opts *rootOptions) (Config, error) {
	cfg := DefaultConfig()
	if opts.configPath != "" {
		var err error
		cfg, err = LoadConfigFile(opts.configPath)
		if err != nil {
			return Config{}, err
		}
	}

	changed := cmd.Flags().Changed
	var o FlagOverrides
	if changed("device") {
		o.Devices = &opts.devices
	}
	if changed("brightness") {
		o.Brightness = &opts.brightness
	}
	if changed("timeout") {
		o.TimeoutSec = &opts.timeoutSec
	}
	if changed("no-dim") {
		o.NoDim = &opts.noDim
	}
	if changed("lazy") {
		o.Lazy = &opts.lazy
	}
	if changed("ipc-socket") {
		o.IPCSocketPath = &opts.ipcSocket
	}
	if changed("state-listen") {
		o.StateListen = &opts.stateListen
	}
	if changed("log-level") {
		o.LogLevel = &opts.logLevel
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd(runDaemon).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
