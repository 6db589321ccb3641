package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for kbdlightd.
//
// Precedence: DefaultConfig() < config file < command-line flags. Validate is
// called once after all layers are applied; the result is read-only for the
// lifetime of the process.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Backlight BacklightConfig `yaml:"backlight"`
	Loop      LoopConfig      `yaml:"loop"`
	UPower    UPowerConfig    `yaml:"upower"`
	IPC       IPCConfig       `yaml:"ipc"`
	State     StateConfig     `yaml:"state"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	Devices  []string `yaml:"devices"`   // evdev nodes to monitor
	SettleMS int      `yaml:"settle_ms"` // delay before the first read
}

type BacklightConfig struct {
	Brightness  int  `yaml:"brightness"`  // full level applied while typing
	TimeoutSec  int  `yaml:"timeout_sec"` // inactivity before the light goes off
	Dim         bool `yaml:"dim"`         // dim to level 1 for the second half of the timeout
	Lazy        bool `yaml:"lazy"`        // never read back hardware brightness
	WakeDelayMS int  `yaml:"wake_delay_ms"`
}

type LoopConfig struct {
	TickMS         int `yaml:"tick_ms"`
	ReadEveryTicks int `yaml:"read_every_ticks"`
}

type UPowerConfig struct {
	CallTimeoutMS int `yaml:"call_timeout_ms"`

	// MaxFailures is the number of consecutive failing ticks tolerated before
	// the daemon gives up. 0 means the first failure is fatal.
	MaxFailures int `yaml:"max_failures"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"` // empty disables the IPC socket
}

type StateConfig struct {
	Listen string `yaml:"listen"` // empty disables /ws and /metrics
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Devices:  []string{defaultDevice},
			SettleMS: defaultSettleMS,
		},
		Backlight: BacklightConfig{
			Brightness:  defaultBrightness,
			TimeoutSec:  defaultTimeoutSec,
			Dim:         true,
			Lazy:        false,
			WakeDelayMS: defaultWakeDelayMS,
		},
		Loop: LoopConfig{
			TickMS:         defaultTickMS,
			ReadEveryTicks: defaultReadEveryTicks,
		},
		UPower: UPowerConfig{
			CallTimeoutMS: defaultCallTimeoutMS,
			MaxFailures:   0,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries command-line values that were explicitly set.
// A nil pointer means "not given"; a non-nil pointer is applied even if it
// holds a zero value.
type FlagOverrides struct {
	Devices    *[]string
	Brightness *int
	TimeoutSec *int
	NoDim      *bool
	Lazy       *bool

	IPCSocketPath *string
	StateListen   *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.Devices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.Devices)...)
	}
	if o.Brightness != nil {
		cfg.Backlight.Brightness = *o.Brightness
	}
	if o.TimeoutSec != nil {
		cfg.Backlight.TimeoutSec = *o.TimeoutSec
	}
	if o.NoDim != nil && *o.NoDim {
		cfg.Backlight.Dim = false
	}
	if o.Lazy != nil && *o.Lazy {
		cfg.Backlight.Lazy = true
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateListen != nil {
		cfg.State.Listen = *o.StateListen
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config values and returns a user-friendly error.
func (c *Config) Validate() error {
	if len(c.Input.Devices) == 0 {
		return errors.New("input.devices must not be empty")
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}
	if c.Input.SettleMS < 0 {
		return errors.New("input.settle_ms must be >= 0")
	}

	// The service defines the valid upper bound; anything it rejects surfaces
	// as a runtime error rather than being clamped here.
	if c.Backlight.Brightness < 1 {
		return errors.New("backlight.brightness must be >= 1")
	}
	if c.Backlight.TimeoutSec < 1 {
		return errors.New("backlight.timeout_sec must be >= 1")
	}
	if c.Backlight.WakeDelayMS < 0 {
		return errors.New("backlight.wake_delay_ms must be >= 0")
	}

	if c.Loop.TickMS <= 0 {
		return errors.New("loop.tick_ms must be > 0")
	}
	if c.Loop.ReadEveryTicks < 1 {
		return errors.New("loop.read_every_ticks must be >= 1")
	}

	if c.UPower.CallTimeoutMS <= 0 {
		return errors.New("upower.call_timeout_ms must be > 0")
	}
	if c.UPower.MaxFailures < 0 {
		return errors.New("upower.max_failures must be >= 0")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToEngineConfig converts the file-level config into the engine's
// duration-typed config.
func (c *Config) ToEngineConfig() EngineConfig {
	return EngineConfig{
		FullBrightness: c.Backlight.Brightness,
		Timeout:        time.Duration(c.Backlight.TimeoutSec) * time.Second,
		Dim:            c.Backlight.Dim,
		Lazy:           c.Backlight.Lazy,
		WakeDelay:      time.Duration(c.Backlight.WakeDelayMS) * time.Millisecond,
		TickInterval:   time.Duration(c.Loop.TickMS) * time.Millisecond,
		ReadEvery:      c.Loop.ReadEveryTicks,
		MaxFailures:    c.UPower.MaxFailures,
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && p[1] == '/' {
		return filepath.Join(home, p[2:])
	}
	return p
}
