//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DeviceSource is only implemented on Linux.
type DeviceSource struct{}

func OpenDeviceSource(path string, _ *ActivityAggregator, _ time.Duration, _ *slog.Logger) (*DeviceSource, error) {
	return nil, errors.New("evdev input devices are only supported on linux")
}

func (s *DeviceSource) Close() error { return nil }

func (s *DeviceSource) Run(ctx context.Context) { <-ctx.Done() }
