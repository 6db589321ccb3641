package main

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	upowerService  = "org.freedesktop.UPower"
	upowerKbdPath  = "/org/freedesktop/UPower/KbdBacklight"
	upowerKbdIface = "org.freedesktop.UPower.KbdBacklight"
)

var _ BrightnessService = (*UPowerClient)(nil)

// UPowerClient talks to UPower's keyboard backlight object on the system bus.
// Every call is bounded by the configured timeout.
type UPowerClient struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	timeout time.Duration
}

// NewUPowerClient connects to the system bus.
func NewUPowerClient(timeout time.Duration) (*UPowerClient, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &UPowerClient{
		conn:    conn,
		obj:     conn.Object(upowerService, upowerKbdPath),
		timeout: timeout,
	}, nil
}

func (c *UPowerClient) call(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.obj.CallWithContext(ctx, upowerKbdIface+"."+method, 0, args...)
}

func (c *UPowerClient) getInt(ctx context.Context, method string) (int, error) {
	var v int32
	if err := c.call(ctx, method).Store(&v); err != nil {
		return 0, fmt.Errorf("upower %s: %w", method, err)
	}
	return int(v), nil
}

func (c *UPowerClient) GetBrightness(ctx context.Context) (int, error) {
	return c.getInt(ctx, "GetBrightness")
}

func (c *UPowerClient) GetMaxBrightness(ctx context.Context) (int, error) {
	return c.getInt(ctx, "GetMaxBrightness")
}

func (c *UPowerClient) SetBrightness(ctx context.Context, level int) error {
	if err := c.call(ctx, "SetBrightness", int32(level)).Err; err != nil {
		return fmt.Errorf("upower SetBrightness: %w", err)
	}
	return nil
}

func (c *UPowerClient) Close() error {
	return c.conn.Close()
}
