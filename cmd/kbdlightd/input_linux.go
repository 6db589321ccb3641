//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// evdev ioctl request numbers (from <linux/input.h>)
const (
	iocRead = 2

	evdevNameLen = 256
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

var (
	eviocgversion = ioc(iocRead, 'E', 0x01, 4)
	eviocgid      = ioc(iocRead, 'E', 0x02, 8)
	eviocgname    = ioc(iocRead, 'E', 0x06, evdevNameLen)
	eviocgphys    = ioc(iocRead, 'E', 0x07, evdevNameLen)
)

// inputID mirrors struct input_id.
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlString(fd int, req uintptr) (string, error) {
	buf := make([]byte, evdevNameLen)
	if err := ioctlPtr(fd, req, unsafe.Pointer(&buf[0])); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(buf), nil
}

// readDeviceInfo queries evdev metadata. Any field that cannot be read makes
// the whole call fail; callers treat that as non-fatal.
func readDeviceInfo(fd int) (DeviceInfo, error) {
	var info DeviceInfo

	var id inputID
	if err := ioctlPtr(fd, eviocgid, unsafe.Pointer(&id)); err != nil {
		return info, fmt.Errorf("EVIOCGID: %w", err)
	}
	info.Bus, info.Vendor, info.Product, info.Version = id.Bustype, id.Vendor, id.Product, id.Version

	v, err := unix.IoctlGetInt(fd, uint(eviocgversion))
	if err != nil {
		return info, fmt.Errorf("EVIOCGVERSION: %w", err)
	}
	info.DriverVersion = v

	if info.Name, err = ioctlString(fd, eviocgname); err != nil {
		return info, fmt.Errorf("EVIOCGNAME: %w", err)
	}
	// Not every device reports a physical location.
	if info.Phys, err = ioctlString(fd, eviocgphys); err != nil && !errors.Is(err, unix.ENOENT) {
		return info, fmt.Errorf("EVIOCGPHYS: %w", err)
	}
	return info, nil
}

// DeviceSource watches one input device and signals the aggregator whenever
// the device reports any event.
type DeviceSource struct {
	path   string
	fd     int
	agg    *ActivityAggregator
	settle time.Duration
	logger *slog.Logger
}

// OpenDeviceSource opens an evdev node for reading and logs its metadata.
func OpenDeviceSource(path string, agg *ActivityAggregator, settle time.Duration, logger *slog.Logger) (*DeviceSource, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := newDeviceSource(fd, path, agg, settle, logger)

	info, err := readDeviceInfo(fd)
	if err != nil {
		logger.Debug("could not read device metadata", "device", path, "error", err)
	} else {
		logger.Info("input device",
			"device", path,
			"bus", fmt.Sprintf("0x%x", info.Bus),
			"vendor", fmt.Sprintf("0x%x", info.Vendor),
			"product", fmt.Sprintf("0x%x", info.Product),
			"evdev_version", fmt.Sprintf("0x%x", info.DriverVersion),
			"name", info.Name,
			"phys", info.Phys)
	}
	return s, nil
}

func newDeviceSource(fd int, path string, agg *ActivityAggregator, settle time.Duration, logger *slog.Logger) *DeviceSource {
	return &DeviceSource{
		path:   path,
		fd:     fd,
		agg:    agg,
		settle: settle,
		logger: logger,
	}
}

// Close releases a source that was opened but never run.
func (s *DeviceSource) Close() error { return unix.Close(s.fd) }

// Run reads events until ctx is canceled, then closes the device.
// Read errors are logged and never end the loop.
func (s *DeviceSource) Run(ctx context.Context) {
	defer unix.Close(s.fd)

	buf := make([]byte, inputEventSize*64)

	// Let the key-up of whatever launched us go by unnoticed. The device was
	// open while we slept, so whatever queued up meanwhile is dropped too.
	if s.settle > 0 {
		if err := sleepContext(ctx, s.settle); err != nil {
			return
		}
		if n := s.discardPending(buf); n > 0 {
			s.logger.Debug("discarded events from settle window", "device", s.path, "bytes", n)
		}
	}

	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}

	for ctx.Err() == nil {
		n, err := unix.Poll(fds, pollTimeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			s.readFailed(ctx, fmt.Errorf("poll: %w", err))
			continue
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			s.readFailed(ctx, fmt.Errorf("poll revents 0x%x", fds[0].Revents))
			continue
		}

		m, err := unix.Read(s.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			s.readFailed(ctx, err)
			continue
		}

		events, err := decodeInputEvents(buf[:m])
		if err != nil {
			s.readFailed(ctx, err)
			continue
		}

		s.logger.Debug("input activity", "device", s.path, "events", len(events),
			"type", eventTypeName(events[0].Type), "code", events[0].Code, "value", events[0].Value)
		s.agg.Signal()
	}
}

// discardPending reads until the device has nothing left and returns the
// number of bytes thrown away.
func (s *DeviceSource) discardPending(buf []byte) int {
	total := 0
	for {
		m, err := unix.Read(s.fd, buf)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || m <= 0 {
			return total
		}
		total += m
	}
}

func (s *DeviceSource) readFailed(ctx context.Context, err error) {
	s.logger.Debug("device event error", "device", s.path, "error", err)
	deviceReadErrors.WithLabelValues(s.path).Inc()
	_ = sleepContext(ctx, readErrorBackoff)
}
