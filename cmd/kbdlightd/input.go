package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var inputEventSize = binary.Size(inputEvent{})

// decodeInputEvents decodes as many whole events as buf holds. A trailing
// partial event is ignored.
func decodeInputEvents(buf []byte) ([]inputEvent, error) {
	n := len(buf) / inputEventSize
	if n == 0 {
		return nil, fmt.Errorf("short read: %d bytes, want %d", len(buf), inputEventSize)
	}
	events := make([]inputEvent, n)
	if err := binary.Read(bytes.NewReader(buf[:n*inputEventSize]), binary.LittleEndian, events); err != nil {
		return nil, fmt.Errorf("decode input events: %w", err)
	}
	return events, nil
}

// DeviceInfo is informational metadata reported by an evdev node.
type DeviceInfo struct {
	Bus           uint16
	Vendor        uint16
	Product       uint16
	Version       uint16
	DriverVersion int
	Name          string
	Phys          string
}

func eventTypeName(t uint16) string {
	switch t {
	case EV_SYN:
		return "syn"
	case EV_KEY:
		return "key"
	case EV_REL:
		return "rel"
	case EV_ABS:
		return "abs"
	case EV_MSC:
		return "msc"
	default:
		return fmt.Sprintf("0x%x", t)
	}
}
