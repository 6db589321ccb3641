package main

import (
	"sync"
	"time"
)

// StateBroadcast is an externally visible state change. The reconciler emits
// these; the WebSocket broadcaster fans them out.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastBrightnessChanged is emitted after a successful brightness write.
type BroadcastBrightnessChanged struct {
	Level    int
	Previous int
	At       time.Time
}

func (BroadcastBrightnessChanged) broadcastMarker() {}

// BroadcastHardwareDrift is emitted when a read-back finds the hardware at a
// level other than the cached one (suspend/resume, another tool).
type BroadcastHardwareDrift struct {
	Actual int
	Cached int
	At     time.Time
}

func (BroadcastHardwareDrift) broadcastMarker() {}

// Snapshot is an immutable copy of the engine's view, published once per tick.
type Snapshot struct {
	Target        int
	Hardware      int
	HardwareKnown bool
	LastActivity  time.Time

	FullBrightness int
	Timeout        time.Duration
	Dim            bool
	Lazy           bool

	At time.Time
}

// statePayload is the JSON form of a Snapshot shared by IPC and WebSocket.
type statePayload struct {
	Target         int       `json:"target"`
	Hardware       int       `json:"hardware"`
	HardwareKnown  bool      `json:"hardware_known"`
	LastActivity   time.Time `json:"last_activity"`
	IdleMS         int64     `json:"idle_ms"`
	FullBrightness int       `json:"full_brightness"`
	TimeoutSec     int       `json:"timeout_sec"`
	Dim            bool      `json:"dim"`
	Lazy           bool      `json:"lazy"`
}

func (s Snapshot) payload() statePayload {
	return statePayload{
		Target:         s.Target,
		Hardware:       s.Hardware,
		HardwareKnown:  s.HardwareKnown,
		LastActivity:   s.LastActivity,
		IdleMS:         s.At.Sub(s.LastActivity).Milliseconds(),
		FullBrightness: s.FullBrightness,
		TimeoutSec:     int(s.Timeout / time.Second),
		Dim:            s.Dim,
		Lazy:           s.Lazy,
	}
}

// StatusBoard holds the latest Snapshot for readers outside the engine
// goroutine (IPC status requests, WebSocket state_init).
type StatusBoard struct {
	mu   sync.RWMutex
	snap Snapshot
	set  bool
}

func (b *StatusBoard) Publish(s Snapshot) {
	b.mu.Lock()
	b.snap = s
	b.set = true
	b.mu.Unlock()
}

// Get returns the latest snapshot and whether one has been published yet.
func (b *StatusBoard) Get() (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap, b.set
}
