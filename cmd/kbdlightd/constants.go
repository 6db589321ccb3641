package main

import "time"

// Brightness levels understood by the controller.
const (
	levelOff     = 0
	levelDim     = 1
	levelUnknown = -1 // cached hardware level before the first read or write
)

// Linux input event types (from <linux/input.h>). Only used for debug logging;
// every event type counts as activity.
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_ABS = 0x03
	EV_MSC = 0x04
)

// Controller defaults
const (
	defaultDevice         = "/dev/input/event3"
	defaultBrightness     = 2
	defaultTimeoutSec     = 15
	defaultTickMS         = 100  // Decision loop period (ms)
	defaultReadEveryTicks = 10   // Hardware read-back cadence (~1s at 100ms ticks)
	defaultWakeDelayMS    = 250  // Extra delay before lighting up from fully off (ms)
	defaultSettleMS       = 100  // Delay before the first device read (ms)
	defaultCallTimeoutMS  = 5000 // Per-call timeout for the brightness service (ms)

	defaultIPCSocket = "/tmp/kbdlightd.sock"
)

// readErrorBackoff is the pause after a failed device read so a broken
// descriptor does not turn the reader into a busy loop.
const readErrorBackoff = 100 * time.Millisecond

// pollTimeoutMS bounds each wait for device readability so readers notice
// cancellation.
const pollTimeoutMS = 500
