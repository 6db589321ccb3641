package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	targetBrightness = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kbdlight",
		Name:      "target_brightness",
		Help:      "Brightness level most recently decided by the engine.",
	})

	hardwareBrightness = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kbdlight",
		Name:      "hardware_brightness",
		Help:      "Cached hardware brightness level (-1 while unknown).",
	})

	brightnessWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "brightness_writes_total",
		Help:      "Successful brightness writes to the hardware service.",
	})

	hardwareReads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "hardware_reads_total",
		Help:      "Successful hardware brightness read-backs.",
	})

	hardwareDrift = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "hardware_drift_total",
		Help:      "Read-backs that found the hardware at a different level than cached.",
	})

	hardwareErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "hardware_errors_total",
		Help:      "Failed calls to the hardware brightness service.",
	}, []string{"op"})

	activityTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "activity_ticks_total",
		Help:      "Engine ticks that observed user activity.",
	})

	deviceReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kbdlight",
		Name:      "device_read_errors_total",
		Help:      "Failed reads from input devices.",
	}, []string{"device"})
)
