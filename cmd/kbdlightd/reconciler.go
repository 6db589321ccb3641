package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// BrightnessService is the external hardware brightness backend.
type BrightnessService interface {
	GetBrightness(ctx context.Context) (int, error)
	SetBrightness(ctx context.Context, level int) error
}

// Reconciler keeps a cached copy of the hardware brightness, refreshes it on
// a fixed tick cadence and writes only when the decided level differs from
// the cache. It is owned by the engine goroutine; no locking.
type Reconciler struct {
	svc       BrightnessService
	lazy      bool
	readEvery int
	ticks     int
	current   int

	broadcasts chan<- StateBroadcast
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler returns a reconciler with an unknown cached level.
// broadcasts may be nil.
func NewReconciler(svc BrightnessService, lazy bool, readEvery int, broadcasts chan<- StateBroadcast, logger *slog.Logger) *Reconciler {
	if readEvery < 1 {
		readEvery = 1
	}
	hardwareBrightness.Set(levelUnknown)
	return &Reconciler{
		svc:        svc,
		lazy:       lazy,
		readEvery:  readEvery,
		current:    levelUnknown,
		broadcasts: broadcasts,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the cached hardware level (levelUnknown before the first
// read or write).
func (r *Reconciler) Current() int { return r.current }

// ReadIfDue counts one tick and, every readEvery ticks, reads the true
// hardware level. A failed read is retried on the next tick. Lazy
// reconcilers never read.
func (r *Reconciler) ReadIfDue(ctx context.Context) error {
	if r.lazy {
		return nil
	}
	r.ticks++
	if r.ticks < r.readEvery {
		return nil
	}

	actual, err := r.svc.GetBrightness(ctx)
	if err != nil {
		hardwareErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("get brightness: %w", err)
	}
	r.ticks = 0
	hardwareReads.Inc()

	if actual != r.current {
		r.logger.Info("actual brightness differs", "actual", actual, "cached", r.current)
		hardwareDrift.Inc()
		r.emit(BroadcastHardwareDrift{Actual: actual, Cached: r.current, At: r.now()})
		r.current = actual
		hardwareBrightness.Set(float64(actual))
	}
	return nil
}

// ApplyIfChanged writes target when it differs from the cached level and
// reports whether a write happened. The cache only moves on success.
func (r *Reconciler) ApplyIfChanged(ctx context.Context, target int) (bool, error) {
	if target == r.current {
		return false, nil
	}
	if err := r.svc.SetBrightness(ctx, target); err != nil {
		hardwareErrors.WithLabelValues("set").Inc()
		return false, fmt.Errorf("set brightness %d: %w", target, err)
	}

	previous := r.current
	r.current = target
	r.logger.Info("setting brightness", "level", target, "previous", previous)
	brightnessWrites.Inc()
	hardwareBrightness.Set(float64(target))
	r.emit(BroadcastBrightnessChanged{Level: target, Previous: previous, At: r.now()})
	return true, nil
}

// emit never blocks the engine; broadcasts are dropped when nobody keeps up.
func (r *Reconciler) emit(b StateBroadcast) {
	if r.broadcasts == nil {
		return
	}
	select {
	case r.broadcasts <- b:
	default:
		r.logger.Debug("state broadcast queue full, dropping", "broadcast", fmt.Sprintf("%T", b))
	}
}
