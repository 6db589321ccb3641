package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EngineConfig is the engine's duration-typed view of Config.
type EngineConfig struct {
	FullBrightness int
	Timeout        time.Duration
	Dim            bool
	Lazy           bool
	WakeDelay      time.Duration
	TickInterval   time.Duration
	ReadEvery      int

	// MaxFailures is how many consecutive failing ticks Run tolerates.
	MaxFailures int
}

// Engine is the brightness decision loop. All of its state is confined to the
// goroutine running Run; activity arrives only through the aggregator.
//
// Each tick:
//   - drain the aggregator
//   - on activity: wait WakeDelay if the light is fully off, then go to full
//   - otherwise: off after Timeout, dim after Timeout/2 (when enabled and
//     the hardware is above the dim level), else unchanged
//   - let the reconciler read back (when due) and write (when changed)
type Engine struct {
	cfg    EngineConfig
	agg    *ActivityAggregator
	rec    *Reconciler
	board  *StatusBoard
	logger *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	target       int
	lastActivity time.Time
}

// NewEngine wires an engine. board may be nil.
func NewEngine(cfg EngineConfig, agg *ActivityAggregator, rec *Reconciler, board *StatusBoard, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		agg:    agg,
		rec:    rec,
		board:  board,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		target: levelOff,
	}
	e.lastActivity = e.now()
	return e
}

// Run ticks every TickInterval until ctx is canceled. It returns an error
// once more than MaxFailures consecutive ticks failed to reach the hardware.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.lastActivity = e.now()
	failures := 0

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping (context canceled)")
			return nil

		case <-ticker.C:
			err := e.Tick(ctx)
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures > e.cfg.MaxFailures {
				return fmt.Errorf("brightness service failed %d consecutive time(s): %w", failures, err)
			}
			e.logger.Warn("brightness service call failed",
				"error", err,
				"consecutive_failures", failures,
				"max_failures", e.cfg.MaxFailures)
		}
	}
}

// Tick runs one decision step.
func (e *Engine) Tick(ctx context.Context) error {
	if e.agg.Drain() {
		activityTicks.Inc()
		if e.rec.Current() <= levelOff {
			if err := e.sleep(ctx, e.cfg.WakeDelay); err != nil {
				return err
			}
		}
		e.target = e.cfg.FullBrightness
		e.lastActivity = e.now()
	} else {
		e.target = e.idleTarget(e.now().Sub(e.lastActivity))
	}

	e.logger.Debug("tick", "target", e.target, "hardware", e.rec.Current(), "last_activity", e.lastActivity)
	targetBrightness.Set(float64(e.target))

	if err := e.rec.ReadIfDue(ctx); err != nil {
		return err
	}
	_, err := e.rec.ApplyIfChanged(ctx, e.target)
	e.publish()
	return err
}

// idleTarget works in whole seconds: with a 15s timeout the dim stage starts
// after 7s of idle time.
func (e *Engine) idleTarget(elapsed time.Duration) int {
	idleSec := int64(elapsed / time.Second)
	timeoutSec := int64(e.cfg.Timeout / time.Second)
	switch {
	case idleSec >= timeoutSec:
		return levelOff
	case e.cfg.Dim &&
		e.cfg.FullBrightness > levelDim &&
		e.rec.Current() > levelDim &&
		idleSec >= timeoutSec/2:
		return levelDim
	default:
		return e.target
	}
}

func (e *Engine) publish() {
	if e.board == nil {
		return
	}
	hw := e.rec.Current()
	e.board.Publish(Snapshot{
		Target:         e.target,
		Hardware:       hw,
		HardwareKnown:  hw != levelUnknown,
		LastActivity:   e.lastActivity,
		FullBrightness: e.cfg.FullBrightness,
		Timeout:        e.cfg.Timeout,
		Dim:            e.cfg.Dim,
		Lazy:           e.cfg.Lazy,
		At:             e.now(),
	})
}

// sleepContext sleeps for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
