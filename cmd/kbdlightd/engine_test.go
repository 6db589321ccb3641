package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBacklight is an in-memory BrightnessService that records every call.
type fakeBacklight struct {
	mu sync.Mutex

	level    int
	maxLevel int
	gets     int
	sets     []int

	getErr   error
	setErr   error
	failSets int    // remaining SetBrightness calls that fail with setErr
	failGets []bool // per-call GetBrightness outcomes (true fails) before getErr applies
}

func newFakeBacklight(level int) *fakeBacklight {
	return &fakeBacklight{level: level, maxLevel: 3}
}

func (f *fakeBacklight) GetBrightness(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if len(f.failGets) > 0 {
		fail := f.failGets[0]
		f.failGets = f.failGets[1:]
		if fail {
			return 0, errors.New("get failed")
		}
		return f.level, nil
	}
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.level, nil
}

func (f *fakeBacklight) SetBrightness(_ context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil && f.failSets != 0 {
		if f.failSets > 0 {
			f.failSets--
		}
		return f.setErr
	}
	f.sets = append(f.sets, level)
	f.level = level
	return nil
}

func (f *fakeBacklight) GetMaxBrightness(context.Context) (int, error) {
	return f.maxLevel, nil
}

func (f *fakeBacklight) Sets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sets...)
}

func (f *fakeBacklight) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// setExternally simulates another program changing the brightness.
func (f *fakeBacklight) setExternally(level int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.level = level
}

const testTick = 100 * time.Millisecond

func testEngineConfig() EngineConfig {
	return EngineConfig{
		FullBrightness: 2,
		Timeout:        15 * time.Second,
		Dim:            true,
		WakeDelay:      250 * time.Millisecond,
		TickInterval:   testTick,
		ReadEvery:      10,
	}
}

// engineHarness drives an Engine with a fake clock and a recording sleeper.
type engineHarness struct {
	t      *testing.T
	engine *Engine
	agg    *ActivityAggregator
	rec    *Reconciler
	svc    *fakeBacklight
	board  *StatusBoard

	clock  time.Time
	sleeps []time.Duration
}

func newEngineHarness(t *testing.T, cfg EngineConfig, svc *fakeBacklight) *engineHarness {
	t.Helper()
	h := &engineHarness{
		t:     t,
		agg:   NewActivityAggregator(),
		svc:   svc,
		board: &StatusBoard{},
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h.rec = NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger())
	h.rec.now = h.now
	h.engine = NewEngine(cfg, h.agg, h.rec, h.board, discardLogger())
	h.engine.now = h.now
	h.engine.lastActivity = h.clock
	h.engine.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		h.clock = h.clock.Add(d)
		return nil
	}
	return h
}

func (h *engineHarness) now() time.Time { return h.clock }

// advance runs ticks covering d of wall time.
func (h *engineHarness) advance(d time.Duration) {
	h.t.Helper()
	for end := h.clock.Add(d); h.clock.Before(end); {
		h.clock = h.clock.Add(testTick)
		require.NoError(h.t, h.engine.Tick(context.Background()))
	}
}

// typed signals activity and runs a single tick.
func (h *engineHarness) typed() {
	h.t.Helper()
	h.agg.Signal()
	h.advance(testTick)
}

func TestEngine_DefaultConfigIdleThenActivity(t *testing.T) {
	svc := newFakeBacklight(2)
	h := newEngineHarness(t, testEngineConfig(), svc)

	h.advance(16 * time.Second)
	assert.Equal(t, []int{0}, svc.Sets(), "one write of 0 while idle")
	assert.Empty(t, h.sleeps)

	h.typed()
	assert.Equal(t, []int{0, 2}, svc.Sets())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, h.sleeps, "wake delay from off")
}

func TestEngine_WakeFromNonZeroHasNoDelay(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 10 * time.Second
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	require.Equal(t, []int{2}, svc.Sets())
	h.sleeps = nil

	h.advance(6 * time.Second) // dimmed to 1
	require.Equal(t, []int{2, 1}, svc.Sets())

	h.typed()
	assert.Equal(t, []int{2, 1, 2}, svc.Sets())
	assert.Empty(t, h.sleeps)
}

func TestEngine_DimsBeforeOff(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 10 * time.Second
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	require.Equal(t, []int{2}, svc.Sets())

	h.advance(4900 * time.Millisecond)
	assert.Equal(t, []int{2}, svc.Sets(), "still full before T/2")

	h.advance(1100 * time.Millisecond) // 6s idle
	assert.Equal(t, []int{2, 1}, svc.Sets())

	h.advance(5 * time.Second) // 11s idle
	assert.Equal(t, []int{2, 1, 0}, svc.Sets())

	h.advance(30 * time.Second)
	assert.Equal(t, []int{2, 1, 0}, svc.Sets(), "stays off")
}

func TestEngine_OddTimeoutDimsOnWholeSeconds(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc) // T = 15s
	h.typed()
	require.Equal(t, []int{2}, svc.Sets())

	h.advance(6900 * time.Millisecond)
	assert.Equal(t, []int{2}, svc.Sets(), "6 whole seconds idle")

	h.advance(300 * time.Millisecond) // 7.2s idle
	assert.Equal(t, []int{2, 1}, svc.Sets(), "dims at 15/2 = 7 whole seconds")

	h.advance(7700 * time.Millisecond) // 14.9s idle
	assert.Equal(t, []int{2, 1}, svc.Sets())

	h.advance(200 * time.Millisecond)
	assert.Equal(t, []int{2, 1, 0}, svc.Sets())
}

func TestEngine_NoDimSkipsLevelOne(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 10 * time.Second
	cfg.Dim = false
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	h.advance(6 * time.Second)
	assert.Equal(t, []int{2}, svc.Sets())

	h.advance(5 * time.Second)
	assert.Equal(t, []int{2, 0}, svc.Sets())
}

func TestEngine_NoDimWhenFullIsDimLevel(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 10 * time.Second
	cfg.FullBrightness = 1
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	h.advance(11 * time.Second)
	assert.Equal(t, []int{1, 0}, svc.Sets())
}

func TestEngine_NoRedundantWrites(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc)

	// Constant typing keeps the target at full.
	for i := 0; i < 100; i++ {
		h.typed()
	}
	assert.Equal(t, []int{2}, svc.Sets())
}

func TestEngine_LazyNeverReads(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Lazy = true
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	h.advance(30 * time.Second)
	assert.Zero(t, svc.Gets())
}

func TestEngine_ReadsOnFixedCadence(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc)

	h.advance(5 * time.Second) // 50 idle ticks
	assert.Equal(t, 5, svc.Gets())

	for i := 0; i < 50; i++ {
		h.typed()
	}
	assert.Equal(t, 10, svc.Gets(), "cadence does not depend on activity")
}

func TestEngine_ExternalChangeIsReasserted(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc)

	h.typed()
	require.Equal(t, []int{2}, svc.Sets())

	// Someone turns the light off behind our back while we are still in the
	// active window; the next read-back notices and full is written again.
	svc.setExternally(0)
	h.advance(time.Second)
	assert.Equal(t, []int{2, 2}, svc.Sets())
	assert.Equal(t, 2, h.rec.Current())
}

func TestEngine_ExternalDimThenIdle(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Timeout = 10 * time.Second
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, cfg, svc)

	h.typed()
	h.advance(time.Second)
	svc.setExternally(1)
	h.advance(10 * time.Second)

	// Read-back found 1, which re-asserts full once; dim then applies and
	// finally off.
	assert.Equal(t, []int{2, 2, 1, 0}, svc.Sets())
}

func TestEngine_PublishesSnapshot(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc)

	h.typed()
	h.advance(time.Second)

	snap, ok := h.board.Get()
	require.True(t, ok)
	assert.Equal(t, 2, snap.Target)
	assert.Equal(t, 2, snap.Hardware)
	assert.True(t, snap.HardwareKnown)
	assert.Equal(t, 2, snap.FullBrightness)
	assert.True(t, snap.Dim)
	assert.Equal(t, h.clock, snap.At)

	p := snap.payload()
	assert.Equal(t, int64(time.Second/time.Millisecond), p.IdleMS)
	assert.Equal(t, 15, p.TimeoutSec)
}

func TestEngine_TickReturnsHardwareErrors(t *testing.T) {
	svc := newFakeBacklight(0)
	svc.setErr = errors.New("dbus: no reply")
	svc.failSets = -1
	h := newEngineHarness(t, testEngineConfig(), svc)

	err := h.engine.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, svc.setErr)
	assert.Contains(t, err.Error(), "set brightness 0")

	svc.getErr = errors.New("dbus: timeout")
	cfg := testEngineConfig()
	cfg.ReadEvery = 1
	h = newEngineHarness(t, cfg, svc)
	err = h.engine.Tick(context.Background())
	assert.ErrorIs(t, err, svc.getErr)
}

func TestEngine_WakeDelayCanceled(t *testing.T) {
	svc := newFakeBacklight(0)
	h := newEngineHarness(t, testEngineConfig(), svc)
	h.engine.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.agg.Signal()
	err := h.engine.Tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, svc.Sets())
}

func runEngine(ctx context.Context, e *Engine) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()
	return errCh
}

func fastEngineConfig() EngineConfig {
	cfg := testEngineConfig()
	cfg.TickInterval = time.Millisecond
	cfg.WakeDelay = 0
	return cfg
}

func TestEngineRun_FailsFastByDefault(t *testing.T) {
	svc := newFakeBacklight(0)
	svc.setErr = errors.New("dbus: service unknown")
	svc.failSets = -1

	cfg := fastEngineConfig()
	e := NewEngine(cfg, NewActivityAggregator(), NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger()), nil, discardLogger())

	select {
	case err := <-runEngine(context.Background(), e):
		require.Error(t, err)
		assert.ErrorIs(t, err, svc.setErr)
		assert.Contains(t, err.Error(), "1 consecutive time(s)")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on hardware failure")
	}
}

func TestEngineRun_ToleratesConfiguredFailures(t *testing.T) {
	svc := newFakeBacklight(0)
	svc.setErr = errors.New("dbus: no reply")
	svc.failSets = 2

	cfg := fastEngineConfig()
	cfg.MaxFailures = 2
	e := NewEngine(cfg, NewActivityAggregator(), NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger()), nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runEngine(ctx, e)

	require.Eventually(t, func() bool { return len(svc.Sets()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on cancel")
	}
	assert.Equal(t, []int{0}, svc.Sets())
}

func TestEngineRun_SuccessResetsFailureCount(t *testing.T) {
	svc := newFakeBacklight(0)
	// Never more than two failures in a row, five in total.
	svc.failGets = []bool{true, true, false, true, true, false, true, false}

	cfg := fastEngineConfig()
	cfg.ReadEvery = 1
	cfg.MaxFailures = 2
	e := NewEngine(cfg, NewActivityAggregator(), NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger()), nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runEngine(ctx, e)

	require.Eventually(t, func() bool { return svc.Gets() > 10 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestEngineRun_GivesUpAfterMaxFailures(t *testing.T) {
	svc := newFakeBacklight(0)
	svc.setErr = errors.New("dbus: no reply")
	svc.failSets = -1

	cfg := fastEngineConfig()
	cfg.MaxFailures = 3
	e := NewEngine(cfg, NewActivityAggregator(), NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger()), nil, discardLogger())

	select {
	case err := <-runEngine(context.Background(), e):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "4 consecutive time(s)")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not give up")
	}
}

func TestEngineRun_StopsOnCancel(t *testing.T) {
	svc := newFakeBacklight(0)
	cfg := fastEngineConfig()
	e := NewEngine(cfg, NewActivityAggregator(), NewReconciler(svc, cfg.Lazy, cfg.ReadEvery, nil, discardLogger()), nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runEngine(ctx, e)
	require.Eventually(t, func() bool { return len(svc.Sets()) > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, []int{0}, svc.Sets(), "shutdown leaves brightness alone")
}
