package network

import (
	"sync/atomic"
	"testing"
	"time"
)

func testHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:       40 * time.Millisecond,
		MinInterval:    20 * time.Millisecond,
		MaxInterval:    80 * time.Millisecond,
		MaxMissedBeats: 2,
		HistorySize:    10,
	}
}

func TestHeartbeatFailureAfterMaxMissed(t *testing.T) {
	var timeouts, failures atomic.Int32

	h := NewHeartbeatMonitor("gs-1", testHeartbeatConfig(),
		func() error { return nil },
		func(missed int) { timeouts.Add(1) },
		func() { failures.Add(1) },
	)

	h.Start()
	// Two reply windows must elapse unanswered, then the monitor stops
	// itself. Give it a couple extra cycles to prove no further signal.
	time.Sleep(250 * time.Millisecond)

	if got := failures.Load(); got != 1 {
		t.Fatalf("failure fired %d times, want exactly 1", got)
	}
	if got := timeouts.Load(); got != 2 {
		t.Errorf("timeout fired %d times, want 2", got)
	}
	if h.IsRunning() {
		t.Error("monitor still running after failure")
	}
}

func TestPongResetsMissedBeats(t *testing.T) {
	var failures atomic.Int32

	h := NewHeartbeatMonitor("gs-1", testHeartbeatConfig(),
		func() error { return nil },
		nil,
		func() { failures.Add(1) },
	)

	h.Start()
	defer h.Stop()

	// Answer every ping for several cycles; no failure may fire.
	for i := 0; i < 8; i++ {
		time.Sleep(15 * time.Millisecond)
		h.HandlePong()
	}

	if failures.Load() != 0 {
		t.Fatal("failure fired despite continuous pongs")
	}
	if got := h.Stats().MissedBeats; got != 0 {
		t.Errorf("missed beats = %d, want 0", got)
	}
}

func TestHandlePongTracksRTT(t *testing.T) {
	h := NewHeartbeatMonitor("gs-1", testHeartbeatConfig(), func() error { return nil }, nil, nil)

	h.mu.Lock()
	h.lastPingSent = time.Now().Add(-50 * time.Millisecond)
	h.mu.Unlock()

	h.HandlePong()

	stats := h.Stats()
	if stats.RTT < 50*time.Millisecond {
		t.Errorf("rtt = %v, want >= 50ms", stats.RTT)
	}
	if stats.AverageRTT == 0 {
		t.Error("average rtt not computed")
	}
	if stats.LastPongReceived.IsZero() {
		t.Error("pong time not recorded")
	}
}

func TestRTTHistoryBounded(t *testing.T) {
	cfg := testHeartbeatConfig()
	cfg.HistorySize = 3
	h := NewHeartbeatMonitor("gs-1", cfg, func() error { return nil }, nil, nil)

	for i := 0; i < 10; i++ {
		h.mu.Lock()
		h.lastPingSent = time.Now()
		h.mu.Unlock()
		h.HandlePong()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.rttHistory) != 3 {
		t.Errorf("history length = %d, want 3", len(h.rttHistory))
	}
}

func TestAdaptiveIntervalShrinksOnLowRTT(t *testing.T) {
	cfg := testHeartbeatConfig()
	cfg.Adaptive = true
	h := NewHeartbeatMonitor("gs-1", cfg, func() error { return nil }, nil, nil)

	// Near-zero RTT pulls the interval toward MinInterval.
	for i := 0; i < 20; i++ {
		h.mu.Lock()
		h.lastPingSent = time.Now()
		h.mu.Unlock()
		h.HandlePong()
	}

	got := h.CurrentInterval()
	if got >= cfg.Interval {
		t.Errorf("interval %v did not shrink from %v", got, cfg.Interval)
	}
	if got < cfg.MinInterval {
		t.Errorf("interval %v below floor %v", got, cfg.MinInterval)
	}
}

func TestAdaptiveIntervalGrowsOnHighRTT(t *testing.T) {
	cfg := testHeartbeatConfig()
	cfg.Adaptive = true
	h := NewHeartbeatMonitor("gs-1", cfg, func() error { return nil }, nil, nil)

	for i := 0; i < 20; i++ {
		h.mu.Lock()
		h.lastPingSent = time.Now().Add(-600 * time.Millisecond)
		h.mu.Unlock()
		h.HandlePong()
	}

	got := h.CurrentInterval()
	if got <= cfg.Interval {
		t.Errorf("interval %v did not grow from %v", got, cfg.Interval)
	}
	if got > cfg.MaxInterval {
		t.Errorf("interval %v above ceiling %v", got, cfg.MaxInterval)
	}
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	var failures atomic.Int32
	cfg := testHeartbeatConfig()
	cfg.Interval = 10 * time.Millisecond

	h := NewHeartbeatMonitor("gs-1", cfg, func() error { return nil }, nil,
		func() { failures.Add(1) })

	h.Start()
	time.Sleep(5 * time.Millisecond)
	h.Stop()
	h.Stop()

	time.Sleep(100 * time.Millisecond)
	if failures.Load() != 0 {
		t.Fatal("failure fired after Stop returned")
	}
}

func TestRestartResetsMissedCounter(t *testing.T) {
	h := NewHeartbeatMonitor("gs-1", testHeartbeatConfig(), func() error { return nil }, nil, nil)

	h.mu.Lock()
	h.missedBeats = 1
	h.mu.Unlock()

	h.Start()
	defer h.Stop()

	if got := h.Stats().MissedBeats; got != 0 {
		t.Errorf("missed beats = %d after restart, want 0", got)
	}
}
