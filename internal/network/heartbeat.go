package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Heartbeat defaults.
const (
	DefaultHeartbeatInterval = 30000 * time.Millisecond
	DefaultHeartbeatMin      = 10000 * time.Millisecond
	DefaultHeartbeatMax      = 60000 * time.Millisecond
	DefaultMaxMissedBeats    = 2
	DefaultRTTHistorySize    = 10

	// Average RTT thresholds steering the adaptive interval.
	adaptiveLowRTT  = 100 * time.Millisecond
	adaptiveHighRTT = 500 * time.Millisecond
)

// HeartbeatConfig controls the ping schedule and liveness thresholds.
type HeartbeatConfig struct {
	Interval       time.Duration
	MinInterval    time.Duration
	MaxInterval    time.Duration
	MaxMissedBeats int
	Adaptive       bool
	HistorySize    int
}

// DefaultHeartbeatConfig returns the standard heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:       DefaultHeartbeatInterval,
		MinInterval:    DefaultHeartbeatMin,
		MaxInterval:    DefaultHeartbeatMax,
		MaxMissedBeats: DefaultMaxMissedBeats,
		Adaptive:       false,
		HistorySize:    DefaultRTTHistorySize,
	}
}

// HeartbeatStats is a snapshot of a connection's liveness state.
type HeartbeatStats struct {
	LastPingSent     time.Time     `json:"last_ping_sent"`
	LastPongReceived time.Time     `json:"last_pong_received"`
	MissedBeats      int           `json:"missed_beats"`
	CurrentInterval  time.Duration `json:"current_interval_ms"`
	RTT              time.Duration `json:"rtt_ms"`
	AverageRTT       time.Duration `json:"average_rtt_ms"`
	Running          bool          `json:"running"`
}

// HeartbeatMonitor sends periodic pings on one connection and tracks
// RTT and missed replies. Each elapsed reply window with no pong counts
// one missed beat; reaching MaxMissedBeats emits a single failure
// signal and stops the monitor. Any pong resets the missed counter.
//
// With Adaptive set, the ping interval drifts toward MinInterval while
// the link is healthy (low average RTT) and toward MaxInterval when RTT
// climbs, clamped to [MinInterval, MaxInterval].
type HeartbeatMonitor struct {
	mu  sync.Mutex
	cfg HeartbeatConfig

	lastPingSent     time.Time
	lastPongReceived time.Time
	missedBeats      int
	currentInterval  time.Duration
	rttHistory       []time.Duration
	rtt              time.Duration
	averageRTT       time.Duration

	running bool
	stopCh  chan struct{}

	sendPing  func() error
	onTimeout func(missed int)
	onFailure func()
	logger    zerolog.Logger
}

// NewHeartbeatMonitor creates a monitor for one connection. sendPing
// writes a ping frame to the transport; onTimeout (optional) fires for
// each missed reply window; onFailure fires once when MaxMissedBeats is
// reached, after which the monitor has already stopped itself.
func NewHeartbeatMonitor(serverID string, cfg HeartbeatConfig, sendPing func() error, onTimeout func(missed int), onFailure func()) *HeartbeatMonitor {
	if cfg.Interval <= 0 {
		cfg = DefaultHeartbeatConfig()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultRTTHistorySize
	}
	return &HeartbeatMonitor{
		cfg:             cfg,
		currentInterval: cfg.Interval,
		sendPing:        sendPing,
		onTimeout:       onTimeout,
		onFailure:       onFailure,
		logger:          log.With().Str("component", "heartbeat").Str("server_id", serverID).Logger(),
	}
}

// Start launches the ping loop. Restarting an already running monitor
// stops the previous loop first, so a reconnect always begins with a
// clean missed-beat counter.
func (h *HeartbeatMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.stopLocked()
	}
	h.running = true
	h.missedBeats = 0
	h.stopCh = make(chan struct{})
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.loop(stopCh)
	h.logger.Debug().Dur("interval", h.CurrentInterval()).Msg("heartbeat started")
}

// loop drives one ping cycle per interval: send, wait half the interval
// for a pong, count a miss if none arrived, sleep out the remainder.
// The first ping goes out one full interval after Start; the socket was
// just proven live by the handshake.
func (h *HeartbeatMonitor) loop(stopCh chan struct{}) {
	select {
	case <-stopCh:
		return
	case <-time.After(h.CurrentInterval()):
	}

	for {
		h.mu.Lock()
		if !h.running || h.stopCh != stopCh {
			h.mu.Unlock()
			return
		}
		interval := h.currentInterval
		h.lastPingSent = time.Now()
		pingSentAt := h.lastPingSent
		send := h.sendPing
		h.mu.Unlock()

		if err := send(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to send ping")
		}

		replyTimeout := interval / 2

		select {
		case <-stopCh:
			return
		case <-time.After(replyTimeout):
		}

		h.mu.Lock()
		answered := h.lastPongReceived.After(pingSentAt) || h.lastPongReceived.Equal(pingSentAt)
		if !answered {
			h.missedBeats++
			missed := h.missedBeats
			failed := missed >= h.cfg.MaxMissedBeats
			if failed {
				h.stopLocked()
			}
			h.mu.Unlock()

			h.logger.Warn().Int("missed", missed).Msg("heartbeat reply window elapsed")
			if h.onTimeout != nil {
				h.onTimeout(missed)
			}
			if failed {
				h.logger.Error().Int("missed", missed).Msg("heartbeat failure, connection presumed dead")
				if h.onFailure != nil {
					h.onFailure()
				}
				return
			}
		} else {
			h.mu.Unlock()
		}

		select {
		case <-stopCh:
			return
		case <-time.After(interval - replyTimeout):
		}
	}
}

// HandlePong records a pong reply. RTT is measured against the last
// ping sent; the missed-beat counter resets on any pong.
func (h *HeartbeatMonitor) HandlePong() {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastPongReceived = now
	if !h.lastPingSent.IsZero() {
		h.rtt = now.Sub(h.lastPingSent)
		h.rttHistory = append(h.rttHistory, h.rtt)
		if len(h.rttHistory) > h.cfg.HistorySize {
			h.rttHistory = h.rttHistory[len(h.rttHistory)-h.cfg.HistorySize:]
		}
		var sum time.Duration
		for _, s := range h.rttHistory {
			sum += s
		}
		h.averageRTT = sum / time.Duration(len(h.rttHistory))
	}
	h.missedBeats = 0

	if h.cfg.Adaptive {
		h.adaptIntervalLocked()
	}
}

// adaptIntervalLocked nudges the ping interval a quarter of the way
// toward the target bound chosen by the recent average RTT.
func (h *HeartbeatMonitor) adaptIntervalLocked() {
	target := h.currentInterval
	switch {
	case h.averageRTT > 0 && h.averageRTT < adaptiveLowRTT:
		target = h.cfg.MinInterval
	case h.averageRTT > adaptiveHighRTT:
		target = h.cfg.MaxInterval
	default:
		return
	}

	h.currentInterval += (target - h.currentInterval) / 4
	if h.currentInterval < h.cfg.MinInterval {
		h.currentInterval = h.cfg.MinInterval
	}
	if h.currentInterval > h.cfg.MaxInterval {
		h.currentInterval = h.cfg.MaxInterval
	}
}

// Stop halts the ping loop synchronously; no timeout or failure signal
// fires after Stop returns. Safe to call repeatedly.
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *HeartbeatMonitor) stopLocked() {
	if !h.running {
		return
	}
	h.running = false
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
}

// IsRunning reports whether the ping loop is active.
func (h *HeartbeatMonitor) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// CurrentInterval returns the active ping interval.
func (h *HeartbeatMonitor) CurrentInterval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentInterval
}

// UpdateConfig replaces the liveness thresholds. The new interval takes
// effect on the next ping cycle.
func (h *HeartbeatMonitor) UpdateConfig(cfg HeartbeatConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultRTTHistorySize
	}
	h.cfg = cfg
	h.currentInterval = cfg.Interval
}

// Stats returns a snapshot of the liveness state.
func (h *HeartbeatMonitor) Stats() HeartbeatStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeartbeatStats{
		LastPingSent:     h.lastPingSent,
		LastPongReceived: h.lastPongReceived,
		MissedBeats:      h.missedBeats,
		CurrentInterval:  h.currentInterval,
		RTT:              h.rtt,
		AverageRTT:       h.averageRTT,
		Running:          h.running,
	}
}
