// Package network implements the GameLink connection engine: the
// per-connection state machine, reconnection backoff, heartbeat
// monitoring, send queueing, pending-request tracking, event
// subscriptions, and the hub-side connection set.
package network

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reconnection defaults.
const (
	DefaultReconnectBase       = 5000 * time.Millisecond
	DefaultReconnectMultiplier = 1.5
	DefaultReconnectMax        = 60000 * time.Millisecond
	DefaultReconnectAttempts   = 10
)

// ReconnectConfig controls the exponential backoff schedule.
type ReconnectConfig struct {
	BaseInterval     time.Duration
	Multiplier       float64
	MaxInterval      time.Duration
	MaxAttempts      int
	AutoDisableOnMax bool
}

// DefaultReconnectConfig returns the standard backoff configuration.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		BaseInterval:     DefaultReconnectBase,
		Multiplier:       DefaultReconnectMultiplier,
		MaxInterval:      DefaultReconnectMax,
		MaxAttempts:      DefaultReconnectAttempts,
		AutoDisableOnMax: true,
	}
}

// ReconnectStatus is a snapshot of the reconnection state.
type ReconnectStatus struct {
	CurrentAttempts int           `json:"current_attempts"`
	TotalAttempts   int64         `json:"total_attempts"`
	IsReconnecting  bool          `json:"is_reconnecting"`
	Disabled        bool          `json:"disabled"`
	LastAttemptTime time.Time     `json:"last_attempt_time"`
	NextInterval    time.Duration `json:"next_interval_ms"`
}

// ReconnectManager schedules reconnection attempts with exponential
// backoff. CurrentAttempts resets on every successful connect;
// TotalAttempts is a lifetime statistic and never resets. Once
// CurrentAttempts reaches MaxAttempts with auto-disable configured, the
// manager disables itself until Enable is called.
//
// The manager never re-schedules after a failed attempt on its own:
// scheduling is always re-triggered by the connection's disconnect
// transition, which prevents duplicate concurrent backoff chains.
type ReconnectManager struct {
	mu  sync.Mutex
	cfg ReconnectConfig

	currentAttempts int
	totalAttempts   int64
	isReconnecting  bool
	disabled        bool
	lastAttemptTime time.Time
	nextInterval    time.Duration

	timer      *time.Timer
	attempt    func() error
	onDisabled func()
	logger     zerolog.Logger
}

// NewReconnectManager creates a manager that invokes attempt after each
// computed backoff delay. onDisabled (optional) fires once when the
// attempt budget is exhausted and the manager auto-disables.
func NewReconnectManager(serverID string, cfg ReconnectConfig, attempt func() error, onDisabled func()) *ReconnectManager {
	if cfg.BaseInterval <= 0 {
		cfg = DefaultReconnectConfig()
	}
	return &ReconnectManager{
		cfg:        cfg,
		attempt:    attempt,
		onDisabled: onDisabled,
		logger:     log.With().Str("component", "reconnect").Str("server_id", serverID).Logger(),
	}
}

// backoffInterval computes the delay for the given 1-based attempt
// number: min(base × multiplier^(n−1), max).
func (r *ReconnectManager) backoffInterval(attempt int) time.Duration {
	interval := time.Duration(float64(r.cfg.BaseInterval) * math.Pow(r.cfg.Multiplier, float64(attempt-1)))
	if interval > r.cfg.MaxInterval {
		interval = r.cfg.MaxInterval
	}
	return interval
}

// ScheduleReconnect arms the backoff timer for the next attempt. It is
// a no-op while disabled or while an attempt is already pending. When
// the attempt budget is already spent it disables the manager (if so
// configured) instead of scheduling.
func (r *ReconnectManager) ScheduleReconnect() {
	r.mu.Lock()

	if r.disabled || r.isReconnecting {
		r.mu.Unlock()
		return
	}

	if r.currentAttempts >= r.cfg.MaxAttempts {
		var notify func()
		if r.cfg.AutoDisableOnMax && !r.disabled {
			r.disabled = true
			notify = r.onDisabled
			r.logger.Warn().
				Int("attempts", r.currentAttempts).
				Msg("reconnection attempts exhausted, auto-disabled")
		}
		r.mu.Unlock()
		if notify != nil {
			notify()
		}
		return
	}

	r.currentAttempts++
	r.totalAttempts++
	interval := r.backoffInterval(r.currentAttempts)
	r.nextInterval = interval
	r.isReconnecting = true

	r.logger.Info().
		Int("attempt", r.currentAttempts).
		Int("max", r.cfg.MaxAttempts).
		Dur("delay", interval).
		Msg("reconnect scheduled")

	r.timer = time.AfterFunc(interval, r.fire)
	r.mu.Unlock()
}

// fire runs a scheduled attempt. Failures are not re-scheduled here;
// the connection's own disconnect transition drives the next attempt.
func (r *ReconnectManager) fire() {
	r.mu.Lock()
	if r.disabled || !r.isReconnecting {
		r.mu.Unlock()
		return
	}
	r.isReconnecting = false
	r.lastAttemptTime = time.Now()
	attempt := r.attempt
	r.mu.Unlock()

	if attempt == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("reconnect attempt panicked")
		}
	}()

	if err := attempt(); err != nil {
		r.logger.Warn().Err(err).Msg("reconnect attempt failed")
		return
	}

	r.Reset()
}

// Cancel stops any pending backoff timer without touching counters.
func (r *ReconnectManager) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *ReconnectManager) cancelLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.isReconnecting = false
}

// Reset is called on successful connect. It zeroes CurrentAttempts and
// cancels any pending timer. TotalAttempts is preserved.
func (r *ReconnectManager) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentAttempts = 0
	r.cancelLocked()
}

// Enable clears the disabled flag and resets CurrentAttempts so a fresh
// backoff sequence can begin. TotalAttempts is a lifetime counter and
// is not reset.
func (r *ReconnectManager) Enable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = false
	r.currentAttempts = 0
	r.logger.Info().Msg("reconnection enabled")
}

// Disable marks the manager disabled and cancels any pending timer
// synchronously, so no attempt fires after this call returns.
func (r *ReconnectManager) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = true
	r.cancelLocked()
	r.logger.Info().Msg("reconnection disabled")
}

// IsDisabled reports whether reconnection is currently disabled.
func (r *ReconnectManager) IsDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled
}

// GetStatus returns a snapshot of the reconnection state.
func (r *ReconnectManager) GetStatus() ReconnectStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReconnectStatus{
		CurrentAttempts: r.currentAttempts,
		TotalAttempts:   r.totalAttempts,
		IsReconnecting:  r.isReconnecting,
		Disabled:        r.disabled,
		LastAttemptTime: r.lastAttemptTime,
		NextInterval:    r.nextInterval,
	}
}
