package config

import (
	"time"

	"github.com/gamelink-project/gamelink/internal/network"
)

// Engine converts the on-disk millisecond settings into the connection
// engine's configuration.
func (s ConnectionSettings) Engine() network.ConnectionConfig {
	return network.ConnectionConfig{
		Reconnect: network.ReconnectConfig{
			BaseInterval:     time.Duration(s.ReconnectBaseMs) * time.Millisecond,
			Multiplier:       s.ReconnectMultiplier,
			MaxInterval:      time.Duration(s.ReconnectMaxMs) * time.Millisecond,
			MaxAttempts:      s.ReconnectMaxAttempts,
			AutoDisableOnMax: s.ReconnectAutoDisable,
		},
		Heartbeat: network.HeartbeatConfig{
			Interval:       time.Duration(s.HeartbeatIntervalMs) * time.Millisecond,
			MinInterval:    time.Duration(s.HeartbeatMinMs) * time.Millisecond,
			MaxInterval:    time.Duration(s.HeartbeatMaxMs) * time.Millisecond,
			MaxMissedBeats: s.MaxMissedBeats,
			Adaptive:       s.AdaptiveHeartbeat,
		},
		RequestTimeout: time.Duration(s.RequestTimeoutMs) * time.Millisecond,
		QueueLimit:     s.SendQueueLimit,
	}
}
