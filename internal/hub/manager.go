package hub

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/protocol"
)

// CommandResult is the outcome of a request sent to an agent.
type CommandResult struct {
	ServerID string         `json:"server_id"`
	Op       string         `json:"op"`
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Manager is the operator-facing surface over the connection set. The
// REST API and the CLI both drive agents through it.
type Manager struct {
	registry *network.ConnectionRegistry
	logger   zerolog.Logger
}

// NewManager creates a manager over the given connection set.
func NewManager(registry *network.ConnectionRegistry) *Manager {
	return &Manager{
		registry: registry,
		logger:   log.With().Str("component", "manager").Logger(),
	}
}

// Registry exposes the underlying connection set.
func (m *Manager) Registry() *network.ConnectionRegistry { return m.registry }

// SendCommand sends a request to one agent and waits for its response
// or timeout.
func (m *Manager) SendCommand(serverID, op string, data map[string]any, timeout time.Duration) (*CommandResult, error) {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return nil, fmt.Errorf("unknown server %q", serverID)
	}

	if op != protocol.OpEventSubscribe && op != protocol.OpEventUnsubscribe &&
		len(conn.Capabilities()) > 0 && !conn.HasCapability(op) {
		return nil, fmt.Errorf("server %q does not support %q", serverID, op)
	}

	ch, err := conn.Request(op, data, timeout)
	if err != nil {
		return nil, err
	}

	result := <-ch
	if result.Err != nil {
		return nil, result.Err
	}

	return &CommandResult{
		ServerID: serverID,
		Op:       op,
		Success:  result.Response.Success,
		Data:     result.Response.Data,
		Error:    result.Response.Error,
	}, nil
}

// SendMessage sends a fire-and-forget message (queued while the agent
// is offline).
func (m *Manager) SendMessage(serverID string, msg *protocol.Message) error {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return fmt.Errorf("unknown server %q", serverID)
	}
	return conn.Send(msg)
}

// GetConnectionInfo returns a status snapshot for one server.
func (m *Manager) GetConnectionInfo(serverID string) (network.ConnectionInfo, error) {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return network.ConnectionInfo{}, fmt.Errorf("unknown server %q", serverID)
	}
	return conn.Info(), nil
}

// ListConnections returns snapshots of all tracked connections.
func (m *Manager) ListConnections() []network.ConnectionInfo {
	conns := m.registry.All()
	out := make([]network.ConnectionInfo, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Info())
	}
	return out
}

// GetStats returns aggregate connection statistics.
func (m *Manager) GetStats() network.RegistryStats {
	return m.registry.Stats()
}

// EnableReconnection clears a server's disabled flag so it may rejoin
// (and, agent-side, resume dialing).
func (m *Manager) EnableReconnection(serverID string) error {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return fmt.Errorf("unknown server %q", serverID)
	}
	conn.Reconnect().Enable()
	m.logger.Info().Str("server_id", serverID).Msg("reconnection enabled")
	return nil
}

// DisableReconnection stops a server from rejoining until re-enabled.
// Any pending backoff timer is cancelled before this returns.
func (m *Manager) DisableReconnection(serverID string) error {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return fmt.Errorf("unknown server %q", serverID)
	}
	conn.Reconnect().Disable()
	m.logger.Info().Str("server_id", serverID).Msg("reconnection disabled")
	return nil
}

// SwitchConnectionMode relabels a server's connection profile.
func (m *Manager) SwitchConnectionMode(serverID, mode string) error {
	conn, ok := m.registry.Get(serverID)
	if !ok {
		return fmt.Errorf("unknown server %q", serverID)
	}
	if mode != "direct" && mode != "proxy" {
		return fmt.Errorf("unknown connection mode %q", mode)
	}
	conn.SetMode(mode)
	m.logger.Info().Str("server_id", serverID).Str("mode", mode).Msg("connection mode switched")
	return nil
}

// Disconnect closes a server's socket. With reconnecting true the
// agent is expected back; otherwise the connection is removed from the
// set entirely.
func (m *Manager) Disconnect(serverID, reason string, allowReconnect bool) error {
	if allowReconnect {
		conn, ok := m.registry.Get(serverID)
		if !ok {
			return fmt.Errorf("unknown server %q", serverID)
		}
		conn.SendDisconnect(reason)
		conn.HandleDisconnect(reason, true)
		return nil
	}

	if !m.registry.Remove(serverID, reason) {
		return fmt.Errorf("unknown server %q", serverID)
	}
	return nil
}

// BroadcastEvent offers an event to every authenticated agent, each
// gated by its own subscriptions.
func (m *Manager) BroadcastEvent(eventType string, data map[string]any) {
	m.registry.BroadcastEvent(eventType, data)
}
