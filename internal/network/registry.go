package network

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

// ConnectionRegistry tracks active connections keyed by server id.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	logger      zerolog.Logger
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]*Connection),
		logger:      log.With().Str("component", "registry").Logger(),
	}
}

// Register adds a connection under its server id. A connection already
// held under the same id is torn down first: the newest socket owns the
// identity.
func (r *ConnectionRegistry) Register(conn *Connection) {
	serverID := conn.ServerID()

	r.mu.Lock()
	existing := r.connections[serverID]
	r.connections[serverID] = conn
	r.mu.Unlock()

	if existing != nil && existing != conn {
		r.logger.Warn().Str("server_id", serverID).Msg("duplicate server id, replacing existing connection")
		existing.Teardown("superseded by new connection")
	}

	r.logger.Info().Str("server_id", serverID).Int("total", r.Count()).Msg("connection registered")
}

// Get returns the connection for serverID.
func (r *ConnectionRegistry) Get(serverID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[serverID]
	return conn, ok
}

// Remove administratively removes a connection, tearing down all of its
// owned state. It reports whether the id was present.
func (r *ConnectionRegistry) Remove(serverID, reason string) bool {
	r.mu.Lock()
	conn, ok := r.connections[serverID]
	delete(r.connections, serverID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	conn.Teardown(reason)
	r.logger.Info().Str("server_id", serverID).Str("reason", reason).Msg("connection removed")
	return true
}

// All returns a snapshot of the current connections.
func (r *ConnectionRegistry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}

// Count returns the number of tracked connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// RegistryStats aggregates connection counts for the API and CLI.
type RegistryStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByMode   map[string]int `json:"by_mode"`
	ByType   map[string]int `json:"by_type"`
}

// Stats returns aggregate counts grouped by status, mode and type.
func (r *ConnectionRegistry) Stats() RegistryStats {
	stats := RegistryStats{
		ByStatus: make(map[string]int),
		ByMode:   make(map[string]int),
		ByType:   make(map[string]int),
	}
	for _, conn := range r.All() {
		info := conn.Info()
		stats.Total++
		stats.ByStatus[string(info.Status)]++
		if info.Mode != "" {
			stats.ByMode[info.Mode]++
		}
		if info.ServerType != "" {
			stats.ByType[info.ServerType]++
		}
	}
	return stats
}

// Broadcast sends a message to every authenticated connection and
// returns how many accepted it.
func (r *ConnectionRegistry) Broadcast(build func(serverID string) *protocol.Message) int {
	sent := 0
	for _, conn := range r.All() {
		if conn.Status() != StatusAuthenticated {
			continue
		}
		if err := conn.Send(build(conn.ServerID())); err != nil {
			r.logger.Warn().Err(err).Str("server_id", conn.ServerID()).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}

// BroadcastEvent offers an event to every connection, gated by each
// connection's own subscriptions.
func (r *ConnectionRegistry) BroadcastEvent(eventType string, data map[string]any) {
	for _, conn := range r.All() {
		if conn.Status() != StatusAuthenticated {
			continue
		}
		if err := conn.EmitEvent(eventType, data); err != nil {
			r.logger.Warn().Err(err).Str("server_id", conn.ServerID()).Msg("event emit failed")
		}
	}
}

// CloseAll tears down every connection, used on shutdown.
func (r *ConnectionRegistry) CloseAll(reason string) {
	r.mu.Lock()
	connections := r.connections
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range connections {
		conn.Teardown(reason)
	}
	r.logger.Info().Int("count", len(connections)).Msg("all connections closed")
}
