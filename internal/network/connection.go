package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/protocol"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusAuthenticated Status = "authenticated"
	StatusDisconnected  Status = "disconnected"
	StatusError         Status = "error"
)

// ConnectionConfig bundles the tunables of one connection's engine.
type ConnectionConfig struct {
	Reconnect      ReconnectConfig
	Heartbeat      HeartbeatConfig
	RequestTimeout time.Duration
	QueueLimit     int
}

// DefaultConnectionConfig returns the standard engine configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Reconnect:      DefaultReconnectConfig(),
		Heartbeat:      DefaultHeartbeatConfig(),
		RequestTimeout: DefaultRequestTimeout,
		QueueLimit:     DefaultQueueLimit,
	}
}

// ConnectionInfo is a status snapshot exposed to the API and CLI.
type ConnectionInfo struct {
	ServerID     string          `json:"server_id"`
	ServerName   string          `json:"server_name,omitempty"`
	ServerType   string          `json:"server_type,omitempty"`
	Status       Status          `json:"status"`
	Mode         string          `json:"mode,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty"`
	RemoteAddr   string          `json:"remote_addr,omitempty"`
	ConnectedAt  time.Time       `json:"connected_at,omitempty"`
	QueueDepth   int             `json:"queue_depth"`
	Pending      int             `json:"pending_requests"`
	Reconnect    ReconnectStatus `json:"reconnect"`
	Heartbeat    HeartbeatStats  `json:"heartbeat"`
}

// Hooks are the owner-supplied callbacks a Connection dispatches into.
// All hooks are optional and run outside the connection lock.
type Hooks struct {
	// OnStatusChange fires after every lifecycle transition.
	OnStatusChange func(c *Connection, from, to Status, reason string)
	// OnEvent receives inbound event frames from the peer.
	OnEvent func(c *Connection, m *protocol.Message)
	// OnRequest receives inbound request frames the engine does not
	// handle itself (everything except event.subscribe/unsubscribe).
	OnRequest func(c *Connection, m *protocol.Message)
	// OnHeartbeatTimeout fires for each missed reply window.
	OnHeartbeatTimeout func(c *Connection, missed int)
	// OnReconnectDisabled fires once when the attempt budget runs out.
	OnReconnectDisabled func(c *Connection)
}

// Connection binds one transport socket to one logical remote identity.
// The identity survives reconnects: a transient disconnect moves the
// status to disconnected and schedules reconnection; the Connection and
// its owned state are freed only by explicit administrative removal.
type Connection struct {
	mu sync.Mutex

	serverID   string
	serverName string
	serverType string
	mode       string
	status     Status
	statusAt   time.Time

	capabilities []string
	transport    Transport
	connectedAt  time.Time

	queue     *SendQueue
	pending   *PendingRequestTable
	subs      *SubscriptionRegistry
	heartbeat *HeartbeatMonitor
	reconnect *ReconnectManager

	cfg    ConnectionConfig
	hooks  Hooks
	logger zerolog.Logger
}

// NewConnection creates the engine state for one remote identity. The
// reconnect callback re-establishes transport when the backoff timer
// fires; pass nil on a side where the remote dials in.
func NewConnection(serverID, mode string, cfg ConnectionConfig, reconnectFn func() error) *Connection {
	if cfg.RequestTimeout <= 0 {
		cfg = DefaultConnectionConfig()
	}

	c := &Connection{
		serverID: serverID,
		mode:     mode,
		status:   StatusConnecting,
		statusAt: time.Now(),
		queue:    NewSendQueue(cfg.QueueLimit),
		pending:  NewPendingRequestTable(serverID),
		subs:     NewSubscriptionRegistry(),
		cfg:      cfg,
		logger:   log.With().Str("component", "connection").Str("server_id", serverID).Logger(),
	}

	// A failed attempt must come back through the disconnect transition,
	// otherwise the backoff chain ends after one try: the manager never
	// re-schedules on its own.
	var attempt func() error
	if reconnectFn != nil {
		attempt = func() error {
			err := reconnectFn()
			if err != nil {
				c.HandleDisconnect(fmt.Sprintf("reconnect failed: %v", err), false)
			}
			return err
		}
	}

	c.reconnect = NewReconnectManager(serverID, cfg.Reconnect, attempt, func() {
		if hook := c.hooksSnapshot().OnReconnectDisabled; hook != nil {
			hook(c)
		}
	})

	c.heartbeat = NewHeartbeatMonitor(serverID, cfg.Heartbeat,
		c.sendPing,
		func(missed int) {
			if hook := c.hooksSnapshot().OnHeartbeatTimeout; hook != nil {
				hook(c, missed)
			}
		},
		func() {
			// Liveness gave up on this socket: same path as a lost transport.
			c.HandleDisconnect("heartbeat failure", false)
		},
	)

	return c
}

// SetHooks installs the owner callbacks. Call before attaching a
// transport.
func (c *Connection) SetHooks(h Hooks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = h
}

func (c *Connection) hooksSnapshot() Hooks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hooks
}

// ServerID returns the stable remote identity.
func (c *Connection) ServerID() string { return c.serverID }

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Mode returns the connection profile label.
func (c *Connection) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the connection profile label.
func (c *Connection) SetMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// Capabilities returns the operation names the remote declared at
// handshake. The set is fixed for the lifetime of the current socket.
func (c *Connection) Capabilities() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.capabilities...)
}

// HasCapability reports whether the remote declared support for op.
func (c *Connection) HasCapability(op string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range c.capabilities {
		if name == op {
			return true
		}
	}
	return false
}

// Subscriptions exposes the per-connection event interest table.
func (c *Connection) Subscriptions() *SubscriptionRegistry { return c.subs }

// Reconnect exposes the backoff manager for operator control.
func (c *Connection) Reconnect() *ReconnectManager { return c.reconnect }

// Heartbeat exposes the liveness monitor.
func (c *Connection) Heartbeat() *HeartbeatMonitor { return c.heartbeat }

// setStatus transitions the lifecycle state and fires the hook.
func (c *Connection) setStatus(next Status, reason string) {
	c.mu.Lock()
	prev := c.status
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.status = next
	c.statusAt = time.Now()
	hook := c.hooks.OnStatusChange
	c.mu.Unlock()

	c.logger.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("reason", reason).
		Msg("connection state changed")

	if hook != nil {
		hook(c, prev, next, reason)
	}
}

// BeginConnect marks a dial in progress.
func (c *Connection) BeginConnect() {
	c.setStatus(StatusConnecting, "dialing")
}

// HandleOpen attaches a freshly opened transport. A socket arriving
// while another is attached pre-empts it: remote processes restart and
// reconnect with a fresh socket under the same identity.
func (c *Connection) HandleOpen(t Transport) {
	c.mu.Lock()
	if c.transport != nil {
		c.transport.Close()
	}
	c.transport = t
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.setStatus(StatusConnected, "transport open")
}

// Authenticate completes a successful handshake: capabilities and
// profile are recorded, the send queue flushes in FIFO order, and the
// heartbeat starts.
func (c *Connection) Authenticate(serverName, serverType string, capabilities []string, mode string) {
	c.mu.Lock()
	c.serverName = serverName
	c.serverType = serverType
	c.capabilities = capabilities
	if mode != "" {
		c.mode = mode
	}
	c.mu.Unlock()

	c.reconnect.Reset()
	c.setStatus(StatusAuthenticated, "handshake accepted")

	if err := c.queue.Flush(c.writeDirect); err != nil {
		c.logger.Warn().Err(err).Int("remaining", c.queue.Len()).
			Msg("queue flush interrupted, remainder kept for next connect")
	}

	c.heartbeat.Start()
}

// DeclineAuth records a rejected handshake. The decline is terminal:
// the status returns to disconnected and no reconnection is scheduled
// until an operator intervenes.
func (c *Connection) DeclineAuth(reason string) {
	c.heartbeat.Stop()
	c.closeTransport()
	c.setStatus(StatusDisconnected, "authentication declined: "+reason)
}

// HandleDisconnect processes a lost or intentionally closed transport.
// The heartbeat stops immediately; unless the close was intentional,
// a backoff attempt is scheduled.
func (c *Connection) HandleDisconnect(reason string, intentional bool) {
	c.mu.Lock()
	if c.status == StatusDisconnected || c.status == StatusError {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.heartbeat.Stop()
	c.closeTransport()
	c.setStatus(StatusDisconnected, reason)

	if !intentional {
		c.reconnect.ScheduleReconnect()
	}
}

// HandleTransportClosed processes a read failure on t. It is ignored
// when t is no longer the connection's active socket: a pre-empted
// pump's dying read must not tear down the replacement.
func (c *Connection) HandleTransportClosed(t Transport, reason string) {
	c.mu.Lock()
	current := c.transport == t
	c.mu.Unlock()

	if !current {
		return
	}
	c.HandleDisconnect(reason, false)
}

// MarkError moves the connection into the terminal error state after an
// unrecoverable failure. Only administrative action leaves it.
func (c *Connection) MarkError(reason string) {
	c.heartbeat.Stop()
	c.reconnect.Cancel()
	c.closeTransport()
	c.setStatus(StatusError, reason)
}

// Send writes a message to the peer, or queues it in FIFO order while
// the connection is not authenticated. System frames are never queued:
// they are only meaningful against a live socket.
func (c *Connection) Send(m *protocol.Message) error {
	if m.Type == protocol.TypeSystem {
		return c.writeDirect(m)
	}

	c.mu.Lock()
	authenticated := c.status == StatusAuthenticated
	c.mu.Unlock()

	if !authenticated {
		if !c.queue.Enqueue(m) {
			return protocol.NewConnectionError(c.serverID, errors.New("send queue full"))
		}
		c.logger.Debug().Str("msg", m.String()).Int("depth", c.queue.Len()).Msg("message queued")
		return nil
	}

	return c.writeDirect(m)
}

// Request sends a request and tracks it for a response. It fails
// synchronously with ServerUnavailableError when the connection is not
// authenticated. The returned channel delivers exactly one result: the
// matching response or a timeout failure, whichever comes first.
func (c *Connection) Request(op string, data map[string]any, timeout time.Duration) (<-chan RequestResult, error) {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	if status != StatusAuthenticated {
		return nil, protocol.NewServerUnavailableError(c.serverID, string(status))
	}

	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	req := protocol.NewRequest(c.serverID, op, data)
	req.Timeout = timeout.Milliseconds()

	ch := c.pending.Track(req, timeout)
	if err := c.writeDirect(req); err != nil {
		// The entry would only sit until its timer fired; fail it now.
		c.pending.Resolve(protocol.NewResponse(req, false, nil, err.Error()))
		return ch, nil
	}
	return ch, nil
}

// EmitEvent sends an event to the peer only when its subscription table
// asks for it; unsolicited events are suppressed.
func (c *Connection) EmitEvent(eventType string, data map[string]any) error {
	if !c.subs.ShouldEmit(eventType, data) {
		return nil
	}
	return c.Send(protocol.NewEvent(c.serverID, eventType, data))
}

// HandleMessage dispatches one decoded inbound frame. A single bad or
// unmatched frame is logged and dropped; it never tears the socket
// down.
func (c *Connection) HandleMessage(m *protocol.Message) {
	switch m.Type {
	case protocol.TypeResponse:
		if !c.pending.Resolve(m) {
			c.logger.Debug().Str("id", m.ID).Msg("response matched no pending request, dropped")
		}

	case protocol.TypeSystem:
		c.handleSystem(m)

	case protocol.TypeEvent:
		if hook := c.hooksSnapshot().OnEvent; hook != nil {
			hook(c, m)
		}

	case protocol.TypeRequest:
		c.handleRequest(m)
	}
}

// handleSystem processes control frames on a live connection.
func (c *Connection) handleSystem(m *protocol.Message) {
	switch m.SystemOp {
	case protocol.SysPing:
		// Echo the payload so the peer can compute RTT.
		if err := c.writeDirect(protocol.NewSystem(c.serverID, protocol.SysPong, m.Data)); err != nil {
			c.logger.Warn().Err(err).Msg("failed to send pong")
		}

	case protocol.SysPong:
		c.heartbeat.HandlePong()

	case protocol.SysDisconnect:
		reason := "peer disconnect"
		if r, ok := m.Data["reason"].(string); ok && r != "" {
			reason = r
		}
		c.HandleDisconnect(reason, true)

	default:
		c.logger.Debug().Str("system_op", m.SystemOp).Msg("unhandled system frame")
	}
}

// handleRequest serves subscribe/unsubscribe in the engine and hands
// everything else to the owner.
func (c *Connection) handleRequest(m *protocol.Message) {
	switch m.Op {
	case protocol.OpEventSubscribe:
		filters := anyMap(m.Data["filters"])
		if key, bad := nonScalarFilter(filters); bad {
			c.Respond(m, false, nil, fmt.Sprintf("filter %q must be a scalar value", key))
			return
		}
		sub := c.subs.Add(stringSlice(m.Data["eventTypes"]), filters)
		c.logger.Info().
			Str("subscription_id", sub.ID).
			Strs("event_types", sub.EventTypes).
			Msg("event subscription added")
		c.Respond(m, true, map[string]any{"subscriptionId": sub.ID}, "")

	case protocol.OpEventUnsubscribe:
		id, _ := m.Data["subscriptionId"].(string)
		if c.subs.Remove(id) {
			c.Respond(m, true, nil, "")
		} else {
			c.Respond(m, false, nil, "unknown subscription id")
		}

	default:
		if hook := c.hooksSnapshot().OnRequest; hook != nil {
			hook(c, m)
		} else {
			c.Respond(m, false, nil, "unsupported operation: "+m.Op)
		}
	}
}

// Respond writes a response frame for req, logging write failures.
func (c *Connection) Respond(req *protocol.Message, success bool, data map[string]any, errMsg string) {
	resp := protocol.NewResponse(req, success, data, errMsg)
	if err := c.writeDirect(resp); err != nil {
		c.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to send response")
	}
}

// sendPing writes a liveness probe carrying a timestamp payload.
func (c *Connection) sendPing() error {
	return c.writeDirect(protocol.NewSystem(c.serverID, protocol.SysPing,
		map[string]any{"sentAt": protocol.NowMillis()}))
}

// SendDisconnect notifies the peer of an intentional close, best
// effort, before the socket is torn down.
func (c *Connection) SendDisconnect(reason string) {
	msg := protocol.NewSystem(c.serverID, protocol.SysDisconnect, map[string]any{"reason": reason})
	if err := c.writeDirect(msg); err != nil {
		c.logger.Debug().Err(err).Msg("disconnect notice not delivered")
	}
}

// writeDirect hands a message to the transport write path.
func (c *Connection) writeDirect(m *protocol.Message) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return protocol.NewConnectionError(c.serverID, errors.New("no transport attached"))
	}
	if err := t.WriteMessage(m); err != nil {
		return protocol.NewConnectionError(c.serverID, err)
	}
	return nil
}

// closeTransport detaches and closes the current socket, if any.
func (c *Connection) closeTransport() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

// Teardown releases all owned state for administrative removal, in
// order: reconnection disabled, heartbeat stopped, pending requests
// rejected, queue drained, then the socket closed. No background task
// can fire against partially released state.
func (c *Connection) Teardown(reason string) {
	c.reconnect.Disable()
	c.heartbeat.Stop()
	c.pending.RejectAll(protocol.NewMaintenanceError(c.serverID, reason))
	if dropped := c.queue.Drain(); len(dropped) > 0 {
		c.logger.Info().Int("dropped", len(dropped)).Msg("queued messages rejected on removal")
	}
	c.subs.Clear()
	c.SendDisconnect(reason)
	c.closeTransport()
	c.setStatus(StatusDisconnected, reason)
}

// Info returns a status snapshot.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	info := ConnectionInfo{
		ServerID:     c.serverID,
		ServerName:   c.serverName,
		ServerType:   c.serverType,
		Status:       c.status,
		Mode:         c.mode,
		Capabilities: append([]string(nil), c.capabilities...),
		ConnectedAt:  c.connectedAt,
	}
	if c.transport != nil {
		info.RemoteAddr = c.transport.RemoteAddr()
	}
	c.mu.Unlock()

	info.QueueDepth = c.queue.Len()
	info.Pending = c.pending.Len()
	info.Reconnect = c.reconnect.GetStatus()
	info.Heartbeat = c.heartbeat.Stats()
	return info
}

// stringSlice coerces a decoded JSON array into []string.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// anyMap coerces a decoded JSON object into a filter map.
func anyMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
