// Package hub implements the hub side of GameLink: the websocket
// listener that accepts agent connections, the handshake flow, and the
// manager through which the API and CLI drive connected agents.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/protocol"
)

const (
	// handshakeTimeout bounds how long a fresh socket may sit silent
	// before its first frame.
	handshakeTimeout = 10 * time.Second
)

// TokenVerifier checks an agent credential at handshake. Implemented
// by db.TokenStore.
type TokenVerifier interface {
	VerifyToken(serverID, token string) bool
}

// Auditor records connection lifecycle entries. Implemented by
// db.TokenStore; a nil auditor disables auditing.
type Auditor interface {
	RecordAudit(serverID, action, detail string) error
}

// Listener accepts agent websocket connections and runs their read
// pumps. One Listener serves the whole hub.
type Listener struct {
	cfg      *config.Config
	registry *network.ConnectionRegistry
	verifier TokenVerifier
	auditor  Auditor
	eventBus *events.EventBus

	engineCfg network.ConnectionConfig
	upgrader  websocket.Upgrader
	server    *http.Server
	logger    zerolog.Logger
}

// NewListener creates the hub listener.
func NewListener(cfg *config.Config, registry *network.ConnectionRegistry, verifier TokenVerifier, auditor Auditor, eventBus *events.EventBus) *Listener {
	return &Listener{
		cfg:       cfg,
		registry:  registry,
		verifier:  verifier,
		auditor:   auditor,
		eventBus:  eventBus,
		engineCfg: cfg.GetApplicationData().Connection.Engine(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents are not browsers; origin checks do not apply.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With().Str("component", "listener").Logger(),
	}
}

// Start binds the websocket endpoint and serves until the context is
// cancelled.
func (l *Listener) Start(ctx context.Context) error {
	hub := l.cfg.GetHubData()
	addr := fmt.Sprintf("%s:%d", hub.ListenHost, hub.ListenPort)

	mux := http.NewServeMux()
	mux.HandleFunc(hub.WSPath, l.handleWS)

	// SO_REUSEADDR allows immediate rebinding after a restart.
	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", addr, err)
	}

	l.server = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.server.Shutdown(shutdownCtx)
	}()

	l.logger.Info().Str("addr", addr).Str("path", hub.WSPath).Msg("agent listener started")

	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listener serve failed: %w", err)
	}
	return nil
}

// handshakeInfo is the identity an agent presents at connect.
type handshakeInfo struct {
	serverID     string
	serverName   string
	serverType   string
	token        string
	version      string
	mode         string
	capabilities []string
	request      *protocol.Message
}

// handleWS upgrades one agent socket, runs the handshake, and on
// success hands the socket to the connection's read pump.
func (l *Listener) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	transport := network.NewWSTransport(ws)

	info, err := l.readHandshake(ws, r)
	if err != nil {
		l.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		transport.Close()
		return
	}

	if reason := l.authenticate(info); reason != "" {
		l.logger.Warn().
			Str("server_id", info.serverID).
			Str("reason", reason).
			Msg("handshake declined")
		l.sendHandshakeReply(transport, info, false, reason)
		l.audit(info.serverID, "auth_declined", reason)
		l.eventBus.Emit(r.Context(), events.Event{
			Type:   events.EventAuthenticationFailed,
			Source: "listener",
			Payload: events.ConnectionPayload{
				ServerID:   info.serverID,
				RemoteAddr: r.RemoteAddr,
				Reason:     reason,
			},
		})
		transport.Close()
		return
	}

	conn := l.adopt(info, transport)

	// The reply must be on the wire before Authenticate flushes any
	// queued frames, so the agent always reads the verdict first.
	l.sendHandshakeReply(transport, info, true, "")
	conn.Authenticate(info.serverName, info.serverType, info.capabilities, info.mode)
	l.audit(info.serverID, "authenticated", "")

	l.logger.Info().
		Str("server_id", info.serverID).
		Str("server_type", info.serverType).
		Str("remote", r.RemoteAddr).
		Msg("agent authenticated")

	l.readPump(conn, transport)
}

// readHandshake waits for the first frame and extracts the agent
// identity. Both the system form and the request form of the handshake
// are accepted; missing fields fall back to query parameters and the
// Authorization header.
func (l *Listener) readHandshake(ws *websocket.Conn, r *http.Request) (*handshakeInfo, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no handshake frame: %w", err)
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}

	isSystem := msg.Type == protocol.TypeSystem && msg.SystemOp == protocol.SysHandshake
	isRequest := msg.Type == protocol.TypeRequest && msg.Op == protocol.OpHandshake
	if !isSystem && !isRequest {
		return nil, fmt.Errorf("first frame is %s, want handshake", msg.String())
	}

	info := &handshakeInfo{version: msg.Version}
	if isRequest {
		info.request = msg
	}

	str := func(key string) string {
		v, _ := msg.Data[key].(string)
		return v
	}

	info.serverID = str("serverId")
	info.serverName = str("serverName")
	info.serverType = str("serverType")
	info.token = str("token")
	info.mode = str("mode")
	if info.serverID == "" {
		info.serverID = msg.ServerID
	}
	if info.version == "" {
		info.version = str("protocolVersion")
	}
	if caps, ok := msg.Data["capabilities"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok {
				info.capabilities = append(info.capabilities, s)
			}
		}
	}

	// Fallbacks from the HTTP layer.
	query := r.URL.Query()
	if info.serverID == "" {
		info.serverID = query.Get("serverId")
	}
	if info.serverType == "" {
		info.serverType = query.Get("serverType")
	}
	if info.version == "" {
		info.version = query.Get("protocolVersion")
	}
	if info.token == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			info.token = strings.TrimPrefix(auth, "Bearer ")
		}
	}

	return info, nil
}

// authenticate validates the presented identity. An empty return means
// accepted; anything else is the decline reason.
func (l *Listener) authenticate(info *handshakeInfo) string {
	if info.serverID == "" {
		return "missing server id"
	}
	if !protocol.VersionCompatible(info.version) {
		return fmt.Sprintf("incompatible protocol version %q", info.version)
	}
	if l.verifier != nil && !l.verifier.VerifyToken(info.serverID, info.token) {
		return "invalid token"
	}

	// An operator-disabled server may not rejoin until re-enabled.
	if existing, ok := l.registry.Get(info.serverID); ok {
		if existing.Reconnect().IsDisabled() && existing.Status() != network.StatusAuthenticated {
			return "server disabled by operator"
		}
	}
	return ""
}

// adopt binds the new socket to the server's connection, reusing the
// existing Connection (and its queued messages) when the agent is
// reconnecting. A second socket for a live id pre-empts the first.
func (l *Listener) adopt(info *handshakeInfo, transport network.Transport) *network.Connection {
	conn, ok := l.registry.Get(info.serverID)
	if !ok {
		conn = network.NewConnection(info.serverID, info.mode, l.engineCfg, nil)
		l.installHooks(conn)
		l.registry.Register(conn)
	}

	conn.HandleOpen(transport)
	return conn
}

// installHooks wires a connection's callbacks into the event bus.
func (l *Listener) installHooks(conn *network.Connection) {
	ctx := context.Background()

	conn.SetHooks(network.Hooks{
		OnStatusChange: func(c *network.Connection, from, to network.Status, reason string) {
			payload := events.ConnectionPayload{ServerID: c.ServerID(), Reason: reason}
			switch to {
			case network.StatusAuthenticated:
				l.eventBus.Emit(ctx, events.Event{
					Type: events.EventConnectionAuthenticated, Source: "listener", Payload: payload,
				})
			case network.StatusDisconnected:
				l.eventBus.Emit(ctx, events.Event{
					Type: events.EventConnectionLost, Source: "listener", Payload: payload,
				})
				l.audit(c.ServerID(), "disconnected", reason)
			}
		},
		OnEvent: func(c *network.Connection, m *protocol.Message) {
			l.eventBus.Emit(ctx, events.Event{
				Type:   events.EventRemoteEvent,
				Source: c.ServerID(),
				Payload: events.RemoteEventPayload{
					ServerID:  c.ServerID(),
					EventType: m.EventType,
					Data:      m.Data,
				},
			})
		},
		OnHeartbeatTimeout: func(c *network.Connection, missed int) {
			l.eventBus.Emit(ctx, events.Event{
				Type:   events.EventHeartbeatTimeout,
				Source: "listener",
				Payload: events.HeartbeatPayload{
					ServerID:    c.ServerID(),
					MissedBeats: missed,
					AverageRTT:  c.Heartbeat().Stats().AverageRTT,
				},
			})
		},
		OnReconnectDisabled: func(c *network.Connection) {
			status := c.Reconnect().GetStatus()
			l.eventBus.Emit(ctx, events.Event{
				Type:   events.EventReconnectDisabled,
				Source: "listener",
				Payload: events.ReconnectPayload{
					ServerID:        c.ServerID(),
					CurrentAttempts: status.CurrentAttempts,
					TotalAttempts:   status.TotalAttempts,
				},
			})
		},
	})
}

// sendHandshakeReply answers the handshake in the form it arrived in.
func (l *Listener) sendHandshakeReply(transport network.Transport, info *handshakeInfo, accepted bool, reason string) {
	data := map[string]any{
		"accepted":            accepted,
		"serverId":            info.serverID,
		"protocolVersion":     protocol.ProtocolVersion,
		"heartbeatIntervalMs": l.engineCfg.Heartbeat.Interval.Milliseconds(),
	}
	if reason != "" {
		data["reason"] = reason
	}

	var reply *protocol.Message
	if info.request != nil {
		reply = protocol.NewResponse(info.request, accepted, data, reason)
	} else {
		reply = protocol.NewSystem(info.serverID, protocol.SysHandshakeResponse, data)
	}

	if err := transport.WriteMessage(reply); err != nil {
		l.logger.Warn().Err(err).Str("server_id", info.serverID).Msg("failed to send handshake reply")
	}
}

// readPump drains inbound frames until the socket dies. Malformed
// frames are dropped; a transport error ends the pump and marks the
// connection disconnected.
func (l *Listener) readPump(conn *network.Connection, transport *network.WSTransport) {
	for {
		msg, err := transport.ReadMessage()
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				l.logger.Warn().Err(perr).Str("server_id", conn.ServerID()).Msg("dropping bad frame")
				continue
			}
			conn.HandleTransportClosed(transport, fmt.Sprintf("read failed: %v", err))
			return
		}
		conn.HandleMessage(msg)
	}
}

// audit records a lifecycle entry, best effort.
func (l *Listener) audit(serverID, action, detail string) {
	if l.auditor == nil {
		return
	}
	if err := l.auditor.RecordAudit(serverID, action, detail); err != nil {
		l.logger.Warn().Err(err).Msg("audit write failed")
	}
}
