// Package agent implements the game-server side of GameLink: it dials
// the hub, authenticates, serves operator requests against the local
// server, and keeps the link alive across hub restarts.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/network"
	"github.com/gamelink-project/gamelink/internal/protocol"
)

const dialTimeout = 10 * time.Second

// Agent maintains one connection from a game server to the hub.
type Agent struct {
	data     config.AgentData
	conn     *network.Connection
	handlers *HandlerRegistry
	state    *GameState
	logger   zerolog.Logger
}

// New creates an agent from configuration. Default request handlers
// are installed; callers may register more before Start.
func New(cfg *config.Config) *Agent {
	data := cfg.GetAgentData()

	a := &Agent{
		data:     data,
		handlers: NewHandlerRegistry(),
		state:    NewGameState(),
		logger:   log.With().Str("component", "agent").Str("server_id", data.ServerID).Logger(),
	}

	a.conn = network.NewConnection(data.ServerID, data.Mode,
		cfg.GetApplicationData().Connection.Engine(), a.dial)

	a.conn.SetHooks(network.Hooks{
		OnRequest: a.handleRequest,
		OnEvent: func(c *network.Connection, m *protocol.Message) {
			a.logger.Debug().Str("event_type", m.EventType).Msg("event from hub")
		},
		OnReconnectDisabled: func(c *network.Connection) {
			a.logger.Error().Msg("reconnection attempts exhausted, awaiting operator")
		},
	})

	a.registerDefaultHandlers()
	return a
}

// Connection exposes the underlying engine state.
func (a *Agent) Connection() *network.Connection { return a.conn }

// Handlers exposes the request handler registry.
func (a *Agent) Handlers() *HandlerRegistry { return a.handlers }

// Start connects to the hub and keeps the link alive until the context
// is cancelled. The initial dial failure is not fatal; the backoff
// schedule takes over.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.dial(); err != nil {
		a.logger.Warn().Err(err).Msg("initial connect failed, scheduling retry")
		a.conn.HandleDisconnect(fmt.Sprintf("dial failed: %v", err), false)
	}

	if a.data.StatusInterval > 0 {
		go a.statusLoop(ctx)
	}

	<-ctx.Done()
	a.shutdown()
	return nil
}

// dial opens a socket to the hub and performs the handshake. The
// reconnect manager invokes it on every backoff attempt.
func (a *Agent) dial() error {
	a.conn.BeginConnect()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + a.data.Token}}

	ws, _, err := dialer.Dial(a.data.HubURL, header)
	if err != nil {
		return fmt.Errorf("failed to dial hub %s: %w", a.data.HubURL, err)
	}

	transport := network.NewWSTransport(ws)
	a.conn.HandleOpen(transport)

	if err := a.handshake(transport); err != nil {
		transport.Close()
		return err
	}

	go a.readPump(transport)
	return nil
}

// handshake announces the agent identity and waits for the verdict.
func (a *Agent) handshake(transport *network.WSTransport) error {
	hello := protocol.NewSystem(a.data.ServerID, protocol.SysHandshake, map[string]any{
		"serverId":     a.data.ServerID,
		"serverName":   a.data.ServerName,
		"serverType":   a.data.ServerType,
		"token":        a.data.Token,
		"mode":         a.data.Mode,
		"capabilities": a.handlers.Ops(),
	})
	if err := transport.WriteMessage(hello); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}

	reply, err := transport.ReadMessage()
	if err != nil {
		return fmt.Errorf("no handshake reply: %w", err)
	}

	accepted, _ := reply.Data["accepted"].(bool)
	isReply := reply.Type == protocol.TypeSystem && reply.SystemOp == protocol.SysHandshakeResponse
	if !isReply {
		return fmt.Errorf("unexpected handshake reply %s", reply.String())
	}

	if !accepted {
		reason, _ := reply.Data["reason"].(string)
		a.conn.DeclineAuth(reason)
		return protocol.NewAuthenticationError(a.data.ServerID, reason)
	}

	a.conn.Authenticate(a.data.ServerName, a.data.ServerType, a.handlers.Ops(), a.data.Mode)
	a.logger.Info().Str("hub", a.data.HubURL).Msg("connected to hub")
	return nil
}

// readPump drains inbound frames until the socket dies.
func (a *Agent) readPump(transport *network.WSTransport) {
	for {
		msg, err := transport.ReadMessage()
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				a.logger.Warn().Err(perr).Msg("dropping bad frame")
				continue
			}
			a.conn.HandleTransportClosed(transport, fmt.Sprintf("read failed: %v", err))
			return
		}
		a.conn.HandleMessage(msg)
	}
}

// handleRequest dispatches an operator request to its handler and
// sends the outcome back.
func (a *Agent) handleRequest(c *network.Connection, m *protocol.Message) {
	handler, ok := a.handlers.Get(m.Op)
	if !ok {
		c.Respond(m, false, nil, "unsupported operation: "+m.Op)
		return
	}

	result, err := handler(m.Data)
	if err != nil {
		a.logger.Warn().Err(err).Str("op", m.Op).Msg("request handler failed")
		c.Respond(m, false, nil, err.Error())
		return
	}
	c.Respond(m, true, result, "")
}

// statusLoop emits periodic server.status events; the hub only
// receives them while subscribed.
func (a *Agent) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(a.data.StatusInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := a.serverStatus(nil)
			if err != nil {
				continue
			}
			if err := a.conn.EmitEvent("server.status", status); err != nil {
				a.logger.Debug().Err(err).Msg("status event not delivered")
			}
		}
	}
}

// shutdown notifies the hub and releases the connection.
func (a *Agent) shutdown() {
	a.logger.Info().Msg("agent shutting down")
	a.conn.Teardown("agent shutdown")
}
