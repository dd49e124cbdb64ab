package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/protocol"
	"github.com/gamelink-project/gamelink/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "gamelink",
		"version": "1.0.0",
	})
}

// handleVersion returns hub and protocol version information.
func (s *Server) handleVersion(c *gin.Context) {
	sysInfo := util.GetSystemInfo()
	c.JSON(http.StatusOK, gin.H{
		"name":             "GameLink",
		"version":          "1.0.0",
		"protocol_version": protocol.ProtocolVersion,
		"platform":         sysInfo.Platform,
	})
}

// handleListConnections returns snapshots of all tracked connections.
func (s *Server) handleListConnections(c *gin.Context) {
	conns := s.manager.ListConnections()
	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"count":       len(conns),
	})
}

// handleGetConnection returns a snapshot of one connection.
func (s *Server) handleGetConnection(c *gin.Context) {
	info, err := s.manager.GetConnectionInfo(c.Param("serverId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGetHeartbeat returns heartbeat statistics for one connection.
func (s *Server) handleGetHeartbeat(c *gin.Context) {
	conn, ok := s.manager.Registry().Get(c.Param("serverId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown server"})
		return
	}
	c.JSON(http.StatusOK, conn.Heartbeat().Stats())
}

type commandRequest struct {
	Op        string         `json:"op" binding:"required"`
	Data      map[string]any `json:"data"`
	TimeoutMs int            `json:"timeout_ms"`
}

// handleSendCommand sends a request to an agent and waits for the
// response.
func (s *Server) handleSendCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(s.cfg.GetApplicationData().Connection.RequestTimeoutMs) * time.Millisecond
	}

	result, err := s.manager.SendCommand(c.Param("serverId"), req.Op, req.Data, timeout)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type messageRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	Data      map[string]any `json:"data"`
}

// handleSendMessage queues a fire-and-forget event frame for an agent.
// Frames queued while the agent is offline flush on re-authentication.
func (s *Server) handleSendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	serverID := c.Param("serverId")
	msg := protocol.NewEvent(serverID, req.EventType, req.Data)
	if err := s.manager.SendMessage(serverID, msg); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": true, "server_id": serverID})
}

type disconnectRequest struct {
	Reason         string `json:"reason"`
	AllowReconnect bool   `json:"allow_reconnect"`
}

// handleDisconnect closes an agent's socket, optionally removing it
// from the connection set entirely.
func (s *Server) handleDisconnect(c *gin.Context) {
	var req disconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "disconnected by operator"
	}

	if err := s.manager.Disconnect(c.Param("serverId"), req.Reason, req.AllowReconnect); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

// handleEnableReconnection clears a server's disabled flag.
func (s *Server) handleEnableReconnection(c *gin.Context) {
	if err := s.manager.EnableReconnection(c.Param("serverId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconnection": "enabled"})
}

// handleDisableReconnection bars a server from rejoining until
// re-enabled.
func (s *Server) handleDisableReconnection(c *gin.Context) {
	if err := s.manager.DisableReconnection(c.Param("serverId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reconnection": "disabled"})
}

type modeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// handleSwitchMode relabels a server's connection profile.
func (s *Server) handleSwitchMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := s.manager.SwitchConnectionMode(c.Param("serverId"), req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

// handleStats returns aggregate connection statistics.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GetStats())
}

type broadcastRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	Data      map[string]any `json:"data"`
}

// handleBroadcast offers an event to every authenticated agent. Each
// agent's subscriptions decide whether it is delivered.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	s.manager.BroadcastEvent(req.EventType, req.Data)
	c.JSON(http.StatusOK, gin.H{"broadcast": req.EventType})
}

// handleListTokens returns all provisioned agent tokens (without the
// token values themselves).
func (s *Server) handleListTokens(c *gin.Context) {
	tokens, err := s.store.ListTokens()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "count": len(tokens)})
}

type provisionRequest struct {
	ServerID string `json:"server_id" binding:"required"`
	Token    string `json:"token"`
}

// handleProvisionToken creates or replaces an agent token. The token is
// generated when the request omits one; either way it is returned once
// here and never again.
func (s *Server) handleProvisionToken(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	token, err := s.store.ProvisionToken(req.ServerID, req.Token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"server_id": req.ServerID, "token": token})
}

// handleRevokeToken removes an agent token. An agent holding the
// revoked token fails its next handshake.
func (s *Server) handleRevokeToken(c *gin.Context) {
	if err := s.store.RevokeToken(c.Param("serverId")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// handleAudit returns recent connection audit entries, optionally
// filtered by server.
func (s *Server) handleAudit(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.store.RecentAudit(c.Query("server_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

// handleGetConfig returns the current configuration. The admin token
// and agent tokens are never echoed back.
func (s *Server) handleGetConfig(c *gin.Context) {
	hubData := s.cfg.GetHubData()
	hubData.AdminToken = ""

	c.JSON(http.StatusOK, gin.H{
		"hub":         hubData,
		"application": s.cfg.GetApplicationData(),
	})
}

type setConfigRequest struct {
	Section string         `json:"section" binding:"required"`
	Values  map[string]any `json:"values" binding:"required"`
}

// handleSetConfig updates one application config section and persists
// the result.
func (s *Server) handleSetConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	if err := s.cfg.UpdateAppField(req.Section, req.Values); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist config: " + err.Error()})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.Event{
		Type:    events.EventConfigChanged,
		Source:  "api",
		Payload: events.ConfigChangedPayload{Section: req.Section},
	})
	c.JSON(http.StatusOK, gin.H{"updated": req.Section})
}
