package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gamelink-project/gamelink/internal/config"
	"github.com/gamelink-project/gamelink/internal/db"
	"github.com/gamelink-project/gamelink/internal/events"
	"github.com/gamelink-project/gamelink/internal/hub"
	intnet "github.com/gamelink-project/gamelink/internal/network"
)

// Server is the hub's REST API server.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *hub.Manager
	store    *db.TokenStore

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, manager *hub.Manager, store *db.TokenStore) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		manager:  manager,
		store:    store,
	}
}

// Start initializes and starts the API server.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetHubData().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// TLS configuration
	if s.cfg.GetApplicationData().Security.TLSEnabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.GetApplicationData().Security.TLSEnabled {
		tlsListener := tls.NewListener(ln, s.httpServer.TLSConfig)
		err = s.httpServer.Serve(tlsListener)
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.GetApplicationData().Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(s.cfg.GetApplicationData().Security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	auth := NewAuthMiddleware(s.cfg)

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.IPWhitelist())
	protected.Use(auth.RequireAuth())
	{
		protected.GET("/connections", s.handleListConnections)
		protected.GET("/connections/:serverId", s.handleGetConnection)
		protected.GET("/connections/:serverId/heartbeat", s.handleGetHeartbeat)
		protected.POST("/connections/:serverId/command", s.handleSendCommand)
		protected.POST("/connections/:serverId/message", s.handleSendMessage)
		protected.POST("/connections/:serverId/disconnect", s.handleDisconnect)
		protected.POST("/connections/:serverId/reconnection/enable", s.handleEnableReconnection)
		protected.POST("/connections/:serverId/reconnection/disable", s.handleDisableReconnection)
		protected.POST("/connections/:serverId/mode", s.handleSwitchMode)
		protected.GET("/stats", s.handleStats)
		protected.POST("/broadcast", s.handleBroadcast)

		protected.GET("/tokens", s.handleListTokens)
		protected.POST("/tokens", s.handleProvisionToken)
		protected.DELETE("/tokens/:serverId", s.handleRevokeToken)

		protected.GET("/audit", s.handleAudit)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config", s.handleSetConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "GameLink hub API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
