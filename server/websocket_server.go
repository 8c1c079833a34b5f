package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/room4-2/iacfarm/config"
	"github.com/room4-2/iacfarm/logger"
	"github.com/room4-2/iacfarm/messages"
	"github.com/room4-2/iacfarm/persistence"
	"github.com/room4-2/iacfarm/session"
)

// Deps are the backends behind the HTTP surface. Only Sessions is required.
type Deps struct {
	Sessions  *session.Manager
	Diagnoses persistence.Gateway
	Planner   CropPlanner
	Weather   WeatherSource
	// UploadDir is served under persistence.UploadsPrefix when set.
	UploadDir string
	Logger    *zap.Logger
}

type Server struct {
	httpServer     *http.Server
	engine         *gin.Engine
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	deps           Deps
	config         *config.Config
	log            *zap.Logger
}

func NewServerWebsocket(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		sessionManager: deps.Sessions,
		deps:           deps,
		config:         cfg,
		log:            logger.OrNop(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024,
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware(cfg.AllowedOrigins))

	engine.GET("/ws", s.handleWebSocket)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.GET("/plants", s.handlePlants)
	api.POST("/crop-plans", s.handleCropPlan)
	api.GET("/weather", s.handleWeather)

	if deps.UploadDir != "" {
		engine.Static(persistence.UploadsPrefix, deps.UploadDir)
	}
	s.engine = engine

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     engine,
		ReadTimeout: 10 * time.Second,
		// Crop plans can take most of a minute to generate.
		WriteTimeout: cfg.InferenceTimeout + 10*time.Second,
	}

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info("server_starting",
		zap.Int("port", s.config.Port),
		zap.String("websocket", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server_shutting_down")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Info("websocket_upgrade_failed", zap.Error(err))
		return
	}

	clientSession, err := s.sessionManager.CreateSession(c.Request.Context(), conn)
	if err != nil {
		s.log.Warn("session_create_failed", zap.Error(err))
		if data, mErr := sonic.Marshal(messages.NewErrorMessage("", messages.ErrCodeSessionFailed, err.Error())); mErr == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	clientSession.Start()

	<-clientSession.CloseChan

	_ = s.sessionManager.RemoveSession(context.Background(), clientSession.ID)
	s.log.Info("session_closed", zap.String("session", logger.ShortID(clientSession.ID)))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessionManager.GetActiveSessionCount(),
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/ws" {
			return
		}
		s.log.Debug("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
