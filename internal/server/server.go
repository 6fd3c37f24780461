// Package server assembles the operator API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/op/go-logging"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"openfms/flic/internal/config"
	"openfms/flic/internal/handler"
	"openfms/flic/internal/middleware"
	"openfms/flic/internal/service"
)

var log = logging.MustGetLogger("api")

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	http      *http.Server
	config    *config.Config
	db        *gorm.DB
	redis     *redis.Client
	nats      *nats.Conn
	wsHub     *handler.WSHub
	wsHandler *handler.WSHandler
	recorder  *service.EventRecorder
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) *Server {
	return &Server{
		config: cfg,
		db:     db,
		redis:  redisClient,
		nats:   natsConn,
	}
}

// Setup initializes services, routes and the background consumers.
func (s *Server) Setup() error {
	s.wsHub = handler.NewWSHub(s.nats)
	s.wsHandler = handler.NewWSHandler(s.wsHub)

	buttonService := service.NewButtonService(s.db, s.redis, s.nats)
	s.recorder = service.NewEventRecorder(s.db, s.nats)
	if err := s.recorder.Start(); err != nil {
		return err
	}

	go s.wsHub.Run()
	log.Info("[Server] WebSocket hub started")

	limiter := middleware.NewRedisRateLimiter(s.redis)
	s.router = newRouter(s.config, handler.NewButtonHandler(buttonService), s.wsHandler, limiter, s.health)
	return nil
}

// newRouter builds the route table. health may be nil.
func newRouter(cfg *config.Config, buttons *handler.ButtonHandler, ws *handler.WSHandler, limiter middleware.RateLimiter, health gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	if health == nil {
		health = func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	}
	r.GET("/health", health)

	r.GET("/ws/events", ws.HandleEvents)
	r.GET("/ws/stats", ws.GetStats)

	api := r.Group("/api/v1")
	api.Use(middleware.JWTAuth(cfg.JWTSecret))
	if limiter != nil && cfg.APIRateLimit > 0 {
		api.Use(middleware.RateLimit(limiter, &middleware.RateLimitConfig{
			Limit:   cfg.APIRateLimit,
			Window:  time.Minute,
			KeyFunc: middleware.BySubject,
		}))
	}
	{
		api.GET("/buttons", buttons.List)
		api.GET("/buttons/:addr", buttons.Get)
		api.PUT("/buttons/:addr", buttons.Update)
		api.GET("/buttons/:addr/shadow", buttons.GetShadow)
		api.POST("/buttons/:addr/commands", buttons.SendCommand)
		api.GET("/buttons/:addr/events", buttons.Events)
		api.GET("/buttons/:addr/events/export", buttons.ExportEvents)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok", "ws_clients": s.wsHub.GetClientCount()}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		body["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.nats == nil || !s.nats.IsConnected() {
		body["nats"] = "disconnected"
		status = http.StatusServiceUnavailable
	}
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		body["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// requestLogger logs one line per request through the api logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("[HTTP] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run(port int) error {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	log.Infof("[Server] HTTP server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) {
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("[Server] HTTP shutdown: %v", err)
		}
	}
	if s.recorder != nil {
		s.recorder.Stop()
		log.Info("[Server] Event recorder stopped")
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
		log.Info("[Server] WebSocket hub stopped")
	}
}
