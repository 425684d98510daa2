package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-core/internal/engine"
	"strategy-core/internal/events"
)

// Server exposes the job trigger API.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	JWTSecret string

	log *zap.Logger
}

// Options tunes the middleware stack. Zero values pick defaults.
type Options struct {
	RateLimit      float64 // requests per second per IP
	RateBurst      int
	RequestTimeout time.Duration
}

func NewServer(eng engine.Service, bus *events.Bus, jwtSecret string, opts Options, log *zap.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "api"))

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimit, opts.RateBurst), log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    eng,
		Bus:       bus,
		JWTSecret: jwtSecret,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	ws := s.Router.Group("/ws")
	ws.Use(AuthMiddleware(s.JWTSecret))
	ws.GET("/jobs", s.streamJobs)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/strategies/:id/activate", s.activateStrategy)
			protected.POST("/strategies/:id/deactivate", s.deactivateStrategy)
			protected.GET("/strategies/:id/jobs", s.getJobResults)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
