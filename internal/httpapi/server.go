// Package httpapi is the operator HTTP control surface: minimal
// JWT-protected status/control endpoints, not a user-facing dashboard or
// trading API. Grounded on the teacher's internal/api package (Server
// struct, middleware stack ordering, gin route groups), narrowed to the
// handful of operator routes this system's spec calls for and backed by
// the control.Service facade instead of reaching into engines directly.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-core/internal/control"
	"trading-core/internal/metrics"
)

// Server wires the operator HTTP routes around the control facade.
type Server struct {
	Router  *gin.Engine
	control control.Service
}

// NewServer builds the gin engine and registers every route. Middleware
// order mirrors the teacher's handler.go: panic recovery first, then
// request ID, then logging, then the request timeout. No CORS middleware
// is registered.
func NewServer(ctrl control.Service, jwtSecret string, log zerolog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(TimeoutMiddleware(30 * time.Second))

	s := &Server{Router: r, control: ctrl}
	s.routes(jwtSecret)
	return s
}

func (s *Server) routes(jwtSecret string) {
	s.Router.GET("/status", s.status)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	protected := s.Router.Group("/control")
	protected.Use(AuthMiddleware(jwtSecret))
	{
		protected.POST("/enable", s.enable)
		protected.POST("/disable", s.disable)
		protected.POST("/tick", s.tick)
	}
}

func (s *Server) status(c *gin.Context) {
	st := s.control.SystemStatus(c.Request.Context())
	c.JSON(http.StatusOK, st)
}

func (s *Server) enable(c *gin.Context) {
	s.control.ResumeProtocol(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"protocol_paused": false})
}

func (s *Server) disable(c *gin.Context) {
	s.control.PauseProtocol(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"protocol_paused": true})
}

func (s *Server) tick(c *gin.Context) {
	report, err := s.control.RunTick(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Start runs the HTTP server on addr, blocking until it returns an error.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
