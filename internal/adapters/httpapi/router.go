package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

// Server serves the REST API and the live WebSocket feed
type Server struct {
	repo     domain.MeasurementRepository
	recorder *ports.Recorder
	hub      *Hub
}

// NewServer creates the HTTP API; hub may be nil to disable /ws
func NewServer(repo domain.MeasurementRepository, recorder *ports.Recorder, hub *Hub) *Server {
	return &Server{
		repo:     repo,
		recorder: recorder,
		hub:      hub,
	}
}

// NewRouter builds a gin engine with CORS and request logging
func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	return r
}

// SetupRoutes registers the API routes on r
func (s *Server) SetupRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		readings := v1.Group("/readings")
		{
			readings.POST("", s.handleTakeReading)
			readings.GET("", s.handleGetHistory)
			readings.GET("/latest", s.handleGetLatest)
		}
	}

	if s.hub != nil {
		r.GET("/ws", s.hub.ServeWS)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
