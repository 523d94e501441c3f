package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// build constructs a gin engine with recovery, request logging and CORS,
// then registers the routes.
func (s *Server) build() *gin.Engine {
	if s.debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(s.logger))
	engine.MaxMultipartMemory = 32 << 20

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}))

	engine.GET("/", s.handleIndex)
	engine.GET("/healthz", s.handleHealth)

	api := engine.Group("/api")
	api.GET("/engines", s.handleEngines)
	api.GET("/engines/:engine/speakers", s.handleSpeakers)
	api.GET("/engines/:engine/speakers/:speaker/preview", s.handlePreview)
	api.POST("/validate", s.handleValidate)

	conversions := api.Group("/conversions")
	conversions.GET("", s.handleListConversions)
	conversions.POST("", rateLimitMiddleware(s.limiter), s.handleSubmit)
	conversions.GET("/:id", s.handleGetConversion)
	conversions.DELETE("/:id", s.handleCancel)
	conversions.GET("/:id/events", s.handleEvents)
	conversions.GET("/:id/download", s.handleDownload)
	conversions.GET("/:id/log", s.handleLog)

	return engine
}

func loggingMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		kv := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start).Round(time.Microsecond),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("http request", kv...)
		case c.Request.Method == http.MethodGet:
			logger.Debug("http request", kv...)
		default:
			logger.Info("http request", kv...)
		}
	}
}

// rateLimitMiddleware rejects requests beyond limiter; a nil limiter
// admits everything.
func rateLimitMiddleware(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			respondError(c, http.StatusTooManyRequests, "too many conversion requests, try again shortly", nil)
			return
		}
		c.Next()
	}
}
