package receiver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/renodectl/internal/auth"
	"github.com/danmuck/renodectl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	defaultReadingsLimit = 100
	maxReadingsLimit     = 10000
)

// HTTPRouter returns the admin router, building it on first use.
func (s *Server) HTTPRouter() *gin.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminMiddleware(nodeName, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	if s.cfg.AdminToken != "" {
		r.Use(auth.Middleware(auth.StaticToken{Token: s.cfg.AdminToken}, "/health"))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  s.uptime().String(),
			"service": nodeName,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := s.isReady()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		addr := ""
		if a := s.Addr(); a != nil {
			addr = a.String()
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"addr":    addr,
			"service": nodeName,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/readings", func(c *gin.Context) {
		limit := defaultReadingsLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		if limit == 0 || limit > maxReadingsLimit {
			limit = maxReadingsLimit
		}
		rows, err := s.store.List(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"readings": rows, "count": len(rows)})
	})

	r.GET("/stats", func(c *gin.Context) {
		st, err := s.store.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	return r
}

func (s *Server) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *Server) uptime() time.Duration {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
