// Package httpapi is the HTTP surface that exposes the store's
// enqueue/next/touch/complete/reap operations to producers and workers.
// The core store package has no knowledge of this transport.
package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ChuLiYu/relay/internal/store"
)

// Config configures the router.
type Config struct {
	CORSOrigins     []string
	RateLimitPerSec float64
	RateLimitBurst  int
}

// NewRouter builds the gin engine wired to st.
func NewRouter(st *store.Store, cfg Config) *gin.Engine {
	router := gin.Default()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	if cfg.RateLimitPerSec > 0 {
		router.Use(rateLimitMiddleware(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst))
	}

	h := &handler{store: st}

	router.GET("/healthz", h.healthz)
	router.GET("/status", h.status)

	queues := router.Group("/queues/:queue")
	{
		queues.POST("/jobs", h.enqueue)
		queues.POST("/next", h.next)
		queues.POST("/jobs/:id/touch", h.touch)
		queues.POST("/jobs/:id/complete", h.complete)
	}

	router.POST("/admin/reap", h.reap)

	return router
}

// rateLimitMiddleware applies one shared token bucket across all callers —
// adequate for a single-process relay instance; a distributed deployment
// would need a shared limiter instead.
func rateLimitMiddleware(r rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(r, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(429, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
