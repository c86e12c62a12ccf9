package controller

import (
	"net/http"

	"github/itish2003/pointer/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterOptions carries what NewRouter needs to assemble the HTTP surface.
type RouterOptions struct {
	APISecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
}

// NewRouter registers every route. /health is the only unauthenticated one.
func NewRouter(chat *ChatController, memory *MemoryController, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(opts.Logger.Named("http")), CORS())
	router.NoRoute(NotFound)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
	})

	authed := router.Group("/")
	authed.Use(BearerAuth(opts.APISecret))
	if opts.RateLimitRPS > 0 {
		authed.Use(RateLimit(opts.RateLimitRPS, opts.RateLimitBurst))
	}
	{
		authed.POST("/api/chat", chat.Stream)
		authed.POST("/chat", chat.Stream)
		authed.POST("/api/memory/ingest", memory.Ingest)
		authed.POST("/api/memory/search", memory.Search)
		authed.DELETE("/api/memory", memory.Clear)
		authed.GET("/api/memory/stats", memory.Stats)
	}
	return router
}
