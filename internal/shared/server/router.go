package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"techdoc-backend/internal/runs"
	"techdoc-backend/internal/services/health"
	"techdoc-backend/internal/shared/config"
	"techdoc-backend/internal/shared/metrics"
	"techdoc-backend/internal/shared/server/middleware"
	"techdoc-backend/internal/shared/server/respond"
)

// RouterDeps carries the wired handlers for route registration.
type RouterDeps struct {
	Config      config.Config
	RunsHandler *runs.Handler
	Health      *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")

	// Health and metrics register before the token wall so load balancers
	// and scrapers can reach them.
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, deps.Health.Status(c.Request.Context()))
	})
	api.GET("/metrics", metrics.Handler())

	api.Use(
		middleware.Auth(deps.Config.APIToken),
		middleware.RateLimit(middleware.RateLimitRule{Rate: 5, Burst: 20}, middleware.NewRateLimiter(nil)),
	)
	deps.RunsHandler.RegisterRoutes(api)

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
