// Package api is the HTTP transport for task submission and queries.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Options struct {
	Logger      *slog.Logger
	Title       string
	Version     string
	Description string

	JWTSecret   string  // empty disables auth on /api
	SubmitRate  float64 // per second; 0 disables the limiter
	SubmitBurst int

	Checks       map[string]Check
	CheckTimeout time.Duration
}

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(opts.Logger))

	api := router.Group("/api")
	if opts.JWTSecret != "" {
		api.Use(bearerAuth([]byte(opts.JWTSecret)))
	}
	{
		tasks := api.Group("/tasks")
		create := []gin.HandlerFunc{h.CreateTask}
		if opts.SubmitRate > 0 {
			burst := opts.SubmitBurst
			if burst <= 0 {
				burst = 1
			}
			create = append([]gin.HandlerFunc{submitLimit(rate.NewLimiter(rate.Limit(opts.SubmitRate), burst))}, create...)
		}
		tasks.POST("/", create...)
		tasks.GET("/", h.ListTasks)
		tasks.GET("/:task_id", h.GetTask)
		tasks.GET("/:task_id/sample/", h.SampleTask)
	}

	router.GET("/health", healthHandler(opts))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func healthHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.CheckTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:      "ok",
			Title:       opts.Title,
			Version:     opts.Version,
			Description: opts.Description,
			Checks:      make(map[string]string, len(opts.Checks)),
		}
		code := http.StatusOK
		for name, check := range opts.Checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		c.JSON(code, resp)
	}
}
