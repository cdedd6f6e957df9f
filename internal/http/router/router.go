// Package router assembles the Gin engine from the application's modules.
package router

import (
	"context"
	"net/http"
	"time"

	apphttp "github.com/mguest/inspectd/internal/http"
	"github.com/mguest/inspectd/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const serviceName = "inspectd"

// New builds the HTTP engine: global middleware, health endpoints, and the
// route groups each module registers itself on.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(app))

	limiter := httpkit.NewIPRateLimiter(rate.Limit(50), 100, app.Logger)
	engine.Use(limiter.RateLimit())

	engine.GET("/", handleRoot)
	engine.GET("/health", handleHealth(app))

	ctx := &apphttp.RouterContext{
		Engine:   engine,
		Webhooks: engine.Group("/webhooks"),
		WebApp:   engine.Group("/webapp"),
	}
	for _, module := range app.Modules {
		module.RegisterRoutes(ctx)
		app.Logger.Info("http_module_registered", "module", module.Name())
	}

	return engine
}

func corsMiddleware(app *apphttp.App) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Forms-Signature"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if app.Config.GetCORSAllowAll() || len(app.Config.GetCORSOrigins()) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = app.Config.GetCORSOrigins()
	}
	return cors.New(cfg)
}

func handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
}

func handleHealth(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "service": serviceName})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	}
}
