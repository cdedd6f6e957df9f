// Package webhook provides the CRM lifecycle webhook bounded context module.
// This file defines the module that encapsulates all webhook setup and route registration.
package webhook

import (
	apphttp "github.com/mguest/inspectd/internal/http"
	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/httpkit"
	"github.com/mguest/inspectd/platform/logger"

	"github.com/gin-gonic/gin"
)

// EndpointPath is the route the CRM automation rules post to.
const EndpointPath = "/webhooks/planfix-guest"

// Module is the CRM webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	auth    gin.HandlerFunc
}

// NewModule creates and initializes the webhook module with its dependencies.
func NewModule(engine *lifecycle.Engine, authCfg config.WebhookAuthConfig, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(engine, log),
		auth:    httpkit.BasicAuth(authCfg),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
// The availability probe stays unauthenticated; event delivery goes through
// Basic auth when credentials are configured.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.GET("/planfix-guest", m.handler.HandleProbe)
	ctx.Webhooks.POST("/planfix-guest", m.auth, m.handler.HandleEvent)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
