// Package forms provides the survey provider bounded context module.
// This file defines the module that encapsulates all forms setup and route registration.
package forms

import (
	"github.com/mguest/inspectd/internal/chat"
	"github.com/mguest/inspectd/internal/crm"
	"github.com/mguest/inspectd/internal/events"
	apphttp "github.com/mguest/inspectd/internal/http"
	"github.com/mguest/inspectd/internal/store"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
	"github.com/mguest/inspectd/platform/validator"
)

// Module is the forms bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates and initializes the forms module with its dependencies.
func NewModule(
	sessions *store.SessionRepository,
	tasks *store.TaskRepository,
	guests *store.GuestRepository,
	crmClient *crm.Client,
	bot *chat.Client,
	bus events.Bus,
	val *validator.Validator,
	formsCfg config.FormsConfig,
	webAppCfg config.WebAppConfig,
	lifecycleCfg config.LifecycleConfig,
	log *logger.Logger,
) *Module {
	service := NewService(sessions, tasks, guests, crmClient, bot, bus, formsCfg, lifecycleCfg, log)
	handler := NewHandler(service, val, formsCfg.GetFormsWebhookSecret(), webAppCfg.GetWebAppSecret(), log)
	return &Module{handler: handler}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "forms"
}

// RegisterRoutes mounts forms routes on the provided router context. The
// legacy launch path under the CRM webhook prefix stays routable because
// older CRM templates still link to it.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.POST("/yforms", m.handler.HandleSubmission)
	ctx.WebApp.GET("/start", m.handler.HandleSurveyStart)
	ctx.Webhooks.GET("/planfix-guest/webapp/start", m.handler.HandleSurveyStart)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
