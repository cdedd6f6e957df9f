package updates

import (
	"github.com/mguest/inspectd/internal/chat"
	apphttp "github.com/mguest/inspectd/internal/http"
	"github.com/mguest/inspectd/internal/invitations"
	"github.com/mguest/inspectd/internal/registration"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

// Module is the chat update webhook module implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule creates the chat update module with its dependencies.
func NewModule(
	client *chat.Client,
	wizard *registration.Wizard,
	invites *invitations.Coordinator,
	chatCfg config.ChatConfig,
	log *logger.Logger,
) *Module {
	return &Module{
		handler: NewHandler(client, wizard, invites, chatCfg.GetChatWebhookSecret(), log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "updates"
}

// RegisterRoutes mounts the bot API webhook route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Webhooks.POST("/chat", m.handler.HandleUpdate)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
