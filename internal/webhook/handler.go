package webhook

import (
	"net/http"

	"github.com/mguest/inspectd/internal/lifecycle"
	"github.com/mguest/inspectd/platform/httpkit"
	"github.com/mguest/inspectd/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	sourceCRM = "planfix"

	msgProbe        = "Planfix webhook endpoint is available. Use POST method to send webhooks."
	msgMissingEvent = "Missing event or task number (nomber)"
)

// Handler handles CRM lifecycle webhook HTTP requests.
type Handler struct {
	engine *lifecycle.Engine
	log    *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(engine *lifecycle.Engine, log *logger.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// HandleProbe answers the CRM's endpoint availability check.
// GET /webhooks/planfix-guest
func (h *Handler) HandleProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"message":  msgProbe,
		"endpoint": EndpointPath,
		"method":   http.MethodPost,
	})
}

// HandleEvent ingests one lifecycle webhook. Payloads without an event name
// or task reference are acknowledged with 200 so the CRM stops redelivering
// them; processing failures return 500 to trigger a redelivery.
// POST /webhooks/planfix-guest
func (h *Handler) HandleEvent(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unable to read request body", nil)
		return
	}

	payload, err := lifecycle.ParsePayload(body)
	if err != nil {
		h.log.WebhookDiscarded(sourceCRM, "malformed payload")
		httpkit.HandleError(c, err)
		return
	}

	event := payload.Event()
	ref := payload.TaskRef()
	if event == "" || ref == "" {
		h.log.WebhookDiscarded(sourceCRM, "missing event or task reference")
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": msgMissingEvent})
		return
	}

	h.log.WebhookEvent(sourceCRM, event, ref)
	if err := h.engine.HandleEvent(c.Request.Context(), payload); err != nil {
		h.log.Error("webhook_processing_failed", "event", event, "task_ref", ref, "error", err.Error())
		httpkit.Error(c, http.StatusInternalServerError, "internal error", nil)
		return
	}

	httpkit.StatusOK(c)
}
