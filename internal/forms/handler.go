package forms

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"html/template"
	"net/http"
	"strconv"

	"github.com/mguest/inspectd/internal/webapp"
	"github.com/mguest/inspectd/platform/httpkit"
	"github.com/mguest/inspectd/platform/logger"
	"github.com/mguest/inspectd/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	sourceForms = "yforms"

	signatureHeader     = "X-Forms-Signature"
	msgInvalidSignature = "Invalid signature"
	msgInvalidQuery     = "Missing or invalid query parameters"
	msgMissingFields    = "Missing required fields: sessionId and taskId"

	rpcInvalidParams = -32602
	rpcInternalError = -32000
)

var surveyPageTemplate = template.Must(template.New("survey").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Проверка ресторана</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            padding: 20px;
            max-width: 600px;
            margin: 0 auto;
        }
        .card {
            background: #f5f5f5;
            border-radius: 12px;
            padding: 20px;
            margin-bottom: 20px;
        }
        .button {
            display: block;
            width: 100%;
            padding: 15px;
            background: #0088cc;
            color: white;
            text-align: center;
            border-radius: 8px;
            text-decoration: none;
            font-weight: bold;
            margin-top: 15px;
        }
        .deadline {
            color: #666;
            font-size: 14px;
            margin-top: 10px;
        }
    </style>
</head>
<body>
    <div class="card">
        <h2>{{.TaskName}}</h2>
        {{if .DeadlineDisplay}}<p class="deadline">{{.DeadlineDisplay}}</p>{{end}}
        <p>Нажмите кнопку ниже, чтобы открыть форму для заполнения.</p>
        <a href="{{.RedirectURL}}" class="button">Открыть форму</a>
    </div>
</body>
</html>
`))

// Handler handles survey provider HTTP requests.
type Handler struct {
	service *Service
	val     *validator.Validator
	secret  string
	hmacKey string
	log     *logger.Logger
}

// NewHandler creates a new forms handler. webhookSecret guards the
// provider's completion callback; hmacKey signs survey-launch links.
func NewHandler(service *Service, val *validator.Validator, webhookSecret, hmacKey string, log *logger.Logger) *Handler {
	return &Handler{service: service, val: val, secret: webhookSecret, hmacKey: hmacKey, log: log}
}

// surveyStartQuery keeps the signed parameters as raw strings because the
// signature covers the exact values from the link.
type surveyStartQuery struct {
	TaskID  string `form:"taskId" validate:"required,number"`
	GuestID string `form:"guestId" validate:"required,number"`
	Form    string `form:"form" validate:"required"`
	Sig     string `form:"sig" validate:"required"`
	TS      string `form:"ts"`
}

// HandleSubmission ingests one completion callback from the forms provider.
// POST /webhooks/yforms
func (h *Handler) HandleSubmission(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "unable to read request body", nil)
		return
	}

	if !h.verifySignature(body, c.GetHeader(signatureHeader)) {
		h.log.WebhookDiscarded(sourceForms, "invalid signature")
		httpkit.Error(c, http.StatusUnauthorized, msgInvalidSignature, nil)
		return
	}

	sub, envelope, err := ParseSubmission(body)
	if err != nil {
		h.log.WebhookDiscarded(sourceForms, "malformed payload")
		httpkit.HandleError(c, err)
		return
	}

	if sub.SessionID == "" || sub.TaskID == 0 {
		h.log.WebhookDiscarded(sourceForms, "missing session or task id")
		if envelope.RPC {
			rpcError(c, envelope, rpcInvalidParams, msgMissingFields)
			return
		}
		httpkit.Error(c, http.StatusBadRequest, msgMissingFields, nil)
		return
	}

	h.log.WebhookEvent(sourceForms, "form.submitted", strconv.FormatInt(sub.TaskID, 10))
	if err := h.service.ProcessSubmission(c.Request.Context(), sub); err != nil {
		h.log.Error("form_submission_failed", "session_id", sub.SessionID, "error", err.Error())
		if envelope.RPC {
			rpcError(c, envelope, rpcInternalError, err.Error())
			return
		}
		httpkit.Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	if envelope.RPC {
		c.JSON(http.StatusOK, gin.H{
			"jsonrpc": "2.0",
			"result":  gin.H{"status": "ok"},
			"id":      envelope.ID,
		})
		return
	}
	httpkit.StatusOK(c)
}

// HandleSurveyStart serves the survey-launch page behind a signed link.
// GET /webapp/start
func (h *Handler) HandleSurveyStart(c *gin.Context) {
	var q surveyStartQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidQuery, nil)
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidQuery, nil)
		return
	}

	params := map[string]string{
		"taskId":  q.TaskID,
		"guestId": q.GuestID,
		"form":    q.Form,
	}
	if q.TS != "" {
		params["ts"] = q.TS
	}
	if !webapp.Verify(params, q.Sig, h.hmacKey) {
		httpkit.Error(c, http.StatusUnauthorized, msgInvalidSignature, nil)
		return
	}

	taskID, err1 := strconv.ParseInt(q.TaskID, 10, 64)
	guestID, err2 := strconv.ParseInt(q.GuestID, 10, 64)
	if err1 != nil || err2 != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidQuery, nil)
		return
	}

	page, err := h.service.StartSurvey(c.Request.Context(), taskID, guestID, q.Form)
	if httpkit.HandleError(c, err) {
		return
	}

	var buf bytes.Buffer
	if err := surveyPageTemplate.Execute(&buf, page); err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "template error", nil)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// verifySignature checks the webhook body HMAC. An unset secret skips the
// check, for providers that cannot compute signatures.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func rpcError(c *gin.Context, envelope Envelope, code int, message string) {
	c.JSON(http.StatusOK, gin.H{
		"jsonrpc": "2.0",
		"error":   gin.H{"code": code, "message": message},
		"id":      envelope.ID,
	})
}
