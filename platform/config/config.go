// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// CRMConfig provides settings for the CRM REST client.
type CRMConfig interface {
	GetCRMBaseURL() string
	GetCRMAccountURL() string
	GetCRMToken() string
	GetContactTemplateID() int64
}

// LifecycleConfig provides settings for task lifecycle handlers.
type LifecycleConfig interface {
	GetTaskTemplateIDs() []int64
	GetStatusIDs() StatusIDs
	GetFieldIDs() FieldIDs
}

// WebhookAuthConfig provides Basic auth credentials for the CRM webhook.
// Empty credentials disable the check.
type WebhookAuthConfig interface {
	GetWebhookLogin() string
	GetWebhookPassword() string
}

// ChatConfig provides settings for the chat bot client.
type ChatConfig interface {
	GetChatAPIURL() string
	GetChatToken() string
	GetChatWebhookSecret() string
	GetAdminChatID() int64
	GetAdminName() string
}

// FormsConfig provides settings for the forms provider integration.
type FormsConfig interface {
	GetFormsWebhookSecret() string
	GetFormURLs() map[string]string
}

// WebAppConfig provides settings for the survey-launch web app.
type WebAppConfig interface {
	GetWebAppBaseURL() string
	GetWebAppSecret() string
}

// SchedulerConfig provides settings for the asynq-backed job scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// ReconcileConfig provides settings for the assignment reconciliation loop.
type ReconcileConfig interface {
	GetReconcileInterval() time.Duration
	GetReconcileBatch() int
}

// StatusIDs maps lifecycle stages to the CRM's numeric status identifiers.
// Zero means the stage has no CRM status configured and the transition is
// skipped.
type StatusIDs struct {
	GuestSelection int64
	WaitingVisit   int64
	WaitingForm    int64
	FormReceived   int64
	AnswersReview  int64
	Payment        int64
	Cancelled      int64
}

// FieldIDs maps integration data to the CRM's custom field identifiers.
// Zero means the field is not configured and the write is skipped.
type FieldIDs struct {
	Budget             int64
	Result             int64
	ResultFiles        int64
	ResultStatus       int64
	Score              int64
	SessionID          int64
	SyncStatus         int64
	IntegrationComment int64
	Guest              int64
	AssignmentSource   int64
}

// =============================================================================
// Config Struct
// =============================================================================

// Config holds all application configuration loaded from the environment.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseURL string

	CORSAllowAll bool
	CORSOrigins  []string

	CRMBaseURL        string
	CRMAccountURL     string
	CRMToken          string
	ContactTemplateID int64
	TaskTemplateIDs   []int64
	StatusIDs         StatusIDs
	FieldIDs          FieldIDs

	WebhookLogin    string
	WebhookPassword string

	ChatAPIURL        string
	ChatToken         string
	ChatWebhookSecret string
	AdminChatID       int64
	AdminName         string

	FormsWebhookSecret string
	FormURLs           map[string]string

	WebAppBaseURL string
	WebAppSecret  string

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	ReconcileInterval time.Duration
	ReconcileBatch    int
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// CRMConfig implementation
func (c *Config) GetCRMBaseURL() string       { return c.CRMBaseURL }
func (c *Config) GetCRMAccountURL() string    { return c.CRMAccountURL }
func (c *Config) GetCRMToken() string         { return c.CRMToken }
func (c *Config) GetContactTemplateID() int64 { return c.ContactTemplateID }

// LifecycleConfig implementation
func (c *Config) GetTaskTemplateIDs() []int64 { return c.TaskTemplateIDs }
func (c *Config) GetStatusIDs() StatusIDs     { return c.StatusIDs }
func (c *Config) GetFieldIDs() FieldIDs       { return c.FieldIDs }

// WebhookAuthConfig implementation
func (c *Config) GetWebhookLogin() string    { return c.WebhookLogin }
func (c *Config) GetWebhookPassword() string { return c.WebhookPassword }

// ChatConfig implementation
func (c *Config) GetChatAPIURL() string        { return c.ChatAPIURL }
func (c *Config) GetChatToken() string         { return c.ChatToken }
func (c *Config) GetChatWebhookSecret() string { return c.ChatWebhookSecret }
func (c *Config) GetAdminChatID() int64        { return c.AdminChatID }
func (c *Config) GetAdminName() string         { return c.AdminName }

// FormsConfig implementation
func (c *Config) GetFormsWebhookSecret() string  { return c.FormsWebhookSecret }
func (c *Config) GetFormURLs() map[string]string { return c.FormURLs }

// WebAppConfig implementation
func (c *Config) GetWebAppBaseURL() string { return c.WebAppBaseURL }
func (c *Config) GetWebAppSecret() string  { return c.WebAppSecret }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// ReconcileConfig implementation
func (c *Config) GetReconcileInterval() time.Duration { return c.ReconcileInterval }
func (c *Config) GetReconcileBatch() int              { return c.ReconcileBatch }

// Load reads configuration from the environment, applying defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", ""))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:               getEnv("APP_ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8001"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		CORSAllowAll:      corsAllowAll,
		CORSOrigins:       corsOrigins,
		CRMBaseURL:        strings.TrimRight(getEnv("CRM_BASE_URL", ""), "/"),
		CRMAccountURL:     strings.TrimRight(getEnv("CRM_ACCOUNT_URL", ""), "/"),
		CRMToken:          getEnv("CRM_TOKEN", ""),
		ContactTemplateID: mustInt64(getEnv("CRM_CONTACT_TEMPLATE_ID", "413")),
		TaskTemplateIDs:   splitCSVInt64(getEnv("CRM_TASK_TEMPLATE_IDS", "")),
		StatusIDs: StatusIDs{
			GuestSelection: mustInt64(getEnv("STATUS_GUEST_SELECTION_ID", "111")),
			WaitingVisit:   mustInt64(getEnv("STATUS_WAITING_VISIT_ID", "113")),
			WaitingForm:    mustInt64(getEnv("STATUS_WAITING_FORM_ID", "114")),
			FormReceived:   mustInt64(getEnv("STATUS_FORM_RECEIVED_ID", "115")),
			AnswersReview:  mustInt64(getEnv("STATUS_ANSWERS_REVIEW_ID", "116")),
			Payment:        mustInt64(getEnv("STATUS_PAYMENT_ID", "117")),
			Cancelled:      mustInt64(getEnv("STATUS_CANCELLED_ID", "0")),
		},
		FieldIDs: FieldIDs{
			Budget:             mustInt64(getEnv("BUDGET_FIELD_ID", "130")),
			Result:             mustInt64(getEnv("RESULT_FIELD_ID", "136")),
			ResultFiles:        mustInt64(getEnv("RESULT_FILES_FIELD_ID", "0")),
			ResultStatus:       mustInt64(getEnv("RESULT_STATUS_FIELD_ID", "0")),
			Score:              mustInt64(getEnv("SCORE_FIELD_ID", "138")),
			SessionID:          mustInt64(getEnv("SESSION_ID_FIELD_ID", "0")),
			SyncStatus:         mustInt64(getEnv("SYNC_STATUS_FIELD_ID", "144")),
			IntegrationComment: mustInt64(getEnv("INTEGRATION_COMMENT_FIELD_ID", "146")),
			Guest:              mustInt64(getEnv("GUEST_FIELD_ID", "0")),
			AssignmentSource:   mustInt64(getEnv("ASSIGNMENT_SOURCE_FIELD_ID", "0")),
		},
		WebhookLogin:       getEnv("CRM_WEBHOOK_LOGIN", ""),
		WebhookPassword:    getEnv("CRM_WEBHOOK_PASSWORD", ""),
		ChatAPIURL:         strings.TrimRight(getEnv("CHAT_API_URL", ""), "/"),
		ChatToken:          getEnv("CHAT_TOKEN", ""),
		ChatWebhookSecret:  getEnv("CHAT_WEBHOOK_SECRET", ""),
		AdminChatID:        mustInt64(getEnv("ADMIN_CHAT_ID", "0")),
		AdminName:          getEnv("ADMIN_NAME", ""),
		FormsWebhookSecret: getEnv("FORMS_WEBHOOK_SECRET", ""),
		FormURLs:           parseFormURLs(getEnv("FORM_URLS", "")),
		WebAppBaseURL:      strings.TrimRight(getEnv("WEBAPP_BASE_URL", ""), "/"),
		WebAppSecret:       getEnv("WEBAPP_HMAC_SECRET", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisTLSInsecure:   strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:     getEnv("ASYNQ_QUEUE", "lifecycle"),
		AsynqConcurrency:   int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "5"))),
		ReconcileInterval:  mustDuration(getEnv("RECONCILE_INTERVAL", "30s")),
		ReconcileBatch:     int(mustInt64(getEnv("RECONCILE_BATCH", "50"))),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CRMBaseURL == "" {
		return nil, fmt.Errorf("CRM_BASE_URL is required")
	}
	if cfg.CRMToken == "" {
		return nil, fmt.Errorf("CRM_TOKEN is required")
	}
	if cfg.CRMAccountURL == "" {
		cfg.CRMAccountURL = strings.TrimSuffix(cfg.CRMBaseURL, "/rest")
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 30 * time.Second
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = 50
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func splitCSVInt64(value string) []int64 {
	parts := splitCSV(value)
	results := make([]int64, 0, len(parts))
	for _, part := range parts {
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			results = append(results, id)
		}
	}
	return results
}

// formVariantOrder is the positional order for bare URL lists, and
// formCodeAliases maps provider form codes onto the canonical variants.
var (
	formVariantOrder = []string{"resto_a", "resto_b", "resto_c", "delivery_a", "delivery_b", "delivery_c"}
	formCodeAliases  = map[string]string{
		"delivery_adjika":   "delivery_a",
		"delivery_hinkal":   "delivery_b",
		"delivery_myasorub": "delivery_c",
	}
)

// parseFormURLs parses the FORM_URLS value into a variant map. Entries are
// either "code=url" pairs or a bare URL list matched positionally against
// formVariantOrder. Provider form-code aliases resolve to the same URLs.
func parseFormURLs(value string) map[string]string {
	urls := make(map[string]string)
	for i, pair := range splitCSV(value) {
		code, url, ok := strings.Cut(pair, "=")
		if !ok || strings.ContainsAny(code, ":/") {
			if i < len(formVariantOrder) {
				urls[formVariantOrder[i]] = strings.TrimSpace(pair)
			}
			continue
		}
		code = strings.TrimSpace(code)
		url = strings.TrimSpace(url)
		if code != "" && url != "" {
			urls[code] = url
		}
	}
	for alias, variant := range formCodeAliases {
		if target, ok := urls[variant]; ok {
			urls[alias] = target
		}
	}
	return urls
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
