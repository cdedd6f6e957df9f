// Package logger provides structured logging infrastructure for the
// application. This is part of the platform layer and contains no business
// logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TaskRefKey is the context key for the task reference being processed
	TaskRefKey contextKey = "task_ref"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and task_ref from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if taskRef, ok := ctx.Value(TaskRefKey).(string); ok && taskRef != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("task_ref", taskRef)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// CRMCall logs one CRM API call attempt.
func (l *Logger) CRMCall(method, path string, attempt, status int, err error) {
	attrs := []any{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("attempt", attempt),
		slog.Int("status", status),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Warn("crm_call", attrs...)
		return
	}
	l.Debug("crm_call", attrs...)
}

// WebhookEvent logs a normalized inbound webhook event.
func (l *Logger) WebhookEvent(source, event, taskRef string) {
	l.Info("webhook_event",
		slog.String("source", source),
		slog.String("event", event),
		slog.String("task_ref", taskRef),
	)
}

// WebhookDiscarded logs an inbound webhook that could not be normalized.
func (l *Logger) WebhookDiscarded(source, reason string) {
	l.Warn("webhook_discarded",
		slog.String("source", source),
		slog.String("reason", reason),
	)
}

// ChatSend logs one outbound chat delivery attempt.
func (l *Logger) ChatSend(chatID int64, err error) {
	if err != nil {
		l.Warn("chat_send_failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Debug("chat_send", slog.Int64("chat_id", chatID))
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
