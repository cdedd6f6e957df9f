// Package crm provides the typed, retrying HTTP client for the Planfix-style
// task/contact REST API. All identifier-encoding quirks of the upstream are
// normalized at this boundary so the rest of the system works with typed
// references only.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mguest/inspectd/platform/apperr"
	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

const (
	maxAttempts  = 3
	backoffBase  = 1 * time.Second
	backoffCap   = 8 * time.Second
	requestLimit = 30 * time.Second
)

// CallDetails carries the upstream response of a failed call so callers can
// inspect it without re-parsing error strings.
type CallDetails struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

// Client is the CRM REST client. A nil Client is not usable; construction
// requires base URL and token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a CRM client from configuration.
func NewClient(cfg config.CRMConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.GetCRMBaseURL(),
		token:   cfg.GetCRMToken(),
		httpClient: &http.Client{
			Timeout: requestLimit,
		},
		log: log,
	}
}

// call performs one API call with bounded retries. Network failures and 5xx
// responses are retried with exponential backoff; 4xx responses are
// definitive. A 404 is classified as NotFound, which callers may treat as
// the eventual-consistency window rather than a hard failure.
func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "encode request", err).WithOp("crm." + path)
		}
		payload = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return err
			}
		}

		status, respBody, err := c.doOnce(ctx, method, path, payload)
		c.log.CRMCall(method, path, attempt, status, err)
		if err != nil {
			lastErr = err
			continue
		}

		if status >= 500 {
			lastErr = apperr.New(apperr.KindInternal, fmt.Sprintf("crm server error %d", status)).
				WithOp("crm." + path).
				WithDetails(CallDetails{Status: status, Body: string(respBody)})
			continue
		}
		if status >= 400 {
			return classifyRejection(path, status, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return apperr.Wrap(apperr.KindInternal, "decode response", err).WithOp("crm." + path)
			}
		}
		return nil
	}

	return apperr.Wrap(apperr.KindInternal, "crm unavailable after retries", lastErr).WithOp("crm." + path)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func classifyRejection(path string, status int, body []byte) error {
	details := CallDetails{Status: status, Body: string(body)}
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound("crm object not found").WithOp("crm." + path).WithDetails(details)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.Unauthorized("crm rejected credentials").WithOp("crm." + path).WithDetails(details)
	default:
		return apperr.BadRequest(fmt.Sprintf("crm rejected request with %d", status)).
			WithOp("crm." + path).
			WithDetails(details)
	}
}

func sleepBackoff(ctx context.Context, retry int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoffDelay(retry)):
		return nil
	}
}

// backoffDelay returns the delay before the given retry (1-based), doubling
// from the base and capped.
func backoffDelay(retry int) time.Duration {
	delay := backoffBase
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	if delay > backoffCap {
		return backoffCap
	}
	return delay
}

// IsNotFound reports whether err is the CRM's "object does not exist"
// condition.
func IsNotFound(err error) bool {
	return apperr.Is(err, apperr.KindNotFound)
}
