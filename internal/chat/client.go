// Package chat integrates with the messenger bot API used to talk to
// guests and the admin channel. The client is nil-safe: when no bot is
// configured every send becomes a no-op so the webhook flows keep
// working without chat delivery.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mguest/inspectd/platform/config"
	"github.com/mguest/inspectd/platform/logger"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(cfg config.ChatConfig, log *logger.Logger) *Client {
	if cfg.GetChatAPIURL() == "" || cfg.GetChatToken() == "" {
		return nil
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetChatAPIURL(), "/"),
		token:   cfg.GetChatToken(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Enabled reports whether a bot is configured for delivery.
func (c *Client) Enabled() bool {
	return c != nil
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup any    `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendMessage delivers a plain text message to the chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (Message, error) {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text})
}

// SendMessageWithKeyboard delivers a message with an inline keyboard.
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text string, keyboard *InlineKeyboard) (Message, error) {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: keyboard})
}

// SendMessageWithReplyKeyboard delivers a message together with a reply
// keyboard shown to the guest.
func (c *Client) SendMessageWithReplyKeyboard(ctx context.Context, chatID int64, text string, keyboard *ReplyKeyboard) (Message, error) {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: keyboard})
}

// SendMessageRemovingKeyboard delivers a message and hides any reply
// keyboard previously shown in the chat.
func (c *Client) SendMessageRemovingKeyboard(ctx context.Context, chatID int64, text string) (Message, error) {
	return c.send(ctx, sendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: ReplyKeyboardRemove{RemoveKeyboard: true}})
}

func (c *Client) send(ctx context.Context, req sendMessageRequest) (Message, error) {
	if c == nil {
		return Message{}, nil
	}

	var msg Message
	err := c.post(ctx, "sendMessage", req, &msg)
	c.log.ChatSend(req.ChatID, err)
	return msg, err
}

// DeleteMessage removes a previously sent message from the chat.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if c == nil {
		return nil
	}

	body := map[string]int64{"chat_id": chatID, "message_id": messageID}
	return c.post(ctx, "deleteMessage", body, nil)
}

// AnswerCallback acknowledges a callback query so the client stops
// showing the progress indicator.
func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	if c == nil {
		return nil
	}

	body := map[string]string{"callback_query_id": callbackID}
	return c.post(ctx, "answerCallbackQuery", body, nil)
}

func (c *Client) post(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read chat response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return fmt.Errorf("chat api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !api.OK {
		return fmt.Errorf("chat api %s failed: %s", method, api.Description)
	}
	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("decode chat %s result: %w", method, err)
		}
	}
	return nil
}
