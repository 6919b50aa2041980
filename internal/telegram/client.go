// Package telegram implements the Telegram Bot API transport: a
// long-polling client plus the bridge that routes inbound messages
// through the grounding loop and sends the decided reply back.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// pollRetryDelay is the backoff after a failed getUpdates call.
const pollRetryDelay = 3 * time.Second

// User is the Bot API sender object, reduced to the fields we use.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat identifies where a message was sent.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Message is one inbound or outbound Bot API message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// update is one getUpdates result entry.
type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// apiResponse is the Bot API envelope around every method result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// APIError is a Bot API level failure (ok=false).
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Client talks to the Bot API over HTTPS and long-polls getUpdates.
// Inbound text messages are pushed to a channel; a slow consumer drops
// messages rather than stalling the poll loop.
type Client struct {
	baseURL     string
	token       string
	pollTimeout int
	httpc       *http.Client
	logger      *slog.Logger

	offset   int64
	messages chan *Message
}

// NewClient creates a Bot API client. pollTimeout is the getUpdates
// long-poll duration in seconds.
func NewClient(baseURL, token string, pollTimeout int, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     baseURL,
		token:       token,
		pollTimeout: pollTimeout,
		// The HTTP timeout must outlast the long poll itself.
		httpc:    &http.Client{Timeout: time.Duration(pollTimeout+15) * time.Second},
		logger:   logger,
		messages: make(chan *Message, 64),
	}
}

// Start begins the long-poll loop. It blocks until ctx is cancelled;
// run it in its own goroutine. The messages channel is closed on exit.
func (c *Client) Start(ctx context.Context) {
	c.logger.Info("telegram poll loop started", "poll_timeout_sec", c.pollTimeout)
	defer close(c.messages)

	for {
		if ctx.Err() != nil {
			c.logger.Info("telegram poll loop stopping")
			return
		}

		updates, err := c.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("telegram poll loop stopping")
				return
			}
			c.logger.Warn("telegram getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" || u.Message.From == nil {
				continue
			}
			select {
			case c.messages <- u.Message:
			default:
				c.logger.Warn("telegram message channel full, dropping message",
					"chat_id", u.Message.Chat.ID,
				)
			}
		}
	}
}

// Messages returns the channel of inbound text messages. Closed when
// the poll loop exits.
func (c *Client) Messages() <-chan *Message {
	return c.messages
}

// SendMessage sends text to a chat and returns the new message ID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &msg)
	if err != nil {
		return 0, fmt.Errorf("telegram sendMessage: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
	if err != nil {
		return fmt.Errorf("telegram editMessageText: %w", err)
	}
	return nil
}

// SendChatAction shows an activity indicator ("typing") in the chat.
// Best effort; the indicator expires on its own after a few seconds.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	err := c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
	if err != nil {
		return fmt.Errorf("telegram sendChatAction: %w", err)
	}
	return nil
}

// Ping verifies the token against getMe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.call(ctx, "getMe", nil, nil); err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	return nil
}

// getUpdates performs one long poll. The request context extends past
// the poll window so the server can close the poll itself.
func (c *Client) getUpdates(ctx context.Context) ([]update, error) {
	var updates []update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          c.offset,
		"timeout":         c.pollTimeout,
		"allowed_updates": []string{"message"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// call POSTs a Bot API method and decodes the result envelope.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	url := c.baseURL + "/bot" + c.token + "/" + method

	var body io.Reader
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !envelope.OK {
		return &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// UserIDString renders a Telegram numeric user ID as the string key
// used by the history and memory stores.
func UserIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
