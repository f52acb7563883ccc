// Package telegram is a minimal Telegram Bot API client covering the three
// calls the alert pipeline needs: sendMessage, sendPhoto and sendVideo.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Bot sends messages and media to a single chat.
type Bot struct {
	token      string
	chatID     string
	apiBase    string
	httpClient *http.Client
}

// Option configures a Bot.
type Option func(*Bot)

// WithAPIBase overrides the Telegram API base URL. Used by tests.
func WithAPIBase(base string) Option {
	return func(b *Bot) { b.apiBase = base }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.httpClient = c }
}

// apiResponse is the envelope every Bot API call returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// NewBot creates a client for the given bot token and chat.
func NewBot(token, chatID string, opts ...Option) *Bot {
	b := &Bot{
		token:      token,
		chatID:     chatID,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SendMessage sends a plain text message.
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id": b.chatID,
		"text":    text,
	}
	return b.postJSON(ctx, "sendMessage", payload)
}

// SendPhoto uploads a JPEG with an optional caption.
func (b *Bot) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	return b.postFile(ctx, "sendPhoto", "photo", "snapshot.jpg", photo, caption)
}

// SendVideo uploads the video file at path with an optional caption.
func (b *Bot) SendVideo(ctx context.Context, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read video: %w", err)
	}
	return b.postFile(ctx, "sendVideo", "video", filepath.Base(path), data, caption)
}

// GetMe verifies the token against the API and returns the bot's username.
func (b *Bot) GetMe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.methodURL("getMe"), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("getMe: %w", err)
	}
	defer resp.Body.Close()

	api, err := decodeResponse(resp)
	if err != nil {
		return "", err
	}

	var me struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(api.Result, &me); err != nil {
		return "", fmt.Errorf("decode getMe result: %w", err)
	}
	return me.Username, nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
}

func (b *Bot) postJSON(ctx context.Context, method string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	_, err = decodeResponse(resp)
	return err
}

// postFile uploads a single media file as multipart form data.
func (b *Bot) postFile(ctx context.Context, method, field, filename string, data []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("write chat_id: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("write caption: %w", err)
		}
	}

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s data: %w", field, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), &body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	_, err = decodeResponse(resp)
	return err
}

func decodeResponse(resp *http.Response) (*apiResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !api.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", api.ErrorCode, api.Description)
	}
	return &api, nil
}
