// Package chatsend sends outbound WhatsApp replies through the Infobip
// messaging API. It is the terminal step of the outbound pipeline: a
// transport error or non-2xx response is reported to the caller, which is
// responsible for scheduling a retry.
package chatsend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendPath = "/whatsapp/1/message/text"

// DefaultTimeout bounds a single send attempt.
const DefaultTimeout = 15 * time.Second

// Config configures the Infobip client.
type Config struct {
	BaseURL      string
	APIKey       string
	SenderNumber string
	Timeout      time.Duration
}

// Client sends WhatsApp text messages via the Infobip REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sender     string
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		sender:     cfg.SenderNumber,
	}
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type sendRequest struct {
	From    string      `json:"from"`
	To      string      `json:"to"`
	Content sendContent `json:"content"`
}

type sendContent struct {
	Text string `json:"text"`
}

// Send delivers text to recipient. A non-2xx response or transport error
// is returned as an error; the caller schedules the retry.
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	payload := sendRequest{From: c.sender, To: recipient, Content: sendContent{Text: text}}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat-gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat-gateway request: %w", err)
	}
	req.Header.Set("Authorization", "App "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat-gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat-gateway send: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
