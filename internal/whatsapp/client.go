package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

const requestTimeout = 30 * time.Second

// Sender is the outbound half of the WhatsApp channel.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	MarkRead(ctx context.Context, messageID string) error
}

// Client calls the WhatsApp Cloud API messages endpoint.
type Client struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates a client for the configured phone number.
func NewClient(cfg config.WhatsApp, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.GraphURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
	}
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text"`
}

type readReceipt struct {
	MessagingProduct string `json:"messaging_product"`
	Status           string `json:"status"`
	MessageID        string `json:"message_id"`
	TypingIndicator  struct {
		Type string `json:"type"`
	} `json:"typing_indicator"`
}

// SendText sends body to the WhatsApp id to. Bodies longer than the platform
// limit are cut to 4096 characters.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	msg := textMessage{MessagingProduct: "whatsapp", To: to, Type: "text"}
	msg.Text.Body = core.TruncateRunes(body, core.MaxMessageRunes)
	if err := c.post(ctx, msg); err != nil {
		return fmt.Errorf("send text to %s: %w", to, err)
	}
	logger.Info("WhatsApp message sent to %s (%d chars)", to, len([]rune(msg.Text.Body)))
	return nil
}

// MarkRead marks the inbound message as read and shows the typing indicator
// until the reply is sent.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	r := readReceipt{MessagingProduct: "whatsapp", Status: "read", MessageID: messageID}
	r.TypingIndicator.Type = "text"
	if err := c.post(ctx, r); err != nil {
		return fmt.Errorf("mark %s read: %w", messageID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.NewHTTPError("whatsapp", resp.StatusCode, body)
	}
	return nil
}
