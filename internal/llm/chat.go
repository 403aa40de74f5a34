package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

const (
	// DefaultTemperature keeps answers close to the retrieved context.
	DefaultTemperature = 0.2
	// DefaultMaxTokens bounds the length of a reply.
	DefaultMaxTokens = 600
	requestTimeout   = 120 * time.Second
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// ChatService implements chat completions against any OpenAI-compatible
// endpoint (Groq by default).
type ChatService struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// APIError represents an error response from the chat API.
type APIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ChatRequest represents a request to the chat completion API.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewChatService creates a new instance of ChatService.
func NewChatService(cfg config.LLM, httpClient *http.Client) *ChatService {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout, // Set a generous timeout for LLM responses
		}
	}
	return &ChatService{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		httpClient:  httpClient,
	}
}

// Model returns the configured model name.
func (s *ChatService) Model() string { return s.model }

// Complete implements Completer.
func (s *ChatService) Complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := ChatRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	logger.Info("Sending request to LLM '%s' with %d messages", s.model, len(messages))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			logger.Error("LLM API error (status %d, type %s): %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
			return "", core.NewHTTPError("llm", resp.StatusCode, []byte(apiErr.Error.Message))
		}
		logger.Error("LLM API HTTP error (status %d): %s", resp.StatusCode, logger.Preview(string(body), 200))
		return "", core.NewHTTPError("llm", resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("LLM API returned no choices")
	}

	if chatResp.Usage.TotalTokens > 0 {
		logger.Info("LLM Usage - Prompt: %d, Completion: %d, Total: %d tokens. Finish Reason: %s",
			chatResp.Usage.PromptTokens,
			chatResp.Usage.CompletionTokens,
			chatResp.Usage.TotalTokens,
			chatResp.Choices[0].FinishReason,
		)
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyCompletion
	}
	logger.Debug("LLM reply: %q", logger.Preview(content, 80))
	return content, nil
}
