package llm

import "context"

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer defines the common interface for chat-completion services.
type Completer interface {
	// Complete sends the conversation and returns the model's reply text.
	Complete(ctx context.Context, messages []Message) (string, error)
}
