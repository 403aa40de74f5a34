package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageKind is the closed set of inbound message types the bot reads.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindButton      MessageKind = "button"
	KindInteractive MessageKind = "interactive"
	KindUnsupported MessageKind = "unsupported"
)

// InboundMessage is one user message extracted from a webhook event.
type InboundMessage struct {
	ID          string
	From        string
	ProfileName string
	Kind        MessageKind
	Text        string
	Timestamp   string
}

// Answerable reports whether the message has a sender and text to answer.
func (m InboundMessage) Answerable() bool {
	return m.Kind != KindUnsupported && m.From != "" && m.Text != ""
}

// webhookPayload mirrors the parts of the WhatsApp Cloud API webhook the bot reads.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Contacts         []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []rawMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type rawMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID          string `json:"id"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

// ParseMessages extracts every message from a webhook body. Status updates
// and other events without messages yield an empty slice.
func ParseMessages(body []byte) ([]InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var out []InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				kind, text := classify(m)
				out = append(out, InboundMessage{
					ID:          m.ID,
					From:        m.From,
					ProfileName: names[m.From],
					Kind:        kind,
					Text:        strings.TrimSpace(text),
					Timestamp:   m.Timestamp,
				})
			}
		}
	}
	return out, nil
}

func classify(m rawMessage) (MessageKind, string) {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return KindText, m.Text.Body
		}
		return KindText, ""
	case "button":
		if m.Button != nil {
			return KindButton, m.Button.Text
		}
		return KindButton, ""
	case "interactive":
		if i := m.Interactive; i != nil {
			if i.ButtonReply != nil {
				return KindInteractive, i.ButtonReply.Title
			}
			if i.ListReply != nil {
				return KindInteractive, i.ListReply.Title
			}
		}
		return KindInteractive, ""
	default:
		return KindUnsupported, ""
	}
}
