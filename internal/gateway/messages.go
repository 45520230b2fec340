// ABOUTME: Message history filtering and conversion for client consumption
// ABOUTME: Hides system and heartbeat traffic, renders assistant markdown to HTML

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/persona-gateway/internal/letta"
)

// Runtime message types.
const (
	typeUserMessage      = "user_message"
	typeAssistantMessage = "assistant_message"
	typeSystemMessage    = "system_message"
	typeToolMessage      = "tool_message"
	typeReasoningMessage = "reasoning_message"
)

// ConvertedMessage is the client-facing shape of one history entry.
// ContentHTML is set only for assistant messages.
type ConvertedMessage struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentHTML string `json:"content_html,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// markdown renders assistant message content. Goldmark is safe for
// concurrent use.
var markdown = goldmark.New()

// filterMessages drops system messages and heartbeat pings from a raw
// history, then sorts by date. A malformed entry is skipped, never fatal.
func filterMessages(messages []letta.Message) []letta.Message {
	filtered := make([]letta.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.MessageType == typeSystemMessage {
			continue
		}
		if msg.MessageType == typeUserMessage && isHeartbeat(msg.Content) {
			continue
		}
		filtered = append(filtered, msg)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Date < filtered[j].Date
	})
	return filtered
}

// isHeartbeat reports whether content is the runtime's automated heartbeat
// payload, JSON with a "type":"heartbeat" field.
func isHeartbeat(content string) bool {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return false
	}
	var payload struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return false
	}
	return payload.Type == "heartbeat"
}

// convertMessages maps runtime messages to the client shape. Message types
// map to roles; unknown types default to assistant. Assistant content is
// additionally rendered from markdown to HTML.
func convertMessages(messages []letta.Message) []ConvertedMessage {
	converted := make([]ConvertedMessage, 0, len(messages))
	for i, msg := range messages {
		role := roleFor(msg.MessageType)

		out := ConvertedMessage{
			ID:        msg.ID,
			Role:      role,
			Content:   msg.Content,
			Reasoning: msg.Reasoning,
			CreatedAt: msg.Date,
		}
		if out.ID == "" {
			out.ID = fmt.Sprintf("msg_%d_%s", i, role)
		}
		if role == "assistant" && msg.Content != "" {
			out.ContentHTML = renderMarkdown(msg.Content)
		}
		converted = append(converted, out)
	}
	return converted
}

// roleFor maps a runtime message type to a client role.
func roleFor(messageType string) string {
	switch messageType {
	case typeUserMessage:
		return "user"
	case typeAssistantMessage:
		return "assistant"
	case typeSystemMessage:
		return "system"
	case typeToolMessage:
		return "tool_call"
	case typeReasoningMessage:
		return "reasoning"
	default:
		return "assistant"
	}
}

// renderMarkdown converts markdown to HTML. On a conversion failure the raw
// content is still available in Content, so the HTML is simply omitted.
func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		slog.Default().Warn("markdown conversion failed", "error", err)
		return ""
	}
	return buf.String()
}

// maxMessageLength is the longest accepted message content.
const maxMessageLength = 4000

// validRoles are the roles clients may submit.
var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ValidateMessages checks a client-submitted message batch: at least one
// message, each with a known role and non-empty content of at most
// maxMessageLength characters.
func ValidateMessages(messages []letta.MessageInput) error {
	if len(messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	for _, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid message role %q", msg.Role)
		}
		if msg.Content == "" {
			return fmt.Errorf("message content cannot be empty")
		}
		if len(msg.Content) > maxMessageLength {
			return fmt.Errorf("message content too long (max %d characters)", maxMessageLength)
		}
	}
	return nil
}
