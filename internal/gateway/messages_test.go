// ABOUTME: Tests for message filtering, conversion, and input validation
// ABOUTME: Covers hidden message types, heartbeats, role mapping, and length limits

package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-gateway/internal/letta"
)

func TestFilterMessages_HidesSystemMessages(t *testing.T) {
	messages := []letta.Message{
		{ID: "m1", MessageType: "system_message", Content: "internal prompt"},
		{ID: "m2", MessageType: "user_message", Content: "hello"},
	}

	filtered := filterMessages(messages)
	require.Len(t, filtered, 1)
	assert.Equal(t, "m2", filtered[0].ID)
}

func TestFilterMessages_HidesHeartbeats(t *testing.T) {
	messages := []letta.Message{
		{ID: "m1", MessageType: "user_message", Content: `{"type": "heartbeat", "reason": "timer"}`},
		{ID: "m2", MessageType: "user_message", Content: "real message"},
		{ID: "m3", MessageType: "user_message", Content: `{"type": "login"}`},
	}

	filtered := filterMessages(messages)
	require.Len(t, filtered, 2)
	assert.Equal(t, "m2", filtered[0].ID)
	assert.Equal(t, "m3", filtered[1].ID, "non-heartbeat JSON content stays visible")
}

func TestFilterMessages_NonJSONContentKept(t *testing.T) {
	messages := []letta.Message{
		{ID: "m1", MessageType: "user_message", Content: "{not json"},
	}
	assert.Len(t, filterMessages(messages), 1)
}

func TestFilterMessages_SortsByDate(t *testing.T) {
	messages := []letta.Message{
		{ID: "late", MessageType: "user_message", Content: "b", Date: "2026-01-02T00:00:00Z"},
		{ID: "early", MessageType: "user_message", Content: "a", Date: "2026-01-01T00:00:00Z"},
	}

	filtered := filterMessages(messages)
	require.Len(t, filtered, 2)
	assert.Equal(t, "early", filtered[0].ID)
	assert.Equal(t, "late", filtered[1].ID)
}

func TestConvertMessages_RoleMapping(t *testing.T) {
	tests := []struct {
		messageType string
		wantRole    string
	}{
		{"user_message", "user"},
		{"assistant_message", "assistant"},
		{"system_message", "system"},
		{"tool_message", "tool_call"},
		{"reasoning_message", "reasoning"},
		{"something_new", "assistant"},
	}

	for _, tt := range tests {
		t.Run(tt.messageType, func(t *testing.T) {
			converted := convertMessages([]letta.Message{
				{ID: "m1", MessageType: tt.messageType, Content: "body"},
			})
			require.Len(t, converted, 1)
			assert.Equal(t, tt.wantRole, converted[0].Role)
		})
	}
}

func TestConvertMessages_AssistantMarkdownRendered(t *testing.T) {
	converted := convertMessages([]letta.Message{
		{ID: "m1", MessageType: "assistant_message", Content: "# Hello\n\nSome *emphasis*."},
	})
	require.Len(t, converted, 1)
	assert.Contains(t, converted[0].ContentHTML, "<h1>Hello</h1>")
	assert.Contains(t, converted[0].ContentHTML, "<em>emphasis</em>")
	assert.Equal(t, "# Hello\n\nSome *emphasis*.", converted[0].Content,
		"raw markdown stays available alongside the HTML")
}

func TestConvertMessages_UserContentNotRendered(t *testing.T) {
	converted := convertMessages([]letta.Message{
		{ID: "m1", MessageType: "user_message", Content: "# not a heading"},
	})
	require.Len(t, converted, 1)
	assert.Empty(t, converted[0].ContentHTML)
}

func TestConvertMessages_MissingIDGetsFallback(t *testing.T) {
	converted := convertMessages([]letta.Message{
		{MessageType: "user_message", Content: "hello"},
	})
	require.Len(t, converted, 1)
	assert.Equal(t, "msg_0_user", converted[0].ID)
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []letta.MessageInput
		wantErr  string
	}{
		{
			name:     "valid user message",
			messages: []letta.MessageInput{{Role: "user", Content: "hello"}},
		},
		{
			name: "valid mixed roles",
			messages: []letta.MessageInput{
				{Role: "system", Content: "context"},
				{Role: "assistant", Content: "earlier reply"},
				{Role: "user", Content: "question"},
			},
		},
		{
			name:    "empty batch",
			wantErr: "messages cannot be empty",
		},
		{
			name:     "unknown role",
			messages: []letta.MessageInput{{Role: "tool", Content: "x"}},
			wantErr:  "invalid message role",
		},
		{
			name:     "empty content",
			messages: []letta.MessageInput{{Role: "user", Content: ""}},
			wantErr:  "content cannot be empty",
		},
		{
			name:     "content at limit",
			messages: []letta.MessageInput{{Role: "user", Content: strings.Repeat("a", 4000)}},
		},
		{
			name:     "content over limit",
			messages: []letta.MessageInput{{Role: "user", Content: strings.Repeat("a", 4001)}},
			wantErr:  "too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessages(tt.messages)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
