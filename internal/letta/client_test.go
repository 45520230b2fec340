// ABOUTME: Tests for the upstream runtime client using httptest servers
// ABOUTME: Validates request shapes, error normalization, and read retry behavior

package letta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-key", 5*time.Second)
}

func TestClient_CreateBlock(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody map[string]string

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Block{ID: "block-123", Label: "persona", Value: "hello"})
	}))

	block, err := client.CreateBlock(context.Background(), "persona", "hello")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1/blocks/", gotPath)
	assert.Equal(t, map[string]string{"label": "persona", "value": "hello"}, gotBody)
	assert.Equal(t, "block-123", block.ID)
}

func TestClient_AttachDetachBlock(t *testing.T) {
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	ctx := context.Background()
	require.NoError(t, client.AttachBlock(ctx, "agent-1", "block-1"))
	require.NoError(t, client.DetachBlock(ctx, "agent-1", "block-1"))

	assert.Equal(t, []string{
		"/v1/agents/agent-1/core-memory/blocks/attach/block-1",
		"/v1/agents/agent-1/core-memory/blocks/detach/block-1",
	}, paths)
}

func TestClient_ListAgents_TagFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/", r.URL.Path)
		assert.Equal(t, []string{"user:u1"}, r.URL.Query()["tags"])
		assert.Equal(t, "true", r.URL.Query().Get("matchAllTags"))
		json.NewEncoder(w).Encode([]Agent{{ID: "agent-1", Tags: []string{"user:u1"}}})
	}))

	agents, err := client.ListAgents(context.Background(), []string{"user:u1"}, true)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].ID)
}

func TestClient_SendMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/agents/agent-1/messages", r.URL.Path)

		var body map[string][]MessageInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body["messages"], 1)
		assert.Equal(t, "user", body["messages"][0].Role)

		json.NewEncoder(w).Encode(SendMessageResponse{Messages: []Message{
			{ID: "msg-1", MessageType: "assistant_message", Content: "hi there"},
		}})
	}))

	resp, err := client.SendMessage(context.Background(), "agent-1",
		[]MessageInput{{Role: "user", Content: "hello"}})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi there", resp.Messages[0].Content)
}

func TestClient_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetAgent(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestClient_ServerError_IsUnavailable(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.AttachBlock(context.Background(), "agent-1", "block-1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestClient_NetworkError_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on
	client := New(srv.URL, "test-key", time.Second)

	err := client.DetachBlock(context.Background(), "agent-1", "block-1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestClient_IdempotentRead_RetriesOnce(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode([]Agent{{ID: "agent-1"}})
	}))

	agents, err := client.ListAgents(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Send_NeverRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.SendMessage(context.Background(), "agent-1",
		[]MessageInput{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CircuitBreaker_OpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx := context.Background()
	for i := 0; i < int(breakerMaxFailures); i++ {
		err := client.AttachBlock(ctx, "agent-1", "block-1")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	}
	seen := calls.Load()

	// Circuit is now open: calls fail fast without hitting the server
	err := client.AttachBlock(ctx, "agent-1", "block-1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, seen, calls.Load())
}

func TestClient_NotFound_DoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	ctx := context.Background()
	for i := 0; i < int(breakerMaxFailures)+2; i++ {
		err := client.DeleteAgent(ctx, "ghost")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	}
	// Every call reached the server: 404s never open the circuit
	assert.Equal(t, int32(breakerMaxFailures+2), calls.Load())
}

func TestClient_ListArchivalMemory_Pagination(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/agent-1/archival-memory", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "cursor-a", r.URL.Query().Get("after"))
		json.NewEncoder(w).Encode([]Passage{{ID: "p1", Text: "remembered"}})
	}))

	passages, err := client.ListArchivalMemory(context.Background(), "agent-1", 10, "cursor-a", "")
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "remembered", passages[0].Text)
}

func TestTruncate_NeverSplitsARune(t *testing.T) {
	long := strings.Repeat("é", 150) // 2 bytes per rune, 300 bytes total

	got := truncate(long, 201)
	assert.True(t, utf8.ValidString(got), "truncation must not produce invalid UTF-8")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, strings.Repeat("é", 100)+"...", got)

	// Short strings pass through untouched
	assert.Equal(t, "héllo", truncate("héllo", 200))
}
