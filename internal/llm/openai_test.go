package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardassist/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

func fakeChat(t *testing.T, reply string, captured *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if captured != nil {
			*captured = req
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}, "finish_reason": "stop"}},
		})
	}))
}

func TestCompleteMapsMessagesAndTrims(t *testing.T) {
	var captured chatRequest
	srv := fakeChat(t, "  the answer  \n", &captured)
	defer srv.Close()

	client := NewOpenAIChat(Config{BaseURL: srv.URL + "/v1", Model: "test-model"})
	got, err := client.Complete(context.Background(), domain.ChatRequest{
		System: "be terse",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleUser, Content: "limit?"},
		},
		Temperature: 0.2,
		MaxTokens:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", got)

	require.Len(t, captured.Messages, 4)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "be terse", captured.Messages[0].Content)
	assert.Equal(t, "assistant", captured.Messages[2].Role)
	assert.Equal(t, "test-model", captured.Model)
	assert.Equal(t, 100, captured.MaxTokens)
	assert.InDelta(t, 0.2, captured.Temperature, 1e-6)
}

func TestCompleteZeroTemperatureStillSerialized(t *testing.T) {
	var captured chatRequest
	srv := fakeChat(t, "ok", &captured)
	defer srv.Close()

	client := NewOpenAIChat(Config{BaseURL: srv.URL + "/v1", Model: "test-model"})
	_, err := client.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "route this"}},
	})
	require.NoError(t, err)
	assert.Greater(t, captured.Temperature, float32(0))
	assert.Less(t, captured.Temperature, float32(1e-6))
}

func TestCompleteUnreachableEndpoint(t *testing.T) {
	client := NewOpenAIChat(Config{BaseURL: "http://127.0.0.1:1/v1", Model: "test-model"})
	_, err := client.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "x", "object": "chat.completion", "choices": []any{}})
	}))
	defer srv.Close()

	client := NewOpenAIChat(Config{BaseURL: srv.URL + "/v1", Model: "test-model"})
	_, err := client.Complete(context.Background(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyCompletion)
}
