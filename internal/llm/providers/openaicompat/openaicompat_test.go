package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/SceneForge/internal/llm"
)

func TestCompleteText(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"m-1","choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	provider, err := llm.GetProvider("openai", map[string]string{"api_key": "key-1", "base_url": server.URL + "/"})
	require.NoError(t, err)

	resp, err := provider.CompleteText(context.Background(), llm.CompletionRequest{
		Prompt:       "hi",
		SystemPrompt: "be terse",
		JSONMode:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, 12, resp.TokensUsed)
	assert.Equal(t, "OpenAI", resp.ProviderName)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
}

func TestCompleteTextErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider, err := llm.GetProvider("openrouter", map[string]string{"api_key": "k", "base_url": server.URL})
	require.NoError(t, err)

	_, err = provider.CompleteText(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestInitializeRequiresKey(t *testing.T) {
	_, err := llm.GetProvider("openai", map[string]string{})
	assert.Error(t, err)

	_, err = llm.GetProvider("nope", map[string]string{"api_key": "k"})
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
}
