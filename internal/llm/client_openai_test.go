package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"personalens/internal/config"
)

type openaiMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

func openaiTestServer(t *testing.T, got *openaiRequest, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		})
	}))
}

func TestOpenAICompleteWithSystem(t *testing.T) {
	var got openaiRequest
	srv := openaiTestServer(t, &got, "hello there")
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{
		Provider: "openai",
		APIKey:   "test-key",
		Model:    "gpt-4o-mini",
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)

	out, err := c.CompleteWithSystem(context.Background(), "you are terse", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	// System content goes over the wire as a plain string
	assert.Equal(t, "you are terse", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "say hi", got.Messages[1].Content)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 4000, got.MaxTokens)
}

func TestOpenAICompleteJSONAppendsInstruction(t *testing.T) {
	var got openaiRequest
	srv := openaiTestServer(t, &got, `{"ok":true}`)
	defer srv.Close()

	c, err := NewOpenAIClient(config.LLMConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.CompleteJSON(context.Background(), "classify this", "some text")
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	sys, ok := got.Messages[0].Content.(string)
	require.True(t, ok)
	assert.Contains(t, sys, "classify this")
	assert.Contains(t, sys, "valid JSON only")
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)
}
