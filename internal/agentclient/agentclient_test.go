package agentclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"expertgate/internal/apperr"
	"expertgate/internal/config"
)

type fakeModel struct {
	answer   string
	messages []llms.MessageContent
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return m.answer, nil
}

func TestLLMInvoker(t *testing.T) {
	model := &fakeModel{answer: "Lead with the result [1]."}
	registry := NewModelRegistry(nil)
	registry.Register("coach", model)

	invoker := NewLLMInvoker(registry, map[string]config.AgentProfile{
		"agent-1": {Model: "coach", SystemPrompt: "You are an interview coach."},
	}, "coach")

	answer, err := invoker.Invoke(context.Background(), "agent-1", "How do I open?")
	require.NoError(t, err)

	assert.Equal(t, "Lead with the result [1].", answer.Response)
	assert.Equal(t, "coach", answer.Model)
	assert.Empty(t, answer.References)
	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)

	_, err = invoker.Invoke(context.Background(), "agent-2", "hi")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestModelRegistryUnknown(t *testing.T) {
	registry := NewModelRegistry(map[string]config.ModelConfig{
		"weird": {Provider: "carrier-pigeon", Name: "coo"},
	})

	_, err := registry.GetModel("missing")
	assert.EqualError(t, err, "unknown model: missing")

	_, err = registry.GetModel("weird")
	assert.EqualError(t, err, "unsupported model provider: carrier-pigeon")
}

func TestModelRegistryMissingKey(t *testing.T) {
	t.Setenv("EXPERTGATE_TEST_KEY", "")
	registry := NewModelRegistry(map[string]config.ModelConfig{
		"gpt": {Provider: "openai", Name: "gpt-4o-mini", APIKeyEnv: "EXPERTGATE_TEST_KEY"},
	})

	_, err := registry.GetModel("gpt")
	assert.EqualError(t, err, "EXPERTGATE_TEST_KEY environment variable not set")
}

func TestGatewayInvoker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/agent%2F1/invoke", r.URL.EscapedPath())
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))

		var req invokeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "How do I open?", req.Prompt)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Use STAR [1][2]","references":[{"name":"guide.pdf","similarity":0.75},{"name":"faq.md","similarity":0.8}],"model":"rag-v2"}`))
	}))
	defer server.Close()

	answer, err := NewGatewayInvoker(server.URL+"/", "tkn").Invoke(context.Background(), "agent/1", "How do I open?")
	require.NoError(t, err)

	assert.Equal(t, "Use STAR [1][2]", answer.Response)
	assert.Len(t, answer.References, 2)
	assert.Equal(t, 0.8, answer.References[1].Similarity)
	assert.Equal(t, "rag-v2", answer.Model)
}

func TestGatewayInvokerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewGatewayInvoker(server.URL, "").Invoke(context.Background(), "a1", "hi")
	assert.ErrorContains(t, err, "agent gateway returned status 503: agent overloaded")
}
