package agentclient

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"expertgate/internal/apperr"
	"expertgate/internal/config"
	"expertgate/internal/models"
)

// LLMInvoker answers evaluation questions by calling the agent's model directly.
// Such agents have no retrieval step, so their answers carry no references.
type LLMInvoker struct {
	registry     *ModelRegistry
	agents       map[string]config.AgentProfile
	defaultModel string
}

// NewLLMInvoker creates an invoker over the configured agent profiles
func NewLLMInvoker(registry *ModelRegistry, agents map[string]config.AgentProfile, defaultModel string) *LLMInvoker {
	return &LLMInvoker{registry: registry, agents: agents, defaultModel: defaultModel}
}

// Invoke sends prompt to the model behind agentID
func (i *LLMInvoker) Invoke(ctx context.Context, agentID, prompt string) (*models.AgentAnswer, error) {
	profile, ok := i.agents[agentID]
	if !ok {
		return nil, apperr.Validation("agent %s has no model profile configured", agentID)
	}

	name := profile.Model
	if name == "" {
		name = i.defaultModel
	}
	model, err := i.registry.GetModel(name)
	if err != nil {
		return nil, err
	}

	var messages []llms.MessageContent
	if profile.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, profile.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, prompt))

	response, err := model.GenerateContent(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	if response == nil || len(response.Choices) == 0 {
		return nil, fmt.Errorf("empty response from model %s", name)
	}

	return &models.AgentAnswer{
		Response:   response.Choices[0].Content,
		References: []models.Reference{},
		Model:      name,
	}, nil
}
