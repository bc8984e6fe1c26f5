package agentclient

import (
	"fmt"
	"os"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"expertgate/internal/config"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	OpenAIProvider       ProviderType = "openai"
	GitHubModelsProvider ProviderType = "github_models"
	CompatibleProvider   ProviderType = "openai_compatible"
)

const githubModelsURL = "https://models.inference.ai.azure.com"

// ModelRegistry manages available LLM models
type ModelRegistry struct {
	providers map[string]config.ModelConfig
	instances map[string]llms.Model
	mu        sync.RWMutex
}

// NewModelRegistry creates a registry over the configured models
func NewModelRegistry(models map[string]config.ModelConfig) *ModelRegistry {
	providers := make(map[string]config.ModelConfig, len(models))
	for name, m := range models {
		providers[name] = m
	}
	return &ModelRegistry{
		providers: providers,
		instances: make(map[string]llms.Model),
	}
}

// Register installs a ready model under name, replacing any configured one
func (r *ModelRegistry) Register(name string, model llms.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[name] = model
}

// GetModel returns an initialized LLM instance
func (r *ModelRegistry) GetModel(name string) (llms.Model, error) {
	// Return cached instance if available
	r.mu.RLock()
	model, exists := r.instances[name]
	r.mu.RUnlock()
	if exists {
		return model, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if model, exists := r.instances[name]; exists {
		return model, nil
	}

	// Get provider configuration
	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("unknown model: %s", name)
	}

	// Initialize the model
	model, err := initializeModel(provider)
	if err != nil {
		return nil, err
	}

	// Cache the instance
	r.instances[name] = model
	return model, nil
}

// initializeModel creates a new LLM instance based on provider type
func initializeModel(provider config.ModelConfig) (llms.Model, error) {
	keyEnv := provider.APIKeyEnv
	baseURL := provider.BaseURL

	switch ProviderType(provider.Provider) {
	case OpenAIProvider, "":
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
	case GitHubModelsProvider:
		// GitHub Models uses an OpenAI-compatible API
		if keyEnv == "" {
			keyEnv = "GITHUB_TOKEN"
		}
		if baseURL == "" {
			baseURL = githubModelsURL
		}
	case CompatibleProvider:
		if baseURL == "" {
			return nil, fmt.Errorf("model %s needs a base_url", provider.Name)
		}
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", provider.Provider)
	}

	opts := []openai.Option{openai.WithModel(provider.Name)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	token := "unused"
	if keyEnv != "" {
		token = os.Getenv(keyEnv)
		if token == "" {
			return nil, fmt.Errorf("%s environment variable not set", keyEnv)
		}
	}
	opts = append(opts, openai.WithToken(token))

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s model %s: %w", provider.Provider, provider.Name, err)
	}
	return llm, nil
}
