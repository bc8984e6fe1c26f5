package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"expertgate/internal/models"
)

// GatewayInvoker asks the platform's agent endpoint, which runs retrieval and
// returns the references the answer was built from.
type GatewayInvoker struct {
	httpClient *http.Client
	BaseURL    string
	Token      string
}

// NewGatewayInvoker creates an invoker for the gateway at baseURL
func NewGatewayInvoker(baseURL, token string) *GatewayInvoker {
	return &GatewayInvoker{
		httpClient: &http.Client{},
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
	}
}

type invokeRequest struct {
	Prompt string `json:"prompt"`
}

// Invoke posts prompt to /agents/{agentID}/invoke
func (g *GatewayInvoker) Invoke(ctx context.Context, agentID, prompt string) (*models.AgentAnswer, error) {
	body, err := json.Marshal(invokeRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/agents/%s/invoke", g.BaseURL, url.PathEscape(agentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var answer models.AgentAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to decode agent gateway response: %w", err)
	}
	if answer.References == nil {
		answer.References = []models.Reference{}
	}
	return &answer, nil
}
