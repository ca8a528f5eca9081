package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	mistralAPIURL = "https://api.mistral.ai/v1/embeddings"

	// mistral-embed produces 1024-dimensional vectors.
	mistralModel      = "mistral-embed"
	mistralDimensions = 1024
)

// MistralClient implements Embedder against the Mistral embeddings API.
type MistralClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewMistralClient creates a new Mistral embeddings client. baseURL
// overrides the endpoint when non-empty.
func NewMistralClient(apiKey, baseURL string) *MistralClient {
	if baseURL == "" {
		baseURL = mistralAPIURL
	}
	return &MistralClient{
		apiKey:  apiKey,
		model:   mistralModel,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Dimensions returns the vector width the model produces.
func (c *MistralClient) Dimensions() int {
	return mistralDimensions
}

type mistralRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type mistralResponse struct {
	Model string             `json:"model"`
	Data  []mistralEmbedding `json:"data"`
	Usage mistralUsage       `json:"usage"`
}

type mistralEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type mistralUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type mistralError struct {
	Message string `json:"message"`
}

// Embed computes the embedding of one text.
func (c *MistralClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(mistralRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp mistralError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var embResp mistralResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(embResp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embResp.Data[0].Embedding, nil
}
