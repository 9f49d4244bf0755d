package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
)

// AnthropicProvider critiques screenshots through the Anthropic messages
// API. Anthropic takes images inline, so the provider downloads the
// screenshot and ships it base64-encoded.
type AnthropicProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropicProvider builds a provider for the given key and model
// (for example "claude-3-5-sonnet-20241022").
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

// Name reports the stable roster name used in results and metrics.
func (p *AnthropicProvider) Name() string { return "claude-3-opus" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze downloads the screenshot, calls the messages API, and parses
// the critique.
func (p *AnthropicProvider) Analyze(ctx context.Context, imageURL string) (roast.ProviderAnalysis, error) {
	imageData, mediaType, err := fetchImageBase64(ctx, p.httpClient, imageURL)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: %w", err)
	}

	reqBody := anthropicRequest{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []anthropicContent{
				{
					Type: "image",
					Source: &anthropicSource{
						Type:      "base64",
						MediaType: mediaType,
						Data:      imageData,
					},
				},
				{Type: "text", Text: roastPrompt},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicEndpoint, bytes.NewReader(payload))
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := "unknown error"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, msg)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return roast.ProviderAnalysis{}, fmt.Errorf("anthropic: response contained no text block")
	}

	analysis := parseAnalysis(text)
	analysis.Provider = p.Name()
	return analysis, nil
}
