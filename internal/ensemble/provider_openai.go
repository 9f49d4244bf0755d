package ensemble

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

// OpenAIProvider critiques screenshots through the OpenAI chat
// completions API with image input.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider builds a provider using the given API key and model
// (for example "gpt-4-turbo").
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Name reports the stable roster name used in results and metrics. The
// roster name is fixed even when the underlying model id is upgraded, so
// stored analyses stay comparable across model swaps.
func (p *OpenAIProvider) Name() string { return "gpt-4-vision" }

// Analyze sends the screenshot URL and parses the critique.
func (p *OpenAIProvider) Analyze(ctx context.Context, imageURL string) (roast.ProviderAnalysis, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: 1024,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: roastPrompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return roast.ProviderAnalysis{}, fmt.Errorf("openai completion: empty response")
	}
	analysis := parseAnalysis(resp.Choices[0].Message.Content)
	analysis.Provider = p.Name()
	return analysis, nil
}
