package ensemble

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiProvider critiques screenshots through the Gemini generateContent
// API, shipping the image inline as base64.
type GeminiProvider struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGeminiProvider builds a provider for the given key and model
// (for example "gemini-1.5-flash").
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

// Name reports the stable roster name used in results and metrics.
func (p *GeminiProvider) Name() string { return "gemini-pro" }

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Analyze downloads the screenshot, calls generateContent, and parses the
// critique.
func (p *GeminiProvider) Analyze(ctx context.Context, imageURL string) (roast.ProviderAnalysis, error) {
	imageData, mediaType, err := fetchImageBase64(ctx, p.httpClient, imageURL)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: %w", err)
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: roastPrompt},
				{InlineData: &geminiInlineData{MimeType: mediaType, Data: imageData}},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		geminiBaseURL, url.PathEscape(p.model), url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	if parsed.Error != nil {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: status %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return roast.ProviderAnalysis{}, fmt.Errorf("gemini: response contained no candidates")
	}

	analysis := parseAnalysis(parsed.Candidates[0].Content.Parts[0].Text)
	analysis.Provider = p.Name()
	return analysis, nil
}
