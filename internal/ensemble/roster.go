package ensemble

// Credentials names the per-vendor API keys and model ids.
type Credentials struct {
	OpenAIKey      string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
	GeminiKey      string
	GeminiModel    string
}

// Default voting weights. OpenAI anchors the ensemble; the others temper
// it. Weights are renormalized over the survivors of each call, so a
// missing or failed provider never skews the scale.
const (
	openAIWeight    = 0.5
	anthropicWeight = 0.3
	geminiWeight    = 0.2
)

// DefaultRoster builds the standard three-model roster, skipping any
// vendor without an API key.
func DefaultRoster(creds Credentials) ([]Provider, []float64) {
	var providers []Provider
	var weights []float64
	if creds.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(creds.OpenAIKey, creds.OpenAIModel))
		weights = append(weights, openAIWeight)
	}
	if creds.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(creds.AnthropicKey, creds.AnthropicModel))
		weights = append(weights, anthropicWeight)
	}
	if creds.GeminiKey != "" {
		providers = append(providers, NewGeminiProvider(creds.GeminiKey, creds.GeminiModel))
		weights = append(weights, geminiWeight)
	}
	return providers, weights
}
