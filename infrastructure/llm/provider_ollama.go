package llm

const (
	// OllamaDefaultModel is used when no model is configured.
	OllamaDefaultModel = "llama3.1"
	// OllamaDefaultBaseURL is Ollama's OpenAI-compatible endpoint.
	OllamaDefaultBaseURL = "http://localhost:11434/v1"

	// ollamaPlaceholderKey satisfies the OpenAI client, which always sends a
	// bearer token. Local servers ignore it.
	ollamaPlaceholderKey = "ollama"
)

func init() {
	RegisterProviderFactory("ollama", newOllamaProvider)
}

// newOllamaProvider creates a provider for a local OpenAI-compatible server
// (Ollama, LM Studio, vLLM). No credential is required. Tool calls are
// emulated because small local models handle function calling unreliably.
func newOllamaProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		config.APIKey = ollamaPlaceholderKey
	}
	if config.BaseURL == "" {
		config.BaseURL = OllamaDefaultBaseURL
	}
	return buildOpenAICompatible("ollama", config, OllamaDefaultModel, true)
}
