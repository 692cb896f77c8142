package config

const (
	DefaultProviderBaseURL   = "http://127.0.0.1:8080/v1"
	DefaultProviderModel     = "nox"
	DefaultProviderTimeoutMS = 120000

	DefaultRuntimeMaxRetries        = 2
	DefaultRuntimeRetryBackoffMS    = 150
	DefaultRuntimeContextTokenLimit = 8192

	DefaultScoreThreshold          = 0.4
	DefaultInstrumentPollMS        = 500
	DefaultInstrumentWaitTimeoutMS = 120000

	DefaultShellTimeoutMS        = 30000
	DefaultShellOutputLimitBytes = 64 << 10
)

const (
	ScorerHeuristic = "heuristic"
	ScorerBackend   = "backend"

	InstrumentKindOpenAI    = "openai"
	InstrumentKindAnthropic = "anthropic"
	InstrumentKindGemini    = "gemini"
)

// DefaultRoster is offered when no roster is configured.
var DefaultRoster = []string{"claude", "gpt-4o", "gpt-4", "grok", "gemini", "llama", "mistral", "cohere", "deepseek"}
