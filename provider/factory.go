package provider

import (
	"fmt"
	"os"
	"time"

	"github.com/alphagauge/biasbench/domain"
)

// EnvBiasbenchMode selects mock mode when set to "MOCK": every agent resolves
// to the offline backend regardless of provider, useful for local runs
// without credentials.
const EnvBiasbenchMode = "BIASBENCH_MODE"

// ModeMock is the mock-mode value of EnvBiasbenchMode.
const ModeMock = "MOCK"

// defaultCredentialEnvs maps providers to their conventional API-key
// environment variables, used when the agent config does not name one.
var defaultCredentialEnvs = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
	"together":  "TOGETHER_API_KEY",
	"nvidia":    "NVIDIA_API_KEY",
}

var defaultBaseURLs = map[string]string{
	"openai":    OpenAIBaseURL,
	"anthropic": AnthropicBaseURL,
	"groq":      GroqBaseURL,
	"together":  TogetherBaseURL,
	"nvidia":    NvidiaBaseURL,
}

// Factory resolves a Client for an agent's configured backend. One
// implementation per backend variant, selected by configuration.
type Factory interface {
	ForAgent(agent *domain.Agent) (Client, error)
}

type factory struct {
	timeout time.Duration
}

// NewFactory creates the default factory. timeout bounds each provider call
// at the transport level; the orchestrator applies its own per-call context
// deadline on top.
func NewFactory(timeout time.Duration) Factory {
	return &factory{timeout: timeout}
}

// SupportedProviders lists the backend variants the factory can build.
var SupportedProviders = []string{"openai", "anthropic", "groq", "together", "nvidia", "mock"}

// ForAgent implements Factory. An unknown provider or missing credential is a
// FatalError: it will recur identically for every call to the agent.
func (f *factory) ForAgent(agent *domain.Agent) (Client, error) {
	if os.Getenv(EnvBiasbenchMode) == ModeMock {
		return NewMockClient(), nil
	}

	p := agent.Provider
	if p == "mock" {
		return NewMockClient(), nil
	}

	baseURL := defaultBaseURLs[p]
	if agent.Config.EndpointOverride != "" {
		baseURL = agent.Config.EndpointOverride
	}
	if baseURL == "" {
		return nil, &FatalError{Provider: p, Err: fmt.Errorf("unsupported provider %q", p)}
	}

	credentialEnv := agent.Config.CredentialEnv
	if credentialEnv == "" {
		credentialEnv = defaultCredentialEnvs[p]
	}
	apiKey := os.Getenv(credentialEnv)
	if apiKey == "" {
		return nil, &FatalError{Provider: p, Err: fmt.Errorf("credential %s is not configured", credentialEnv)}
	}

	switch p {
	case "anthropic":
		return NewAnthropicClient(baseURL, apiKey, f.timeout), nil
	default:
		return NewOpenAIClient(p, baseURL, apiKey, f.timeout), nil
	}
}
