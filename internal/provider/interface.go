// Package provider builds the chat model that phrases FAQ answers. The
// backend is chosen at runtime from MODEL_PROVIDER; each backend reads its
// own native credential env vars.
package provider

import (
	"errors"
	"fmt"
)

// Backend enumerates the supported chat model providers.
type Backend string

const (
	// BackendGemini selects Google Gemini through the AI Studio API.
	BackendGemini Backend = "gemini"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
)

// Config holds the provider configuration resolved from env vars or set
// explicitly by the caller.
type Config struct {
	Backend     Backend
	Gemini      ProviderGemini
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Tuning      SharedTuning
}

// ProviderGemini configures the Gemini backend.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk configures the Volcengine Ark backend.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// SharedTuning holds generation settings common to every backend.
type SharedTuning struct {
	// MaxTokens caps the generated reply length.
	MaxTokens int
	// Temperature controls randomness (0.0-1.0).
	Temperature float32
}

// Validate reports every missing setting for the selected backend, naming
// the env var that supplies it.
func (c *Config) Validate() error {
	var errs []error
	missing := func(v, env string) {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required for %s backend", env, c.Backend))
		}
	}

	switch c.Backend {
	case BackendGemini:
		missing(c.Gemini.APIKey, "GOOGLE_API_KEY")
		missing(c.Gemini.Model, "GEMINI_MODEL")
	case BackendOllama:
		missing(c.Ollama.Host, "OLLAMA_HOST")
		missing(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		missing(c.OpenAI.APIKey, "OPENAI_API_KEY")
		missing(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		missing(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		missing(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		missing(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		missing(c.Ark.APIKey, "ARK_API_KEY")
		missing(c.Ark.Model, "ARK_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: gemini, ollama, openai, azure, ark", c.Backend)
	}

	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		errs = append(errs, fmt.Errorf("MODEL_TEMPERATURE %g is outside [0, 2]", c.Tuning.Temperature))
	}
	if c.Tuning.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("MODEL_MAX_TOKENS must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("provider: invalid config: %w", err)
	}
	return nil
}

// ModelName returns the model or deployment the backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendGemini:
		return c.Gemini.Model
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}
