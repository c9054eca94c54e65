package provider

import (
	"context"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		// Gemini
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test", Model: "gemini-2.0-flash"}},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{Model: "gemini-2.0-flash"}},
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name:    "gemini/missing model",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test"}},
			wantErr: "GEMINI_MODEL",
		},

		// Ollama
		{
			name: "ollama/valid",
			cfg:  Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434", Model: "llama3"}},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434"}},
			wantErr: "OLLAMA_MODEL",
		},

		// OpenAI
		{
			name: "openai/valid",
			cfg:  Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o-mini"}},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{Model: "gpt-4o-mini"}},
			wantErr: "OPENAI_API_KEY",
		},

		// Azure
		{
			name: "azure/valid",
			cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
				APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4.1", APIVersion: "2024-02-01",
			}},
		},
		{
			name: "azure/missing endpoint",
			cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
				APIKey: "key", Deployment: "gpt-4.1",
			}},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "azure/missing deployment",
			cfg: Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{
				APIKey: "key", Endpoint: "https://my.openai.azure.com",
			}},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},

		// Ark
		{
			name: "ark/valid",
			cfg:  Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ark-key", Model: "doubao-pro"}},
		},
		{
			name:    "ark/missing model",
			cfg:     Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ark-key"}},
			wantErr: "ARK_MODEL",
		},

		// Shared tuning
		{
			name: "temperature out of range",
			cfg: Config{
				Backend: BackendOllama,
				Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
				Tuning:  SharedTuning{Temperature: 3},
			},
			wantErr: "MODEL_TEMPERATURE",
		},

		{
			name:    "unknown backend",
			cfg:     Config{Backend: "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigValidate_ReportsEveryMissingSetting(t *testing.T) {
	t.Parallel()

	cfg := Config{Backend: BackendAzure}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestModelName(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Gemini:      ProviderGemini{Model: "gemini-2.0-flash"},
		Ollama:      ProviderOllama{Model: "llama3"},
		OpenAI:      ProviderOpenAI{Model: "gpt-4o-mini"},
		AzureOpenAI: ProviderAzureOpenAI{Deployment: "gpt-4.1"},
		Ark:         ProviderArk{Model: "doubao-pro"},
	}
	want := map[Backend]string{
		BackendGemini: "gemini-2.0-flash",
		BackendOllama: "llama3",
		BackendOpenAI: "gpt-4o-mini",
		BackendAzure:  "gpt-4.1",
		BackendArk:    "doubao-pro",
		"unknown":     "",
	}
	for b, name := range want {
		c := cfg
		c.Backend = b
		if got := c.ModelName(); got != name {
			t.Errorf("ModelName() for %s = %q, want %q", b, got, name)
		}
	}
}

// TestConfigFromEnv is not parallel: it mutates the process environment.
func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("GEMINI_MODEL", "")
	t.Setenv("GOOGLE_API_KEY", "AIza-env")
	t.Setenv("MODEL_MAX_TOKENS", "256")
	t.Setenv("MODEL_TEMPERATURE", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendGemini {
		t.Errorf("Backend = %q, want gemini", cfg.Backend)
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("Gemini.Model = %q, want gemini-2.0-flash", cfg.Gemini.Model)
	}
	if cfg.Gemini.APIKey != "AIza-env" {
		t.Errorf("Gemini.APIKey = %q", cfg.Gemini.APIKey)
	}
	if cfg.Tuning.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d, want 256", cfg.Tuning.MaxTokens)
	}
	if cfg.Tuning.Temperature != 0.2 {
		t.Errorf("Temperature = %g, want 0.2", cfg.Tuning.Temperature)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{Backend: BackendOpenAI})
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("New() error = %v, want missing OPENAI_API_KEY", err)
	}
}

func TestNew_Ollama(t *testing.T) {
	t.Parallel()

	m, err := New(context.Background(), &Config{
		Backend: BackendOllama,
		Ollama:  ProviderOllama{Host: "http://127.0.0.1:1", Model: "llama3"},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if m == nil {
		t.Fatal("New() returned nil model")
	}
}
