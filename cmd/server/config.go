package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mindcare-mx/mindcare-web/internal/handlers"
	"github.com/mindcare-mx/mindcare-web/internal/services"
	"gopkg.in/yaml.v3"
)

// config is resolved from the environment (a .env file is honoured), with an
// optional YAML overlay for the fields that are awkward as env vars.
type config struct {
	Port       string `env:"PORT" envDefault:"3000"`
	ConfigPath string `env:"MINDCARE_CONFIG"`

	LLMProvider     string `env:"LLM_PROVIDER"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AzureEndpoint   string `env:"AZURE_ENDPOINT"`
	AzureAPIKey     string `env:"AZURE_API_KEY"`
	AzureDeployment string `env:"AZURE_DEPLOYMENT"`
	OllamaHost      string `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	OllamaModel     string `env:"OLLAMA_MODEL"`

	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	ModerationProvider string        `env:"MODERATION_PROVIDER" envDefault:"off"`
	LLMTimeout         time.Duration `env:"LLM_TIMEOUT" envDefault:"2m"`

	OverpassURL     string        `env:"OVERPASS_URL"`
	NearbyCachePath string        `env:"NEARBY_CACHE_PATH" envDefault:"nearby-cache.db"`
	NearbyCacheTTL  time.Duration `env:"NEARBY_CACHE_TTL" envDefault:"24h"`

	SystemPrompt string `env:"-"`
}

// fileConfig is the YAML overlay. The llm section selects a provider variant
// the same way the env auto-detection does, but explicitly.
type fileConfig struct {
	Port         string        `yaml:"port"`
	SystemPrompt string        `yaml:"systemPrompt"`
	LLM          llmFileConfig `yaml:"llm"`
}

type llmFileConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	Host       string `yaml:"host"`
}

func (c *config) applyFile(raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("error decoding config file: %w", err)
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.SystemPrompt != "" {
		c.SystemPrompt = fc.SystemPrompt
	}
	if fc.LLM.Provider != "" {
		c.LLMProvider = fc.LLM.Provider
	}
	switch fc.LLM.Provider {
	case "openai":
		if fc.LLM.Model != "" {
			c.OpenAIModel = fc.LLM.Model
		}
	case "azure":
		if fc.LLM.Endpoint != "" {
			c.AzureEndpoint = fc.LLM.Endpoint
		}
		if fc.LLM.Deployment != "" {
			c.AzureDeployment = fc.LLM.Deployment
		}
	case "ollama":
		if fc.LLM.Host != "" {
			c.OllamaHost = fc.LLM.Host
		}
		if fc.LLM.Model != "" {
			c.OllamaModel = fc.LLM.Model
		}
	case "":
	default:
		return fmt.Errorf("unknown llm provider: %s", fc.LLM.Provider)
	}

	return nil
}

// provider resolves the active provider name. When none is forced, the Azure
// route wins if its endpoint and key are both present, otherwise OpenAI.
func (c config) provider() string {
	if c.LLMProvider != "" {
		return c.LLMProvider
	}
	if c.AzureEndpoint != "" && c.AzureAPIKey != "" {
		return "azure"
	}
	return "openai"
}

// buildLLM constructs the provider, returning a nil LLM (not an error) when
// no usable credential set is configured: that is a valid, handled state the
// chat endpoint reports inside its stream.
func (c config) buildLLM(logger *slog.Logger) (handlers.LLM, string, error) {
	systemPrompt := c.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = handlers.SystemPrompt
	}

	switch p := c.provider(); p {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return nil, c.OpenAIModel, nil
		}
		return services.NewOpenAI(c.OpenAIAPIKey, c.OpenAIModel, systemPrompt, logger), c.OpenAIModel, nil
	case "azure":
		if c.AzureEndpoint == "" || c.AzureAPIKey == "" || c.AzureDeployment == "" {
			return nil, c.AzureDeployment, nil
		}
		return services.NewAzureOpenAI(c.AzureAPIKey, c.AzureEndpoint, c.AzureDeployment, systemPrompt, logger),
			c.AzureDeployment, nil
	case "ollama":
		if c.OllamaModel == "" {
			return nil, "", fmt.Errorf("OLLAMA_MODEL is required for the ollama provider")
		}
		return services.NewOllama(c.OllamaHost, c.OllamaModel, systemPrompt), c.OllamaModel, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider: %s", p)
	}
}

// buildModerator returns the safety hook, or nil for the always-pass default.
func (c config) buildModerator(logger *slog.Logger) (handlers.Moderator, error) {
	switch c.ModerationProvider {
	case "", "off":
		return nil, nil
	case "openai":
		if c.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("MODERATION_PROVIDER=openai requires OPENAI_API_KEY")
		}
		return services.NewOpenAIModerator(c.OpenAIAPIKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown moderation provider: %s", c.ModerationProvider)
	}
}
