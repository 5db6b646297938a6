package agent

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentdock/core"
	"github.com/hupe1980/agentdock/model"
	"github.com/hupe1980/agentdock/model/anthropic"
	"github.com/hupe1980/agentdock/model/openai"
)

// ModelResolver maps a configuration's model settings to a bound model.
// The default resolver understands the keys provider, model, temperature
// and max_tokens; tests substitute a resolver returning a MockModel.
type ModelResolver func(cfg *core.Configuration) (model.Model, error)

// DefaultModelResolver selects between the Anthropic and OpenAI adapters
// based on the configuration's "provider" setting (default openai).
func DefaultModelResolver(cfg *core.Configuration) (model.Model, error) {
	settings := cfg.ModelSettings

	name := stringSetting(settings, "model", "")
	temperature := floatSetting(settings, "temperature", 0.7)
	maxTokens := intSetting(settings, "max_tokens", 4096)

	switch provider := stringSetting(settings, "provider", "openai"); provider {
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
			o.Temperature = temperature
			o.MaxTokens = maxTokens
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
			o.Temperature = temperature
			o.MaxCompletionTokens = maxTokens
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", provider)
	}
}

func stringSetting(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// floatSetting accepts float64 (JSON numbers) and int values.
func floatSetting(settings map[string]any, key string, fallback float64) float64 {
	switch v := settings[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func intSetting(settings map[string]any, key string, fallback int64) int64 {
	switch v := settings[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return fallback
	}
}
