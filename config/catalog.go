package config

import (
	"strings"

	"github.com/hupe1980/evalmesh/model"
)

const (
	vertexAnthropicRegion = "us-east5"
	bedrockRegion         = "us-east-1"
)

func temp(v float64) *float64 { return &v }

// DefaultModels returns the built in catalog.
func DefaultModels() []model.Config {
	models := []model.Config{
		// Gemini
		{Name: "Gemini_25_Pro", Provider: model.ProviderGemini, ModelID: "gemini-2.5-pro", MaxTokens: 65536},
		{Name: "Gemini_25_Flash", Provider: model.ProviderGemini, ModelID: "gemini-2.5-flash", MaxTokens: 65536},
		{Name: "Gemini_25_Flash_0925", Provider: model.ProviderGemini, ModelID: "gemini-2.5-flash-preview-09-2025", MaxTokens: 65536},

		// OpenAI Chat Completions and compatible vendors
		{Name: "GPT41_0414", Provider: model.ProviderOpenAI, ModelID: "gpt-4.1-2025-04-14", SystemRole: "developer"},
		{Name: "GPT41mini_0414", Provider: model.ProviderOpenAI, ModelID: "gpt-4.1-mini-2025-04-14", SystemRole: "developer"},
		{Name: "GPT41nano_0414", Provider: model.ProviderOpenAI, ModelID: "gpt-4.1-nano-2025-04-14"},
		{Name: "O3_Completions", Provider: model.ProviderOpenAI, ModelID: "o3-2025-04-16", SystemRole: "developer"},
		{Name: "GPT_OSS_120B", Provider: model.ProviderCerebras, ModelID: "gpt-oss-120b", MaxTokens: 65536, ReasoningEffort: "low"},
		{Name: "GPT_OSS_20B", Provider: model.ProviderOpenAI, ModelID: "openai/gpt-oss-20b", ReasoningEffort: "low", BaseURL: "http://localhost:1234/v1", APIKeyEnv: "LOCAL_API_KEY"},
		{Name: "DeepSeek_R1", Provider: model.ProviderFireworks, ModelID: "accounts/fireworks/models/deepseek-r1", MaxTokens: 32768, ExtractThink: true},

		// OpenAI Responses
		{Name: "Codex_Mini_Latest", Provider: model.ProviderOpenAIResponses, ModelID: "codex-mini-latest", MaxTokens: 100000},
		{Name: "GPT5_0807", Provider: model.ProviderOpenAIResponses, ModelID: "gpt-5-2025-08-07", MaxTokens: 128000, ReasoningEffort: "low"},
		{Name: "GPT5_Pro_1006", Provider: model.ProviderOpenAIResponses, ModelID: "gpt-5-pro-2025-10-06", MaxTokens: 272000, Background: true},
		{Name: "GPT5_Codex", Provider: model.ProviderOpenAIResponses, ModelID: "gpt-5-codex", MaxTokens: 128000, ReasoningEffort: "low"},
		{Name: "GPT5_Nano_high", Provider: model.ProviderOpenAIResponses, ModelID: "gpt-5-nano-2025-08-07", MaxTokens: 128000},
		{Name: "GPT5_Mini_high", Provider: model.ProviderOpenAIResponses, ModelID: "gpt-5-mini-2025-08-07", MaxTokens: 128000},

		// Anthropic on Vertex AI
		{Name: "Claude_Sonnet_4", Provider: model.ProviderVertexAnthropic, ModelID: "claude-sonnet-4@20250514"},
		{Name: "Claude_Sonnet_4_Thinking", Provider: model.ProviderVertexAnthropic, ModelID: "claude-sonnet-4@20250514", Thinking: true},
		{Name: "Claude_Sonnet_45", Provider: model.ProviderVertexAnthropic, ModelID: "claude-sonnet-4-5@20250929"},
		{Name: "Claude_Opus_41", Provider: model.ProviderVertexAnthropic, ModelID: "claude-opus-4-1@20250805", MaxTokens: 32000},
		{Name: "Claude_Opus_41_Thinking", Provider: model.ProviderVertexAnthropic, ModelID: "claude-opus-4-1@20250805", MaxTokens: 32000, Thinking: true},
		{Name: "Claude_Haiku_45", Provider: model.ProviderVertexAnthropic, ModelID: "claude-haiku-4-5@20251001"},

		// Anthropic API
		{Name: "Claude_Sonnet_4_API", Provider: model.ProviderAnthropic, ModelID: "claude-sonnet-4-20250514"},

		// xAI
		{Name: "Grok4_0709", Provider: model.ProviderXAI, ModelID: "grok-4-0709"},
		{Name: "Grok_Code_0825", Provider: model.ProviderXAI, ModelID: "grok-code-fast-1-0825"},
		{Name: "Grok4FastReasoning", Provider: model.ProviderXAI, ModelID: "grok-4-fast-reasoning-latest"},

		// Bedrock
		{Name: "AmazonNovaPremier", Provider: model.ProviderBedrock, ModelID: "us.amazon.nova-premier-v1:0", Region: bedrockRegion},
	}
	for i := range models {
		Normalize(&models[i])
	}
	return models
}

// Normalize applies provider specific defaults to a catalog entry: o1/o3/o4
// chat models and Responses models run at temperature 1 with high reasoning
// effort unless configured otherwise, and Vertex entries default to the
// us-east5 region.
func Normalize(m *model.Config) {
	switch m.Provider {
	case model.ProviderOpenAI:
		if isReasoningModel(m.ModelID) {
			m.Temperature = temp(1)
			m.ReasoningEffort = "high"
		}
	case model.ProviderOpenAIResponses:
		if m.Temperature == nil {
			m.Temperature = temp(1)
		}
		if m.ReasoningEffort == "" {
			m.ReasoningEffort = "high"
		}
	case model.ProviderVertexAnthropic:
		if m.Region == "" {
			m.Region = vertexAnthropicRegion
		}
	}
}

func isReasoningModel(id string) bool {
	for _, prefix := range []string{"o1", "o3", "o4"} {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
