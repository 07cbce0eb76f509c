package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/model"
)

const chatReply = `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}],
"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`

func env(vars map[string]string) func(o *ProviderOptions) {
	return func(o *ProviderOptions) {
		o.Getenv = func(k string) string { return vars[k] }
	}
}

func TestDefaultCatalog(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	o3, ok := cfg.Model("O3_Completions")
	require.True(t, ok)
	require.NotNil(t, o3.Temperature)
	assert.Equal(t, 1.0, *o3.Temperature)
	assert.Equal(t, "high", o3.ReasoningEffort)

	gpt41, ok := cfg.Model("GPT41_0414")
	require.True(t, ok)
	assert.Nil(t, gpt41.Temperature)
	assert.Equal(t, "developer", gpt41.SystemRole)

	sonnet, ok := cfg.Model("Claude_Sonnet_4_Thinking")
	require.True(t, ok)
	assert.Equal(t, "us-east5", sonnet.Region)
	assert.True(t, sonnet.Thinking)

	gpt5, ok := cfg.Model("GPT5_0807")
	require.True(t, ok)
	assert.Equal(t, "low", gpt5.ReasoningEffort)
	assert.Equal(t, 1.0, *gpt5.Temperature)

	assert.Equal(t, 3, cfg.RetryConfig().MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.RetryConfig().RateLimitDelay)
	assert.Equal(t, 10, cfg.Concurrency)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evalmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: GPT41_0414
    provider: openai
    model_id: gpt-4.1
    max_tokens: 1024
  - name: o4-mini
    provider: openai
    model_id: o4-mini
  - name: slow-gpt5
    provider: openai_responses
    model_id: gpt-5
    background: true
    poll_interval: 30s
retry:
  rate_limit_delay: 2m
  max_attempts: 5
request_timeout: 90s
concurrency: 4
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	gpt41, _ := cfg.Model("GPT41_0414")
	assert.Equal(t, "gpt-4.1", gpt41.ModelID)
	assert.Equal(t, int64(1024), gpt41.MaxTokens)

	mini, ok := cfg.Model("o4-mini")
	require.True(t, ok)
	assert.Equal(t, "high", mini.ReasoningEffort)

	slow, _ := cfg.Model("slow-gpt5")
	assert.Equal(t, 30*time.Second, slow.PollInterval)
	assert.True(t, slow.Background)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Retry.RateLimitDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.Delay)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Len(t, cfg.Models, len(DefaultModels())+2)
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - name: x\n    provider: palm\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "palm"`)
	assert.Contains(t, err.Error(), "model_id is required")
}

func TestLoadEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EVALMESH_TEST_KEY=from-file\n"), 0o644))
	t.Setenv("EVALMESH_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("EVALMESH_TEST_KEY"))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("EVALMESH_TEST_KEY"))
}

func TestProvidersCoverEveryTag(t *testing.T) {
	factories := Providers()
	for _, tag := range []string{
		model.ProviderOpenAI, model.ProviderOpenAIResponses, model.ProviderAzure, model.ProviderXAI,
		model.ProviderFireworks, model.ProviderCerebras, model.ProviderAnthropic,
		model.ProviderVertexAnthropic, model.ProviderGemini, model.ProviderBedrock,
	} {
		assert.Contains(t, factories, tag)
		assert.True(t, KnownProvider(tag))
	}
	assert.False(t, KnownProvider("aistudio"))
}

func TestProvidersMissingCredential(t *testing.T) {
	factories := Providers(env(nil))
	ctx := context.Background()

	_, err := factories[model.ProviderXAI](ctx, model.Config{Name: "grok", Provider: model.ProviderXAI, ModelID: "grok-4"})
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing credential XAI_API_KEY", cfgErr.Message)

	_, err = factories[model.ProviderAnthropic](ctx, model.Config{Name: "c", Provider: model.ProviderAnthropic, APIKeyEnv: "MY_KEY"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing credential MY_KEY", cfgErr.Message)

	_, err = factories[model.ProviderVertexAnthropic](ctx, model.Config{Name: "v", Provider: model.ProviderVertexAnthropic, Region: "us-east5"})
	assert.True(t, model.IsConfigError(err))
}

func TestProvidersBuildAdapters(t *testing.T) {
	factories := Providers(env(map[string]string{
		EnvOpenAIKey:    "sk-openai",
		"XAI_API_KEY":   "xai",
		EnvAnthropicKey: "sk-ant",
		EnvGeminiKey:    "gemini",
	}))
	ctx := context.Background()

	tests := []model.Config{
		{Name: "a", Provider: model.ProviderXAI, ModelID: "grok-4"},
		{Name: "b", Provider: model.ProviderOpenAIResponses, ModelID: "o3"},
		{Name: "c", Provider: model.ProviderAnthropic, ModelID: "claude-sonnet-4-20250514"},
		{Name: "d", Provider: model.ProviderGemini, ModelID: "gemini-2.5-flash"},
	}
	for _, cfg := range tests {
		t.Run(cfg.Provider, func(t *testing.T) {
			m, err := factories[cfg.Provider](ctx, cfg)
			require.NoError(t, err)
			assert.Equal(t, cfg.ModelID, m.Info().Name)
		})
	}
}

func TestAzureDeploymentRouting(t *testing.T) {
	var (
		path, apiVersion, apiKey string
		body                     map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiVersion = r.URL.Query().Get("api-version")
		apiKey = r.Header.Get("Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatReply))
	}))
	defer srv.Close()

	factories := Providers(env(map[string]string{
		EnvAzureDeployKey: "azure-key",
		EnvAzureBaseURL:   srv.URL,
	}))
	m, err := factories[model.ProviderAzure](context.Background(), model.Config{
		Name: "azure-gpt4o", Provider: model.ProviderAzure, ModelID: "gpt-4o",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderAzure, m.Info().Provider)

	resp, err := m.Generate(context.Background(), model.Request{
		SystemPrompt: "sys",
		Messages:     []core.Message{core.NewUserText("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text())

	assert.Equal(t, "/openai/deployments/gpt-4o/chat/completions", path)
	assert.Equal(t, AzureAPIVersion, apiVersion)
	assert.Equal(t, "azure-key", apiKey)
	assert.Equal(t, "gpt-4o", body["model"])
}

func TestLocalServerWithoutKey(t *testing.T) {
	m, err := Providers(env(nil))[model.ProviderOpenAI](context.Background(), model.Config{
		Name: "local", Provider: model.ProviderOpenAI, ModelID: "openai/gpt-oss-20b", BaseURL: "http://localhost:1234/v1",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-oss-20b", m.Info().Name)
}

func TestNewDispatcherUsesCatalog(t *testing.T) {
	cfg := Default()
	d := cfg.NewDispatcher(cfg.NewLogger(), env(nil))
	assert.Len(t, d.Models(), len(cfg.Models))

	_, err := d.Resolve(context.Background(), "Grok4_0709")
	assert.True(t, model.IsConfigError(err))
}
