package config

import (
	"context"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/model/anthropic"
	"github.com/hupe1980/evalmesh/model/bedrock"
	"github.com/hupe1980/evalmesh/model/gemini"
	"github.com/hupe1980/evalmesh/model/openai"
)

// AzureAPIVersion is the api-version query parameter sent to Azure deployments.
const AzureAPIVersion = "2023-12-01-preview"

// vendor describes an OpenAI compatible Chat Completions endpoint.
type vendor struct {
	baseURL string
	keyEnv  string
}

var completionVendors = map[string]vendor{
	model.ProviderOpenAI:    {keyEnv: EnvOpenAIKey},
	model.ProviderXAI:       {baseURL: "https://api.x.ai/v1", keyEnv: "XAI_API_KEY"},
	model.ProviderFireworks: {baseURL: "https://api.fireworks.ai/inference/v1", keyEnv: "FIREWORKS_API_KEY"},
	model.ProviderCerebras:  {baseURL: "https://api.cerebras.ai/v1", keyEnv: "CEREBRAS_API_KEY"},
	model.ProviderAzure:     {keyEnv: EnvAzureDeployKey},
}

// Environment variables read by the provider factories.
const (
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvAnthropicKey   = "ANTHROPIC_API_KEY"
	EnvGeminiKey      = "GOOGLE_AI_STUDIO_API_KEY"
	EnvGCloudProject  = "GCLOUD_PROJECT_ID"
	EnvAzureBaseURL   = "AZURE_DEPLOYMENT_BASE_URL"
	EnvAzureDeployKey = "AZURE_DEPLOYMENT_KEY"
)

// ProviderOptions configure the factory registry.
type ProviderOptions struct {
	Getenv func(string) string
	Logger logging.Logger

	// Observer is handed to the dispatcher built by Config.NewDispatcher.
	Observer dispatch.Observer
}

// KnownProvider reports whether tag selects a supported adapter.
func KnownProvider(tag string) bool {
	if _, ok := completionVendors[tag]; ok {
		return true
	}
	switch tag {
	case model.ProviderOpenAIResponses, model.ProviderAnthropic, model.ProviderVertexAnthropic,
		model.ProviderGemini, model.ProviderBedrock:
		return true
	}
	return false
}

// Providers returns the dispatcher factory registry keyed by provider tag.
// Credentials are read from the environment when an adapter is first built.
func Providers(optFns ...func(o *ProviderOptions)) map[string]dispatch.Factory {
	opts := ProviderOptions{Getenv: os.Getenv, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	p := &providers{opts: opts}

	factories := map[string]dispatch.Factory{
		model.ProviderOpenAIResponses: p.newResponses,
		model.ProviderAnthropic:       p.newAnthropic,
		model.ProviderVertexAnthropic: p.newVertexAnthropic,
		model.ProviderGemini:          p.newGemini,
		model.ProviderBedrock:         p.newBedrock,
	}
	for tag := range completionVendors {
		factories[tag] = p.newCompletions
	}
	return factories
}

type providers struct {
	opts ProviderOptions
}

// key resolves the API key for cfg, honoring an api_key_env override.
func (p *providers) key(cfg model.Config, defaultEnv string) (string, error) {
	env := defaultEnv
	if cfg.APIKeyEnv != "" {
		env = cfg.APIKeyEnv
	}
	v := p.opts.Getenv(env)
	if v == "" {
		return "", &model.ConfigError{Model: cfg.Name, Message: "missing credential " + env}
	}
	return v, nil
}

func temperature(cfg model.Config, fallback float64) float64 {
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return fallback
}

func (p *providers) newCompletions(_ context.Context, cfg model.Config) (model.Model, error) {
	v := completionVendors[cfg.Provider]

	key, err := p.key(cfg, v.keyEnv)
	if err != nil {
		// Local OpenAI compatible servers usually run without a key.
		if cfg.BaseURL == "" || cfg.Provider != model.ProviderOpenAI {
			return nil, err
		}
		key = "none"
	}

	clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(key)}

	switch {
	case cfg.Provider == model.ProviderAzure:
		base := cfg.BaseURL
		if base == "" {
			base = p.opts.Getenv(EnvAzureBaseURL)
		}
		if base == "" {
			return nil, &model.ConfigError{Model: cfg.Name, Message: "missing credential " + EnvAzureBaseURL}
		}
		clientOpts = append(clientOpts,
			openaiopt.WithBaseURL(strings.TrimRight(base, "/")+"/openai/deployments/"+cfg.ModelID+"/"),
			openaiopt.WithQuery("api-version", AzureAPIVersion),
			openaiopt.WithHeader("Api-Key", key),
		)
	case cfg.BaseURL != "":
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(cfg.BaseURL))
	case v.baseURL != "":
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(v.baseURL))
	}

	return openai.NewModel(func(o *openai.Options) {
		o.Model = cfg.ModelID
		o.Provider = cfg.Provider
		o.Temperature = temperature(cfg, 0)
		if cfg.MaxTokens > 0 {
			o.MaxTokens = cfg.MaxTokens
		}
		o.ReasoningEffort = cfg.ReasoningEffort
		if cfg.SystemRole != "" {
			o.SystemRole = cfg.SystemRole
		}
		o.SkipSystem = cfg.SkipSystem
		o.ExtractThink = cfg.ExtractThink
		o.ClientOptions = clientOpts
		o.Logger = p.opts.Logger
	}), nil
}

func (p *providers) newResponses(_ context.Context, cfg model.Config) (model.Model, error) {
	key, err := p.key(cfg, EnvOpenAIKey)
	if err != nil {
		return nil, err
	}
	clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(cfg.BaseURL))
	}

	return openai.NewResponsesModel(func(o *openai.ResponsesOptions) {
		o.Model = cfg.ModelID
		o.Temperature = temperature(cfg, 1)
		if cfg.MaxTokens > 0 {
			o.MaxTokens = cfg.MaxTokens
		}
		if cfg.ReasoningEffort != "" {
			o.ReasoningEffort = cfg.ReasoningEffort
		}
		o.Background = cfg.Background
		if cfg.PollInterval > 0 {
			o.PollInterval = cfg.PollInterval
		}
		o.ClientOptions = clientOpts
		o.Logger = p.opts.Logger
	}), nil
}

func (p *providers) anthropicModel(cfg model.Config, clientOpts []anthropicopt.RequestOption) model.Model {
	return anthropic.NewModel(func(o *anthropic.Options) {
		o.Model = anthropicsdk.Model(cfg.ModelID)
		o.Provider = cfg.Provider
		o.Temperature = temperature(cfg, 0)
		if cfg.MaxTokens > 0 {
			o.MaxTokens = cfg.MaxTokens
		}
		o.Thinking = cfg.Thinking
		o.ClientOptions = clientOpts
		o.Logger = p.opts.Logger
	})
}

func (p *providers) newAnthropic(_ context.Context, cfg model.Config) (model.Model, error) {
	key, err := p.key(cfg, EnvAnthropicKey)
	if err != nil {
		return nil, err
	}
	clientOpts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	return p.anthropicModel(cfg, clientOpts), nil
}

func (p *providers) newVertexAnthropic(ctx context.Context, cfg model.Config) (model.Model, error) {
	project := cfg.Project
	if project == "" {
		project = p.opts.Getenv(EnvGCloudProject)
	}
	clientOpts, err := anthropic.VertexOptions(ctx, cfg.Region, project)
	if err != nil {
		return nil, &model.ConfigError{Model: cfg.Name, Message: "vertex setup", Err: err}
	}
	return p.anthropicModel(cfg, clientOpts), nil
}

func (p *providers) newGemini(ctx context.Context, cfg model.Config) (model.Model, error) {
	key, err := p.key(cfg, EnvGeminiKey)
	if err != nil {
		return nil, err
	}
	m, err := gemini.NewModel(ctx, key, cfg.BaseURL, func(o *gemini.Options) {
		o.Model = cfg.ModelID
		o.Temperature = temperature(cfg, 0)
		if cfg.MaxTokens > 0 {
			o.MaxOutputTokens = int32(cfg.MaxTokens)
		}
		o.Logger = p.opts.Logger
	})
	if err != nil {
		return nil, &model.ConfigError{Model: cfg.Name, Message: "gemini client", Err: err}
	}
	return m, nil
}

func (p *providers) newBedrock(ctx context.Context, cfg model.Config) (model.Model, error) {
	m, err := bedrock.NewModel(ctx, cfg.Region, func(o *bedrock.Options) {
		o.ModelID = cfg.ModelID
		o.Temperature = temperature(cfg, 0)
		if cfg.MaxTokens > 0 {
			o.MaxTokens = int32(cfg.MaxTokens)
		}
		o.Logger = p.opts.Logger
	})
	if err != nil {
		return nil, &model.ConfigError{Model: cfg.Name, Message: "aws config", Err: err}
	}
	return m, nil
}
