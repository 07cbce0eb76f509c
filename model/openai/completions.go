// Package openai provides implementations of model.Model backed by the
// OpenAI Chat Completions API (also used for OpenAI compatible vendors) and
// the OpenAI Responses API with background polling. Both adapt evalmesh's
// normalized Request/Response structures into the SDK's formats and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// Options configure the Chat Completions adapter.
type Options struct {
	Model           string
	Provider        string // tag reported by Info, defaults to "openai"
	Temperature     float64
	MaxTokens       int64
	ReasoningEffort string
	SystemRole      string // "system" or "developer"
	SkipSystem      bool
	ExtractThink    bool
	ClientOptions   []option.RequestOption
	Logger          logging.Logger
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new Chat Completions model using the official client.
// ClientOptions carry the API key, base URL and extra headers.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	client := openai.NewClient(opts.ClientOptions...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Chat Completions model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:      openai.ChatModelGPT4o,
		Provider:   model.ProviderOpenAI,
		MaxTokens:  4096,
		SystemRole: "system",
		Logger:     logging.NoOpLogger{},
	}
}

// Generate sends one Chat Completions request and normalizes the first choice.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)

	resp, err := m.client.Chat.Completions.New(ctx, params, option.WithMaxRetries(0))
	if err != nil {
		return nil, transportError(m.opts.Provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewTransportError(m.opts.Provider, 0, errors.New("no choices returned"))
	}

	return m.parseMessage(resp.Choices[0].Message, resp.Usage), nil
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" && !m.opts.SkipSystem {
		if m.opts.SystemRole == "developer" {
			messages = append(messages, openai.DeveloperMessage(req.SystemPrompt))
		} else {
			messages = append(messages, openai.SystemMessage(req.SystemPrompt))
		}
	}

	for _, msg := range req.Messages {
		messages = append(messages, m.formatMessage(msg)...)
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       m.opts.Model,
		Temperature: openai.Float(m.opts.Temperature),
	}

	if m.opts.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(m.opts.ReasoningEffort)
		params.MaxCompletionTokens = openai.Int(m.opts.MaxTokens)
	} else if m.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(m.opts.MaxTokens)
	}

	if req.Tools.Len() > 0 {
		params.Tools = completionTools(req.Tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	}

	return params
}

// formatMessage converts one transcript message. Tool responses become
// role=tool messages placed before any remaining user content so they
// directly follow the assistant tool calls they answer.
func (m *Model) formatMessage(msg core.Message) []openai.ChatCompletionMessageParamUnion {
	if msg.Role.IsAssistant() {
		return []openai.ChatCompletionMessageParamUnion{m.formatAssistant(msg)}
	}

	var (
		out   []openai.ChatCompletionMessageParamUnion
		parts []openai.ChatCompletionContentPartUnionParam
	)

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			parts = append(parts, openai.TextContentPart(part.Text))
		case core.ImagePart:
			url, err := part.DataURL()
			if err != nil {
				m.opts.Logger.Warn("openai.format.image_skipped", "file_name", part.FileName, "error", err.Error())
				continue
			}
			parts = append(parts,
				openai.TextContentPart(fmt.Sprintf("Next image filename: %s", part.FileName)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
			)
		case core.ToolResponsePart:
			out = append(out, openai.ToolMessage(part.Result, part.ID))
		default:
			m.opts.Logger.Warn("openai.format.part_skipped", "type", fmt.Sprintf("%T", p))
		}
	}

	if len(parts) > 0 {
		out = append(out, openai.UserMessage(parts))
	}

	return out
}

func (m *Model) formatAssistant(msg core.Message) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}

	if text := msg.Text(); text != "" {
		assistant.Content.OfString = openai.String(text)
	}

	for _, call := range msg.ToolCalls() {
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: call.ArgumentsJSON(),
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func (m *Model) parseMessage(msg openai.ChatCompletionMessage, usage openai.CompletionUsage) *model.Response {
	out := &model.Response{
		Usage: model.TokenUsage{
			Input:     int(usage.PromptTokens),
			Output:    int(usage.CompletionTokens),
			Reasoning: int(usage.CompletionTokensDetails.ReasoningTokens),
		},
	}

	content := msg.Content
	thoughts := reasoningContent(msg)

	if m.opts.ExtractThink {
		if extracted, rest, ok := ExtractThink(content); ok {
			thoughts = extracted
			content = rest
		}
	}

	out.Content = model.Ptr(content)
	out.Thoughts = model.Ptr(thoughts)

	for _, tc := range msg.ToolCalls {
		args, err := core.ParseArguments(tc.Function.Arguments)
		if err != nil {
			m.opts.Logger.Warn("openai.parse.arguments_invalid", "tool", tc.Function.Name, "error", err.Error())
			args = map[string]any{}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return out
}

// reasoningContent reads the non-standard reasoning_content field emitted
// by several OpenAI compatible vendors.
func reasoningContent(msg openai.ChatCompletionMessage) string {
	field, ok := msg.JSON.ExtraFields["reasoning_content"]
	if !ok || !field.Valid() {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(field.Raw()), &s); err != nil {
		return ""
	}
	return s
}

func completionTools(set *tool.Set) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, set.Len())
	for _, t := range set.Tools() {
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.JSONSchema()),
			},
		})
	}
	return tools
}

func transportError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.NewTransportError(provider, apiErr.StatusCode, err)
	}
	return model.NewTransportError(provider, 0, err)
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      m.opts.Provider,
		SupportsTools: true,
	}
}
