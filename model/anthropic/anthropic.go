// Package anthropic provides a model wrapper for the Anthropic Claude API,
// served directly or through Vertex AI. Responses are streamed and
// accumulated into a single message.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"golang.org/x/oauth2/google"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// ThinkingBudget is the token budget granted to extended thinking.
const ThinkingBudget = 2048

// Options configures the Anthropic model adapter.
type Options struct {
	Model         anthropic.Model
	Provider      string // tag reported by Info, defaults to "anthropic"
	Temperature   float64
	MaxTokens     int64
	Thinking      bool
	ClientOptions []option.RequestOption
	Logger        logging.Logger
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	client := anthropic.NewClient(opts.ClientOptions...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:     anthropic.ModelClaudeSonnet4_20250514,
		Provider:  model.ProviderAnthropic,
		MaxTokens: 64000,
		Logger:    logging.NoOpLogger{},
	}
}

// VertexOptions returns client options routing requests through Vertex AI
// using application default credentials.
func VertexOptions(ctx context.Context, region, projectID string) ([]option.RequestOption, error) {
	if region == "" || projectID == "" {
		return nil, errors.New("vertex requires region and project")
	}
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("find google credentials: %w", err)
	}
	return []option.RequestOption{vertex.WithCredentials(ctx, region, projectID, creds)}, nil
}

// Generate streams one Messages request and accumulates the events.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	stream := m.client.Messages.NewStreaming(ctx, m.buildParams(req), option.WithMaxRetries(0))
	defer stream.Close()

	var acc anthropic.Message
	for stream.Next() {
		if err := acc.Accumulate(stream.Current()); err != nil {
			return nil, model.NewTransportError(m.opts.Provider, 0, err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, transportError(m.opts.Provider, err)
	}

	return m.parseMessage(acc), nil
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     m.opts.Model,
		MaxTokens: m.opts.MaxTokens,
		Messages:  m.buildMessages(req.Messages),
	}

	if m.opts.Thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(ThinkingBudget)
		params.Temperature = anthropic.Float(1)
	} else {
		params.Temperature = anthropic.Float(m.opts.Temperature)
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	if req.Tools.Len() > 0 {
		params.Tools = buildTools(req.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	return params
}

// buildMessages converts transcript messages. Tool results lead their user
// turn so they immediately answer the preceding tool_use blocks.
func (m *Model) buildMessages(msgs []core.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		if msg.Role.IsAssistant() {
			if blocks := m.buildAssistantContent(msg.Parts); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
			continue
		}
		if blocks := m.buildUserContent(msg.Parts); len(blocks) > 0 {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}

	return out
}

func (m *Model) buildUserContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var results, content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ImagePart:
			mediaType, err := part.MediaType()
			if err != nil {
				m.opts.Logger.Warn("anthropic.format.image_skipped", "file_name", part.FileName, "error", err.Error())
				continue
			}
			content = append(content,
				anthropic.NewTextBlock(fmt.Sprintf("Next image file name: %s", part.FileName)),
				anthropic.NewImageBlockBase64(mediaType, part.Base64()),
			)
		case core.ToolResponsePart:
			results = append(results, anthropic.NewToolResultBlock(part.ID, part.Result, false))
		default:
			m.opts.Logger.Warn("anthropic.format.part_skipped", "type", fmt.Sprintf("%T", p))
		}
	}

	return append(results, content...)
}

func (m *Model) buildAssistantContent(parts []core.Part) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ToolCallPart:
			args := part.Arguments
			if args == nil {
				args = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(part.ID, args, part.Name))
		default:
			m.opts.Logger.Warn("anthropic.format.part_skipped", "type", fmt.Sprintf("%T", p))
		}
	}

	return content
}

func (m *Model) parseMessage(msg anthropic.Message) *model.Response {
	var (
		texts    []string
		thoughts []string
		calls    []model.ToolCall
	)

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "thinking":
			thoughts = append(thoughts, block.Thinking)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					m.opts.Logger.Warn("anthropic.parse.arguments_invalid", "tool", block.Name, "error", err.Error())
					args = map[string]any{}
				}
			}
			calls = append(calls, model.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	return &model.Response{
		Content:   model.Ptr(strings.Join(texts, "")),
		Thoughts:  model.Ptr(strings.Join(thoughts, "\n")),
		ToolCalls: calls,
		Usage: model.TokenUsage{
			Input:  int(msg.Usage.InputTokens),
			Output: int(msg.Usage.OutputTokens),
		},
	}
}

// buildTools projects the set into Anthropic tool declarations.
func buildTools(set *tool.Set) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, set.Len())
	for _, t := range set.Tools() {
		props, required := t.Schema()
		u := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: props,
			Required:   required,
		}, t.Name)
		u.OfTool.Description = anthropic.String(t.Description)
		tools = append(tools, u)
	}
	return tools
}

func transportError(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.NewTransportError(provider, apiErr.StatusCode, err)
	}
	return model.NewTransportError(provider, 0, err)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      m.opts.Provider,
		SupportsTools: true,
	}
}
