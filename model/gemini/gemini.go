// Package gemini provides an implementation of model.Model backed by the
// Google Gen AI SDK (Gemini API generateContent).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// Options configure the Gemini model adapter.
type Options struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int32
	IncludeThoughts bool
	Logger          logging.Logger
}

// Model wraps genai generateContent behind the generic model.Model interface.
type Model struct {
	client *genai.Client
	opts   Options
}

// NewModel creates a Gemini API client for apiKey. baseURL may be empty.
func NewModel(ctx context.Context, apiKey, baseURL string, optFns ...func(o *Options)) (*Model, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, err
	}
	return NewModelFromClient(client, optFns...), nil
}

// NewModelFromClient creates a Gemini model from an existing client.
func NewModelFromClient(client *genai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:           "gemini-2.5-pro",
		MaxOutputTokens: 8192,
		IncludeThoughts: true,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate issues one generateContent call.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(m.opts.Temperature)),
		MaxOutputTokens: m.opts.MaxOutputTokens,
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if m.opts.IncludeThoughts {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if req.Tools.Len() > 0 {
		cfg.Tools = []*genai.Tool{buildTool(req.Tools)}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.opts.Model, m.buildContents(req.Messages), cfg)
	if err != nil {
		return nil, transportError(err)
	}

	return parseResponse(resp), nil
}

func (m *Model) buildContents(msgs []core.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))

	for _, msg := range msgs {
		role := genai.Role(genai.RoleUser)
		if msg.Role.IsAssistant() {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, p := range msg.Parts {
			parts = append(parts, m.formatPart(p)...)
		}
		if len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, role))
		}
	}

	return contents
}

func (m *Model) formatPart(p core.Part) []*genai.Part {
	switch part := p.(type) {
	case core.TextPart:
		return []*genai.Part{genai.NewPartFromText(part.Text)}
	case core.ImagePart:
		mediaType, err := part.MediaType()
		if err != nil {
			m.opts.Logger.Warn("gemini.format.image_skipped", "file_name", part.FileName, "error", err.Error())
			return nil
		}
		return []*genai.Part{
			genai.NewPartFromText(fmt.Sprintf("Next image file name: %s", part.FileName)),
			genai.NewPartFromBytes(part.Data, mediaType),
		}
	case core.ToolCallPart:
		return []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: part.ID, Name: part.Name, Args: part.Arguments}}}
	case core.ToolResponsePart:
		return []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
			ID:       part.ID,
			Name:     part.Name,
			Response: map[string]any{"result": part.Result},
		}}}
	default:
		m.opts.Logger.Warn("gemini.format.part_skipped", "type", fmt.Sprintf("%T", p))
		return nil
	}
}

func parseResponse(resp *genai.GenerateContentResponse) *model.Response {
	var (
		texts    []string
		thoughts []string
		calls    []model.ToolCall
	)

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.NewString()
				}
				args := part.FunctionCall.Args
				if args == nil {
					args = map[string]any{}
				}
				calls = append(calls, model.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
			case part.Thought:
				thoughts = append(thoughts, part.Text)
			case part.Text != "":
				texts = append(texts, part.Text)
			}
		}
	}

	out := &model.Response{
		Content:   model.Ptr(strings.Join(texts, "")),
		Thoughts:  model.Ptr(strings.Join(thoughts, "\n")),
		ToolCalls: calls,
	}

	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.TokenUsage{
			Input:     int(u.PromptTokenCount),
			Output:    int(u.TotalTokenCount - u.PromptTokenCount),
			Reasoning: int(u.ThoughtsTokenCount),
		}
	}

	return out
}

// buildTool projects the set into a single tool holding all declarations.
func buildTool(set *tool.Set) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, set.Len())
	for _, t := range set.Tools() {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: t.JSONSchema(),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func transportError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return model.NewTransportError(model.ProviderGemini, apiErr.Code, err)
	}
	return model.NewTransportError(model.ProviderGemini, 0, err)
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      model.ProviderGemini,
		SupportsTools: true,
	}
}
