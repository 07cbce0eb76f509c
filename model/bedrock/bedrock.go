// Package bedrock provides an implementation of model.Model backed by the
// Amazon Bedrock Converse API.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// ConverseAPI is the subset of the Bedrock runtime client used by Model.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configure the Bedrock model adapter.
type Options struct {
	ModelID     string
	Temperature float64
	MaxTokens   int32
	Logger      logging.Logger
}

// Model wraps the Converse API behind the generic model.Model interface.
type Model struct {
	client ConverseAPI
	opts   Options
}

// NewModel loads the default AWS configuration chain (optionally pinned to
// region) and creates a Bedrock model.
func NewModel(ctx context.Context, region string, optFns ...func(o *Options)) (*Model, error) {
	var cfgOpts []func(*config.LoadOptions) error
	if region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		o.RetryMaxAttempts = 1
	})
	return NewModelFromClient(client, optFns...), nil
}

// NewModelFromClient creates a Bedrock model from an existing client.
func NewModelFromClient(client ConverseAPI, optFns ...func(o *Options)) *Model {
	opts := Options{
		ModelID:   "anthropic.claude-3-5-sonnet-20241022-v2:0",
		MaxTokens: 4096,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate issues one Converse call.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(m.opts.ModelID),
		Messages: m.buildMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(m.opts.Temperature)),
		},
	}
	if m.opts.MaxTokens > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(m.opts.MaxTokens)
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	if req.Tools.Len() > 0 {
		input.ToolConfig = &types.ToolConfiguration{Tools: buildTools(req.Tools)}
	}

	out, err := m.client.Converse(ctx, input)
	if err != nil {
		return nil, transportError(err)
	}

	return m.parseOutput(out), nil
}

func (m *Model) buildMessages(msgs []core.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))

	for _, msg := range msgs {
		role := types.ConversationRoleUser
		if msg.Role.IsAssistant() {
			role = types.ConversationRoleAssistant
		}

		var blocks []types.ContentBlock
		for _, p := range msg.Parts {
			blocks = append(blocks, m.formatPart(p)...)
		}
		if len(blocks) > 0 {
			out = append(out, types.Message{Role: role, Content: blocks})
		}
	}

	return out
}

func (m *Model) formatPart(p core.Part) []types.ContentBlock {
	switch part := p.(type) {
	case core.TextPart:
		if part.Text == "" {
			return nil
		}
		return []types.ContentBlock{&types.ContentBlockMemberText{Value: part.Text}}
	case core.ImagePart:
		format, err := imageFormat(part)
		if err != nil {
			m.opts.Logger.Warn("bedrock.format.image_skipped", "file_name", part.FileName, "error", err.Error())
			return nil
		}
		return []types.ContentBlock{
			&types.ContentBlockMemberText{Value: fmt.Sprintf("Next image file name: %s", part.FileName)},
			&types.ContentBlockMemberImage{Value: types.ImageBlock{
				Format: format,
				Source: &types.ImageSourceMemberBytes{Value: part.Data},
			}},
		}
	case core.ToolCallPart:
		args := part.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return []types.ContentBlock{&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(part.ID),
			Name:      aws.String(part.Name),
			Input:     document.NewLazyDocument(args),
		}}}
	case core.ToolResponsePart:
		return []types.ContentBlock{&types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(part.ID),
			Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: part.Result}},
		}}}
	default:
		m.opts.Logger.Warn("bedrock.format.part_skipped", "type", fmt.Sprintf("%T", p))
		return nil
	}
}

func imageFormat(part core.ImagePart) (types.ImageFormat, error) {
	mediaType, err := part.MediaType()
	if err != nil {
		return "", err
	}
	switch mediaType {
	case "image/png":
		return types.ImageFormatPng, nil
	case "image/gif":
		return types.ImageFormatGif, nil
	default:
		return types.ImageFormatJpeg, nil
	}
}

func (m *Model) parseOutput(out *bedrockruntime.ConverseOutput) *model.Response {
	var (
		texts    []string
		thoughts []string
		calls    []model.ToolCall
	)

	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				texts = append(texts, b.Value)
			case *types.ContentBlockMemberReasoningContent:
				if rt, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
					thoughts = append(thoughts, aws.ToString(rt.Value.Text))
				}
			case *types.ContentBlockMemberToolUse:
				args := map[string]any{}
				if b.Value.Input != nil {
					if err := b.Value.Input.UnmarshalSmithyDocument(&args); err != nil {
						m.opts.Logger.Warn("bedrock.parse.arguments_invalid", "tool", aws.ToString(b.Value.Name), "error", err.Error())
						args = map[string]any{}
					}
				}
				calls = append(calls, model.ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: args,
				})
			}
		}
	}

	resp := &model.Response{
		Content:   model.Ptr(strings.Join(texts, "")),
		Thoughts:  model.Ptr(strings.Join(thoughts, "\n")),
		ToolCalls: calls,
	}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			Input:  int(aws.ToInt32(out.Usage.InputTokens)),
			Output: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}

	return resp
}

// buildTools projects the set into Converse tool specifications.
func buildTools(set *tool.Set) []types.Tool {
	tools := make([]types.Tool, 0, set.Len())
	for _, t := range set.Tools() {
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.JSONSchema())},
		}})
	}
	return tools
}

func transportError(err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return model.NewTransportError(model.ProviderBedrock, respErr.HTTPStatusCode(), err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return model.NewTransportError(model.ProviderBedrock, http.StatusTooManyRequests, err)
	}
	return model.NewTransportError(model.ProviderBedrock, 0, err)
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.ModelID,
		Provider:      model.ProviderBedrock,
		SupportsTools: true,
	}
}
