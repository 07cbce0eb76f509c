package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
	calls int
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.calls++
	f.input = in
	return f.out, f.err
}

func TestGenerateParsesOutput(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberReasoningContent{Value: &types.ReasoningContentBlockMemberReasoningText{
					Value: types.ReasoningTextBlock{Text: aws.String("weighing options")},
				}},
				&types.ContentBlockMemberText{Value: "Writing the file."},
				&types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String("tooluse_1"),
					Name:      aws.String("write_file"),
					Input:     document.NewLazyDocument(map[string]any{"file_path": "a.ts", "content": "x"}),
				}},
			},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(50), OutputTokens: aws.Int32(8), TotalTokens: aws.Int32(58)},
	}}

	m := NewModelFromClient(fake, func(o *Options) { o.ModelID = "amazon.nova-pro-v1:0" })
	resp, err := m.Generate(context.Background(), model.Request{
		SystemPrompt: "system",
		Messages:     []core.Message{core.NewUserText("hello")},
		Tools:        tool.DefaultToolSet(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Writing the file.", resp.Text())
	require.NotNil(t, resp.Thoughts)
	assert.Equal(t, "weighing options", *resp.Thoughts)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tooluse_1", resp.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"file_path": "a.ts", "content": "x"}, resp.ToolCalls[0].Arguments)
	assert.Equal(t, model.TokenUsage{Input: 50, Output: 8}, resp.Usage)

	in := fake.input
	assert.Equal(t, "amazon.nova-pro-v1:0", aws.ToString(in.ModelId))
	assert.Equal(t, float32(0), aws.ToFloat32(in.InferenceConfig.Temperature))
	require.Len(t, in.System, 1)

	var names []string
	for _, tl := range in.ToolConfig.Tools {
		spec := tl.(*types.ToolMemberToolSpec)
		names = append(names, aws.ToString(spec.Value.Name))
	}
	assert.Equal(t, tool.DefaultToolSet().Names(), names)
}

func TestGenerateFormatsConversation(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{Role: types.ConversationRoleAssistant}},
	}}
	m := NewModelFromClient(fake)

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{
		core.NewUserMessage(
			core.TextPart{Text: "look"},
			core.ImagePart{FileName: "a.PNG", Data: []byte{1}},
			core.ImagePart{FileName: "a.webm", Data: []byte{1}},
		),
		core.NewAssistantMessage(false, core.ToolCallPart{ID: "t1", Name: "list_files"}),
		core.NewUserMessage(core.ToolResponsePart{ID: "t1", Name: "list_files", Result: "a.js"}),
	}})
	require.NoError(t, err)

	msgs := fake.input.Messages
	require.Len(t, msgs, 3)

	require.Len(t, msgs[0].Content, 3, "unsupported image is skipped")
	hint := msgs[0].Content[1].(*types.ContentBlockMemberText)
	assert.Equal(t, "Next image file name: a.PNG", hint.Value)
	img := msgs[0].Content[2].(*types.ContentBlockMemberImage)
	assert.Equal(t, types.ImageFormatPng, img.Value.Format)

	assert.Equal(t, types.ConversationRoleAssistant, msgs[1].Role)
	use := msgs[1].Content[0].(*types.ContentBlockMemberToolUse)
	assert.Equal(t, "list_files", aws.ToString(use.Value.Name))

	result := msgs[2].Content[0].(*types.ContentBlockMemberToolResult)
	assert.Equal(t, "t1", aws.ToString(result.Value.ToolUseId))
	text := result.Value.Content[0].(*types.ToolResultContentBlockMemberText)
	assert.Equal(t, "a.js", text.Value)
}

func TestGenerateThrottling(t *testing.T) {
	fake := &fakeConverse{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded"}}
	_, err := NewModelFromClient(fake).Generate(context.Background(), model.Request{
		Messages: []core.Message{core.NewUserText("q")},
	})

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.RateLimited())
	assert.Equal(t, 1, fake.calls)
}

func TestGenerateGenericFailure(t *testing.T) {
	fake := &fakeConverse{err: errors.New("connection reset")}
	_, err := NewModelFromClient(fake).Generate(context.Background(), model.Request{
		Messages: []core.Message{core.NewUserText("q")},
	})

	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.False(t, te.Timeout)
}
