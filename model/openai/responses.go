package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// DefaultPollInterval is the delay between status checks of a background response.
const DefaultPollInterval = 10 * time.Second

// ResponsesOptions configure the Responses API adapter.
type ResponsesOptions struct {
	Model           string
	Temperature     float64
	MaxTokens       int64
	ReasoningEffort string
	Background      bool
	PollInterval    time.Duration
	ClientOptions   []option.RequestOption
	Logger          logging.Logger
}

// ResponsesModel wraps the OpenAI Responses API. Requests are submitted once
// and, while the response is queued or in progress, polled until it settles.
type ResponsesModel struct {
	client *openai.Client
	opts   ResponsesOptions
}

// NewResponsesModel creates a Responses model using the official client.
func NewResponsesModel(optFns ...func(o *ResponsesOptions)) *ResponsesModel {
	opts := defaultResponsesOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	client := openai.NewClient(opts.ClientOptions...)
	return &ResponsesModel{client: &client, opts: opts}
}

// NewResponsesModelFromClient creates a Responses model from an existing client.
func NewResponsesModelFromClient(client *openai.Client, optFns ...func(o *ResponsesOptions)) *ResponsesModel {
	opts := defaultResponsesOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ResponsesModel{client: client, opts: opts}
}

func defaultResponsesOptions() ResponsesOptions {
	return ResponsesOptions{
		Model:           openai.ChatModelO3,
		Temperature:     1,
		MaxTokens:       32000,
		ReasoningEffort: string(shared.ReasoningEffortHigh),
		PollInterval:    DefaultPollInterval,
		Logger:          logging.NoOpLogger{},
	}
}

// Polls reports whether Generate polls a background response. The number of
// polls is unbounded, so only single HTTP requests should carry a deadline.
func (m *ResponsesModel) Polls() bool { return m.opts.Background }

// Generate submits the request and polls until a terminal status is reached.
// A timeout set through model.WithRequestTimeout bounds each HTTP request.
func (m *ResponsesModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if d := model.RequestTimeout(ctx); d > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(d))
	}

	resp, err := m.client.Responses.New(ctx, m.buildParams(req), reqOpts...)
	if err != nil {
		return nil, transportError(model.ProviderOpenAIResponses, err)
	}

	for resp.Status == responses.ResponseStatusQueued || resp.Status == responses.ResponseStatusInProgress {
		m.opts.Logger.Debug("openai.responses.poll", "response_id", resp.ID, "status", string(resp.Status))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.opts.PollInterval):
		}

		resp, err = m.client.Responses.Get(ctx, resp.ID, responses.ResponseGetParams{}, reqOpts...)
		if err != nil {
			return nil, transportError(model.ProviderOpenAIResponses, err)
		}
	}

	switch resp.Status {
	case responses.ResponseStatusFailed, responses.ResponseStatusCancelled:
		return nil, failedResponseError(resp)
	}

	return parseResponse(resp), nil
}

func failedResponseError(resp *responses.Response) error {
	status := 0
	if resp.Error.Code == "rate_limit_exceeded" {
		status = http.StatusTooManyRequests
	}
	msg := resp.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("response %s ended with status %s", resp.ID, resp.Status)
	}
	return model.NewTransportError(model.ProviderOpenAIResponses, status, errors.New(msg))
}

func (m *ResponsesModel) buildParams(req model.Request) responses.ResponseNewParams {
	var items responses.ResponseInputParam
	for _, msg := range req.Messages {
		items = append(items, m.formatMessage(msg)...)
	}

	params := responses.ResponseNewParams{
		Model:       m.opts.Model,
		Input:       responses.ResponseNewParamsInputUnion{OfInputItemList: items},
		Temperature: openai.Float(m.opts.Temperature),
	}

	if req.SystemPrompt != "" {
		params.Instructions = openai.String(req.SystemPrompt)
	}
	if m.opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(m.opts.MaxTokens)
	}
	if m.opts.ReasoningEffort != "" {
		params.Reasoning = shared.ReasoningParam{
			Effort:  shared.ReasoningEffort(m.opts.ReasoningEffort),
			Summary: shared.ReasoningSummaryAuto,
		}
	}
	if m.opts.Background {
		params.Background = openai.Bool(true)
	}
	if req.Tools.Len() > 0 {
		params.Tools = responseTools(req.Tools)
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsAuto),
		}
	}

	return params
}

func (m *ResponsesModel) formatMessage(msg core.Message) []responses.ResponseInputItemUnionParam {
	var items []responses.ResponseInputItemUnionParam

	if msg.Role.IsAssistant() {
		if text := msg.Text(); text != "" {
			items = append(items, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleAssistant))
		}
		for _, call := range msg.ToolCalls() {
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(call.ArgumentsJSON(), call.ID, call.Name))
		}
		return items
	}

	var content responses.ResponseInputMessageContentListParam
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			content = append(content, responses.ResponseInputContentParamOfInputText(part.Text))
		case core.ImagePart:
			url, err := part.DataURL()
			if err != nil {
				m.opts.Logger.Warn("openai.format.image_skipped", "file_name", part.FileName, "error", err.Error())
				continue
			}
			image := responses.ResponseInputContentParamOfInputImage(responses.ResponseInputImageDetailAuto)
			image.OfInputImage.ImageURL = openai.String(url)
			content = append(content,
				responses.ResponseInputContentParamOfInputText(fmt.Sprintf("Next image filename: %s", part.FileName)),
				image,
			)
		case core.ToolResponsePart:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(part.ID, part.Result))
		default:
			m.opts.Logger.Warn("openai.format.part_skipped", "type", fmt.Sprintf("%T", p))
		}
	}

	if len(content) > 0 {
		items = append(items, responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser))
	}

	return items
}

func parseResponse(resp *responses.Response) *model.Response {
	var (
		texts    []string
		thoughts []string
		calls    []model.ToolCall
	)

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					texts = append(texts, c.Text)
				}
			}
		case "reasoning":
			for _, s := range item.Summary {
				thoughts = append(thoughts, s.Text)
			}
		case "function_call":
			args, err := core.ParseArguments(item.Arguments)
			if err != nil {
				args = map[string]any{}
			}
			calls = append(calls, model.ToolCall{ID: item.CallID, Name: item.Name, Arguments: args})
		}
	}

	return &model.Response{
		Content:   model.Ptr(strings.Join(texts, "")),
		Thoughts:  model.Ptr(strings.Join(thoughts, "\n")),
		ToolCalls: calls,
		Usage: model.TokenUsage{
			Input:     int(resp.Usage.InputTokens),
			Output:    int(resp.Usage.OutputTokens),
			Reasoning: int(resp.Usage.OutputTokensDetails.ReasoningTokens),
		},
	}
}

// responseTools projects the set into strict function tools.
func responseTools(set *tool.Set) []responses.ToolUnionParam {
	tools := make([]responses.ToolUnionParam, 0, set.Len())
	for _, t := range set.Tools() {
		schema := t.JSONSchema()
		schema["additionalProperties"] = false
		fn := responses.ToolParamOfFunction(t.Name, schema, true)
		fn.OfFunction.Description = openai.String(t.Description)
		tools = append(tools, fn)
	}
	return tools
}

// Info returns metadata describing this model implementation.
func (m *ResponsesModel) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      model.ProviderOpenAIResponses,
		SupportsTools: true,
	}
}
