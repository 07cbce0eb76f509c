package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/internal/util"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

const (
	// DefaultReminder is sent when a response carries no tool calls.
	DefaultReminder = "Please use the provided tools to complete the task."
	// DefaultFollowUpTemplate requests one announced file after file_structure.
	DefaultFollowUpTemplate = "Give me converted code of {{.Path}}"
)

// Dispatcher is the subset of *dispatch.Dispatcher used by the loop.
type Dispatcher interface {
	Ask(ctx context.Context, call dispatch.Call) (*dispatch.Result, error)
	Resolve(ctx context.Context, name string) (model.Model, error)
}

// Registry is the subset of *tool.Registry used by the loop.
type Registry interface {
	Call(ctx context.Context, call core.ToolCallPart) (string, error)
	Tools() *tool.Set
}

// Task is one unit of work driven by the loop.
type Task struct {
	ID     string // run identifier; a UUID is generated when empty
	Model  string // catalog name passed to the dispatcher
	Prompt string
	Images []core.ImagePart
	Vars   map[string]any // template variables for the instruction
}

// Options configure a Loop.
type Options struct {
	MaxSteps         int // 0 means no ceiling
	Instruction      Instruction
	Tools            *tool.Set
	Reminder         string
	FollowUpTemplate string
	GuidanceTrigger  string
	Guidance         []string
	UseModelRole     *bool
	Store            artifact.Store
	Logger           logging.Logger
	Observer         Observer
}

// Observer receives tool and run measurements, e.g. for metrics.
type Observer interface {
	ObserveToolCall(tool string, dur time.Duration, err error)
	ObserveRun(model string, status Status, steps int, dur time.Duration)
}

// Option configures a Loop.
type Option func(o *Options)

// WithMaxSteps bounds the number of dispatcher calls.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithSystemPrompt sets a static system prompt.
func WithSystemPrompt(text string) Option {
	return func(o *Options) { o.Instruction = NewInstructionFromText(text) }
}

// WithInstruction sets a static or dynamic system prompt.
func WithInstruction(i Instruction) Option {
	return func(o *Options) { o.Instruction = i }
}

// WithTools overrides the declarations offered to the model. By default the
// registry tools plus end_task are offered.
func WithTools(set *tool.Set) Option {
	return func(o *Options) { o.Tools = set }
}

// WithReminder overrides the text sent when a response has no tool calls. An
// empty reminder sends nothing, letting the pending requests run out.
func WithReminder(text string) Option {
	return func(o *Options) { o.Reminder = text }
}

// WithFileStructureFollowUps enqueues one rendered request per path announced
// through file_structure. An empty template selects DefaultFollowUpTemplate.
func WithFileStructureFollowUps(tmpl string) Option {
	return func(o *Options) {
		if tmpl == "" {
			tmpl = DefaultFollowUpTemplate
		}
		o.FollowUpTemplate = tmpl
	}
}

// WithGuidance appends the next guidance step to the reply of every trigger
// tool call. The run completes once a trigger call finds no step left.
func WithGuidance(trigger string, steps []string) Option {
	return func(o *Options) {
		o.GuidanceTrigger = trigger
		o.Guidance = steps
	}
}

// WithUseModelRole forces the assistant role name. By default "model" is used
// for Gemini adapters.
func WithUseModelRole(v bool) Option {
	return func(o *Options) { o.UseModelRole = &v }
}

// WithStore persists the transcript as message_log.json on termination.
func WithStore(s artifact.Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithObserver reports tool calls and finished runs to o.
func WithObserver(o Observer) Option {
	return func(opts *Options) { opts.Observer = o }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Loop drives a conversation through the dispatcher until the model ends the
// task, the pending requests run out, the step ceiling is hit, dispatch fails
// terminally, or the context is canceled.
//
// Pending requests form a LIFO stack. Every turn pops one request, appends it
// to the transcript, calls the model and appends the assistant message. All
// tool results of one turn are batched into a single follow-up user message.
// Requests announced through file_structure wait in a FIFO queue; the next
// one is appended after the batched results of each turn.
type Loop struct {
	dispatcher Dispatcher
	registry   Registry
	opts       Options
}

// NewLoop creates a Loop over a dispatcher and an explicit tool registry.
func NewLoop(d Dispatcher, r Registry, optFns ...Option) *Loop {
	opts := Options{
		Reminder: DefaultReminder,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loop{dispatcher: d, registry: r, opts: opts}
}

// turn collects the effects of processing one model response.
type turn struct {
	assistant core.Message
	replies   []core.Part
	followUps []string
	done      bool
}

// Run executes task to termination. A terminal dispatch failure is reported
// through the transcript status; configuration errors and context
// cancellation are also returned as errors.
func (l *Loop) Run(ctx context.Context, task Task) (*Transcript, error) {
	start := time.Now()

	runID := task.ID
	if runID == "" {
		runID = uuid.NewString()
	}

	tr := &Transcript{RunID: runID, Model: task.Model, Messages: []core.Message{}}

	runErr := l.run(ctx, task, tr)

	tr.Duration = time.Since(start)
	tr.Time = int64(tr.Duration.Seconds())

	l.logRun(tr, runErr)

	if err := l.persist(ctx, tr); err != nil {
		return tr, errors.Join(runErr, err)
	}
	return tr, runErr
}

func (l *Loop) run(ctx context.Context, task Task, tr *Transcript) error {
	useModelRole, err := l.useModelRole(ctx, task.Model)
	if err != nil {
		tr.Status, tr.Error = StatusError, err.Error()
		return err
	}

	system, err := l.opts.Instruction.Resolve(task)
	if err != nil {
		tr.Status, tr.Error = StatusError, err.Error()
		return fmt.Errorf("resolve instruction: %w", err)
	}

	tools := l.tools()
	pending := []core.Message{initialMessage(task)}
	var followUps []string
	guidance := 0

	for {
		if err := ctx.Err(); err != nil {
			tr.Status, tr.Error = StatusCanceled, err.Error()
			return err
		}
		if l.opts.MaxSteps > 0 && tr.Steps >= l.opts.MaxSteps {
			tr.Status = StatusMaxSteps
			return nil
		}
		if len(pending) == 0 {
			tr.Status = StatusExhausted
			return nil
		}

		req := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		tr.Messages = append(tr.Messages, req)

		l.opts.Logger.Debug("agent.step.start", "run_id", tr.RunID, "step", tr.Steps+1, "pending", len(pending))

		res, err := l.dispatcher.Ask(ctx, dispatch.Call{
			Model:        task.Model,
			SystemPrompt: system,
			Messages:     tr.Messages,
			Tools:        tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				tr.Status, tr.Error = StatusCanceled, ctx.Err().Error()
				return ctx.Err()
			}
			tr.Status, tr.Error = StatusError, err.Error()
			return err
		}

		tr.Steps++
		tr.TotalTokens.Add(res.Usage)

		if res.Failed() {
			l.opts.Logger.Error("agent.dispatch.failed", "run_id", tr.RunID, "step", tr.Steps, "error", res.Error)
			tr.Status, tr.Error = StatusError, res.Error
			return nil
		}

		t := l.processResponse(ctx, &res.Response, useModelRole, tools, &guidance)
		tr.Messages = append(tr.Messages, t.assistant)

		l.opts.Logger.Info("agent.step.completed",
			"run_id", tr.RunID,
			"step", tr.Steps,
			"tool_calls", len(res.ToolCalls),
			"input_tokens", res.Usage.Input,
			"output_tokens", res.Usage.Output,
		)

		if t.done {
			tr.Status = StatusCompleted
			return nil
		}

		followUps = append(followUps, t.followUps...)

		replies := t.replies
		if len(followUps) > 0 {
			replies = append(replies, core.TextPart{Text: followUps[0]})
			followUps = followUps[1:]
		}
		if len(replies) > 0 {
			pending = append(pending, core.NewUserMessage(replies...))
		}
	}
}

// processResponse builds the assistant message and the batched reply for one
// model response.
func (l *Loop) processResponse(ctx context.Context, resp *model.Response, useModelRole bool, tools *tool.Set, guidance *int) turn {
	var t turn

	var parts []core.Part
	if text := resp.Text(); text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	t.assistant = core.NewAssistantMessage(useModelRole, parts...)

	if len(resp.ToolCalls) == 0 {
		if l.opts.Reminder != "" {
			t.replies = append(t.replies, core.TextPart{Text: l.opts.Reminder})
		}
		return t
	}

	for _, call := range resp.ToolCalls {
		part := call.Part()
		t.assistant.Parts = append(t.assistant.Parts, part)

		if call.Name == tool.EndTaskName {
			l.opts.Logger.Info("agent.end_task", "call_id", call.ID)
			t.done = true
			return t
		}

		t.replies = append(t.replies, l.executeTool(ctx, part, tools)...)

		if call.Name == tool.FileStructureName && l.opts.FollowUpTemplate != "" {
			t.followUps = append(t.followUps, l.followUps(call.Arguments)...)
		}

		if l.opts.GuidanceTrigger != "" && call.Name == l.opts.GuidanceTrigger {
			if *guidance >= len(l.opts.Guidance) {
				t.done = true
				return t
			}
			t.replies = append(t.replies, core.TextPart{Text: l.opts.Guidance[*guidance]})
			*guidance++
		}
	}
	return t
}

// executeTool runs one call and returns the parts answering it. Every call is
// answered by a ToolResponsePart with the same ID.
func (l *Loop) executeTool(ctx context.Context, call core.ToolCallPart, tools *tool.Set) []core.Part {
	start := time.Now()
	result, err := l.registry.Call(ctx, call)
	l.logToolCall(call.Name, time.Since(start), err)

	if err == nil {
		return []core.Part{core.ToolResponsePart{ID: call.ID, Name: call.Name, Result: result}}
	}

	var te *tool.ToolError
	if errors.As(err, &te) && te.Code == tool.CodeUnknownTool {
		text := fmt.Sprintf("Unknown tool: %s. Please use only supported tools: %s", call.Name, strings.Join(tools.Names(), ", "))
		return []core.Part{
			core.ToolResponsePart{ID: call.ID, Name: call.Name, Result: te.Error()},
			core.TextPart{Text: text},
		}
	}

	msg := err.Error()
	if te != nil {
		msg = te.Message
	}
	return []core.Part{core.ToolResponsePart{ID: call.ID, Name: call.Name, Result: "Error: " + msg}}
}

// followUps renders one request per announced file path.
func (l *Loop) followUps(args map[string]any) []string {
	var paths []string
	switch v := args["file_paths"].(type) {
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
	case []string:
		paths = v
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		text, err := util.RenderTemplate(l.opts.FollowUpTemplate, map[string]any{"Path": p})
		if err != nil {
			l.opts.Logger.Warn("agent.followup.render", "path", p, "error", err.Error())
			continue
		}
		out = append(out, text)
	}
	return out
}

func (l *Loop) tools() *tool.Set {
	if l.opts.Tools != nil {
		return l.opts.Tools
	}
	set := l.registry.Tools()
	if _, ok := set.Get(tool.EndTaskName); !ok {
		set.Add(tool.EndTaskTool)
	}
	return set
}

func (l *Loop) useModelRole(ctx context.Context, name string) (bool, error) {
	if l.opts.UseModelRole != nil {
		return *l.opts.UseModelRole, nil
	}
	m, err := l.dispatcher.Resolve(ctx, name)
	if err != nil {
		return false, err
	}
	return model.UsesModelRole(m.Info().Provider), nil
}

func (l *Loop) persist(ctx context.Context, tr *Transcript) error {
	if l.opts.Store == nil {
		return nil
	}
	data, err := tr.JSON()
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := l.opts.Store.Save(context.WithoutCancel(ctx), tr.RunID, artifact.TranscriptName, data); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

func initialMessage(task Task) core.Message {
	parts := []core.Part{core.TextPart{Text: task.Prompt}}
	for _, img := range task.Images {
		parts = append(parts, img)
	}
	return core.NewUserMessage(parts...)
}

type toolCallLogger interface {
	LogToolCall(tool string, dur time.Duration, success bool, err error)
}

type runLogger interface {
	LogRun(status string, steps int, dur time.Duration, err error)
}

func (l *Loop) logToolCall(name string, dur time.Duration, err error) {
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveToolCall(name, dur, err)
	}
	if tl, ok := l.opts.Logger.(toolCallLogger); ok {
		tl.LogToolCall(name, dur, err == nil, err)
		return
	}
	l.opts.Logger.Debug("agent.tool.executed", "tool", name, "duration_ms", dur.Milliseconds(), "success", err == nil)
}

func (l *Loop) logRun(tr *Transcript, err error) {
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveRun(tr.Model, tr.Status, tr.Steps, tr.Duration)
	}
	if rl, ok := l.opts.Logger.(runLogger); ok {
		rl.LogRun(string(tr.Status), tr.Steps, tr.Duration, err)
		return
	}
	l.opts.Logger.Info("agent.run.completed", "run_id", tr.RunID, "status", string(tr.Status), "steps", tr.Steps)
}
