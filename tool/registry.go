package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/internal/util"
	"github.com/hupe1980/evalmesh/logging"
)

// Handler executes a tool call and returns the model visible result text.
type Handler interface {
	Call(ctx context.Context, args map[string]any) (string, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// Call implements Handler.
func (f HandlerFunc) Call(ctx context.Context, args map[string]any) (string, error) {
	return f(ctx, args)
}

// FunctionHandler binds a tool declaration to its implementation.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> forwarded unchanged
//	validation failure              -> *ToolError{Code: "VALIDATION_ERROR"}
//	other error                     -> *ToolError{Code: "EXECUTION_ERROR"}
type FunctionHandler struct {
	tool Tool
	fn   HandlerFunc
}

// NewFunctionHandler constructs a FunctionHandler from a declaration and function.
func NewFunctionHandler(t Tool, fn HandlerFunc) *FunctionHandler {
	return &FunctionHandler{tool: t, fn: fn}
}

// Tool returns the declaration exposed to models.
func (h *FunctionHandler) Tool() Tool { return h.tool }

// Call validates args against the declared schema then invokes the function.
func (h *FunctionHandler) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := util.ValidateParameters(args, h.tool.ValidationSchema()); err != nil {
		return "", &ToolError{
			Tool:    h.tool.Name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidationError,
			Details: err,
		}
	}

	result, err := h.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return "", toolErr
		}
		return "", &ToolError{
			Tool:    h.tool.Name,
			Message: err.Error(),
			Code:    CodeExecutionError,
		}
	}
	return result, nil
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry maps tool names to handlers. It is built explicitly per run and
// injected into the agent loop; there is no global registry.
type Registry struct {
	handlers map[string]*FunctionHandler
	order    []string
	logger   logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		handlers: make(map[string]*FunctionHandler),
		logger:   opts.Logger,
	}
}

// Register adds (or replaces) a handler under its tool name.
func (r *Registry) Register(h *FunctionHandler) *Registry {
	name := h.tool.Name
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
	return r
}

// Lookup returns the handler for name or an UNKNOWN_TOOL ToolError.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, NewToolError(name, fmt.Sprintf("tool %s not found", name), CodeUnknownTool)
	}
	return h, nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tools returns the declarations of all registered handlers in registration order.
func (r *Registry) Tools() *Set {
	set := NewSet()
	for _, name := range r.order {
		set.Add(r.handlers[name].tool)
	}
	return set
}

// Call looks up and executes the handler for a tool call. Panics raised by
// handlers are recovered and reported as EXECUTION_ERROR.
func (r *Registry) Call(ctx context.Context, call core.ToolCallPart) (result string, err error) {
	h, err := r.Lookup(call.Name)
	if err != nil {
		r.logger.Warn("tool.call.unknown", "tool", call.Name, "call_id", call.ID)
		return "", err
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	r.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID)

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool.call.panic", "tool", call.Name, "recover", rec, "stack", string(debug.Stack()))
				err = NewToolError(call.Name, fmt.Sprintf("panic recovered: %v", rec), CodeExecutionError)
			}
		}()
		result, err = h.Call(ctx, args)
	}()

	if err != nil {
		r.logger.Warn("tool.call.error", "tool", call.Name, "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
		return "", err
	}

	r.logger.Info("tool.call.success", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
