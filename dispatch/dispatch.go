package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

// Terminal error texts surfaced in Result.Error.
const (
	TimeoutErrorText = "### Error: Timeout error\n"
	GenericErrorText = "### Error: can not get the content\n"
)

// Factory builds an adapter for one catalog entry.
type Factory func(ctx context.Context, cfg model.Config) (model.Model, error)

// RetryConfig controls the bounded retry loop.
type RetryConfig struct {
	MaxAttempts       int           // counted failures before giving up (default 3)
	RateLimitDelay    time.Duration // delay after HTTP 429, not counted (default 60s)
	RetryDelay        time.Duration // delay after transport failures and timeouts (default 10s)
	GenericRetryDelay time.Duration // delay after any other failure (default 5s)
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		RateLimitDelay:    60 * time.Second,
		RetryDelay:        10 * time.Second,
		GenericRetryDelay: 5 * time.Second,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Retry reasons reported to an Observer.
const (
	ReasonRateLimit = "rate_limit"
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonGeneric   = "generic"
)

// Observer receives per attempt measurements, e.g. for metrics.
type Observer interface {
	ObserveModelCall(model string, usage model.TokenUsage, dur time.Duration, err error)
	ObserveRetry(model, reason string)
	ObserveExhausted(model, reason string)
}

// Options configure a Dispatcher.
type Options struct {
	Retry          RetryConfig
	RequestTimeout time.Duration
	Sleep          Sleeper
	Logger         logging.Logger
	Observer       Observer // optional
}

// Call is one request routed to a named model.
type Call struct {
	Model        string
	SystemPrompt string
	Messages     []core.Message
	Tools        *tool.Set
}

// Result is the outcome of Ask. When every attempt failed, Error holds the
// terminal message and the embedded response is empty.
type Result struct {
	model.Response
	ExecuteTime time.Duration `json:"execute_time"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
}

// Failed reports whether the call ended with a terminal error.
func (r *Result) Failed() bool { return r.Error != "" }

// Dispatcher resolves adapters by provider tag and calls them with retries.
type Dispatcher struct {
	opts      Options
	models    map[string]model.Config
	factories map[string]Factory

	mu    sync.Mutex
	cache map[string]model.Model
}

// New creates a Dispatcher over a model catalog and a factory registry keyed
// by provider tag.
func New(models []model.Config, factories map[string]Factory, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Retry:          DefaultRetryConfig(),
		RequestTimeout: 300 * time.Second,
		Sleep:          sleepContext,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	d := &Dispatcher{
		opts:      opts,
		models:    make(map[string]model.Config, len(models)),
		factories: make(map[string]Factory, len(factories)),
		cache:     make(map[string]model.Model),
	}
	for _, m := range models {
		d.models[m.Name] = m
	}
	for tag, f := range factories {
		d.factories[tag] = f
	}
	return d
}

// Register installs a prebuilt adapter under name, bypassing the catalog.
func (d *Dispatcher) Register(name string, m model.Model) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[name] = m
}

// Models returns the catalog entries sorted by name.
func (d *Dispatcher) Models() []model.Config {
	out := make([]model.Config, 0, len(d.models))
	for _, m := range d.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve returns the cached adapter for name, building it on first use.
func (d *Dispatcher) Resolve(ctx context.Context, name string) (model.Model, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if m, ok := d.cache[name]; ok {
		return m, nil
	}

	cfg, ok := d.models[name]
	if !ok {
		return nil, &model.ConfigError{Model: name, Message: "unknown model"}
	}

	factory, ok := d.factories[cfg.Provider]
	if !ok {
		return nil, &model.ConfigError{Model: name, Message: fmt.Sprintf("unknown provider %q", cfg.Provider)}
	}

	m, err := factory(ctx, cfg)
	if err != nil {
		if model.IsConfigError(err) {
			return nil, err
		}
		return nil, &model.ConfigError{Model: name, Message: "initialize adapter", Err: err}
	}

	d.cache[name] = m
	return m, nil
}

// Ask sends call to its model, retrying according to the retry policy.
// Configuration failures and context cancellation are returned as errors;
// exhausted retries produce a Result with Error set.
func (d *Dispatcher) Ask(ctx context.Context, call Call) (*Result, error) {
	m, err := d.Resolve(ctx, call.Model)
	if err != nil {
		return nil, err
	}

	req := model.Request{
		SystemPrompt: call.SystemPrompt,
		Messages:     call.Messages,
		Tools:        call.Tools,
	}

	start := time.Now()
	failures := 0

	for attempt := 1; ; attempt++ {
		attemptStart := time.Now()
		resp, timedOut, err := d.generate(ctx, m, req)
		if err == nil {
			d.logModelCall(call.Model, resp.Usage, time.Since(attemptStart), nil)
			if d.opts.Observer != nil {
				d.opts.Observer.ObserveModelCall(call.Model, resp.Usage, time.Since(attemptStart), nil)
			}
			return &Result{Response: *resp, ExecuteTime: time.Since(start), Attempts: attempt}, nil
		}

		d.logModelCall(call.Model, model.TokenUsage{}, time.Since(attemptStart), err)
		if d.opts.Observer != nil {
			d.opts.Observer.ObserveModelCall(call.Model, model.TokenUsage{}, time.Since(attemptStart), err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if model.IsConfigError(err) {
			return nil, err
		}

		delay, message, reason := d.classify(err, timedOut)
		if reason != ReasonRateLimit {
			failures++
			if failures >= d.opts.Retry.MaxAttempts {
				if d.opts.Observer != nil {
					d.opts.Observer.ObserveExhausted(call.Model, reason)
				}
				d.opts.Logger.Error("dispatch.failed",
					"model", call.Model,
					"attempts", attempt,
					"error", err.Error(),
				)
				return &Result{ExecuteTime: time.Since(start), Attempts: attempt, Error: message}, nil
			}
		}

		d.opts.Logger.Warn("dispatch.retry",
			"model", call.Model,
			"attempt", attempt,
			"counted_failures", failures,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)

		if d.opts.Observer != nil {
			d.opts.Observer.ObserveRetry(call.Model, reason)
		}

		if err := d.opts.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) generate(ctx context.Context, m model.Model, req model.Request) (*model.Response, bool, error) {
	attemptCtx := ctx
	if p, ok := m.(model.Poller); ok && p.Polls() {
		attemptCtx = model.WithRequestTimeout(ctx, d.opts.RequestTimeout)
	} else if d.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := m.Generate(attemptCtx, req)
	if err != nil {
		timedOut := ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		return nil, timedOut, err
	}
	if resp == nil {
		resp = &model.Response{}
	}
	return resp, false, nil
}

// classify maps a failed attempt to its retry delay, terminal message and
// reason. Only rate limiting leaves the failure budget untouched.
func (d *Dispatcher) classify(err error, timedOut bool) (time.Duration, string, string) {
	var te *model.TransportError
	isTransport := errors.As(err, &te)

	switch {
	case isTransport && te.RateLimited():
		return d.opts.Retry.RateLimitDelay, "", ReasonRateLimit
	case timedOut || (isTransport && te.Timeout):
		return d.opts.Retry.RetryDelay, TimeoutErrorText, ReasonTimeout
	case isTransport:
		return d.opts.Retry.RetryDelay, fmt.Sprintf("### Error: %s\n", te.Body()), ReasonTransport
	default:
		return d.opts.Retry.GenericRetryDelay, GenericErrorText, ReasonGeneric
	}
}

type modelCallLogger interface {
	LogModelCall(model string, input, output, reasoning int, dur time.Duration, success bool, err error)
}

func (d *Dispatcher) logModelCall(name string, usage model.TokenUsage, dur time.Duration, err error) {
	if l, ok := d.opts.Logger.(modelCallLogger); ok {
		l.LogModelCall(name, usage.Input, usage.Output, usage.Reasoning, dur, err == nil, err)
		return
	}
	if err != nil {
		return
	}
	d.opts.Logger.Debug("dispatch.call",
		"model", name,
		"input_tokens", usage.Input,
		"output_tokens", usage.Output,
		"reasoning_tokens", usage.Reasoning,
		"duration_ms", dur.Milliseconds(),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
