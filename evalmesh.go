// Package evalmesh provides a high-level façade over the dispatcher, the agent
// loop and the batch runner. Most applications interact with this package by:
//  1. Loading a catalog with config.Load (or using config.Default)
//  2. Creating a Mesh via New(), optionally overriding the transcript store
//  3. Running one task (Run) or a task x model matrix (Batch)
//
// Lower level packages stay usable on their own: dispatch for single model
// calls, agent for the tool loop, runner for custom fan-out.
package evalmesh

import (
	"context"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/artifact"
	"github.com/hupe1980/evalmesh/config"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/logging"
	"github.com/hupe1980/evalmesh/metrics"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/runner"
)

// Options configures the Mesh instance.
type Options struct {
	// Config supplies the catalog, retry policy and concurrency. Defaults to
	// config.Default().
	Config *config.Config

	// Store persists transcripts (defaults to an in-memory store).
	Store artifact.Store

	// Models registers prebuilt adapters by catalog name, bypassing the
	// provider factories.
	Models map[string]model.Model

	// Providers customize the factory registry, e.g. the credential lookup.
	Providers []func(o *config.ProviderOptions)

	// Metrics observes dispatcher attempts and loop runs when set.
	Metrics *metrics.Collector

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh aggregates a dispatcher and the defaults shared by every run.
type Mesh struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
}

// New creates a new Mesh with optional overrides.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		Config: config.Default(),
		Store:  artifact.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	providers := opts.Providers
	if opts.Metrics != nil {
		providers = append(providers, func(o *config.ProviderOptions) { o.Observer = opts.Metrics })
	}

	d := opts.Config.NewDispatcher(opts.Logger, providers...)
	for name, m := range opts.Models {
		d.Register(name, m)
	}

	return &Mesh{opts: opts, dispatcher: d}
}

// Dispatcher exposes the underlying dispatcher for direct model calls.
func (m *Mesh) Dispatcher() *dispatch.Dispatcher { return m.dispatcher }

// Store returns the transcript store.
func (m *Mesh) Store() artifact.Store { return m.opts.Store }

// Ask sends a single call through the retrying dispatcher.
func (m *Mesh) Ask(ctx context.Context, call dispatch.Call) (*dispatch.Result, error) {
	return m.dispatcher.Ask(ctx, call)
}

// Run drives one task through the agent loop with the given registry. The
// transcript is persisted to the mesh store.
func (m *Mesh) Run(ctx context.Context, task agent.Task, registry agent.Registry, optFns ...agent.Option) (*agent.Transcript, error) {
	return m.newLoop(registry, optFns...).Run(ctx, task)
}

// RegistryFactory builds the tool registry of one batch job.
type RegistryFactory func(job runner.Job) (agent.Registry, error)

// Batch runs every job concurrently, bounded by the configured concurrency,
// and returns the outcomes in input order.
func (m *Mesh) Batch(ctx context.Context, jobs []runner.Job, newRegistry RegistryFactory, optFns ...agent.Option) []runner.Outcome {
	r := runner.New(func(job runner.Job) (runner.TaskRunner, error) {
		registry, err := newRegistry(job)
		if err != nil {
			return nil, err
		}
		return m.newLoop(registry, optFns...), nil
	}, func(o *runner.Options) {
		o.Concurrency = m.opts.Config.Concurrency
		o.Logger = m.opts.Logger
	})
	return r.Batch(ctx, jobs)
}

func (m *Mesh) newLoop(registry agent.Registry, optFns ...agent.Option) *agent.Loop {
	opts := []agent.Option{
		agent.WithStore(m.opts.Store),
		agent.WithLogger(m.opts.Logger),
	}
	if m.opts.Metrics != nil {
		opts = append(opts, agent.WithObserver(m.opts.Metrics))
	}
	opts = append(opts, optFns...)
	return agent.NewLoop(m.dispatcher, registry, opts...)
}
