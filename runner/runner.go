package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/logging"
)

// DefaultConcurrency bounds the number of jobs in flight.
const DefaultConcurrency = 10

// Job runs one task against one catalog model.
type Job struct {
	Task  agent.Task
	Model string // overrides Task.Model when set
}

// TaskRunner executes a single task. *agent.Loop satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task agent.Task) (*agent.Transcript, error)
}

// LoopFactory builds the runner for one job, typically with a registry
// rooted in a job specific directory.
type LoopFactory func(job Job) (TaskRunner, error)

// Outcome is the result slot of one job.
type Outcome struct {
	Job        Job
	RunID      string
	Transcript *agent.Transcript
	Err        error
	Duration   time.Duration
}

// Status returns the transcript status, or error when the job never produced
// a transcript.
func (o Outcome) Status() agent.Status {
	if o.Transcript == nil {
		return agent.StatusError
	}
	return o.Transcript.Status
}

// Options configure a Runner.
type Options struct {
	// Concurrency limits concurrent jobs.
	Concurrency int
	// Logger receives batch progress.
	Logger logging.Logger
}

// Runner fans jobs out over independent loop instances. Public methods are
// safe for concurrent use.
type Runner struct {
	newLoop     LoopFactory
	concurrency int
	logger      logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(newLoop LoopFactory, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Concurrency: DefaultConcurrency,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Runner{
		newLoop:     newLoop,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		activeRuns:  make(map[string]context.CancelFunc),
	}
}

// Batch runs all jobs and returns one outcome per job in input order. A
// failing job is recorded in its outcome and never stops the others. Jobs
// not yet started when ctx is canceled report the context error.
func (r *Runner) Batch(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, job := range jobs {
		if job.Model != "" {
			job.Task.Model = job.Model
		}
		if job.Task.ID == "" {
			job.Task.ID = uuid.NewString()
		}
		outcomes[i] = Outcome{Job: job, RunID: job.Task.ID}

		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}

		g.Go(func() error {
			outcomes[i] = r.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	r.logSummary(outcomes)

	return outcomes
}

// Cancel cancels a running job by run ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

func (r *Runner) runJob(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{Job: job, RunID: job.Task.ID}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[out.RunID] = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.activeRuns, out.RunID)
		r.mu.Unlock()
	}()

	r.logger.Debug("runner.job.started", "run_id", out.RunID, "model", job.Task.Model)

	loop, err := r.newLoop(job)
	if err != nil {
		out.Err = fmt.Errorf("build loop: %w", err)
		out.Duration = time.Since(start)
		r.logger.Warn("runner.job.failed", "run_id", out.RunID, "model", job.Task.Model, "error", out.Err)
		return out
	}

	out.Transcript, out.Err = loop.Run(ctx, job.Task)
	out.Duration = time.Since(start)

	if out.Err != nil {
		r.logger.Warn("runner.job.failed", "run_id", out.RunID, "model", job.Task.Model, "error", out.Err)
	} else {
		r.logger.Info("runner.job.finished", "run_id", out.RunID, "model", job.Task.Model,
			"status", out.Status(), "duration_ms", out.Duration.Milliseconds())
	}
	return out
}

func (r *Runner) logSummary(outcomes []Outcome) {
	counts := Summarize(outcomes)
	r.logger.Info("runner.batch.finished", "jobs", len(outcomes),
		"completed", counts[agent.StatusCompleted], "failed", counts[agent.StatusError])
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) map[agent.Status]int {
	counts := make(map[agent.Status]int)
	for _, o := range outcomes {
		counts[o.Status()]++
	}
	return counts
}
